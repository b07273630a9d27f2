// Package loop drives the capture, derive, classify and publish cycle.
package loop

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Dicklesworthstone/sysmoni/internal/derive"
	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/logger"
	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/sampler"
	"github.com/Dicklesworthstone/sysmoni/internal/severity"
)

// State is the phase the loop is in.
type State int32

const (
	Idle State = iota
	Sampling
	Publishing
	Sleeping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sampling:
		return "sampling"
	case Publishing:
		return "publishing"
	case Sleeping:
		return "sleeping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Publisher receives every bundle, synchronously, in tick order.
type Publisher interface {
	Publish(model.Bundle) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(model.Bundle) error

func (f PublisherFunc) Publish(b model.Bundle) error { return f(b) }

// Options configures a Loop.
type Options struct {
	Interval   time.Duration
	Thresholds severity.Table
	Derive     derive.Options
	Logger     logger.Logger
	// MaxTicks stops the loop after that many published bundles. 0 runs until
	// the context is cancelled.
	MaxTicks int
}

// Loop samples a Source at a fixed interval and publishes derived bundles.
type Loop struct {
	src   sampler.Source
	pub   Publisher
	opts  Options
	log   logger.Logger
	state atomic.Int32

	// OnState, when set, is called on every transition from the Run goroutine.
	OnState func(State)
}

// New returns an idle Loop. A zero Interval means one second.
func New(src sampler.Source, pub Publisher, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Thresholds == nil {
		opts.Thresholds = severity.DefaultTable()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}
	return &Loop{src: src, pub: pub, opts: opts, log: log}
}

// State returns the current phase. Safe to call from any goroutine.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	if l.OnState != nil {
		l.OnState(s)
	}
}

// Run blocks until ctx is cancelled, MaxTicks bundles were published, or a
// fatal error occurs. Cancellation returns nil. The source is closed on
// return.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		l.setState(Stopped)
		if cerr := l.src.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "Failed to release the metric source")
		}
	}()

	var prev *model.Snapshot
	ticks := 0
	for {
		if ctx.Err() != nil {
			l.log.Debug("loop cancelled after %d ticks", ticks)
			return nil
		}

		l.setState(Sampling)
		snap, err := l.src.Capture()
		if err != nil {
			l.log.Error("capture failed: %v", err)
			if errors.IsCode(err, errors.ErrAcquisition) {
				return err
			}
			return errors.WrapWithCode(err, errors.ErrAcquisition, "Cannot read system metrics", "")
		}
		l.logMissing(snap)

		l.setState(Publishing)
		elapsed := l.opts.Interval
		if prev != nil {
			elapsed = snap.Taken.Sub(prev.Taken)
		}
		bundle := derive.Derive(prev, snap, elapsed, l.opts.Derive)
		bundle.ApplySeverity(l.opts.Thresholds)
		for _, r := range bundle.Regressions {
			rerr := errors.Regression(r.Counter, r.Previous, r.Current)
			l.log.Warn("%s, %s", rerr.Message, rerr.Suggestion)
		}

		if err := l.pub.Publish(bundle); err != nil {
			l.log.Error("publish failed: %v", err)
			if errors.IsCode(err, errors.ErrRender) {
				return err
			}
			return errors.WrapWithCode(err, errors.ErrRender, "Failed to display metrics", "")
		}

		// The current snapshot is the baseline for the next tick, including
		// after a counter regression.
		prev = &snap
		ticks++
		if l.opts.MaxTicks > 0 && ticks >= l.opts.MaxTicks {
			return nil
		}

		l.setState(Sleeping)
		timer := time.NewTimer(l.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.log.Debug("loop cancelled after %d ticks", ticks)
			return nil
		case <-timer.C:
		}
	}
}

func (l *Loop) logMissing(snap model.Snapshot) {
	if len(snap.Missing) == 0 {
		return
	}
	families := make([]string, 0, len(snap.Missing))
	for f := range snap.Missing {
		families = append(families, string(f))
	}
	sort.Strings(families)
	for _, f := range families {
		err := snap.Missing[model.Family(f)]
		if e, ok := err.(*errors.Error); ok && e.Cause != nil {
			err = e.Cause
		}
		l.log.Debug("%s unavailable: %v", f, err)
	}
}
