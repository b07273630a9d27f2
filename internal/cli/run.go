package cli

import (
	"context"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/sysmoni/internal/config"
	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/logger"
	"github.com/Dicklesworthstone/sysmoni/internal/loop"
	"github.com/Dicklesworthstone/sysmoni/internal/output"
	"github.com/Dicklesworthstone/sysmoni/internal/sampler"
	"github.com/Dicklesworthstone/sysmoni/internal/ui"
)

// newSource builds the metric source. Tests replace it.
var newSource = func(cfg config.Config) sampler.Source {
	return sampler.New(sampler.Options{
		Root:       cfg.Root,
		EnableGPU:  cfg.EnableGPU,
		EnableBatt: cfg.EnableBatt,
	})
}

// oneShotTicks is two samples: the first is the rate baseline.
const oneShotTicks = 2

func run(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	log, closeLog, err := openLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	opts := loop.Options{
		Interval:   cfg.Interval,
		Thresholds: cfg.Thresholds,
		Derive:     cfg.DeriveOptions(),
		Logger:     log,
	}
	src := newSource(cfg)
	log.Info("sampling every %s (gpu=%t battery=%t root=%s)", cfg.Interval, cfg.EnableGPU, cfg.EnableBatt, cfg.Root)

	switch {
	case cfg.JSON:
		opts.MaxTicks = oneShotTicks
		return loop.New(src, output.NewSnapshot(stdout), opts).Run(ctx)
	case cfg.JSONStream:
		return loop.New(src, output.NewStream(stdout), opts).Run(ctx)
	default:
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		return ui.Run(ctx, cancel, func(ctx context.Context, pub *ui.Publisher) error {
			return loop.New(src, pub, opts).Run(ctx)
		}, tea.WithAltScreen(), tea.WithOutput(stdout))
	}
}

// openLogger picks the log destination. The dashboard owns the terminal, so
// without --log-file its logs are dropped; JSON modes log to stderr.
func openLogger(cfg config.Config, stderr io.Writer) (logger.Logger, func(), error) {
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot open log file "+cfg.LogFile,
				"Check the directory exists and is writable")
		}
		return logger.New("sysmoni", f, cfg.Debug), func() { f.Close() }, nil
	}
	if cfg.JSON || cfg.JSONStream {
		return logger.New("sysmoni", stderr, cfg.Debug), func() {}, nil
	}
	return logger.New("sysmoni", io.Discard, cfg.Debug), func() {}, nil
}
