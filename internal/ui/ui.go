package ui

import (
	"context"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

// Model renders the latest bundle published by the sampling loop.
type Model struct {
	latest *model.Bundle
	ticks  int
	cancel context.CancelFunc
	keys   keyMap
	help   help.Model
	width  int
	height int
}

// New returns a dashboard. cancel is called when the user quits.
func New(cancel context.CancelFunc) *Model {
	if cancel == nil {
		cancel = func() {}
	}
	return &Model{
		cancel: cancel,
		keys:   defaultKeys(),
		help:   help.New(),
		width:  120,
		height: 40,
	}
}

// Messages
type bundleMsg model.Bundle

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	case bundleMsg:
		b := model.Bundle(msg)
		m.latest = &b
		m.ticks++
	}
	return m, nil
}

// Publisher hands bundles to a running program. Send blocks until the
// program's event loop accepts the message, which keeps ticks in order.
type Publisher struct {
	prog *tea.Program
}

func (p *Publisher) Publish(b model.Bundle) error {
	p.prog.Send(bundleMsg(b))
	return nil
}

// Run starts the dashboard and calls feed with a Publisher bound to it.
// feed must return once ctx is cancelled; the program quits when it does.
// Quitting the program cancels ctx through cancel. The error from feed is
// returned.
func Run(ctx context.Context, cancel context.CancelFunc, feed func(context.Context, *Publisher) error, opts ...tea.ProgramOption) error {
	prog := tea.NewProgram(New(cancel), opts...)
	pub := &Publisher{prog: prog}

	done := make(chan error, 1)
	go func() {
		err := feed(ctx, pub)
		done <- err
		prog.Quit()
	}()

	_, runErr := prog.Run()
	cancel()
	feedErr := <-done
	if feedErr != nil {
		return feedErr
	}
	if runErr != nil {
		return errors.WrapWithCode(runErr, errors.ErrRender,
			"Dashboard failed",
			"Run with --json-stream if the terminal cannot host a full-screen UI")
	}
	return nil
}
