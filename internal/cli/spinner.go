// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// SPINNER MODEL
// =============================================================================

// spinnerModel is a one-line "waiting" indicator with an elapsed timer.
type spinnerModel struct {
	spinner   spinner.Model
	label     string
	startTime time.Time
	done      bool
}

func newSpinnerModel(label string) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	s.Style = DimStyle
	return spinnerModel{spinner: s, label: label, startTime: time.Now()}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case stopSpinnerMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	elapsed := time.Since(m.startTime).Truncate(time.Second)
	return fmt.Sprintf("%s %s %s", m.spinner.View(), m.label, DimStyle.Render(elapsed.String()))
}

type stopSpinnerMsg struct{}

// =============================================================================
// RUNNING WITH A SPINNER
// =============================================================================

// runWithSpinner runs fn while a spinner animates on w. With show unset fn
// runs alone. Spinner failures never fail fn.
func runWithSpinner(ctx context.Context, w io.Writer, label string, show bool, fn func(context.Context) error) error {
	if !show {
		return fn(ctx)
	}

	spinCtx, stopSpin := context.WithCancel(ctx)
	defer stopSpin()

	p := tea.NewProgram(newSpinnerModel(label),
		tea.WithContext(spinCtx),
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, _ = p.Run()
		// Unblocks a pending Send if the program exited on its own.
		stopSpin()
		return nil
	})
	g.Go(func() error {
		defer p.Send(stopSpinnerMsg{})
		return fn(gctx)
	})
	return g.Wait()
}
