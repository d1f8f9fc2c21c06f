package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"heapkit/internal/stress"
	"heapkit/internal/ui"
)

type stressOutcome struct {
	result *stress.Result
	err    error
}

func runStressWithUI(ctx context.Context, title string, opts stress.Options) (*stress.Result, error) {
	events := make(chan stress.Event, 256)
	outcomeCh := make(chan stressOutcome, 1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		optsCopy := opts
		optsCopy.Events = events
		res, err := stress.Run(ctx, optsCopy)
		outcomeCh <- stressOutcome{result: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, opts.Workers, opts.Rounds, opts.Ops, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, uiErr := program.Run()
	// The UI may quit early on ctrl+c; stop the run and drain its events.
	cancel()
	go func() {
		for range events {
		}
	}()
	outcome := <-outcomeCh
	if uiErr != nil && outcome.err == nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}
