package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ShayCichocki/explainit/internal/events"
	"github.com/ShayCichocki/explainit/internal/orchestrator"
	"github.com/ShayCichocki/explainit/internal/state"
	"github.com/ShayCichocki/explainit/internal/tui"
)

type runOutcome struct {
	sess   *state.Session
	result *orchestrator.Result
	err    error
}

// runWithTUI runs the session behind the terminal UI. Quitting the UI while
// the session runs interrupts it and waits for in-flight work to settle.
func runWithTUI(ctx context.Context, topic string, refreshRate time.Duration, sink *events.Bus, hydrate *state.ResumeData, ctl *interruptControl, run func(context.Context) (*state.Session, *orchestrator.Result, error)) (*state.Session, *orchestrator.Result, error) {
	// Suppress log output while TUI is active (it corrupts the display)
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	program, _ := tui.NewProgram(topic, "",
		tui.WithOnInterrupt(func() { ctl.Request() }),
		tui.WithRefreshRate(refreshRate),
	)

	stream := sink.Channel(eventBuffer)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		tui.Forward(program, stream)
	}()

	runDone := make(chan runOutcome, 1)
	go func() {
		var out runOutcome
		defer func() {
			if r := recover(); r != nil {
				out.err = fmt.Errorf("PANIC in session: %v", r)
			}
			stream.Close()
			<-forwarded
			program.Send(tui.SessionDoneMsg{Success: out.err == nil, Message: outcomeMessage(out.sess, out.err)})
			runDone <- out
		}()

		if hydrate != nil {
			program.Send(tui.HydrateMsg{Data: *hydrate})
		}
		out.sess, out.result, out.err = run(ctx)
	}()

	if _, err := program.Run(); err != nil {
		ctl.Request()
		out := <-runDone
		return out.sess, out.result, fmt.Errorf("run TUI: %w", err)
	}

	select {
	case out := <-runDone:
		return out.sess, out.result, out.err
	default:
	}

	// The user quit before the session finished; the interrupt is already requested.
	fmt.Fprintln(os.Stderr, "Waiting for in-flight explanations to finish...")
	out := <-runDone
	return out.sess, out.result, out.err
}
