// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/jeranaias/aicli/internal/agent"
)

// =============================================================================
// TURNS
// =============================================================================

// runTurn sends text through the orchestrator and prints the answer.
// Failures are returned in the outcome for the caller to report.
func (a *App) runTurn(ctx context.Context, text string) agent.Outcome {
	ctx, done := a.canceller.Arm(ctx)
	defer done()

	out := a.orchestrator.Run(ctx, a.session, text)
	a.console.StopSpinner()
	if answer, ok := out.(agent.FinalAnswer); ok {
		a.console.PrintAnswer(answer.Text)
	}
	a.log.WithField("session", a.session.ID()).WithField("messages", a.session.Len()).Debug("turn finished")
	return out
}

// runPrompt answers one prompt. A second interrupt exits immediately.
func (a *App) runPrompt(ctx context.Context, prompt string) error {
	stop := a.watchInterrupts(func() {
		a.console.StopSpinner()
		a.Close()
		os.Exit(ExitInterrupted)
	})
	defer stop()

	out := a.runTurn(ctx, prompt)
	if failed, ok := out.(agent.Failed); ok {
		if failed.Reason == agent.ReasonCancelled {
			return ErrInterrupted
		}
		return failed
	}
	return nil
}

// =============================================================================
// INTERRUPTS
// =============================================================================

// watchInterrupts cancels the running turn on SIGINT. If the turn was
// already cancelled, onRepeat is called instead. The returned func stops
// watching.
func (a *App) watchInterrupts(onRepeat func()) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-sig:
				if a.canceller.Cancelled() && onRepeat != nil {
					onRepeat()
					continue
				}
				a.log.Debug("interrupt received, cancelling turn")
				a.canceller.Cancel()
				if onRepeat != nil {
					a.console.Warn("interrupted; finishing the current step (Ctrl+C again to exit)")
				} else {
					a.console.Warn("interrupted; finishing the current step")
				}
			}
		}
	}()

	return func() {
		signal.Stop(sig)
		close(done)
		wg.Wait()
	}
}
