// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent runs the conversation loop between the user, the model and
// the tools.
//
// A Session holds the append-only message history. The Orchestrator sends
// the history to a Client, dispatches any tool calls in the reply in order,
// appends one tool message per call, and repeats until the model answers
// without calling tools.
//
// # Key Types
//
//   - Message: one history entry (system, user, assistant or tool)
//   - Session: the history, reset by Clear
//   - Orchestrator: RunTurn and Run
//   - Outcome: FinalAnswer, Continuing or Failed
//   - Canceller: the interrupt flag checked between steps
//   - Observer: hooks for spinners and progress output
//
// # Cancellation
//
// Canceller.Cancel may be called from a signal handler. The orchestrator
// checks it before each model request and before each tool dispatch. A
// dispatch that has started always completes; calls that were never started
// get a synthetic cancelled result so every tool call in the history has a
// matching result.
package agent
