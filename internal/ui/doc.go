// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui renders the line-oriented terminal interface of aicli.
//
// The Console is the single writer to the terminal while a turn runs. It
// implements agent.Observer to show progress (a spinner while the model
// is thinking, one line per tool call) and tools.Confirmer to ask before
// ambiguous or destructive calls run. Final answers are rendered as
// Markdown with glamour.
//
// # Non-interactive Use
//
// When stdin or stdout is not a terminal the spinner is disabled, colors
// follow the environment, and every confirmation is denied without
// prompting.
package ui
