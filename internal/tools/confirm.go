// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

// Confirmer asks the user whether a risky call may run.
type Confirmer interface {
	Ask(summary string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(summary string) bool

// Ask calls f.
func (f ConfirmFunc) Ask(summary string) bool { return f(summary) }

// AlwaysAllow approves every call.
type AlwaysAllow struct{}

// Ask returns true.
func (AlwaysAllow) Ask(string) bool { return true }

// AlwaysDeny refuses every call. Used when there is no terminal to ask.
type AlwaysDeny struct{}

// Ask returns false.
func (AlwaysDeny) Ask(string) bool { return false }
