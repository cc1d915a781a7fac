// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools registers the tools the model may call and dispatches calls
// to them.
//
// Every call goes through the same steps: look the tool up, validate the
// arguments against its JSON Schema, decide the risk tier, ask the user when
// the tier requires it, run the handler with a timeout and panic recovery,
// and cap the output. Dispatch always returns a ToolResult; nothing a
// handler does can end the process.
//
// # Key Types
//
//   - ToolSpec: name, description, schema, handler and tier logic
//   - Registry: tools by name, frozen before use
//   - Dispatcher: runs ToolCalls and keeps a bounded history
//   - RiskPolicy: dangerous and ambiguous command patterns, tier overrides
//   - Confirmer: asks the user about risky calls
//
// # Tiers
//
// Safe calls run immediately. Ambiguous calls ask unless auto-approve is on.
// Destructive calls always ask. Without a Confirmer every call that is not
// safe is denied.
package tools
