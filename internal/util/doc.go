// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small string and file helpers shared across aicli.
//
// # Key Functions
//
// String Utilities:
//   - TruncateBytes: cut to a byte budget on a UTF-8 boundary
//   - TruncateRunes: rune-safe truncation with ellipsis
//   - TruncateWidth, StringWidth: terminal-column aware helpers
//   - FirstLine: first line of a multi-line string
//
// File Operations:
//   - AtomicWriteFile: crash-safe write that creates parent directories
package util
