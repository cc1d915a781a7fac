// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diff computes, renders and parses line-based unified diffs.
//
// # Key Types
//
//   - LineKind: context, added or removed
//   - Line: one diff line with old/new line numbers
//   - Hunk: a block of changes with context and @@ coordinates
//   - FileDiff: the computed difference between two versions of a file
//   - Patch: a parsed single-file unified diff
//
// # Usage
//
//	d := diff.Compute("main.go", before, after)
//	fmt.Print(d.Unified())
//
//	p, err := diff.Parse(patchText)
//	for _, h := range p.Hunks {
//		want := h.OldLines()
//		...
//	}
package diff
