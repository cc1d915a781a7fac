// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package editor reads and modifies files under a root directory.
//
// Every mutating operation can be guarded by the content hash the caller
// last saw (an OCI sha256 digest). A mismatch is a conflict and nothing is
// written. Writes go to a temporary file in the same directory and are
// renamed into place.
//
// # Modes
//
//   - read, search: return content or regex matches
//   - replace_exact: replace text that occurs exactly once
//   - apply_patch: apply a unified diff with limited line drift
//   - search_replace: regex replace-all
//   - overwrite: replace the whole file (existing files need a hash)
//   - delete: remove the file
//
// Preview runs the same logic without writing and returns the unified diff.
package editor
