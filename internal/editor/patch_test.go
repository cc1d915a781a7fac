// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/aicli/internal/diff"
)

// patchForLine05 changes "line 05" and expects it at line 5.
const patchForLine05 = "--- a/f.txt\n+++ b/f.txt\n" +
	"@@ -4,3 +4,3 @@\n" +
	" line 04\n" +
	"-line 05\n" +
	"+LINE FIVE\n" +
	" line 06\n"

func drifted(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString("inserted header\n")
	}
	sb.WriteString(numbered(12))
	return sb.String()
}

func TestApplyPatch_Exact(t *testing.T) {
	got, err := applyPatch("f.txt", numbered(12), patchForLine05, DefaultFuzzLines)
	require.NoError(t, err)
	assert.Equal(t, strings.Replace(numbered(12), "line 05", "LINE FIVE", 1), got)
}

func TestApplyPatch_DriftWithinTolerance(t *testing.T) {
	e, root := newTestEditor(t)
	writeFile(t, root, "f.txt", drifted(3))

	_, err := e.Apply(context.Background(), Operation{Path: "f.txt", Mode: ModeApplyPatch, Payload: patchForLine05})
	require.NoError(t, err)
	assert.Equal(t, strings.Replace(drifted(3), "line 05", "LINE FIVE", 1), readFile(t, root, "f.txt"))
}

func TestApplyPatch_DriftBeyondTolerance(t *testing.T) {
	e, root := newTestEditor(t)
	writeFile(t, root, "f.txt", drifted(6))

	_, err := e.Apply(context.Background(), Operation{Path: "f.txt", Mode: ModeApplyPatch, Payload: patchForLine05})
	require.ErrorIs(t, err, ErrInvalidPatch)
	assert.Contains(t, err.Error(), "hunk 1")
	assert.Equal(t, drifted(6), readFile(t, root, "f.txt"))
}

func TestApplyPatch_LargerFuzz(t *testing.T) {
	got, err := applyPatch("f.txt", drifted(6), patchForLine05, 6)
	require.NoError(t, err)
	assert.Contains(t, got, "LINE FIVE")
}

func TestApplyPatch_MultipleHunksShiftLaterOnes(t *testing.T) {
	patch := "@@ -2,1 +2,3 @@\n" +
		"-line 02\n" +
		"+line 02a\n" +
		"+line 02b\n" +
		"+line 02c\n" +
		"@@ -10,3 +12,2 @@\n" +
		" line 10\n" +
		"-line 11\n" +
		" line 12\n"

	got, err := applyPatch("f.txt", numbered(12), patch, 0)
	require.NoError(t, err)
	lines := diff.SplitLines(got)
	assert.Len(t, lines, 13)
	assert.Equal(t, "line 02c", lines[3])
	assert.NotContains(t, got, "line 11")
	assert.Equal(t, "line 12", lines[12])
}

func TestApplyPatch_FailureWritesNothing(t *testing.T) {
	e, root := newTestEditor(t)
	writeFile(t, root, "f.txt", numbered(12))
	patch := "@@ -2 +2 @@\n-line 02\n+LINE TWO\n@@ -9 +9 @@\n-no such line\n+x\n"

	_, err := e.Apply(context.Background(), Operation{Path: "f.txt", Mode: ModeApplyPatch, Payload: patch})
	require.ErrorIs(t, err, ErrInvalidPatch)
	assert.Contains(t, err.Error(), "hunk 2")
	assert.Equal(t, numbered(12), readFile(t, root, "f.txt"))
}

func TestApplyPatch_TrailingWhitespaceTolerated(t *testing.T) {
	content := "a\nb  \nc\n"
	got, err := applyPatch("f.txt", content, "@@ -1,3 +1,3 @@\n a\n b\n-c\n+C\n", 0)
	require.NoError(t, err)
	assert.Equal(t, "a\nb  \nC\n", got)
}

func TestApplyPatch_KeepsMissingTrailingNewline(t *testing.T) {
	got, err := applyPatch("f.txt", "a\nb", "@@ -2 +2 @@\n-b\n+B\n", 0)
	require.NoError(t, err)
	assert.Equal(t, "a\nB", got)
}

func TestApplyPatch_Malformed(t *testing.T) {
	_, err := applyPatch("f.txt", "a\n", "replace a with b please", 3)
	require.ErrorIs(t, err, ErrInvalidPatch)
	assert.Contains(t, err.Error(), "malformed diff")
}

func TestApplyPatch_NeverAppliesTwice(t *testing.T) {
	t.Run("with hash", func(t *testing.T) {
		e, root := newTestEditor(t)
		writeFile(t, root, "f.txt", numbered(12))
		h := Hash(numbered(12))

		_, err := e.Apply(context.Background(), Operation{Path: "f.txt", Mode: ModeApplyPatch, Payload: patchForLine05, ExpectedHash: h})
		require.NoError(t, err)
		after := readFile(t, root, "f.txt")

		_, err = e.Apply(context.Background(), Operation{Path: "f.txt", Mode: ModeApplyPatch, Payload: patchForLine05, ExpectedHash: h})
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, after, readFile(t, root, "f.txt"))
	})

	t.Run("without hash", func(t *testing.T) {
		e, root := newTestEditor(t)
		writeFile(t, root, "f.txt", numbered(12))

		_, err := e.Apply(context.Background(), Operation{Path: "f.txt", Mode: ModeApplyPatch, Payload: patchForLine05})
		require.NoError(t, err)
		after := readFile(t, root, "f.txt")

		_, err = e.Apply(context.Background(), Operation{Path: "f.txt", Mode: ModeApplyPatch, Payload: patchForLine05})
		assert.ErrorIs(t, err, ErrInvalidPatch)
		assert.Equal(t, after, readFile(t, root, "f.txt"))
	})

	t.Run("pure addition", func(t *testing.T) {
		e, root := newTestEditor(t)
		writeFile(t, root, "f.txt", "first\nlast\n")
		patch := "@@ -2,1 +2,2 @@\n last\n+appended\n"

		_, err := e.Apply(context.Background(), Operation{Path: "f.txt", Mode: ModeApplyPatch, Payload: patch})
		require.NoError(t, err)
		assert.Equal(t, "first\nlast\nappended\n", readFile(t, root, "f.txt"))

		_, err = e.Apply(context.Background(), Operation{Path: "f.txt", Mode: ModeApplyPatch, Payload: patch})
		assert.ErrorIs(t, err, ErrInvalidPatch)
		assert.Equal(t, "first\nlast\nappended\n", readFile(t, root, "f.txt"))
	})

	t.Run("pure insertion before context", func(t *testing.T) {
		e, root := newTestEditor(t)
		writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
		patch := "@@ -1,2 +1,3 @@\n+// header\n package main\n \n"

		_, err := e.Apply(context.Background(), Operation{Path: "main.go", Mode: ModeApplyPatch, Payload: patch})
		require.NoError(t, err)
		want := "// header\npackage main\n\nfunc main() {}\n"
		assert.Equal(t, want, readFile(t, root, "main.go"))

		_, err = e.Apply(context.Background(), Operation{Path: "main.go", Mode: ModeApplyPatch, Payload: patch})
		assert.ErrorIs(t, err, ErrInvalidPatch)
		assert.Equal(t, want, readFile(t, root, "main.go"))
	})
}

func TestApplyPatch_ComputedDiffRoundTrip(t *testing.T) {
	before := numbered(30)
	after := strings.Replace(before, "line 03\n", "line 03\nextra\n", 1)
	after = strings.Replace(after, "line 27\n", "", 1)

	patch := diff.Compute("f.txt", before, after).Unified()
	got, err := applyPatch("f.txt", before, patch, 0)
	require.NoError(t, err)
	assert.Equal(t, after, got)
}
