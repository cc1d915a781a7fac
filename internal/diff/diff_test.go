// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineKind(t *testing.T) {
	assert.Equal(t, "context", Context.String())
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, "removed", Removed.String())
	assert.Equal(t, " ", Context.Prefix())
	assert.Equal(t, "+", Added.Prefix())
	assert.Equal(t, "-", Removed.Prefix())
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, SplitLines(""))
	assert.Equal(t, []string{"a"}, SplitLines("a"))
	assert.Equal(t, []string{"a"}, SplitLines("a\n"))
	assert.Equal(t, []string{"a", "", "b"}, SplitLines("a\n\nb\n"))
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		old     string
		new     string
		added   int
		removed int
		hunks   int
	}{
		{"new file", "", "a\nb\nc\n", 3, 0, 1},
		{"deleted content", "a\nb\n", "", 0, 2, 1},
		{"no changes", "a\nb\n", "a\nb\n", 0, 0, 0},
		{"single replacement", "line1\nline2\nline3", "line1\nmodified\nline3", 1, 1, 1},
		{"insertion", "a\nc\n", "a\nb\nc\n", 1, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compute("f.txt", tt.old, tt.new)
			assert.Equal(t, tt.added, d.Added)
			assert.Equal(t, tt.removed, d.Removed)
			assert.Len(t, d.Hunks, tt.hunks)
		})
	}
}

func TestCompute_DistantChangesSplitIntoHunks(t *testing.T) {
	var before, after []string
	for i := 1; i <= 20; i++ {
		before = append(before, fmt.Sprintf("l%d", i))
		after = append(after, fmt.Sprintf("l%d", i))
	}
	after[1] = "changed 2"
	after[17] = "changed 18"

	d := Compute("f.txt", strings.Join(before, "\n"), strings.Join(after, "\n"))
	require.Len(t, d.Hunks, 2)
	assert.Equal(t, 2, d.Added)
	assert.Equal(t, 2, d.Removed)
	assert.Equal(t, 1, d.Hunks[0].OldStart)
	assert.Equal(t, 15, d.Hunks[1].OldStart)
}

func TestUnified(t *testing.T) {
	d := Compute("file.txt", "line1\nline2\nline3", "line1\nmodified\nline3")

	want := "--- a/file.txt\n" +
		"+++ b/file.txt\n" +
		"@@ -1,3 +1,3 @@\n" +
		" line1\n" +
		"-line2\n" +
		"+modified\n" +
		" line3\n"
	assert.Equal(t, want, d.Unified())
	assert.Equal(t, "file.txt: +1 -1", d.Summary())
}

func TestUnified_Empty(t *testing.T) {
	d := Compute("same.txt", "x\n", "x\n")
	assert.True(t, d.Empty())
	assert.Equal(t, "", d.Unified())
	assert.Equal(t, "same.txt: no changes", d.Summary())
}

func TestParse(t *testing.T) {
	text := "diff --git a/f.txt b/f.txt\n" +
		"index 123..456 100644\n" +
		"--- a/f.txt\n" +
		"+++ b/f.txt\n" +
		"@@ -2,3 +2,3 @@ func main\n" +
		" b\n" +
		"-c\n" +
		"+C\n" +
		" d\n" +
		"@@ -10 +10,2 @@\n" +
		" j\n" +
		"+k\n" +
		"\\ No newline at end of file\n"

	p, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "f.txt", p.OldPath)
	assert.Equal(t, "f.txt", p.NewPath)
	require.Len(t, p.Hunks, 2)

	h := p.Hunks[0]
	assert.Equal(t, 2, h.OldStart)
	assert.Equal(t, 3, h.OldCount)
	assert.Equal(t, 3, h.NewCount)
	assert.Equal(t, "func main", h.Section)
	assert.Equal(t, []string{"b", "c", "d"}, h.OldLines())
	assert.Equal(t, []string{"b", "C", "d"}, h.NewLines())

	h = p.Hunks[1]
	assert.Equal(t, 10, h.OldStart)
	assert.Equal(t, []string{"j"}, h.OldLines())
	assert.Equal(t, []string{"j", "k"}, h.NewLines())
}

func TestParse_BlankLineIsContext(t *testing.T) {
	p, err := Parse("@@ -1,3 +1,3 @@\n a\n\n-b\n+B\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "", "b"}, p.Hunks[0].OldLines())
}

func TestParse_DevNull(t *testing.T) {
	p, err := Parse("--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,2 @@\n+x\n+y\n")
	require.NoError(t, err)
	assert.Equal(t, "", p.OldPath)
	assert.Equal(t, "new.txt", p.NewPath)
	assert.Empty(t, p.Hunks[0].OldLines())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"prose", "please change line 3\n"},
		{"header only", "--- a/f\n+++ b/f\n"},
		{"bad hunk line", "@@ -1 +1 @@\n-a\n*b\n"},
		{"two files", "@@ -1 +1 @@\n-a\n+b\n--- a/g\n+++ b/g\n@@ -1 +1 @@\n-c\n+d\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestComputeThenParse(t *testing.T) {
	before := "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"
	after := "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n"

	d := Compute("main.go", before, after)
	p, err := Parse(d.Unified())
	require.NoError(t, err)
	require.Len(t, p.Hunks, len(d.Hunks))
	for i := range d.Hunks {
		assert.Equal(t, d.Hunks[i].OldLines(), p.Hunks[i].OldLines())
		assert.Equal(t, d.Hunks[i].NewLines(), p.Hunks[i].NewLines())
		assert.Equal(t, d.Hunks[i].OldStart, p.Hunks[i].OldStart)
	}
}
