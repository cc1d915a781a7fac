// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"fmt"
	"strings"
)

// =============================================================================
// TYPES
// =============================================================================

// LineKind says which side(s) of a diff a line belongs to.
type LineKind int

const (
	Context LineKind = iota
	Added
	Removed
)

// String returns the name of the kind.
func (k LineKind) String() string {
	switch k {
	case Context:
		return "context"
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Prefix returns the unified-diff marker for the kind.
func (k LineKind) Prefix() string {
	switch k {
	case Added:
		return "+"
	case Removed:
		return "-"
	default:
		return " "
	}
}

// Line is one line of a hunk. OldLine and NewLine are 1-based and zero on
// the side the line does not exist.
type Line struct {
	Kind    LineKind
	Text    string
	OldLine int
	NewLine int
}

// Hunk is a contiguous block of changes with surrounding context.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int

	// Section is the optional text after the closing @@.
	Section string

	Lines []Line
}

// OldLines returns the lines the hunk expects to find (context and removals).
func (h Hunk) OldLines() []string {
	out := make([]string, 0, h.OldCount)
	for _, l := range h.Lines {
		if l.Kind != Added {
			out = append(out, l.Text)
		}
	}
	return out
}

// NewLines returns the lines the hunk leaves behind (context and additions).
func (h Hunk) NewLines() []string {
	out := make([]string, 0, h.NewCount)
	for _, l := range h.Lines {
		if l.Kind != Removed {
			out = append(out, l.Text)
		}
	}
	return out
}

// Header renders the @@ line.
func (h Hunk) Header() string {
	hdr := fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
	if h.Section != "" {
		hdr += " " + h.Section
	}
	return hdr
}

// FileDiff is the difference between two versions of one file.
type FileDiff struct {
	Path    string
	Hunks   []Hunk
	Added   int
	Removed int
}

// Empty reports whether the versions are identical.
func (d *FileDiff) Empty() bool {
	return len(d.Hunks) == 0
}

// =============================================================================
// COMPUTATION
// =============================================================================

const (
	contextLines = 3

	// maxLCSCells bounds the LCS table. Larger inputs degrade to a single
	// replace hunk over the region between the common prefix and suffix.
	maxLCSCells = 4 << 20
)

// SplitLines splits content into lines without their terminators. A final
// newline does not produce an empty trailing line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Compute returns the line diff from oldContent to newContent.
func Compute(path, oldContent, newContent string) *FileDiff {
	d := &FileDiff{Path: path}
	lines := lineDiff(SplitLines(oldContent), SplitLines(newContent))
	for _, l := range lines {
		switch l.Kind {
		case Added:
			d.Added++
		case Removed:
			d.Removed++
		}
	}
	d.Hunks = group(lines)
	return d
}

func lineDiff(a, b []string) []Line {
	// Common prefix and suffix never need the LCS table.
	pre := 0
	for pre < len(a) && pre < len(b) && a[pre] == b[pre] {
		pre++
	}
	suf := 0
	for suf < len(a)-pre && suf < len(b)-pre && a[len(a)-1-suf] == b[len(b)-1-suf] {
		suf++
	}

	out := make([]Line, 0, len(a)+len(b))
	for i := 0; i < pre; i++ {
		out = append(out, Line{Kind: Context, Text: a[i], OldLine: i + 1, NewLine: i + 1})
	}

	midA, midB := a[pre:len(a)-suf], b[pre:len(b)-suf]
	if len(midA)*len(midB) > maxLCSCells {
		for i, s := range midA {
			out = append(out, Line{Kind: Removed, Text: s, OldLine: pre + i + 1})
		}
		for j, s := range midB {
			out = append(out, Line{Kind: Added, Text: s, NewLine: pre + j + 1})
		}
	} else {
		out = append(out, lcsWalk(midA, midB, pre)...)
	}

	for k := 0; k < suf; k++ {
		i, j := len(a)-suf+k, len(b)-suf+k
		out = append(out, Line{Kind: Context, Text: a[i], OldLine: i + 1, NewLine: j + 1})
	}
	return out
}

// lcsWalk diffs a against b with a longest-common-subsequence table. offset
// is added to line numbers.
func lcsWalk(a, b []string, offset int) []Line {
	m, n := len(a), len(b)
	// dp[i][j] is the LCS length of a[i:] and b[j:].
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else {
				dp[i][j] = max(dp[i+1][j], dp[i][j+1])
			}
		}
	}

	var out []Line
	i, j := 0, 0
	for i < m || j < n {
		switch {
		case i < m && j < n && a[i] == b[j]:
			out = append(out, Line{Kind: Context, Text: a[i], OldLine: offset + i + 1, NewLine: offset + j + 1})
			i++
			j++
		case j >= n || (i < m && dp[i+1][j] >= dp[i][j+1]):
			out = append(out, Line{Kind: Removed, Text: a[i], OldLine: offset + i + 1})
			i++
		default:
			out = append(out, Line{Kind: Added, Text: b[j], NewLine: offset + j + 1})
			j++
		}
	}
	return out
}

// group cuts a full line diff into hunks with contextLines of context,
// merging hunks whose context would overlap.
func group(lines []Line) []Hunk {
	var hunks []Hunk
	i := 0
	for i < len(lines) {
		if lines[i].Kind == Context {
			i++
			continue
		}

		start := max(0, i-contextLines)
		end := i
		for end < len(lines) {
			if lines[end].Kind != Context {
				end++
				continue
			}
			// Run of context: close the hunk if it is longer than two
			// context margins or reaches the end.
			run := end
			for run < len(lines) && lines[run].Kind == Context {
				run++
			}
			if run == len(lines) || run-end > 2*contextLines {
				end = min(run, end+contextLines)
				break
			}
			end = run
		}
		hunks = append(hunks, newHunk(lines[start:end]))
		i = end
	}
	return hunks
}

func newHunk(lines []Line) Hunk {
	h := Hunk{Lines: append([]Line(nil), lines...)}
	for _, l := range lines {
		if l.Kind != Added {
			if h.OldStart == 0 {
				h.OldStart = l.OldLine
			}
			h.OldCount++
		}
		if l.Kind != Removed {
			if h.NewStart == 0 {
				h.NewStart = l.NewLine
			}
			h.NewCount++
		}
	}
	// An empty side starts at the line before the change, per unified diff.
	if h.OldCount == 0 {
		h.OldStart = max(0, lines[0].NewLine-1)
	}
	if h.NewCount == 0 {
		h.NewStart = max(0, lines[0].OldLine-1)
	}
	return h
}

// =============================================================================
// FORMATTING
// =============================================================================

// Unified renders the diff in unified format with a/ and b/ labels.
func (d *FileDiff) Unified() string {
	if d.Empty() {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", d.Path, d.Path)
	for _, h := range d.Hunks {
		sb.WriteString(h.Header())
		sb.WriteByte('\n')
		for _, l := range h.Lines {
			sb.WriteString(l.Kind.Prefix())
			sb.WriteString(l.Text)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Summary returns a short description such as "main.go: +3 -1".
func (d *FileDiff) Summary() string {
	if d.Empty() {
		return d.Path + ": no changes"
	}
	return fmt.Sprintf("%s: +%d -%d", d.Path, d.Added, d.Removed)
}
