// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"strings"

	"github.com/jeranaias/aicli/internal/diff"
)

// applyPatch applies a unified diff to content. Hunks are applied in order to
// one working copy; each is looked for at its recorded line (shifted by what
// earlier hunks did) and then up to fuzz lines either side, never before the
// end of the previous hunk. Lines are compared exactly first and then with
// trailing whitespace ignored. Any hunk that cannot be placed fails the whole
// patch.
func applyPatch(path, content, patchText string, fuzz int) (string, error) {
	p, err := diff.Parse(patchText)
	if err != nil {
		return "", &EditError{Kind: KindInvalidPatch, Path: path, Msg: "malformed diff", Err: err}
	}

	lines := diff.SplitLines(content)
	trailingNewline := content == "" || strings.HasSuffix(content, "\n")

	offset, floor := 0, 0
	for i, h := range p.Hunks {
		old := h.OldLines()
		base := h.OldStart - 1
		if len(old) == 0 {
			// Pure insertions record the line they follow.
			base = h.OldStart
		}

		pos, ok := locate(lines, old, base+offset, floor, fuzz)
		if !ok {
			return "", newError(KindInvalidPatch, path,
				"hunk %d (%s) does not match the file within %d lines of line %d", i+1, h.Header(), fuzz, h.OldStart)
		}
		if alreadyApplied(lines, h, pos, floor) {
			return "", newError(KindInvalidPatch, path, "hunk %d (%s) is already applied", i+1, h.Header())
		}

		var replaced []string
		lines, replaced = splice(lines, pos, h)
		offset = pos - base + len(replaced) - len(old)
		floor = pos + len(replaced)
	}

	if len(lines) == 0 {
		return "", nil
	}
	out := strings.Join(lines, "\n")
	if trailingNewline {
		out += "\n"
	}
	return out, nil
}

type lineEq func(a, b string) bool

func exactEq(a, b string) bool { return a == b }

func looseEq(a, b string) bool {
	return strings.TrimRight(a, " \t\r") == strings.TrimRight(b, " \t\r")
}

// locate finds old in lines nearest to want, within fuzz lines and not before
// floor.
func locate(lines, old []string, want, floor, fuzz int) (int, bool) {
	for _, eq := range []lineEq{exactEq, looseEq} {
		for d := 0; d <= fuzz; d++ {
			for _, pos := range []int{want - d, want + d} {
				if pos < floor || pos+len(old) > len(lines) {
					continue
				}
				if matchAt(lines, old, pos, eq) {
					return pos, true
				}
				if d == 0 {
					break
				}
			}
		}
	}
	return -1, false
}

func matchAt(lines, want []string, pos int, eq lineEq) bool {
	if pos < 0 || pos+len(want) > len(lines) {
		return false
	}
	for i, w := range want {
		if !eq(lines[pos+i], w) {
			return false
		}
	}
	return true
}

// alreadyApplied reports whether a pure-addition hunk located at pos is
// already in the file. Lines added before the first context line sit above
// pos once applied, so the new side is compared from pos minus their count.
func alreadyApplied(lines []string, h diff.Hunk, pos, floor int) bool {
	leading := 0
	for _, l := range h.Lines {
		if l.Kind == diff.Removed {
			return false
		}
	}
	for _, l := range h.Lines {
		if l.Kind != diff.Added {
			break
		}
		leading++
	}
	newLines := h.NewLines()
	if matchAt(lines, newLines, pos, exactEq) {
		return true
	}
	start := pos - leading
	return leading > 0 && start >= floor && matchAt(lines, newLines, start, exactEq)
}

// splice replaces the hunk's old lines at pos with its new lines. Context
// lines keep the file's text so whitespace-tolerant matches do not rewrite
// them.
func splice(lines []string, pos int, h diff.Hunk) ([]string, []string) {
	idx := pos
	var replaced []string
	for _, l := range h.Lines {
		switch l.Kind {
		case diff.Context:
			replaced = append(replaced, lines[idx])
			idx++
		case diff.Removed:
			idx++
		case diff.Added:
			replaced = append(replaced, l.Text)
		}
	}
	out := make([]string, 0, len(lines)-(idx-pos)+len(replaced))
	out = append(out, lines[:pos]...)
	out = append(out, replaced...)
	out = append(out, lines[idx:]...)
	return out, replaced
}
