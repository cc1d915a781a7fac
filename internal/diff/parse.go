// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// UNIFIED DIFF PARSING
// =============================================================================

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@ ?(.*)$`)

// Patch is a parsed single-file unified diff.
type Patch struct {
	OldPath string
	NewPath string
	Hunks   []Hunk
}

// ParseError reports malformed patch text. Line is 1-based.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("patch line %d: %s", e.Line, e.Msg)
}

// Parse reads a unified diff for one file. File headers (diff --git, index,
// ---, +++) are optional. Hunk line counts are taken from the body rather
// than the @@ header, since hand-written patches routinely get them wrong;
// the header supplies only the starting line. An empty body line inside a
// hunk is read as an empty context line.
func Parse(text string) (*Patch, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	// The terminating newline of the last line is not a blank context line.
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	p := &Patch{}
	var cur *Hunk
	flush := func() {
		if cur != nil {
			p.Hunks = append(p.Hunks, *cur)
			cur = nil
		}
	}

	for i, raw := range lines {
		lineNo := i + 1

		if m := hunkHeaderRe.FindStringSubmatch(raw); m != nil {
			flush()
			cur = &Hunk{
				OldStart: atoi(m[1]),
				NewStart: atoi(m[3]),
				Section:  strings.TrimSpace(m[5]),
			}
			continue
		}

		if cur == nil {
			switch {
			case strings.HasPrefix(raw, "--- "):
				p.OldPath = headerPath(raw[4:])
			case strings.HasPrefix(raw, "+++ "):
				p.NewPath = headerPath(raw[4:])
			case strings.HasPrefix(raw, "diff "), strings.HasPrefix(raw, "index "),
				strings.HasPrefix(raw, "new file mode"), strings.HasPrefix(raw, "deleted file mode"),
				strings.TrimSpace(raw) == "":
			default:
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("unexpected text before first hunk: %q", clip(raw))}
			}
			continue
		}

		if strings.HasPrefix(raw, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ") {
			return nil, &ParseError{Line: lineNo, Msg: "patch touches more than one file"}
		}

		switch {
		case raw == "":
			cur.add(Line{Kind: Context})
		case raw[0] == ' ':
			cur.add(Line{Kind: Context, Text: raw[1:]})
		case raw[0] == '-':
			cur.add(Line{Kind: Removed, Text: raw[1:]})
		case raw[0] == '+':
			cur.add(Line{Kind: Added, Text: raw[1:]})
		case raw[0] == '\\':
			// "\ No newline at end of file"
		default:
			return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("hunk line must start with ' ', '+' or '-': %q", clip(raw))}
		}
	}
	flush()

	if len(p.Hunks) == 0 {
		return nil, &ParseError{Line: len(lines), Msg: "no hunks found"}
	}
	for i, h := range p.Hunks {
		if h.OldCount == 0 && h.NewCount == 0 {
			return nil, &ParseError{Line: 0, Msg: fmt.Sprintf("hunk %d is empty", i+1)}
		}
	}
	return p, nil
}

func (h *Hunk) add(l Line) {
	if l.Kind != Added {
		h.OldCount++
		l.OldLine = h.OldStart + h.OldCount - 1
	}
	if l.Kind != Removed {
		h.NewCount++
		l.NewLine = h.NewStart + h.NewCount - 1
	}
	h.Lines = append(h.Lines, l)
}

// headerPath strips the a/ or b/ prefix and any trailing timestamp.
func headerPath(s string) string {
	if tab := strings.IndexByte(s, '\t'); tab >= 0 {
		s = s[:tab]
	}
	s = strings.TrimSpace(s)
	if s == "/dev/null" {
		return ""
	}
	if strings.HasPrefix(s, "a/") || strings.HasPrefix(s, "b/") {
		return s[2:]
	}
	return s
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func clip(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
