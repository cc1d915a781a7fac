// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/muesli/termenv"
)

// =============================================================================
// SYNTAX HIGHLIGHTING
// =============================================================================

// formatterFor picks the chroma terminal formatter matching profile. Ascii
// has none.
func formatterFor(profile termenv.Profile) string {
	switch profile {
	case termenv.TrueColor:
		return "terminal16m"
	case termenv.ANSI256:
		return "terminal256"
	case termenv.ANSI:
		return "terminal16"
	default:
		return ""
	}
}

// highlight colors code in language for profile. On Ascii, or if chroma
// fails, the code comes back unchanged.
func highlight(code, language string, profile termenv.Profile) string {
	name := formatterFor(profile)
	if name == "" || code == "" {
		return code
	}

	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		return code
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get(name)
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}

// highlightSummary colors the unified diff that follows the first line of a
// confirmation summary. Summaries without a hunk are returned as they are.
func highlightSummary(summary string, profile termenv.Profile) string {
	head, body, ok := strings.Cut(summary, "\n")
	if !ok || !strings.Contains(body, "@@") {
		return summary
	}
	return head + "\n" + highlight(body, "diff", profile)
}
