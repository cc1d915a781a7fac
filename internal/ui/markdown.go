// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/muesli/termenv"
)

// Markdown renders answers for the terminal.
type Markdown struct {
	r *glamour.TermRenderer
}

// NewMarkdown returns a renderer wrapping at width. Without colors the
// notty style is used so the output stays plain text.
func NewMarkdown(width int, profile termenv.Profile, dark bool) (*Markdown, error) {
	style := styles.LightStyle
	switch {
	case profile == termenv.Ascii:
		style = styles.NoTTYStyle
	case dark:
		style = styles.DarkStyle
	}
	if width <= 0 {
		width = DefaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithColorProfile(profile),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &Markdown{r: r}, nil
}

// Render returns text rendered, or text unchanged if rendering fails.
func (m *Markdown) Render(text string) string {
	if m == nil || strings.TrimSpace(text) == "" {
		return text
	}
	out, err := m.r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}
