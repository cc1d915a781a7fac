// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// COLORS
// =============================================================================

// Purple - assistant text, spinner
var Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

// Cyan - prompt, tool names
var Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

// Emerald - successful tool calls
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// Rose - errors, destructive confirmations
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// Amber - warnings, retries, ambiguous confirmations
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// TextMuted - tool arguments, hints
var TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}

// =============================================================================
// STYLES
// =============================================================================

// Styles are the text styles of the console, bound to one renderer so
// they follow its color profile.
type Styles struct {
	Prompt    lipgloss.Style
	Spinner   lipgloss.Style
	ToolName  lipgloss.Style
	ToolArgs  lipgloss.Style
	OK        lipgloss.Style
	Failed    lipgloss.Style
	Denied    lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Muted     lipgloss.Style
	Confirm   lipgloss.Style
	Dangerous lipgloss.Style
}

// NewStyles builds the styles for r.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Prompt:    r.NewStyle().Foreground(Cyan).Bold(true),
		Spinner:   r.NewStyle().Foreground(Purple),
		ToolName:  r.NewStyle().Foreground(Cyan).Bold(true),
		ToolArgs:  r.NewStyle().Foreground(TextMuted),
		OK:        r.NewStyle().Foreground(Emerald),
		Failed:    r.NewStyle().Foreground(Rose),
		Denied:    r.NewStyle().Foreground(Amber),
		Warning:   r.NewStyle().Foreground(Amber),
		Error:     r.NewStyle().Foreground(Rose).Bold(true),
		Muted:     r.NewStyle().Foreground(TextMuted),
		Confirm:   r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Amber).Padding(0, 1),
		Dangerous: r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Rose).Padding(0, 1),
	}
}
