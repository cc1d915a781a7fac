// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 80

// Terminal describes the standard streams the console writes to.
type Terminal struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	interactive bool
	profile     termenv.Profile
	renderer    *lipgloss.Renderer
}

// NewTerminal probes in and out. color is auto, always or never; auto
// honors NO_COLOR and CLICOLOR_FORCE.
func NewTerminal(in io.Reader, out, errw io.Writer, color string) *Terminal {
	t := &Terminal{
		In:          in,
		Out:         out,
		Err:         errw,
		interactive: isTTY(in) && isTTY(out),
	}

	output := termenv.NewOutput(out)
	switch strings.ToLower(color) {
	case "never":
		t.profile = termenv.Ascii
	case "always":
		t.profile = output.EnvColorProfile()
		if t.profile == termenv.Ascii {
			t.profile = termenv.ANSI256
		}
	default:
		t.profile = termenv.Ascii
		if isTTY(out) {
			t.profile = output.EnvColorProfile()
		}
	}

	t.renderer = lipgloss.NewRenderer(out)
	t.renderer.SetColorProfile(t.profile)
	if !t.interactive {
		// Avoid querying a terminal that is not there.
		t.renderer.SetHasDarkBackground(true)
	}
	return t
}

// Stdio returns a Terminal over the process streams.
func Stdio(color string) *Terminal {
	return NewTerminal(os.Stdin, os.Stdout, os.Stderr, color)
}

// Interactive reports whether both stdin and stdout are terminals.
func (t *Terminal) Interactive() bool {
	return t.interactive
}

// Profile returns the color profile in use.
func (t *Terminal) Profile() termenv.Profile {
	return t.profile
}

// Renderer returns the lipgloss renderer bound to Out.
func (t *Terminal) Renderer() *lipgloss.Renderer {
	return t.renderer
}

// Width returns the width of Out, or DefaultWidth.
func (t *Terminal) Width() int {
	if f, ok := t.Out.(*os.File); ok && isTTY(f) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return DefaultWidth
}

func isTTY(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
