// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// spinners maps ui.spinner names to frame sets.
var spinners = map[string]spinner.Spinner{
	"dot":     spinner.Dot,
	"line":    spinner.Line,
	"minidot": spinner.MiniDot,
	"jump":    spinner.Jump,
	"pulse":   spinner.Pulse,
	"points":  spinner.Points,
	"meter":   spinner.Meter,
}

// SpinnerNames returns the accepted ui.spinner values.
func SpinnerNames() []string {
	return []string{"dot", "line", "minidot", "jump", "pulse", "points", "meter", "none"}
}

// Spinner animates a status line while the model or a tool is busy.
// A disabled spinner does nothing.
type Spinner struct {
	out     io.Writer
	style   lipgloss.Style
	frames  spinner.Spinner
	enabled bool

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSpinner returns a spinner drawing on out. Unknown names fall back to
// dot; "none" disables it.
func NewSpinner(out io.Writer, name string, style lipgloss.Style, enabled bool) *Spinner {
	frames, ok := spinners[strings.ToLower(name)]
	if !ok {
		frames = spinner.Dot
	}
	if strings.EqualFold(name, "none") {
		enabled = false
	}
	return &Spinner{out: out, style: style, frames: frames, enabled: enabled}
}

// Start shows msg with an elapsed timer, replacing any running spinner.
func (s *Spinner) Start(msg string) {
	if s == nil || !s.enabled {
		return
	}
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(msg, s.stop, s.done)
}

// Stop clears the spinner line. It is safe to call when not running.
func (s *Spinner) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

// Running reports whether the spinner is drawing.
func (s *Spinner) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Spinner) loop(msg string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	output := termenv.NewOutput(s.out)
	fps := s.frames.FPS
	if fps <= 0 {
		fps = time.Second / 10
	}
	ticker := time.NewTicker(fps)
	defer ticker.Stop()

	start := time.Now()
	frame := 0
	draw := func() {
		output.ClearLine()
		fmt.Fprintf(s.out, "\r%s %s %s",
			s.style.Render(s.frames.Frames[frame%len(s.frames.Frames)]),
			msg,
			formatElapsed(time.Since(start)))
		frame++
	}

	draw()
	for {
		select {
		case <-stop:
			output.ClearLine()
			fmt.Fprint(s.out, "\r")
			return
		case <-ticker.C:
			draw()
		}
	}
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return ""
	}
	return fmt.Sprintf("(%ds)", int(d.Seconds()))
}
