// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/aicli/internal/agent"
	"github.com/jeranaias/aicli/internal/tools"
	"github.com/jeranaias/aicli/internal/util"
)

// maxArgsWidth bounds the tool arguments echoed before a call.
const maxArgsWidth = 120

// =============================================================================
// CONSOLE
// =============================================================================

// Console prints agent progress and asks for tool confirmations.
type Console struct {
	term   *Terminal
	styles Styles
	spin   *Spinner
	md     *Markdown
	ask    func(question string) (bool, error)
	log    logrus.FieldLogger

	mu sync.Mutex
}

var (
	_ agent.Observer  = (*Console)(nil)
	_ tools.Confirmer = (*Console)(nil)
)

// ConsoleOption configures a Console.
type ConsoleOption func(*consoleOptions)

type consoleOptions struct {
	spinner  string
	markdown bool
	ask      func(string) (bool, error)
	log      logrus.FieldLogger
}

// WithSpinner selects the spinner frames by name.
func WithSpinner(name string) ConsoleOption {
	return func(o *consoleOptions) { o.spinner = name }
}

// WithMarkdown toggles markdown rendering of answers.
func WithMarkdown(on bool) ConsoleOption {
	return func(o *consoleOptions) { o.markdown = on }
}

// WithAsk replaces the interactive yes/no prompt.
func WithAsk(ask func(question string) (bool, error)) ConsoleOption {
	return func(o *consoleOptions) { o.ask = ask }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) ConsoleOption {
	return func(o *consoleOptions) { o.log = l }
}

// NewConsole returns a console on t.
func NewConsole(t *Terminal, opts ...ConsoleOption) *Console {
	o := consoleOptions{spinner: "dot", markdown: true, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Console{
		term:   t,
		styles: NewStyles(t.Renderer()),
		log:    o.log,
	}
	c.spin = NewSpinner(t.Err, o.spinner, c.styles.Spinner, t.Interactive())
	if o.markdown {
		md, err := NewMarkdown(t.Width(), t.Profile(), t.Renderer().HasDarkBackground())
		if err != nil {
			c.log.WithError(err).Debug("markdown renderer unavailable")
		} else {
			c.md = md
		}
	}
	c.ask = o.ask
	if c.ask == nil {
		c.ask = c.surveyConfirm
	}
	return c
}

// Styles returns the console styles.
func (c *Console) Styles() Styles {
	return c.styles
}

// Terminal returns the terminal the console writes to.
func (c *Console) Terminal() *Terminal {
	return c.term
}

// =============================================================================
// OUTPUT
// =============================================================================

// PrintAnswer prints the final answer of a turn.
func (c *Console) PrintAnswer(text string) {
	c.spin.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.md != nil {
		text = c.md.Render(text)
	}
	fmt.Fprintln(c.term.Out, strings.TrimRight(text, "\n"))
}

// Println writes a plain line to stdout.
func (c *Console) Println(text string) {
	c.spin.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.term.Out, text)
}

// Info writes a muted line to stderr.
func (c *Console) Info(format string, args ...any) {
	c.status(c.styles.Muted, format, args...)
}

// Warn writes a warning to stderr.
func (c *Console) Warn(format string, args ...any) {
	c.status(c.styles.Warning, "Warning: "+format, args...)
}

// Error writes an error to stderr.
func (c *Console) Error(format string, args ...any) {
	c.status(c.styles.Error, "Error: "+format, args...)
}

func (c *Console) status(style lipgloss.Style, format string, args ...any) {
	c.spin.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.term.Err, style.Render(fmt.Sprintf(format, args...)))
}

// StartSpinner shows msg until the next output.
func (c *Console) StartSpinner(msg string) {
	c.spin.Start(msg)
}

// StopSpinner clears the spinner.
func (c *Console) StopSpinner() {
	c.spin.Stop()
}

// =============================================================================
// OBSERVER
// =============================================================================

// OnModelRequest shows the thinking spinner.
func (c *Console) OnModelRequest(turn int) {
	if turn > 1 {
		c.spin.Start(fmt.Sprintf("Thinking (step %d)", turn))
		return
	}
	c.spin.Start("Thinking")
}

// OnAssistant prints interim text the model sends along with tool calls.
// The final answer is printed by the caller.
func (c *Console) OnAssistant(msg agent.Message) {
	if len(msg.ToolCalls) == 0 || strings.TrimSpace(msg.Content) == "" {
		return
	}
	c.spin.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.term.Err, c.styles.Muted.Render(strings.TrimSpace(msg.Content)))
}

// OnToolStart echoes the call and starts the spinner.
func (c *Console) OnToolStart(call tools.ToolCall) {
	c.spin.Stop()
	c.mu.Lock()
	args := util.TruncateWidth(strings.Join(strings.Fields(string(call.Arguments)), " "), maxArgsWidth)
	fmt.Fprintf(c.term.Err, "%s %s %s\n",
		c.styles.Muted.Render("→"),
		c.styles.ToolName.Render(call.Name),
		c.styles.ToolArgs.Render(args))
	c.mu.Unlock()
	c.spin.Start("Running " + call.Name)
}

// OnToolResult prints one status line for the call.
func (c *Console) OnToolResult(call tools.ToolCall, res tools.ToolResult) {
	c.spin.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	switch res.Status {
	case tools.StatusOK:
		fmt.Fprintf(c.term.Err, "  %s %s\n", c.styles.OK.Render("✓"), c.styles.Muted.Render(call.Name))
	case tools.StatusDenied:
		fmt.Fprintf(c.term.Err, "  %s %s\n", c.styles.Denied.Render("✗"), c.styles.Denied.Render(call.Name+" denied"))
	default:
		line := util.TruncateWidth(util.FirstLine(res.Output), maxArgsWidth)
		fmt.Fprintf(c.term.Err, "  %s %s %s\n",
			c.styles.Failed.Render("✗"),
			c.styles.Failed.Render(call.Name+" failed ("+res.ErrorDetail+")"),
			c.styles.Muted.Render(line))
	}
}

// OnRetry reports a transient model failure.
func (c *Console) OnRetry(attempt int, delay time.Duration, err error) {
	c.spin.Stop()
	c.mu.Lock()
	fmt.Fprintln(c.term.Err, c.styles.Warning.Render(
		fmt.Sprintf("Request failed (%v), retrying in %s [attempt %d]", err, delay.Round(time.Millisecond), attempt)))
	c.mu.Unlock()
	c.spin.Start("Waiting to retry")
}

// =============================================================================
// CONFIRMATION
// =============================================================================

// Ask shows the call summary and asks for approval. Without a terminal
// the call is denied.
func (c *Console) Ask(summary string) bool {
	c.spin.Stop()

	c.mu.Lock()
	box := c.styles.Confirm
	if strings.HasPrefix(summary, "["+tools.TierDestructive.String()+"]") {
		box = c.styles.Dangerous
	}
	fmt.Fprintln(c.term.Err, box.Render(highlightSummary(summary, c.term.Profile())))
	c.mu.Unlock()

	ok, err := c.ask("Allow this action?")
	switch {
	case errors.Is(err, errNotInteractive):
		c.Warn("no terminal to confirm on; denied")
		return false
	case errors.Is(err, terminal.InterruptErr):
		return false
	case err != nil:
		c.log.WithError(err).Warn("confirmation prompt failed")
		return false
	}
	return ok
}

var errNotInteractive = errors.New("not interactive")

func (c *Console) surveyConfirm(question string) (bool, error) {
	in, inOK := c.term.In.(terminal.FileReader)
	out, outOK := c.term.Err.(terminal.FileWriter)
	if !c.term.Interactive() || !inOK || !outOK {
		return false, errNotInteractive
	}
	ok := false
	err := survey.AskOne(&survey.Confirm{Message: question, Default: false}, &ok,
		survey.WithStdio(in, out, io.Writer(out)))
	return ok, err
}
