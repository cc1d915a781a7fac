// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/aicli/internal/agent"
	"github.com/jeranaias/aicli/internal/config"
	"github.com/jeranaias/aicli/internal/util"
)

// =============================================================================
// LINE INPUT
// =============================================================================

// lineReader reads REPL input. *lineEditor implements it over liner.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// lineEditor provides input history and line editing.
type lineEditor struct {
	*liner.State
	historyFile string
}

// newLineEditor loads the input history from ~/.aicli/repl_history.
func newLineEditor() *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	e := &lineEditor{State: line, historyFile: filepath.Join(dir, "repl_history")}
	if f, err := os.Open(e.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return e
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (e *lineEditor) Close() error {
	if err := os.MkdirAll(filepath.Dir(e.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = e.State.WriteHistory(f)
			f.Close()
		}
	}
	return e.State.Close()
}

// =============================================================================
// REPL
// =============================================================================

const (
	shellToggle = "!"

	// maxShellEcho bounds command output echoed to the terminal.
	maxShellEcho = 8 * 1024

	// historyShown is how many dispatches /history prints.
	historyShown = 20
)

// errExit ends the REPL.
var errExit = errors.New("exit")

// runREPL reads prompts until exit, quit or end of input.
func (a *App) runREPL(ctx context.Context) error {
	if !a.console.Terminal().Interactive() {
		return usageErrorf("no terminal for an interactive session; pass a prompt with -p")
	}
	in := newLineEditor()
	defer in.Close()
	return a.repl(ctx, in)
}

func (a *App) repl(ctx context.Context, in lineReader) error {
	stop := a.watchInterrupts(nil)
	defer stop()

	a.printWelcome()
	shellMode := false
	for {
		prompt := a.promptText(shellMode)
		input, err := in.Prompt(prompt)
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			if strings.TrimSpace(input) != "" {
				continue
			}
			if a.confirmExit(in) {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			a.console.Println("")
			return nil
		case err != nil:
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		in.AppendHistory(input)

		if shellMode {
			switch strings.ToLower(input) {
			case shellToggle, "exit":
				shellMode = false
				a.console.Info("Leaving shell mode.")
			default:
				a.runShell(ctx, input)
			}
			continue
		}

		if err := a.handleInput(ctx, input, &shellMode); err != nil {
			if errors.Is(err, errExit) {
				a.console.Println("Goodbye!")
				return nil
			}
			a.console.Error("%v", err)
		}
	}
}

// handleInput dispatches one line typed at the chat prompt.
func (a *App) handleInput(ctx context.Context, input string, shellMode *bool) error {
	switch lower := strings.ToLower(input); {
	case lower == "exit" || lower == "quit" || lower == "/exit" || lower == "/quit":
		return errExit
	case lower == "clear" || lower == "/clear":
		a.session.Clear()
		a.dispatcher.ClearHistory()
		a.console.Info("Conversation cleared. Starting fresh.")
		return nil
	case lower == shellToggle:
		*shellMode = true
		a.console.Info("Shell mode: every line runs in %s. Type ! or exit to leave.", a.tools.policy.Root)
		return nil
	case strings.HasPrefix(input, shellToggle):
		a.runShell(ctx, strings.TrimSpace(strings.TrimPrefix(input, shellToggle)))
		return nil
	case strings.HasPrefix(input, "/"):
		return a.slashCommand(input)
	}

	out := a.runTurn(ctx, input)
	if failed, ok := out.(agent.Failed); ok {
		if failed.Reason == agent.ReasonCancelled {
			a.console.Warn("turn cancelled")
			return nil
		}
		return failed
	}
	return nil
}

// runShell runs a command the user typed and adds its output to the
// conversation as a user note. No model request is made.
func (a *App) runShell(ctx context.Context, command string) {
	if command == "" {
		return
	}
	ctx, done := a.canceller.Arm(ctx)
	defer done()

	res, err := a.tools.executor.Execute(ctx, command, a.tools.policy)
	var output string
	if err != nil {
		output = "error: " + err.Error()
		a.console.Error("%v", err)
	} else {
		output = res.Combined()
		if res.ExitCode != 0 {
			output = fmt.Sprintf("%s\n(exit status %d)", strings.TrimRight(output, "\n"), res.ExitCode)
		}
		echo, _ := util.TruncateBytes(output, maxShellEcho)
		a.console.Println(strings.TrimRight(echo, "\n"))
	}
	a.session.Append(agent.UserMessage(fmt.Sprintf("I ran `%s`, output:\n%s", command, strings.TrimRight(output, "\n"))))
}

// slashCommand handles /tools, /history and /help.
func (a *App) slashCommand(input string) error {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/tools":
		a.console.Println(formatTools(a.tools.registry))
	case "/history":
		a.console.Println(formatDispatchHistory(a.dispatcher.History(), a.dispatcher.Stats(), historyShown))
	case "/help", "/?":
		a.printHelp()
	default:
		return fmt.Errorf("unknown command: %s (type /help for commands)", fields[0])
	}
	return nil
}

// confirmExit asks whether an interrupt at an empty prompt should exit.
func (a *App) confirmExit(in lineReader) bool {
	answer, err := in.Prompt("Exit aicli? [y/N] ")
	if err != nil {
		return errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// =============================================================================
// DISPLAY
// =============================================================================

// promptText shows the size of the conversation in characters.
func (a *App) promptText(shellMode bool) string {
	if shellMode {
		return "shell> "
	}
	size := 0
	for _, m := range a.session.Messages() {
		size += len(m.Content)
	}
	return fmt.Sprintf("[%d] > ", size)
}

func (a *App) printWelcome() {
	st := a.console.Styles()
	a.console.Println(st.Prompt.Render("aicli") + st.Muted.Render(" "+Version))
	a.console.Println(st.Muted.Render(strings.Repeat("─", 30)))
	a.console.Println(fmt.Sprintf("%s %s", st.Muted.Render("Model:"), a.cfg.Model.Name))
	a.console.Println(fmt.Sprintf("%s %s", st.Muted.Render("Root: "), a.tools.policy.Root))
	a.console.Println(fmt.Sprintf("%s %s", st.Muted.Render("Shell:"), a.tools.executor.Shell().Describe()))
	a.console.Println(st.Muted.Render("Type /help for commands. !cmd runs a command; ! alone enters shell mode."))
	a.console.Println("")
}

func (a *App) printHelp() {
	rows := [][2]string{
		{"!<command>", "Run a command in the sandbox and add its output to the conversation"},
		{"!", "Toggle shell mode"},
		{"clear", "Start a new conversation"},
		{"/tools", "List the available tools"},
		{"/history", "Show recent tool calls"},
		{"exit, quit", "Leave aicli"},
		{"Ctrl+C", "Cancel the running turn"},
	}
	st := a.console.Styles()
	var sb strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&sb, "  %s %s\n", st.ToolName.Render(fmt.Sprintf("%-12s", r[0])), r[1])
	}
	a.console.Println(strings.TrimRight(sb.String(), "\n"))
}

// formatElapsed is a short duration for tables.
func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return "<1ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}
