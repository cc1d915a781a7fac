// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jeranaias/aicli/internal/config"
	"github.com/jeranaias/aicli/internal/ui"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalOptions are the persistent flags of the root command.
type globalOptions struct {
	prompt     string
	configPath string
	root       string
	debug      bool
	yes        bool
	noMarkdown bool
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand returns the aicli command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "aicli",
		Short: "A terminal assistant that runs commands and edits files for you",
		Long: `aicli talks to an OpenAI-compatible chat model and lets it use tools:
shell commands confined to a sandbox root, a diff-based file editor, web
search and scraping, email and market data. Risky actions are confirmed
before they run.

Without -p, aicli starts an interactive session.`,
		Example: `  Start an interactive session in the current directory:
  $ aicli

  Ask one question and exit:
  $ aicli -p "why does go test fail in ./internal/editor?"

  Work in another directory without confirming ambiguous actions:
  $ aicli --root ~/src/project --yes

  Pipe a prompt:
  $ git diff | aicli -p "review this diff"`,
		Version:           Version,
		Args:              noArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), opts, cmd.InOrStdin())
		},
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default ~/.aicli/config.toml)")
	flags.BoolVar(&opts.debug, "debug", false, "Debug logging")
	rootCmd.Flags().StringVarP(&opts.prompt, "prompt", "p", "", "Run one prompt and exit")
	flags.StringVar(&opts.root, "root", "", "Sandbox root for commands and edits (default: current directory)")
	rootCmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Run ambiguous actions without asking (destructive ones still ask)")
	rootCmd.Flags().BoolVar(&opts.noMarkdown, "no-markdown", false, "Print answers without markdown rendering")

	rootCmd.AddCommand(
		newConfigCommand(opts),
		newHistoryCommand(opts),
		newToolsCommand(opts),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the command line and returns the exit status.
func Execute(ctx context.Context, args []string) int {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && ExitCode(err) != ExitInterrupted {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return ExitCode(err)
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErrorf("unknown command %q for %q; use -p to pass a prompt", args[0], cmd.CommandPath())
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("%s takes %d argument(s), got %d\nUsage: %s", cmd.CommandPath(), n, len(args), cmd.UseLine())
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usageErrorf("%s takes at most %d argument(s), got %d\nUsage: %s", cmd.CommandPath(), n, len(args), cmd.UseLine())
		}
		return nil
	}
}

// =============================================================================
// CONFIG LOADING
// =============================================================================

// loadConfig reads the config file named by --config, or the default one,
// and applies the command-line overrides.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFrom(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	if opts.root != "" {
		cfg.Sandbox.Root = opts.root
	}
	return cfg, nil
}

// =============================================================================
// AGENT
// =============================================================================

func runAgent(ctx context.Context, opts *globalOptions, stdin io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	term := ui.Stdio(cfg.UI.Color)
	prompt := opts.prompt
	if piped, ok := readPiped(stdin); ok {
		// Piped input is context for -p, or the prompt itself.
		if prompt == "" {
			prompt = piped
		} else if piped != "" {
			prompt = prompt + "\n\n" + piped
		}
		if prompt == "" {
			return usageErrorf("empty prompt on stdin")
		}
	}

	app, err := newApp(cfg, opts, term)
	if err != nil {
		return err
	}
	defer app.Close()

	if prompt != "" {
		return app.runPrompt(ctx, prompt)
	}
	return app.runREPL(ctx)
}

// readPiped returns stdin when it is a pipe or a file.
func readPiped(stdin io.Reader) (string, bool) {
	f, ok := stdin.(*os.File)
	if !ok || isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return "", false
	}
	info, err := f.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return "", false
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}
