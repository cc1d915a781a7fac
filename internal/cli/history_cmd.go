// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/aicli/internal/storage"
	"github.com/jeranaias/aicli/internal/util"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "history [id]",
		Aliases: []string{"sessions"},
		Short:   "List stored sessions or print one",
		Long: `List stored sessions, most recent first, or print one as Markdown.

Sessions are stored in ~/.aicli/history.db unless storage.path says
otherwise; storage.enabled = false turns recording off. IDs may be
abbreviated to any unique prefix.`,
		Example: `  aicli history
  aicli history 3f2a9c1e
  aicli history search "docker compose"
  aicli history export 3f2a9c1e --format json -o session.json
  aicli history prune --keep 50`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(st *storage.Store) error {
				if len(args) == 1 {
					return exportSession(cmd.Context(), st, cmd.OutOrStdout(), args[0], "markdown")
				}
				metas, err := st.List(ctxOrBackground(cmd.Context()), limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), storage.FormatSessionList(metas))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to list (0 for all)")

	search := &cobra.Command{
		Use:   "search <text>",
		Short: "Find sessions whose messages contain text",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(st *storage.Store) error {
				metas, err := st.Search(ctxOrBackground(cmd.Context()), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), storage.FormatSessionList(metas))
				return nil
			})
		},
	}

	var format, output string
	export := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a session as Markdown or JSON",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "markdown" && format != "md" && format != "json" {
				return usageErrorf("unsupported format %q (use markdown or json)", format)
			}
			return withStore(opts, func(st *storage.Store) error {
				if output == "" || output == "-" {
					return exportSession(cmd.Context(), st, cmd.OutOrStdout(), args[0], format)
				}
				var sb strings.Builder
				if err := exportSession(cmd.Context(), st, &sb, args[0], format); err != nil {
					return err
				}
				if err := util.AtomicWriteFile(output, []byte(sb.String()), 0o600, 0o700); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&format, "format", "f", "markdown", "Output format: markdown or json")
	export.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")

	rm := &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete sessions",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageErrorf("%s needs at least one session ID", cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(st *storage.Store) error {
				var errs []error
				for _, id := range args {
					if err := st.Delete(ctxOrBackground(cmd.Context()), id); err != nil {
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				}
				return errors.Join(errs...)
			})
		},
	}

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent sessions",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keep < 0 {
				return usageErrorf("--keep must not be negative")
			}
			return withStore(opts, func(st *storage.Store) error {
				n, err := st.Prune(ctxOrBackground(cmd.Context()), keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d session(s), kept %d.\n", n, keep)
				return nil
			})
		},
	}
	prune.Flags().IntVar(&keep, "keep", 100, "Number of sessions to keep")

	cmd.AddCommand(search, export, rm, prune)
	return cmd
}

// withStore opens the transcript store for one command.
func withStore(opts *globalOptions, fn func(*storage.Store) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	path, err := cfg.StoragePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no history yet (%s does not exist)", path)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	st, err := storage.Open(path, storage.WithLogger(log))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func exportSession(ctx context.Context, st *storage.Store, w io.Writer, id, format string) error {
	t, err := st.Get(ctxOrBackground(ctx), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAmbiguous) {
			return &UsageError{Err: err}
		}
		return err
	}
	if format == "json" {
		data, err := t.ExportJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err = io.WriteString(w, t.ExportMarkdown())
	return err
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
