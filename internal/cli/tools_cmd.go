// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/aicli/internal/tools"
	"github.com/jeranaias/aicli/internal/util"
)

func newToolsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the model can call",
		Long: `List the tools the model can call and their risk tier.

safe tools run without asking. ambiguous tools ask unless --yes or
dispatch.auto_approve is set. destructive tools always ask. Tools marked
"by args" are classified per call, e.g. execute_command by its command line.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())
			log.SetLevel(logrus.WarnLevel)
			tb, err := buildTools(cfg, log)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatTools(tb.registry))
			return nil
		},
	}
}

// formatTools renders the registry as a table.
func formatTools(reg *tools.Registry) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 4, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIER\tDESCRIPTION")
	for _, spec := range reg.All() {
		tier := spec.Tier.String()
		if spec.Classify != nil {
			tier = "by args"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", spec.Name, tier, util.TruncateWidth(util.FirstLine(spec.Description), 70))
	}
	w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}

// formatDispatchHistory renders the last n dispatches, oldest first, and a
// summary of the whole session.
func formatDispatchHistory(records []tools.DispatchRecord, stats tools.Stats, n int) string {
	if len(records) == 0 {
		return "No tool calls yet."
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 4, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTOOL\tTIER\tSTATUS\tTOOK\tARGUMENTS")
	for _, r := range records {
		status := r.Status
		if r.ErrorDetail != "" {
			status += " (" + r.ErrorDetail + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Started.Format("15:04:05"), r.Tool, r.Tier, status, formatElapsed(r.Duration),
			util.TruncateWidth(strings.Join(strings.Fields(r.Arguments), " "), 50))
	}
	w.Flush()
	fmt.Fprintf(&sb, "\n%d calls: %d ok, %d failed, %d denied (avg %s)",
		stats.Total, stats.Succeeded, stats.Failed, stats.Denied, formatElapsed(stats.AvgDuration))
	return sb.String()
}
