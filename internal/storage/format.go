// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/aicli/internal/agent"
	"github.com/jeranaias/aicli/internal/util"
)

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// ShortID is the ID prefix shown in listings; Get accepts it.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatSessionList renders sessions as a table.
func FormatSessionList(sessions []SessionMeta) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	var sb strings.Builder
	sb.WriteString(pad("ID", 8) + "  " + pad("Updated", 16) + "  " + pad("Msgs", 4) + "  " + pad("Model", 14) + "  Preview\n")
	sb.WriteString(strings.Repeat("-", 78) + "\n")
	for _, s := range sessions {
		preview := util.TruncateWidth(util.FirstLine(s.Preview), 40)
		sb.WriteString(pad(ShortID(s.ID), 8) + "  " +
			pad(s.UpdatedAt.Format("2006-01-02 15:04"), 16) + "  " +
			pad(strconv.Itoa(s.MessageCount), 4) + "  " +
			pad(util.TruncateWidth(s.Model, 14), 14) + "  " +
			preview + "\n")
	}
	return sb.String()
}

// pad right-pads s to width display cells.
func pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// =============================================================================
// SESSION EXPORT
// =============================================================================

// ExportMarkdown renders the transcript with role headings. The system
// prompt is omitted.
func (t *Transcript) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# Session " + t.ID + "\n\n")
	sb.WriteString("Created: " + t.CreatedAt.Format(time.RFC3339) + "\n")
	if t.Model != "" {
		sb.WriteString("Model: " + t.Model + "\n")
	}
	if t.Root != "" {
		sb.WriteString("Root: " + t.Root + "\n")
	}
	sb.WriteString("\n---\n\n")

	for _, msg := range t.Messages {
		if msg.Role == agent.RoleSystem {
			continue
		}
		heading := "**" + msg.Role.DisplayName() + "**"
		if msg.Role == agent.RoleTool && msg.ToolName != "" {
			heading = fmt.Sprintf("**Tool** `%s` (%s)", msg.ToolName, msg.Status)
		}
		sb.WriteString(heading + " (" + msg.Timestamp.Format("15:04") + "):\n\n")
		if msg.Content != "" {
			if msg.Role == agent.RoleTool {
				sb.WriteString("```\n" + strings.TrimRight(msg.Content, "\n") + "\n```\n")
			} else {
				sb.WriteString(msg.Content + "\n")
			}
		}
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(&sb, "\n- call `%s` %s\n", call.Name, util.TruncateRunes(string(call.Arguments), 200))
		}
		sb.WriteString("\n---\n\n")
	}
	return sb.String()
}

// ExportJSON renders the transcript as indented JSON.
func (t *Transcript) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}
