// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"fmt"
	"strings"
	"time"
)

// PromptInfo describes the environment for the system prompt.
type PromptInfo struct {
	Now   time.Time
	OS    string
	Shell string
	Root  string
	Tools []string
	Extra string
}

// SystemPrompt builds the initial system message.
func SystemPrompt(info PromptInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Today's date is %s. ", info.Now.Format("Monday, January 2, 2006"))
	fmt.Fprintf(&sb, "You are a proactive coding assistant running in a %s terminal. ", info.OS)
	fmt.Fprintf(&sb, "Commands run through %s with %s as the working directory; ", info.Shell, info.Root)
	sb.WriteString("treat that directory as the target of every request and stay inside it.\n\n")

	sb.WriteString("Take initiative: run commands, read and edit files, and analyze results without asking first, " +
		"unless the action is ambiguous or destructive. The harness asks the user to confirm risky actions, " +
		"so do not ask for permission yourself. If a call is denied, do not retry it; ask the user how to proceed.\n\n")

	sb.WriteString("Read a file before editing it and pass the hash you got as expected_hash. " +
		"Prefer small edits (replace_exact, apply_patch) over rewriting whole files. " +
		"After a command, summarize its output instead of repeating it, then continue with the next step. " +
		"The user can run commands directly with `!`; their output is added to the conversation. " +
		"Answer concisely; Markdown is rendered.")

	if len(info.Tools) > 0 {
		fmt.Fprintf(&sb, "\n\nAvailable tools: %s.", strings.Join(info.Tools, ", "))
	}
	if extra := strings.TrimSpace(info.Extra); extra != "" {
		sb.WriteString("\n\n")
		sb.WriteString(extra)
	}
	return sb.String()
}
