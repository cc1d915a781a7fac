// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/aicli/internal/tools"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	case RoleTool:
		return "Tool"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the four roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one entry of the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls are the calls requested by an assistant message.
	ToolCalls []tools.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName and Status describe a tool message for display and storage.
	ToolName string `json:"tool_name,omitempty"`
	Status   string `json:"status,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// AssistantMessage creates an assistant message, optionally with tool calls.
func AssistantMessage(content string, calls ...tools.ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls, Timestamp: time.Now()}
}

// ToolMessage creates the history entry for the result of call.
func ToolMessage(call tools.ToolCall, res tools.ToolResult) Message {
	return Message{
		Role:       RoleTool,
		Content:    FormatToolResult(call.Name, res),
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Status:     res.Status,
		Timestamp:  time.Now(),
	}
}

// FormatToolResult renders a result as the model reads it. Failed calls are
// prefixed with their status and detail so the model can tell them apart
// from output that merely mentions an error.
func FormatToolResult(name string, res tools.ToolResult) string {
	if res.OK() {
		return res.Output
	}
	head := fmt.Sprintf("[%s: %s] %s", res.Status, res.ErrorDetail, name)
	if res.Output == "" {
		return head
	}
	return head + "\n" + res.Output
}

// HasToolCalls reports whether the message requests tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.ToolCalls == nil {
		return m
	}
	calls := make([]tools.ToolCall, len(m.ToolCalls))
	for i, c := range m.ToolCalls {
		calls[i] = tools.ToolCall{
			ID:        c.ID,
			Name:      c.Name,
			Arguments: append(json.RawMessage(nil), c.Arguments...),
		}
	}
	m.ToolCalls = calls
	return m
}
