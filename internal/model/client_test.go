// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/aicli/internal/agent"
	"github.com/jeranaias/aicli/internal/tools"
)

type capturedRequest struct {
	Path   string
	Auth   string
	Body   map[string]any
	Raw    string
	Method string
}

func fakeServer(t *testing.T, status int, reply string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.Path = r.URL.Path
		got.Auth = r.Header.Get("Authorization")
		got.Method = r.Method
		got.Raw = string(body)
		_ = json.Unmarshal(body, &got.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:    srv.URL,
		APIVersion: "v1",
		Model:      "test-model",
		APIKey:     "sk-test",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return c
}

const toolReply = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "model": "test-model",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "",
      "tool_calls": [
        {"id": "call_a", "type": "function", "function": {"name": "execute_command", "arguments": "{\"command\":\"ls\"}"}},
        {"id": "", "type": "function", "function": {"name": "list", "arguments": ""}}
      ]
    }
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestSend_RequestAndToolCalls(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, toolReply)
	c := testClient(t, srv)

	history := []agent.Message{
		agent.SystemMessage("sys"),
		agent.UserMessage("list files"),
		agent.AssistantMessage("", tools.ToolCall{ID: "old", Name: "execute_command", Arguments: json.RawMessage(`{"command":"pwd"}`)}),
		agent.ToolMessage(tools.ToolCall{ID: "old", Name: "execute_command"}, tools.ToolResult{Status: tools.StatusOK, Output: "/work"}),
	}
	defs := []tools.Definition{{
		Name:        "execute_command",
		Description: "run",
		Parameters:  map[string]any{"type": "object"},
	}}

	reply, err := c.Send(context.Background(), history, defs)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/v1/chat/completions", got.Path)
	assert.Equal(t, "Bearer sk-test", got.Auth)
	assert.Equal(t, "test-model", got.Body["model"])

	msgs, ok := got.Body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	assistant := msgs[2].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, `{"command":"pwd"}`, fn["arguments"])
	tool := msgs[3].(map[string]any)
	assert.Equal(t, "old", tool["tool_call_id"])
	assert.Equal(t, "/work", tool["content"])

	reqTools := got.Body["tools"].([]any)
	require.Len(t, reqTools, 1)
	assert.Equal(t, "execute_command", reqTools[0].(map[string]any)["function"].(map[string]any)["name"])

	assert.Equal(t, agent.RoleAssistant, reply.Role)
	require.Len(t, reply.ToolCalls, 2)
	assert.Equal(t, "call_a", reply.ToolCalls[0].ID)
	assert.JSONEq(t, `{"command":"ls"}`, string(reply.ToolCalls[0].Arguments))
	assert.True(t, strings.HasPrefix(reply.ToolCalls[1].ID, "call_"))
	assert.Equal(t, "{}", string(reply.ToolCalls[1].Arguments))
}

func TestSend_FinalAnswer(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`)
	c := testClient(t, srv)

	reply, err := c.Send(context.Background(), []agent.Message{agent.UserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Content)
	assert.False(t, reply.HasToolCalls())
	assert.NotContains(t, got.Body, "tools")
}

func TestSend_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      TransportKind
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, `oops`, KindStatus, true},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, KindStatus, true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad tool schema","type":"invalid_request_error"}}`, KindStatus, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, KindStatus, false},
		{"no choices", http.StatusOK, `{"choices":[]}`, KindResponse, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeServer(t, tt.status, tt.body)
			c := testClient(t, srv)

			_, err := c.Send(context.Background(), []agent.Message{agent.UserMessage("hi")}, nil)
			require.Error(t, err)
			var te *TransportError
			require.True(t, errors.As(err, &te), "got %T: %v", err, err)
			assert.Equal(t, tt.kind, te.Kind)
			assert.Equal(t, tt.retryable, te.Retryable())
			if tt.kind == KindStatus {
				assert.Equal(t, tt.status, te.Status)
				assert.ErrorIs(t, err, ErrStatus)
			}
		})
	}
}

func TestSend_NetworkError(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusOK, `{}`)
	c := testClient(t, srv)
	srv.Close()

	_, err := c.Send(context.Background(), []agent.Message{agent.UserMessage("hi")}, nil)
	assert.ErrorIs(t, err, ErrNetwork)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Retryable())
}

func TestSend_CancelledIsNotTransport(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusOK, `{}`)
	c := testClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Send(ctx, []agent.Message{agent.UserMessage("hi")}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	var te *TransportError
	assert.False(t, errors.As(err, &te))
}

func TestConfig(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1/chat/completions",
		Config{APIVersion: "v1"}.Endpoint())
	assert.Equal(t, "http://localhost:11434/v1beta/openai/chat/completions",
		Config{BaseURL: "http://localhost:11434/", APIVersion: "/v1beta/openai/"}.Endpoint())
	assert.Equal(t, "http://proxy/chat/completions", Config{BaseURL: "http://proxy"}.Endpoint())

	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = New(Config{Model: "m", BaseURL: "::not a url"})
	assert.Error(t, err)
}
