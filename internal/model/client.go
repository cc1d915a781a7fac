// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/aicli/internal/agent"
	"github.com/jeranaias/aicli/internal/tools"
)

const (
	// DefaultBaseURL is the OpenAI API host.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultAPIVersion is the path segment between host and endpoint.
	DefaultAPIVersion = "v1"

	// DefaultModel is used when none is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout bounds one request.
	DefaultTimeout = 120 * time.Second
)

// Config selects the endpoint and model.
type Config struct {
	BaseURL     string
	APIVersion  string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration

	// HTTPClient overrides the default client; tests point it at a fake
	// server.
	HTTPClient *http.Client
}

// Endpoint returns the chat completions URL for cfg.
func (cfg Config) Endpoint() string {
	return cfg.apiBase() + "/chat/completions"
}

func (cfg Config) apiBase() string {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if v := strings.Trim(cfg.APIVersion, "/"); v != "" {
		base += "/" + v
	}
	return base
}

// Client sends conversations to the model. It is safe for concurrent use.
type Client struct {
	api *openai.Client
	cfg Config
	log logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(cfg.apiBase()); err != nil {
		return nil, fmt.Errorf("invalid model base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.apiBase()
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		api: openai.NewClientWithConfig(oc),
		cfg: cfg,
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Endpoint returns the chat completions URL.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint()
}

// Send implements agent.Client.
func (c *Client) Send(ctx context.Context, history []agent.Message, defs []tools.Definition) (agent.Message, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    toChatMessages(history),
		Tools:       toTools(defs),
		Temperature: c.cfg.Temperature,
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	entry := c.log.WithFields(logrus.Fields{
		"model":    c.cfg.Model,
		"messages": len(history),
		"duration": time.Since(start),
	})
	if err != nil {
		err = classify(err)
		entry.WithError(err).Debug("chat completion failed")
		return agent.Message{}, err
	}
	if len(resp.Choices) == 0 {
		return agent.Message{}, &TransportError{Kind: KindResponse, Msg: "reply has no choices"}
	}

	choice := resp.Choices[0]
	entry.WithFields(logrus.Fields{
		"finish_reason":     choice.FinishReason,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"tool_calls":        len(choice.Message.ToolCalls),
	}).Debug("chat completion")
	return fromChatMessage(choice.Message), nil
}

// =============================================================================
// CONVERSION
// =============================================================================

func toChatMessages(history []agent.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		cm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == agent.RoleTool && cm.Content == "" {
			cm.Content = "(no output)"
		}
		for _, call := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func toTools(defs []tools.Definition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

// fromChatMessage converts a reply. Calls without an ID get one; empty
// arguments become {} so they validate against object schemas.
func fromChatMessage(cm openai.ChatCompletionMessage) agent.Message {
	msg := agent.AssistantMessage(cm.Content)
	for _, tc := range cm.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, tools.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return msg
}
