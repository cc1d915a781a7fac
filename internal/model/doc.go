// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model talks to an OpenAI-compatible chat completions endpoint.
//
// Client implements agent.Client: it converts the conversation history and
// tool definitions to a chat completion request and converts the reply
// back into an agent.Message.
//
// # Key Types
//
//   - Client: the transport, built from Config
//   - Config: base URL, API version, model name, key and temperature
//   - TransportError: a failed request, with Retryable for the retry loop
//
// # Usage
//
//	c, err := model.New(model.Config{
//	    BaseURL:    "https://api.openai.com",
//	    APIVersion: "v1",
//	    Model:      "gpt-4o-mini",
//	    APIKey:     key,
//	})
//	reply, err := c.Send(ctx, session.Messages(), dispatcher.Definitions())
package model
