// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/aicli/internal/util"
)

// TransportKind classifies a TransportError.
type TransportKind string

const (
	// KindNetwork is a connection-level failure; no status was received.
	KindNetwork TransportKind = "network"

	// KindStatus is a non-2xx HTTP response.
	KindStatus TransportKind = "status"

	// KindResponse is a 2xx response that could not be used.
	KindResponse TransportKind = "response"
)

// Sentinel errors for errors.Is.
var (
	ErrNetwork  = &TransportError{Kind: KindNetwork}
	ErrStatus   = &TransportError{Kind: KindStatus}
	ErrResponse = &TransportError{Kind: KindResponse}

	// ErrNotConfigured is returned by New when no model is named.
	ErrNotConfigured = errors.New("model not configured")
)

// TransportError reports a failed model request.
type TransportError struct {
	Kind   TransportKind
	Status int
	Msg    string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	msg := "model request failed: " + string(e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" %d", e.Status)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches another TransportError with the same Kind.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the request may succeed if repeated: network
// failures, rate limiting, server errors and unusable replies.
func (e *TransportError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindResponse:
		return true
	case KindStatus:
		return e.Status == http.StatusTooManyRequests ||
			e.Status == http.StatusRequestTimeout ||
			e.Status >= http.StatusInternalServerError
	}
	return false
}

// classify converts a go-openai error. Context errors pass through
// unchanged so cancellation is not retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &TransportError{Kind: KindStatus, Status: apiErr.HTTPStatusCode, Msg: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &TransportError{
			Kind:   KindStatus,
			Status: reqErr.HTTPStatusCode,
			Msg:    truncateBody(reqErr.Body),
		}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &TransportError{Kind: KindResponse, Msg: "malformed reply", Err: err}
	}
	return &TransportError{Kind: KindNetwork, Err: err}
}

func truncateBody(body []byte) string {
	s, dropped := util.TruncateBytes(string(body), 300)
	if dropped > 0 {
		s += "..."
	}
	return s
}
