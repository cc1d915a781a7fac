// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a HandlerError. The dispatcher reports it as the
// result's error_detail.
type ErrorKind string

const (
	KindNotConfigured ErrorKind = "not_configured"
	KindInvalidInput  ErrorKind = "invalid_input"
	KindBlocked       ErrorKind = "blocked_url"
	KindNetwork       ErrorKind = "network"
	KindHTTPStatus    ErrorKind = "http_status"
	KindTooLarge      ErrorKind = "response_too_large"
	KindUpstream      ErrorKind = "upstream_error"
	KindSendFailed    ErrorKind = "send_failed"
)

// Sentinel errors for errors.Is.
var (
	ErrNotConfigured = &HandlerError{Kind: KindNotConfigured}
	ErrBlocked       = &HandlerError{Kind: KindBlocked}
	ErrHTTPStatus    = &HandlerError{Kind: KindHTTPStatus}
	ErrTooLarge      = &HandlerError{Kind: KindTooLarge}
)

var (
	errTooManyRedirects = errors.New("too many redirects")
	errNoAddress        = errors.New("no IP addresses resolved")
)

// HandlerError reports a failed service call.
type HandlerError struct {
	Kind    ErrorKind
	Service string
	Status  int
	Msg     string
	Err     error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	msg := string(e.Kind)
	if e.Service != "" {
		msg = e.Service + ": " + msg
	}
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
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Is matches another HandlerError with the same Kind.
func (e *HandlerError) Is(target error) bool {
	t, ok := target.(*HandlerError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// ErrorKind implements the dispatcher's kinded interface.
func (e *HandlerError) ErrorKind() string {
	return string(e.Kind)
}

func notConfigured(service, msg string) error {
	return &HandlerError{Kind: KindNotConfigured, Service: service, Msg: msg}
}
