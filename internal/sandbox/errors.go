// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an ExecutionError.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindSpawnFailure    ErrorKind = "spawn_failure"
	KindOutputOverflow  ErrorKind = "output_overflow"
	KindPolicyViolation ErrorKind = "policy_violation"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrTimeout         = &ExecutionError{Kind: KindTimeout}
	ErrSpawnFailure    = &ExecutionError{Kind: KindSpawnFailure}
	ErrOutputOverflow  = &ExecutionError{Kind: KindOutputOverflow}
	ErrPolicyViolation = &ExecutionError{Kind: KindPolicyViolation}
)

// ExecutionError reports a command that could not run to a normal exit.
// Result holds whatever was captured before the failure.
type ExecutionError struct {
	Kind    ErrorKind
	Command string
	Msg     string
	Result  Result
	Err     error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := string(e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is matches another ExecutionError with the same Kind.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the ErrorKind of err, or "" when err is not an ExecutionError.
func KindOf(err error) ErrorKind {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return ""
}

func policyViolation(command, format string, args ...any) *ExecutionError {
	return &ExecutionError{
		Kind:    KindPolicyViolation,
		Command: command,
		Msg:     fmt.Sprintf(format, args...),
	}
}
