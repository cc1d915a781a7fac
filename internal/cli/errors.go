// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/aicli/internal/agent"
	"github.com/jeranaias/aicli/internal/config"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general error or a failed run
	ExitGeneralError = 1
	// ExitUsageError indicates invalid flags, arguments or configuration
	ExitUsageError = 2
	// ExitInterrupted indicates the user interrupted the program
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError is a problem with the command line.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// usageErrorf returns a UsageError with a formatted message.
func usageErrorf(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ErrInterrupted is returned when the user interrupts a single-prompt run.
var ErrInterrupted = errors.New("interrupted")

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// ExitCode maps an error returned by a command to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}

	var validationErrs config.ValidationErrors
	if errors.As(err, &validationErrs) {
		return ExitUsageError
	}

	if errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}

	var failed agent.Failed
	if errors.As(err, &failed) && failed.Reason == agent.ReasonCancelled {
		return ExitInterrupted
	}

	return ExitGeneralError
}
