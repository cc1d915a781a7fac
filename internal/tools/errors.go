// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"errors"
	"fmt"

	"github.com/jeranaias/aicli/internal/editor"
	"github.com/jeranaias/aicli/internal/sandbox"
)

var (
	// ErrRegistryFrozen is returned when registering after Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
)

// SchemaError reports arguments that do not match a tool's schema.
type SchemaError struct {
	Tool string
	Msg  string
	Err  error
}

func (e *SchemaError) Error() string {
	if e.Tool == "" {
		return "invalid arguments: " + e.Msg
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Msg)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// PolicyDenied reports a call the user (or the absence of one) refused.
type PolicyDenied struct {
	Tool string
	Tier Tier
}

func (e *PolicyDenied) Error() string {
	return fmt.Sprintf("%s call (%s) was denied by the user", e.Tool, e.Tier)
}

// kinded is implemented by handler errors that carry their own kind, such
// as the service errors.
type kinded interface {
	ErrorKind() string
}

// errorDetail maps a handler error to the error_detail of a result.
func errorDetail(err error) string {
	var execErr *sandbox.ExecutionError
	if errors.As(err, &execErr) {
		return string(execErr.Kind)
	}
	var editErr *editor.EditError
	if errors.As(err, &editErr) {
		return string(editErr.Kind)
	}
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return DetailInvalidArguments
	}
	var k kinded
	if errors.As(err, &k) && k.ErrorKind() != "" {
		return k.ErrorKind()
	}
	return DetailHandlerError
}
