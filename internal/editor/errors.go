// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package editor

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an EditError.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindInvalidPatch ErrorKind = "invalid_patch"
	KindIOFailure    ErrorKind = "io_failure"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrNotFound     = &EditError{Kind: KindNotFound}
	ErrConflict     = &EditError{Kind: KindConflict}
	ErrInvalidPatch = &EditError{Kind: KindInvalidPatch}
	ErrIOFailure    = &EditError{Kind: KindIOFailure}
)

// EditError reports an operation that left the file untouched.
type EditError struct {
	Kind ErrorKind
	Path string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *EditError) Error() string {
	msg := string(e.Kind)
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *EditError) Unwrap() error {
	return e.Err
}

// Is matches another EditError with the same Kind.
func (e *EditError) Is(target error) bool {
	t, ok := target.(*EditError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the ErrorKind of err, or "" when err is not an EditError.
func KindOf(err error) ErrorKind {
	var editErr *EditError
	if errors.As(err, &editErr) {
		return editErr.Kind
	}
	return ""
}

func newError(kind ErrorKind, path, format string, args ...any) *EditError {
	return &EditError{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}

func ioError(path string, err error) *EditError {
	return &EditError{Kind: KindIOFailure, Path: path, Err: err}
}
