// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed errors with rich context for GRIB indexing.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies errors for monitoring and for CLI exit hints.
type ErrorCode string

const (
	// CodeInternal indicates an internal error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the caller supplied invalid input.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a file, level type or source was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeContextLost indicates the context was canceled mid-operation.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeIO indicates a filesystem read or write failed.
	CodeIO ErrorCode = "IO_ERROR"

	// CodeMalformed indicates a GRIB message or index file could not be parsed.
	CodeMalformed ErrorCode = "MALFORMED"

	// CodeUnsupported indicates a valid but unsupported GRIB feature.
	CodeUnsupported ErrorCode = "UNSUPPORTED"

	// CodeNotImplemented indicates a recognised request that has no implementation.
	CodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
)

// Error is a typed error carrying a code and structured context.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Message:     e.Message,
		Code:        string(e.Code),
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether a retry may succeed.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As returns err as an *Error, searching the wrap chain.
// Errors of any other type are wrapped as CodeInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// ExitCode maps error codes to process exit statuses used by the CLI.
func ExitCode(code ErrorCode) int {
	switch code {
	case CodeInvalidInput:
		return 2
	case CodeNotFound:
		return 3
	case CodeMalformed, CodeUnsupported:
		return 4
	case CodeTimeout, CodeContextLost:
		return 5
	default:
		return 1
	}
}
