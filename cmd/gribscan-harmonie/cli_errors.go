// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
)

// CLIError wraps an Error with a hint for the user.
type CLIError struct {
	Base *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Base: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Base == nil {
		return "unknown error"
	}
	msg := e.Base.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error {
	return e.Base
}

// ExitCode returns the process exit status for the error.
func (e *CLIError) ExitCode() int {
	return errors.ExitCode(e.Base.Code)
}

// Print writes the error to w, as JSON when asJSON is set.
func (e *CLIError) Print(w io.Writer, asJSON bool) {
	b := e.Base
	if asJSON {
		out := struct {
			Error struct {
				Code    errors.ErrorCode       `json:"code"`
				Message string                 `json:"message"`
				Cause   string                 `json:"cause,omitempty"`
				Context map[string]interface{} `json:"context,omitempty"`
				Hint    string                 `json:"hint,omitempty"`
			} `json:"error"`
		}{}
		out.Error.Code = b.Code
		out.Error.Message = b.Message
		if b.Err != nil {
			out.Error.Cause = b.Err.Error()
		}
		if len(b.Context) > 0 {
			out.Error.Context = b.Context
		}
		out.Error.Hint = e.Hint
		_ = json.NewEncoder(w).Encode(out)
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", FormatErrorCode(b.Code), b.Message)
	if b.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", b.Err)
	}
	for _, k := range slices.Sorted(maps.Keys(b.Context)) {
		fmt.Fprintf(w, "  %s: %v\n", k, b.Context[k])
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// wrapError turns any command error into a CLIError with a hint derived from
// its code.
func wrapError(err error) *CLIError {
	if cliErr, ok := err.(*CLIError); ok {
		return cliErr
	}
	e := errors.As(err)
	if e.Code == errors.CodeInternal && e.Message == "wrapped error" {
		// cobra reports flag and argument errors as plain errors
		e = errors.New(errors.CodeInvalidInput, err.Error(), nil)
	}
	return NewCLIError(e, hintFor(e))
}

func hintFor(e *errors.Error) string {
	switch e.Code {
	case errors.CodeInvalidInput:
		return "run 'gribscan-harmonie help' for usage information"
	case errors.CodeNotFound:
		if available, ok := e.Context["available"]; ok {
			return fmt.Sprintf("choose one of %v", available)
		}
		return "check that the files exist and the analysis time is right"
	case errors.CodeMalformed:
		return "the file may still be being written; delete its index and retry"
	case errors.CodeNotImplemented:
		return "select a single analysis time or a source without a timespan"
	case errors.CodeContextLost:
		return "the command was interrupted"
	default:
		return ""
	}
}

// newInvalidArgumentError creates an invalid argument error with CLI hints.
func newInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(e, "run 'gribscan-harmonie help' for usage information")
}

// newConfigError creates a configuration error with CLI hints.
func newConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithRecoverable(false)
	hint := "check your configuration file syntax"
	if configPath != "" {
		e = e.WithContext("config_path", configPath)
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeContextLost:
		return "Interrupted"
	case errors.CodeIO:
		return "I/O Error"
	case errors.CodeMalformed:
		return "Malformed Input"
	case errors.CodeUnsupported:
		return "Unsupported"
	case errors.CodeNotImplemented:
		return "Not Implemented"
	default:
		return string(code)
	}
}
