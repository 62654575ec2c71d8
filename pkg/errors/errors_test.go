// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("unexpected EOF")
	e := New(CodeMalformed, "truncated GRIB message", cause)

	if e.Code != CodeMalformed {
		t.Errorf("expected CodeMalformed, got %v", e.Code)
	}
	if e.Message != "truncated GRIB message" {
		t.Errorf("unexpected message %q", e.Message)
	}
	if !errors.Is(e, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	e := New(CodeIO, "write failed", nil).
		WithContext("path", "/data/fc.grib2").
		WithContext("offset", int64(1024))

	if e.Context["path"] != "/data/fc.grib2" {
		t.Errorf("expected context path")
	}
	if e.Context["offset"] != int64(1024) {
		t.Errorf("expected context offset")
	}
}

func TestWithRecoverable(t *testing.T) {
	e := New(CodeIO, "read failed", nil)
	if e.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}
	e.WithRecoverable(true)
	if !e.Recoverable || e.RecoverableString() != "true" {
		t.Errorf("expected recoverable to be true after WithRecoverable")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "with cause",
			err:      New(CodeTimeout, "index timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] index timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			err:      Newf(CodeNotFound, "level type %q not found", "hybrid"),
			expected: `[NOT_FOUND] level type "hybrid" not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("scan: %w", New(CodeMalformed, "bad section", nil))

	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "typed", err: New(CodeNotFound, "missing", nil), expected: CodeNotFound},
		{name: "wrapped typed", err: wrapped, expected: CodeMalformed},
		{name: "generic", err: errors.New("boom"), expected: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := As(tt.err)
			if tt.expected == "" {
				if e != nil {
					t.Errorf("expected nil for nil error")
				}
				return
			}
			if e == nil {
				t.Fatalf("expected non-nil Error")
			}
			if e.Code != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, e.Code)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	inner := New(CodeIO, "open failed", errors.New("permission denied"))
	outer := New(CodeInternal, "index failed", inner)

	if !HasCode(outer, CodeIO) {
		t.Errorf("expected nested IO code to be found")
	}
	if !HasCode(outer, CodeInternal) {
		t.Errorf("expected outer code to be found")
	}
	if HasCode(outer, CodeNotFound) {
		t.Errorf("did not expect NOT_FOUND")
	}
	if HasCode(errors.New("plain"), CodeInternal) {
		t.Errorf("plain errors carry no code")
	}
}

func TestMarshalJSON(t *testing.T) {
	e := New(CodeIO, "write failed", errors.New("disk full")).
		WithContext("path", "/tmp/x.index.json").
		WithRecoverable(true)

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("unexpected error marshaling: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}
	if result["code"] != "IO_ERROR" {
		t.Errorf("expected code IO_ERROR, got %v", result["code"])
	}
	if result["error"] != "disk full" {
		t.Errorf("expected cause, got %v", result["error"])
	}
	if result["recoverable"] != true {
		t.Errorf("expected recoverable true")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{CodeInvalidInput, 2},
		{CodeNotFound, 3},
		{CodeMalformed, 4},
		{CodeUnsupported, 4},
		{CodeTimeout, 5},
		{CodeInternal, 1},
		{CodeNotImplemented, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := ExitCode(tt.code); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}
