// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mterrors provides coded errors for the query engine. Every error
// carries a Code that callers can branch on, and registered errors also carry
// a stable ID (QVxxxxx) that is safe to document and grep for.
package mterrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure. Zero means success.
type Code int

const (
	// OK is returned when there is no error.
	OK Code = iota
	// InvalidArgument means the caller passed an argument the engine cannot use.
	InvalidArgument
	// CompileFailed means the SQL text could not be parsed, bound or planned.
	CompileFailed
	// RunnerBuildFailed means the query compiled but cannot be executed
	// under the current mode or options.
	RunnerBuildFailed
	// NoOutput means a runner finished without producing any output handler.
	NoOutput
	// InvariantViolation marks an internal contract breach, such as a
	// partitioned table reaching a session boundary.
	InvariantViolation
	// ExecutionFailed means plan execution failed on the input data.
	ExecutionFailed
	// SessionNotBound means a session was run before a compiled artifact was bound to it.
	SessionNotBound
	// Internal is used for unexpected failures.
	Internal
)

var codeNames = map[Code]string{
	OK:                 "OK",
	InvalidArgument:    "INVALID_ARGUMENT",
	CompileFailed:      "COMPILE_FAILED",
	RunnerBuildFailed:  "RUNNER_BUILD_FAILED",
	NoOutput:           "NO_OUTPUT",
	InvariantViolation: "INVARIANT_VIOLATION",
	ExecutionFailed:    "EXECUTION_FAILED",
	SessionNotBound:    "SESSION_NOT_BOUND",
	Internal:           "INTERNAL",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the error type returned by the engine and its collaborators.
type Error struct {
	Code    Code
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.ID != "" {
		msg = e.ID + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code. This lets
// callers write errors.Is(err, &mterrors.Error{Code: mterrors.NoOutput}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.ID == "" || t.ID == e.ID)
}

var _ error = (*Error)(nil)

// New returns an error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Errorf returns an error with the given code and a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message. It returns nil if err is nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain. It returns
// OK for a nil error and Internal for errors that carry no code.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
