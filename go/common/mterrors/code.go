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

package mterrors

import (
	"fmt"
	"strings"
)

// Errors added to the list of variables below must be added to the Errors slice a little below in this same file.
// This keeps the generated error reference complete.

var (
	// QV13001 General Error
	QV13001 = errorWithoutCause("QV13001", Internal, "[BUG] %s", "This error should not happen and is a bug.")

	// QV10001 the compiler rejected the query.
	QV10001 = errorWithCause("QV10001", CompileFailed, "failed to compile sql %q in db %q", "The SQL text could not be parsed, bound against the catalog, or planned. The query is not cached; fix the query or the catalog and retry.")
	// QV10002 the compiler could not build an executable runner tree.
	QV10002 = errorWithCause("QV10002", RunnerBuildFailed, "failed to build runner for sql %q in db %q", "The query is valid but cannot be executed under the current mode or engine options.")

	// QV20001 the runner returned no output handler.
	QV20001 = errorWithoutCause("QV20001", NoOutput, "run %s plan output is null", "The runner finished without producing a table or a row. This is different from an empty table, which is a valid result.")
	// QV20002 a partition handler reached a run session.
	QV20002 = errorWithoutCause("QV20002", InvariantViolation, "partition output is invalid in %s mode", "A partitioned table may only flow between plan nodes. A plan whose root produces one is a planner defect.")
	// QV20003 the session was run before Engine.Get bound a compiled artifact to it.
	QV20003 = errorWithoutCause("QV20003", SessionNotBound, "%s session has no compiled sql", "Call Engine.Get with the session before running it.")
	// QV20005 the bound artifact was compiled without a runner.
	QV20005 = errorWithoutCause("QV20005", SessionNotBound, "%s session has no runner for sql %q", "The engine was configured compile-only, so the bound artifact cannot be executed.")
	// QV20004 plan execution failed.
	QV20004 = errorWithCause("QV20004", ExecutionFailed, "failed to run %s plan", "A plan node failed while evaluating the input data.")

	// QV30001 invalid argument passed to the engine.
	QV30001 = errorWithoutCause("QV30001", InvalidArgument, "invalid argument: %s", "An argument required by the call was missing or malformed.")

	// Errors is a list of errors that must match all the variables
	// defined above to enable auto-documentation of error codes.
	Errors = []func(args ...any) *Error{
		QV13001,
		QV20001,
		QV20002,
		QV20003,
		QV20005,
		QV30001,
	}

	// ErrorsWithCause lists the registered errors that wrap a cause.
	ErrorsWithCause = []func(cause error, args ...any) *Error{
		QV10001,
		QV10002,
		QV20004,
	}

	descriptions = map[string]string{}
)

// errorWithoutCause returns a constructor for an error that stands on its own.
func errorWithoutCause(id string, code Code, short, long string) func(args ...any) *Error {
	descriptions[id] = long
	return func(args ...any) *Error {
		s := short
		if len(args) != 0 {
			s = fmt.Sprintf(s, args...)
		}
		return &Error{
			Code:    code,
			ID:      id,
			Message: s,
		}
	}
}

// errorWithCause returns a constructor for an error that wraps the failure
// reported by a collaborator.
func errorWithCause(id string, code Code, short, long string) func(cause error, args ...any) *Error {
	descriptions[id] = long
	return func(cause error, args ...any) *Error {
		s := short
		if len(args) != 0 {
			s = fmt.Sprintf(s, args...)
		}
		return &Error{
			Code:    code,
			ID:      id,
			Message: s,
			Err:     cause,
		}
	}
}

// Description returns the long description registered for an error ID.
func Description(id string) string {
	return descriptions[id]
}

// IsError reports whether err's text contains the given error ID.
func IsError(err error, id string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), id)
}
