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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: OK},
		{name: "plain error", err: errors.New("boom"), want: Internal},
		{name: "coded error", err: New(NoOutput, "nothing"), want: NoOutput},
		{name: "wrapped by fmt", err: fmt.Errorf("outer: %w", New(CompileFailed, "bad sql")), want: CompileFailed},
		{name: "registered with cause", err: QV10002(errors.New("no"), "select 1", "db"), want: RunnerBuildFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CodeOf(tc.err))
		})
	}
}

func TestRegisteredErrorText(t *testing.T) {
	cause := errors.New("syntax error at or near \"selec\"")
	err := QV10001(cause, "selec 1", "db1")

	assert.Equal(t, `QV10001: failed to compile sql "selec 1" in db "db1": syntax error at or near "selec"`, err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsError(err, "QV10001"))
	assert.NotEmpty(t, Description("QV10001"))
}

func TestErrorsIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("run: %w", QV20002("batch"))

	require.ErrorIs(t, err, &Error{Code: InvariantViolation})
	require.ErrorIs(t, err, &Error{Code: InvariantViolation, ID: "QV20002"})
	assert.NotErrorIs(t, err, &Error{Code: NoOutput})
	assert.NotErrorIs(t, err, &Error{Code: InvariantViolation, ID: "QV20001"})
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, Internal, "x"))
	assert.NoError(t, Wrapf(nil, Internal, "x %d", 1))
}

func TestAllRegisteredErrorsHaveDescriptions(t *testing.T) {
	for _, f := range Errors {
		e := f("x")
		assert.NotEmpty(t, e.ID)
		assert.NotEmpty(t, Description(e.ID), e.ID)
	}
	for _, f := range ErrorsWithCause {
		e := f(errors.New("cause"), "x", "y")
		assert.NotEmpty(t, e.ID)
		assert.NotEmpty(t, Description(e.ID), e.ID)
	}
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "INVARIANT_VIOLATION", InvariantViolation.String())
	assert.Equal(t, "Code(99)", Code(99).String())
}
