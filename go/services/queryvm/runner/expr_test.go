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

package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryvm/queryvm/go/common/sqltypes"
)

func eval(t *testing.T, f Func) sqltypes.Value {
	t.Helper()
	v, err := f(nil)
	require.NoError(t, err)
	return v
}

func TestArith(t *testing.T) {
	i := func(v int64) Func { return Constant(sqltypes.NewInt64(v)) }
	null := Constant(nil)

	tests := []struct {
		op   string
		typ  sqltypes.Type
		l, r Func
		want string
	}{
		{"+", sqltypes.Int64, i(2), i(3), "5"},
		{"-", sqltypes.Int64, i(2), i(3), "-1"},
		{"/", sqltypes.Int64, i(7), i(2), "3"},
		{"%", sqltypes.Int64, i(7), i(2), "1"},
		{"/", sqltypes.Float64, i(7), i(2), "3.5"},
		{"*", sqltypes.Float64, Constant(sqltypes.NewFloat64(1.5)), i(2), "3"},
		{"+", sqltypes.Int64, i(1), null, "NULL"},
	}
	for _, tt := range tests {
		f, err := Arith(tt.op, tt.typ, tt.l, tt.r)
		require.NoError(t, err)
		assert.Equal(t, tt.want, eval(t, f).String(), "%s %s", tt.op, tt.typ)
	}

	f, err := Arith("/", sqltypes.Int64, i(1), i(0))
	require.NoError(t, err)
	_, err = f(nil)
	assert.ErrorIs(t, err, errDivisionByZero)

	_, err = Arith("+", sqltypes.String, i(1), i(1))
	assert.Error(t, err)
	_, err = Arith("^", sqltypes.Int64, i(1), i(1))
	assert.Error(t, err)
}

func TestCmp(t *testing.T) {
	s := func(v string) Func { return Constant(sqltypes.NewString(v)) }

	f, err := Cmp("<", sqltypes.String, s("a"), s("b"))
	require.NoError(t, err)
	assert.Equal(t, "true", eval(t, f).String())

	f, err = Cmp("<>", sqltypes.Float64, Constant(sqltypes.NewInt64(2)), Constant(sqltypes.NewFloat64(2)))
	require.NoError(t, err)
	assert.Equal(t, "false", eval(t, f).String())

	f, err = Cmp("=", sqltypes.String, s("a"), Constant(nil))
	require.NoError(t, err)
	assert.True(t, eval(t, f).IsNull())

	_, err = Cmp("~", sqltypes.String, s("a"), s("b"))
	assert.Error(t, err)
}

func TestThreeValuedLogic(t *testing.T) {
	tr := Constant(sqltypes.NewBool(true))
	fa := Constant(sqltypes.NewBool(false))
	null := Constant(nil)

	assert.Equal(t, "false", eval(t, And(fa, null)).String())
	assert.True(t, eval(t, And(tr, null)).IsNull())
	assert.Equal(t, "true", eval(t, And(tr, tr)).String())
	assert.Equal(t, "true", eval(t, Or(null, tr)).String())
	assert.True(t, eval(t, Or(fa, null)).IsNull())
	assert.Equal(t, "false", eval(t, Or(fa, fa)).String())
	assert.Equal(t, "false", eval(t, Not(tr)).String())
	assert.True(t, eval(t, Not(null)).IsNull())
	assert.Equal(t, "true", eval(t, IsNull(null, false)).String())
	assert.Equal(t, "false", eval(t, IsNull(null, true)).String())

	ok, err := Truthy(nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestColumnRefOutOfRange(t *testing.T) {
	_, err := ColumnRef(3)(sqltypes.NewRow(sqltypes.NewInt64(1)))
	assert.ErrorContains(t, err, "out of range")
}

func TestParseAggFunc(t *testing.T) {
	f, ok := ParseAggFunc("count", true)
	assert.True(t, ok)
	assert.Equal(t, AggCountStar, f)

	_, ok = ParseAggFunc("sum", true)
	assert.False(t, ok)

	f, ok = ParseAggFunc("avg", false)
	assert.True(t, ok)
	assert.Equal(t, sqltypes.Float64, (&Aggregate{Func: f, ArgType: sqltypes.Int64}).ResultType())

	_, ok = ParseAggFunc("lower", false)
	assert.False(t, ok)

	assert.Error(t, (&Aggregate{Func: AggSum, ArgType: sqltypes.String}).CheckArg())
}
