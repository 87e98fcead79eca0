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

package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryvm/queryvm/go/common/sqltypes"
)

var testSchema = sqltypes.Schema{
	{Name: "id", Type: sqltypes.Int64},
	{Name: "name", Type: sqltypes.String},
}

func row(id int64, name string) *sqltypes.Row {
	return sqltypes.NewRow(sqltypes.NewInt64(id), sqltypes.NewString(name))
}

func drain(it Iterator) []string {
	var out []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		out = append(out, it.Value().String())
	}
	return out
}

func TestMemTableHandler(t *testing.T) {
	tbl := NewMemTableHandler(testSchema, row(1, "a"))
	tbl.AddRow(row(2, "b"))

	assert.Equal(t, KindTable, tbl.Kind())
	assert.Equal(t, 2, tbl.Count())

	it := tbl.Iterator()
	assert.Equal(t, []string{"(1, a)", "(2, b)"}, drain(it))
	// Restartable.
	assert.Equal(t, []string{"(1, a)", "(2, b)"}, drain(it))

	empty := NewMemTableHandler(testSchema)
	assert.False(t, empty.Iterator().Valid())
}

func TestMemPartitionHandler(t *testing.T) {
	p := NewMemPartitionHandler(testSchema)
	p.Add("y", row(1, "y"))
	p.Add("x", row(2, "x"))
	p.Add("y", row(3, "y"))

	assert.Equal(t, []string{"y", "x"}, p.Keys())
	require.NotNil(t, p.Segment("y"))
	assert.Equal(t, 2, p.Segment("y").Count())
	assert.Nil(t, p.Segment("z"))
}

func TestMatch(t *testing.T) {
	kindOf := func(o Output) string {
		return Match(o,
			func(t TableHandler) string { return "table" },
			func(r RowHandler) string { return "row:" + r.Value().String() },
			func(p PartitionHandler) string { return "partition" },
		)
	}

	assert.Equal(t, "table", kindOf(NewMemTableHandler(testSchema)))
	assert.Equal(t, "row:(7, z)", kindOf(NewMemRowHandler(testSchema, row(7, "z"))))
	assert.Equal(t, "partition", kindOf(NewMemPartitionHandler(testSchema)))
}

type bogusOutput struct{ MemTableHandler }

func (bogusOutput) Kind() Kind { return Kind(42) }

func TestMatchUnknownKindPanics(t *testing.T) {
	assert.Panics(t, func() {
		Match(Output(&bogusOutput{}),
			func(TableHandler) int { return 0 },
			func(RowHandler) int { return 0 },
			func(PartitionHandler) int { return 0 },
		)
	})
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "partition", KindPartition.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}
