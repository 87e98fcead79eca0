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
	"github.com/queryvm/queryvm/go/common/sqltypes"
)

// MemTableHandler is a TableHandler backed by a slice.
type MemTableHandler struct {
	schema sqltypes.Schema
	rows   []*sqltypes.Row
}

var _ TableHandler = (*MemTableHandler)(nil)

// NewMemTableHandler returns a table with the given schema and rows. The
// rows slice is owned by the handler afterwards.
func NewMemTableHandler(schema sqltypes.Schema, rows ...*sqltypes.Row) *MemTableHandler {
	return &MemTableHandler{schema: schema, rows: rows}
}

func (*MemTableHandler) Kind() Kind { return KindTable }
func (t *MemTableHandler) Schema() sqltypes.Schema { return t.schema }
func (t *MemTableHandler) Count() int { return len(t.rows) }
func (*MemTableHandler) sealed() {}

// AddRow appends a row.
func (t *MemTableHandler) AddRow(r *sqltypes.Row) {
	t.rows = append(t.rows, r)
}

// Rows returns the underlying rows.
func (t *MemTableHandler) Rows() []*sqltypes.Row {
	return t.rows
}

func (t *MemTableHandler) Iterator() Iterator {
	return &sliceIterator{rows: t.rows}
}

type sliceIterator struct {
	rows []*sqltypes.Row
	pos  int
}

func (it *sliceIterator) SeekToFirst() { it.pos = 0 }
func (it *sliceIterator) Valid() bool { return it.pos < len(it.rows) }
func (it *sliceIterator) Value() *sqltypes.Row { return it.rows[it.pos] }
func (it *sliceIterator) Next() { it.pos++ }

// MemRowHandler is a RowHandler holding a single row.
type MemRowHandler struct {
	schema sqltypes.Schema
	row    *sqltypes.Row
}

var _ RowHandler = (*MemRowHandler)(nil)

func NewMemRowHandler(schema sqltypes.Schema, row *sqltypes.Row) *MemRowHandler {
	return &MemRowHandler{schema: schema, row: row}
}

func (*MemRowHandler) Kind() Kind { return KindRow }
func (r *MemRowHandler) Schema() sqltypes.Schema { return r.schema }
func (r *MemRowHandler) Value() *sqltypes.Row { return r.row }
func (*MemRowHandler) sealed() {}

// MemPartitionHandler groups rows into segments by key.
type MemPartitionHandler struct {
	schema   sqltypes.Schema
	keys     []string
	segments map[string]*MemTableHandler
}

var _ PartitionHandler = (*MemPartitionHandler)(nil)

func NewMemPartitionHandler(schema sqltypes.Schema) *MemPartitionHandler {
	return &MemPartitionHandler{schema: schema, segments: make(map[string]*MemTableHandler)}
}

func (*MemPartitionHandler) Kind() Kind { return KindPartition }
func (p *MemPartitionHandler) Schema() sqltypes.Schema { return p.schema }
func (*MemPartitionHandler) sealed() {}

// Add appends a row to the segment for key, creating it if needed.
func (p *MemPartitionHandler) Add(key string, r *sqltypes.Row) {
	seg, ok := p.segments[key]
	if !ok {
		seg = NewMemTableHandler(p.schema)
		p.segments[key] = seg
		p.keys = append(p.keys, key)
	}
	seg.AddRow(r)
}

func (p *MemPartitionHandler) Keys() []string {
	return p.keys
}

// Segment returns the rows for key, or nil if the key is absent.
func (p *MemPartitionHandler) Segment(key string) TableHandler {
	seg, ok := p.segments[key]
	if !ok {
		return nil
	}
	return seg
}
