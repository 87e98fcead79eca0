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

// Package handler defines the outputs a runner can produce: a table, a
// single row, or a table partitioned by key. The set of variants is closed;
// use Match to dispatch on it.
package handler

import (
	"fmt"

	"github.com/queryvm/queryvm/go/common/sqltypes"
)

// Kind discriminates the output variants.
type Kind int

const (
	KindTable Kind = iota + 1
	KindRow
	KindPartition
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindRow:
		return "row"
	case KindPartition:
		return "partition"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Output is the result of running a plan node. Only this package can
// implement it.
type Output interface {
	Kind() Kind
	Schema() sqltypes.Schema
	sealed()
}

// Iterator walks the rows of a table in order. It can be restarted with
// SeekToFirst.
type Iterator interface {
	SeekToFirst()
	Valid() bool
	Value() *sqltypes.Row
	Next()
}

// TableHandler is an ordered, restartable collection of rows.
type TableHandler interface {
	Output
	Iterator() Iterator
	Count() int
}

// RowHandler holds exactly one row.
type RowHandler interface {
	Output
	Value() *sqltypes.Row
}

// PartitionHandler is a table subdivided by key. Keys are returned in
// first-seen order.
type PartitionHandler interface {
	Output
	Keys() []string
	Segment(key string) TableHandler
}

// Match calls the callback for the variant of o and returns its result.
// Every variant needs a callback. An output of unknown kind is a broken
// invariant and panics.
func Match[T any](o Output,
	onTable func(TableHandler) T,
	onRow func(RowHandler) T,
	onPartition func(PartitionHandler) T,
) T {
	switch o.Kind() {
	case KindTable:
		return onTable(o.(TableHandler))
	case KindRow:
		return onRow(o.(RowHandler))
	case KindPartition:
		return onPartition(o.(PartitionHandler))
	}
	panic(fmt.Sprintf("handler: unknown output kind %v", o.Kind()))
}
