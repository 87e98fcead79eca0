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

// Package sqltypes provides the row and schema types that flow through the
// query engine. Values are text encoded and preserve the NULL vs empty string
// distinction; the column Type says how to interpret the text.
package sqltypes

import (
	"fmt"
	"strings"
)

// Value represents a nullable column value.
// nil means NULL, []byte{} means empty string.
type Value []byte

// IsNull returns true if the value is NULL.
func (v Value) IsNull() bool {
	return v == nil
}

// String returns the text of the value, or "NULL".
func (v Value) String() string {
	if v == nil {
		return "NULL"
	}
	return string(v)
}

// Row represents a row with nullable column values.
type Row struct {
	// Values contains the column values. nil entry means NULL.
	Values []Value
}

// MakeRow creates a new Row from a slice of byte slices.
// nil entries represent NULL values.
func MakeRow(values [][]byte) *Row {
	row := &Row{
		Values: make([]Value, len(values)),
	}
	for i, v := range values {
		if v == nil {
			row.Values[i] = nil
		} else {
			row.Values[i] = Value(v)
		}
	}
	return row
}

// NewRow creates a row from already encoded values.
func NewRow(values ...Value) *Row {
	return &Row{Values: values}
}

// Len returns the number of columns in the row.
func (r *Row) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	values := make([]Value, len(r.Values))
	for i, v := range r.Values {
		if v != nil {
			values[i] = append(Value{}, v...)
		}
	}
	return &Row{Values: values}
}

// Equal reports whether two rows hold the same values, treating NULL and
// the empty string as different.
func (r *Row) Equal(other *Row) bool {
	if r.Len() != other.Len() {
		return false
	}
	for i := range r.Values {
		a, b := r.Values[i], other.Values[i]
		if (a == nil) != (b == nil) || string(a) != string(b) {
			return false
		}
	}
	return true
}

// Strings returns the values as display strings.
func (r *Row) Strings() []string {
	out := make([]string, r.Len())
	for i, v := range r.Values {
		out[i] = v.String()
	}
	return out
}

func (r *Row) String() string {
	return "(" + strings.Join(r.Strings(), ", ") + ")"
}

// Type is the logical type of a column.
type Type int

const (
	Unknown Type = iota
	Int64
	Float64
	String
	Bool
)

var typeNames = map[Type]string{
	Unknown: "unknown",
	Int64:   "int64",
	Float64: "float64",
	String:  "string",
	Bool:    "bool",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// IsNumeric reports whether values of the type support arithmetic.
func (t Type) IsNumeric() bool {
	return t == Int64 || t == Float64
}

// ParseType maps a type name to a Type. A few common SQL spellings are
// accepted as aliases.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int64", "int", "int4", "int8", "integer", "bigint", "smallint", "int2":
		return Int64, nil
	case "float64", "float", "double", "float4", "float8", "real", "double precision", "numeric", "decimal":
		return Float64, nil
	case "string", "text", "varchar", "char", "character varying", "character":
		return String, nil
	case "bool", "boolean":
		return Bool, nil
	}
	return Unknown, fmt.Errorf("unknown column type %q", name)
}

// Field describes a column.
type Field struct {
	Name string
	Type Type
}

// Schema is an ordered list of columns.
type Schema []*Field

// Index returns the position of the named column, or -1. Names are matched
// case-insensitively, like unquoted SQL identifiers.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// Names returns the column names.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Clone returns a copy of the schema that shares no fields with s.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	for i, f := range s {
		cp := *f
		out[i] = &cp
	}
	return out
}

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = f.Name + ":" + f.Type.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Result represents a query result with nullable values.
type Result struct {
	// Fields describes the columns in the result set.
	Fields Schema

	// Rows contains the actual data rows.
	Rows []*Row
}
