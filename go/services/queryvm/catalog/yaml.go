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

package catalog

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/queryvm/queryvm/go/common/sqltypes"
)

// File is the on-disk YAML layout of a catalog:
//
//	databases:
//	  - name: shop
//	    tables:
//	      - name: orders
//	        columns:
//	          - {name: id, type: int64}
//	          - {name: item, type: string}
//	        rows:
//	          - [1, apple]
type File struct {
	Databases []DatabaseSpec `yaml:"databases"`
}

// DatabaseSpec is one database in a catalog document.
type DatabaseSpec struct {
	Name   string      `yaml:"name"`
	Tables []TableSpec `yaml:"tables"`
}

// TableSpec is one table in a catalog document.
type TableSpec struct {
	Name    string       `yaml:"name"`
	Columns []ColumnSpec `yaml:"columns"`
	Rows    [][]any      `yaml:"rows"`
}

// ColumnSpec is one column in a catalog document.
type ColumnSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// ParseYAML decodes a catalog document.
func ParseYAML(r io.Reader) (*MemCatalog, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	dbs := make([]*Database, 0, len(f.Databases))
	for _, spec := range f.Databases {
		db, err := spec.Build()
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, db)
	}
	return NewMemCatalog(dbs...)
}

// ParseDatabaseYAML decodes a document holding a single database.
func ParseDatabaseYAML(data []byte) (*Database, error) {
	var spec DatabaseSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode database: %w", err)
	}
	return spec.Build()
}

// LoadFile reads a catalog document from fs.
func LoadFile(fs afero.Fs, path string) (*MemCatalog, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()
	cat, err := ParseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return cat, nil
}

// Build converts the spec into a Database, encoding each cell according to
// its column type.
func (s DatabaseSpec) Build() (*Database, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("database without a name")
	}
	db := &Database{Name: s.Name}
	for _, ts := range s.Tables {
		t, err := ts.build()
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", s.Name, err)
		}
		db.Tables = append(db.Tables, t)
	}
	return db, nil
}

func (s TableSpec) build() (*Table, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("table without a name")
	}
	t := &Table{Name: s.Name}
	for _, c := range s.Columns {
		typ, err := sqltypes.ParseType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", s.Name, c.Name, err)
		}
		t.Schema = append(t.Schema, &sqltypes.Field{Name: c.Name, Type: typ})
	}
	for i, cells := range s.Rows {
		if len(cells) != len(t.Schema) {
			return nil, fmt.Errorf("table %s row %d has %d values, want %d", s.Name, i, len(cells), len(t.Schema))
		}
		row := &sqltypes.Row{Values: make([]sqltypes.Value, len(cells))}
		for j, cell := range cells {
			v, err := encodeCell(t.Schema[j].Type, cell)
			if err != nil {
				return nil, fmt.Errorf("table %s row %d column %s: %w", s.Name, i, t.Schema[j].Name, err)
			}
			row.Values[j] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func encodeCell(typ sqltypes.Type, cell any) (sqltypes.Value, error) {
	var raw sqltypes.Value
	switch c := cell.(type) {
	case nil:
		return nil, nil
	case string:
		raw = sqltypes.NewString(c)
	case int:
		raw = sqltypes.NewInt64(int64(c))
	case int64:
		raw = sqltypes.NewInt64(c)
	case uint64:
		raw = sqltypes.Value(strconv.FormatUint(c, 10))
	case float64:
		raw = sqltypes.NewFloat64(c)
	case bool:
		raw = sqltypes.NewBool(c)
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", cell, cell)
	}
	if typ == sqltypes.String {
		return raw, nil
	}
	return sqltypes.Normalize(typ, raw)
}
