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

// Package catalog holds the table metadata and data that queries are
// compiled and executed against. A catalog is read-only once built; schema
// changes are published by building a new catalog and swapping it into a
// Holder.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/queryvm/queryvm/go/common/sqltypes"
)

// ErrNotFound is returned when a database or table does not exist.
var ErrNotFound = errors.New("not found")

// Table is a named, typed, in-memory table.
type Table struct {
	Name   string
	Schema sqltypes.Schema
	Rows   []*sqltypes.Row
}

// Catalog resolves tables by database and name.
type Catalog interface {
	// Table returns the named table, or an error wrapping ErrNotFound.
	Table(db, name string) (*Table, error)
	// Databases lists the database names known to the catalog.
	Databases() []string
}

// MemCatalog is an immutable in-memory Catalog.
type MemCatalog struct {
	dbs map[string]map[string]*Table
}

var _ Catalog = (*MemCatalog)(nil)

// Database is the input used to build a MemCatalog.
type Database struct {
	Name   string
	Tables []*Table
}

// NewMemCatalog builds a catalog from the given databases. Table and
// database names are case-insensitive. Every row must match its table's
// column count.
func NewMemCatalog(dbs ...*Database) (*MemCatalog, error) {
	c := &MemCatalog{dbs: make(map[string]map[string]*Table, len(dbs))}
	for _, db := range dbs {
		dbKey := strings.ToLower(db.Name)
		if _, dup := c.dbs[dbKey]; dup {
			return nil, fmt.Errorf("duplicate database %q", db.Name)
		}
		tables := make(map[string]*Table, len(db.Tables))
		for _, t := range db.Tables {
			key := strings.ToLower(t.Name)
			if _, dup := tables[key]; dup {
				return nil, fmt.Errorf("duplicate table %q in database %q", t.Name, db.Name)
			}
			for i, row := range t.Rows {
				if row.Len() != len(t.Schema) {
					return nil, fmt.Errorf("table %s.%s row %d has %d values, want %d", db.Name, t.Name, i, row.Len(), len(t.Schema))
				}
			}
			tables[key] = t
		}
		c.dbs[dbKey] = tables
	}
	return c, nil
}

// Table is part of the Catalog interface.
func (c *MemCatalog) Table(db, name string) (*Table, error) {
	tables, ok := c.dbs[strings.ToLower(db)]
	if !ok {
		return nil, fmt.Errorf("database %q: %w", db, ErrNotFound)
	}
	t, ok := tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("table %q in database %q: %w", name, db, ErrNotFound)
	}
	return t, nil
}

// Databases is part of the Catalog interface.
func (c *MemCatalog) Databases() []string {
	names := make([]string, 0, len(c.dbs))
	for name := range c.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Holder publishes the current catalog to concurrent readers. Load is a
// single atomic read, so a compile in progress keeps using the snapshot it
// loaded even if a newer catalog is stored meanwhile.
type Holder struct {
	p atomic.Pointer[snapshot]
}

type snapshot struct {
	cat Catalog
}

// NewHolder returns a holder publishing cat.
func NewHolder(cat Catalog) *Holder {
	h := &Holder{}
	h.Store(cat)
	return h
}

// Load returns the current catalog.
func (h *Holder) Load() Catalog {
	s := h.p.Load()
	if s == nil {
		return nil
	}
	return s.cat
}

// Store publishes cat and returns the catalog it replaced.
func (h *Holder) Store(cat Catalog) Catalog {
	old := h.p.Swap(&snapshot{cat: cat})
	if old == nil {
		return nil
	}
	return old.cat
}
