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
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/queryvm/queryvm/go/common/sqltypes"
)

const columnsQuery = `SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// LoadPostgres snapshots the given tables of a PostgreSQL schema into a
// single catalog database named dbName. Column types are mapped onto
// sqltypes; a column with an unsupported type fails the load.
func LoadPostgres(ctx context.Context, db *sql.DB, dbName, schema string, tables []string) (*Database, error) {
	out := &Database{Name: dbName}
	for _, name := range tables {
		t, err := loadPostgresTable(ctx, db, schema, name)
		if err != nil {
			return nil, fmt.Errorf("table %s.%s: %w", schema, name, err)
		}
		out.Tables = append(out.Tables, t)
	}
	return out, nil
}

func loadPostgresTable(ctx context.Context, db *sql.DB, schema, name string) (*Table, error) {
	rows, err := db.QueryContext(ctx, columnsQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	t := &Table{Name: name}
	for rows.Next() {
		var col, dataType string
		if err := rows.Scan(&col, &dataType); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan column: %w", err)
		}
		typ, err := sqltypes.ParseType(dataType)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		t.Schema = append(t.Schema, &sqltypes.Field{Name: col, Type: typ})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(t.Schema) == 0 {
		return nil, fmt.Errorf("no columns: %w", ErrNotFound)
	}

	query := fmt.Sprintf("SELECT * FROM %s.%s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name))
	data, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	defer data.Close()

	for data.Next() {
		cells := make([]sql.RawBytes, len(t.Schema))
		dest := make([]any, len(cells))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := data.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := &sqltypes.Row{Values: make([]sqltypes.Value, len(cells))}
		for i, c := range cells {
			if c == nil {
				continue
			}
			v, err := sqltypes.Normalize(t.Schema[i].Type, sqltypes.Value(append([]byte{}, c...)))
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", t.Schema[i].Name, err)
			}
			row.Values[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, data.Err()
}
