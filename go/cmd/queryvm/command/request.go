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

package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/engine"
)

func newRequestCommand(qc *QueryVMCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Run a query in request mode on one input row",
		Long: `Run a query in request mode. The input row is given with one --value per
column of the scanned table, in table order. --null names the text that
stands for NULL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _ := cmd.Flags().GetString("db")
			query, _ := cmd.Flags().GetString("sql")
			values, _ := cmd.Flags().GetStringArray("value")
			null, _ := cmd.Flags().GetString("null")
			debug, _ := cmd.Flags().GetBool("debug")

			e, src, err := qc.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			s := engine.NewRequestRunSession()
			s.SetLogger(qc.logger)
			s.SetDebug(debug)
			return runRequest(cmd.Context(), cmd, e, s, query, db, values, null)
		},
	}
	cmd.Flags().String("db", "", "database to run against (required)")
	cmd.Flags().String("sql", "", "query to run (required)")
	cmd.Flags().StringArray("value", nil, "input column value, repeated once per column")
	cmd.Flags().String("null", `\N`, "text that stands for a NULL input value")
	cmd.Flags().Bool("debug", false, "print the per-node execution trace")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}

func runRequest(ctx context.Context, cmd *cobra.Command, e *engine.Engine, s *engine.RequestRunSession, query, db string, values []string, null string) error {
	if err := e.Get(ctx, query, db, s); err != nil {
		return err
	}
	schema := s.CompileInfo().RequestSchema()
	in, err := parseRequestRow(schema, values, null)
	if err != nil {
		return err
	}

	out, produced, err := s.Run(ctx, in)
	if err != nil {
		return err
	}
	var rows []*sqltypes.Row
	if produced {
		rows = append(rows, out)
	}
	w := cmd.OutOrStdout()
	printRows(w, s.CompileInfo().Schema(), rows)
	if s.IsDebug() {
		for _, line := range s.LastTrace() {
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

// parseRequestRow converts command line text into a row matching schema.
func parseRequestRow(schema sqltypes.Schema, values []string, null string) (*sqltypes.Row, error) {
	if len(values) != len(schema) {
		return nil, fmt.Errorf("request row needs %d values %s, got %d", len(schema), schema, len(values))
	}
	row := &sqltypes.Row{Values: make([]sqltypes.Value, len(values))}
	for i, text := range values {
		if text == null {
			continue
		}
		v, err := sqltypes.Normalize(schema[i].Type, sqltypes.Value(text))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", schema[i].Name, err)
		}
		row.Values[i] = v
	}
	return row, nil
}
