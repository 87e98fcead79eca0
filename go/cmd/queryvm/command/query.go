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
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/engine"
)

func newQueryCommand(qc *QueryVMCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query in batch mode and print the result table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _ := cmd.Flags().GetString("db")
			query, _ := cmd.Flags().GetString("sql")
			limit, _ := cmd.Flags().GetInt("limit")
			debug, _ := cmd.Flags().GetBool("debug")

			e, src, err := qc.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			s := engine.NewBatchRunSession()
			s.SetLogger(qc.logger)
			s.SetDebug(debug)
			return runBatch(cmd.Context(), cmd.OutOrStdout(), e, s, query, db, limit)
		},
	}
	cmd.Flags().String("db", "", "database to run against (required)")
	cmd.Flags().String("sql", "", "query to run (required)")
	cmd.Flags().Int("limit", 0, "maximum number of rows to print (0 prints all)")
	cmd.Flags().Bool("debug", false, "print the per-node execution trace")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}

func runBatch(ctx context.Context, w io.Writer, e *engine.Engine, s *engine.BatchRunSession, query, db string, limit int) error {
	if err := e.Get(ctx, query, db, s); err != nil {
		return err
	}
	rows, err := s.RunRows(ctx, limit)
	if err != nil {
		return err
	}
	printRows(w, s.CompileInfo().Schema(), rows)
	if s.IsDebug() {
		for _, line := range s.LastTrace() {
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

var cellEscaper = strings.NewReplacer("\n", `\n`, "\t", `\t`)

// printRows renders rows as a table followed by a row count.
func printRows(w io.Writer, schema sqltypes.Schema, rows []*sqltypes.Row) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(schema.Names())
	for _, r := range rows {
		cells := r.Strings()
		for i, c := range cells {
			cells[i] = cellEscaper.Replace(c)
		}
		table.Append(cells)
	}
	table.Render()
	suffix := "s"
	if len(rows) == 1 {
		suffix = ""
	}
	fmt.Fprintf(w, "(%d row%s)\n", len(rows), suffix)
}
