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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/queryvm/queryvm/go/services/queryvm/engine"
)

func newExplainCommand(qc *QueryVMCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Show the plans and generated code of a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _ := cmd.Flags().GetString("db")
			query, _ := cmd.Flags().GetString("sql")
			request, _ := cmd.Flags().GetBool("request")

			e, src, err := qc.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			var out engine.ExplainOutput
			if err := e.Explain(cmd.Context(), query, db, !request, &out); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out.String())
			return nil
		},
	}
	cmd.Flags().String("db", "", "database to compile against (required)")
	cmd.Flags().String("sql", "", "query to explain (required)")
	cmd.Flags().Bool("request", false, "explain the request-mode plan instead of the batch plan")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}
