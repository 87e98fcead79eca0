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
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/queryvm/queryvm/go/services/queryvm/catalog"
	"github.com/queryvm/queryvm/go/services/queryvm/engine"
)

func newShellCommand(qc *QueryVMCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run queries read from stdin, one per line",
		Long: `Read one SQL statement per line from stdin and run each in batch mode.
The catalog is reloaded whenever the catalog file or the etcd prefix
changes, or every --catalog-postgres-refresh for a PostgreSQL snapshot;
cached plans of the affected databases are dropped.

Meta commands:
  \explain SQL   show the batch plan of SQL
  \clear         drop the cached plans of --db
  \stats         print engine counters
  \q             quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _ := cmd.Flags().GetString("db")

			e, src, err := qc.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			watching := make(chan struct{})
			go func() {
				defer close(watching)
				qc.watchCatalog(ctx, src, func(cat *catalog.MemCatalog) { e.SetCatalog(cat) })
			}()
			defer func() {
				cancel()
				<-watching
			}()

			return runShell(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), e, db, qc.logger)
		},
	}
	cmd.Flags().String("db", "", "database to run against (required)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func runShell(ctx context.Context, r io.Reader, w io.Writer, e *engine.Engine, db string, logger *slog.Logger) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "", strings.HasPrefix(line, "--"):
			continue
		case line == `\q`:
			return nil
		case line == `\clear`:
			e.ClearCache(db)
			fmt.Fprintln(w, "cache cleared")
		case line == `\stats`:
			st := e.Stats()
			fmt.Fprintf(w, "hits=%d misses=%d compiles=%d compile_errors=%d discarded=%d cached=%d\n",
				st.Hits, st.Misses, st.Compiles, st.CompileErrors, st.Discarded, e.CacheSize(engine.ModeBatch))
		case strings.HasPrefix(line, `\explain `):
			var out engine.ExplainOutput
			if err := e.Explain(ctx, strings.TrimPrefix(line, `\explain `), db, true, &out); err != nil {
				fmt.Fprintf(w, "ERROR: %v\n", err)
				continue
			}
			fmt.Fprint(w, out.String())
		default:
			s := engine.NewBatchRunSession()
			s.SetLogger(logger)
			if err := runBatch(ctx, w, e, s, line, db, 0); err != nil {
				fmt.Fprintf(w, "ERROR: %v\n", err)
			}
		}
	}
	return sc.Err()
}
