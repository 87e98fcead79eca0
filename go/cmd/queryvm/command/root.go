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

// Package command implements the queryvm CLI.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/queryvm/queryvm/go/common/servenv"
	"github.com/queryvm/queryvm/go/services/queryvm/engine"
	"github.com/queryvm/queryvm/go/tools/telemetry"
)

// settings is the decoded configuration shared by every subcommand.
type settings struct {
	engine.Options `mapstructure:",squash"`

	CatalogFile string `mapstructure:"catalog-file"`

	EtcdEndpoints   []string      `mapstructure:"catalog-etcd-endpoints"`
	EtcdRoot        string        `mapstructure:"catalog-etcd-root"`
	EtcdDialTimeout time.Duration `mapstructure:"catalog-etcd-dial-timeout"`

	PostgresDSN      string        `mapstructure:"catalog-postgres-dsn"`
	PostgresDatabase string        `mapstructure:"catalog-postgres-database"`
	PostgresSchema   string        `mapstructure:"catalog-postgres-schema"`
	PostgresTables   []string      `mapstructure:"catalog-postgres-tables"`
	PostgresRefresh  time.Duration `mapstructure:"catalog-postgres-refresh"`
}

// QueryVMCommand holds the state shared by the queryvm commands.
type QueryVMCommand struct {
	cfg       *servenv.Config
	lg        *servenv.Logger
	telemetry *telemetry.Telemetry
	fs        afero.Fs

	settings settings
	logger   *slog.Logger
}

// GetRootCommand creates and returns the root command for queryvm with all
// subcommands.
func GetRootCommand() *cobra.Command {
	return newRootCommand(afero.NewOsFs())
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	cfg := servenv.NewConfig()
	cfg.SetFs(fs)
	qc := &QueryVMCommand{
		cfg:       cfg,
		lg:        servenv.NewLogger(cfg),
		telemetry: telemetry.NewTelemetry(),
		fs:        fs,
		logger:    slog.Default(),
	}
	// Command output goes to stdout, so logs default to stderr.
	cfg.Viper().SetDefault("log-output", "stderr")

	var span trace.Span

	root := &cobra.Command{
		Use:   "queryvm",
		Short: "Compile and run SQL against an in-memory catalog",
		Long: `queryvm compiles SQL into cached execution plans and runs them in batch
mode (over whole tables) or request mode (over a single input row).

The catalog is read from one of:
  --catalog-etcd-endpoints   database documents stored under --catalog-etcd-root
  --catalog-postgres-dsn     a snapshot of --catalog-postgres-tables
  --catalog-file             a YAML file

Every flag can also be set in the file named by --config-file or through a
QUERYVM_ environment variable (--keep-ir is QUERYVM_KEEP_IR).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flag errors have already been reported with usage at this point.
			cmd.SilenceUsage = true

			if err := qc.cfg.BindFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("failed to bind flags: %w", err)
			}
			if err := qc.cfg.LoadConfig(); err != nil {
				return err
			}
			if err := qc.cfg.Unmarshal(&qc.settings); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			var err error
			if span, err = qc.telemetry.InitForCommand(cmd, "queryvm", true); err != nil {
				return err
			}
			if qc.logger, err = qc.lg.SetupLogging(qc.telemetry.WrapSlogHandler); err != nil {
				return err
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if span != nil {
				span.End()
			}

			// Flush pending spans before the process exits.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			var errs []error
			if err := qc.telemetry.ForceFlush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to flush OpenTelemetry: %w", err))
			}
			if err := qc.telemetry.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shutdown OpenTelemetry: %w", err))
			}
			if err := qc.lg.Close(); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		},
	}

	pf := root.PersistentFlags()
	qc.cfg.RegisterFlags(pf)
	qc.lg.RegisterFlags(pf)
	if flag := pf.Lookup("log-output"); flag != nil {
		flag.DefValue = "stderr"
	}

	pf.String("catalog-file", "", "YAML catalog file")
	pf.StringSlice("catalog-etcd-endpoints", nil, "etcd endpoints to read the catalog from")
	pf.String("catalog-etcd-root", "/queryvm", "etcd key prefix of the catalog")
	pf.Duration("catalog-etcd-dial-timeout", 5*time.Second, "etcd dial timeout")
	pf.String("catalog-postgres-dsn", "", "PostgreSQL connection string to snapshot the catalog from")
	pf.String("catalog-postgres-database", "postgres", "database name the PostgreSQL snapshot is registered under")
	pf.String("catalog-postgres-schema", "public", "PostgreSQL schema holding the tables")
	pf.StringSlice("catalog-postgres-tables", nil, "PostgreSQL tables to snapshot")
	pf.Duration("catalog-postgres-refresh", 0, "how often the shell re-reads the PostgreSQL snapshot; 0 disables it")

	pf.Bool("keep-ir", false, "keep the generated expression listing of compiled queries")
	pf.Bool("plan-only", false, "compile plans without executable code")
	pf.Bool("compile-only", false, "cache compiled queries without building runners")
	pf.Bool("dedup-inflight", false, "share one compilation between concurrent cache misses")

	root.AddCommand(
		newExplainCommand(qc),
		newQueryCommand(qc),
		newRequestCommand(qc),
		newShellCommand(qc),
	)
	return root
}

// newEngine loads the catalog and returns an engine over it together with
// the catalog source, which the caller must close.
func (qc *QueryVMCommand) newEngine(ctx context.Context) (*engine.Engine, catalogSource, error) {
	src, err := qc.catalogSource(ctx)
	if err != nil {
		return nil, nil, err
	}
	cat, err := src.Load(ctx)
	if err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	qc.logger.DebugContext(ctx, "catalog loaded", "databases", cat.Databases())

	opts := qc.settings.Options
	opts.Logger = qc.logger
	return engine.New(cat, opts), src, nil
}
