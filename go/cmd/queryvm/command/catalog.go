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
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/queryvm/queryvm/go/services/queryvm/catalog"
)

// catalogSource is where the CLI reads its catalog from.
type catalogSource interface {
	Load(ctx context.Context) (*catalog.MemCatalog, error)
	// Watch blocks until ctx is done, calling onChange with every reloaded
	// catalog.
	Watch(ctx context.Context, onChange func(*catalog.MemCatalog)) error
	Close() error
}

// catalogSource picks the configured source. etcd wins over PostgreSQL,
// which wins over a file.
func (qc *QueryVMCommand) catalogSource(ctx context.Context) (catalogSource, error) {
	s := qc.settings
	switch {
	case len(s.EtcdEndpoints) > 0:
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   s.EtcdEndpoints,
			DialTimeout: s.EtcdDialTimeout,
			Context:     ctx,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		return &etcdSource{EtcdSource: catalog.NewEtcdSource(cli, cli, s.EtcdRoot, qc.logger), cli: cli}, nil
	case s.PostgresDSN != "":
		if len(s.PostgresTables) == 0 {
			return nil, errors.New("--catalog-postgres-tables is required with --catalog-postgres-dsn")
		}
		db, err := sql.Open("postgres", s.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return &postgresSource{
			db:       db,
			database: s.PostgresDatabase,
			schema:   s.PostgresSchema,
			tables:   s.PostgresTables,
			refresh:  s.PostgresRefresh,
			qc:       qc,
		}, nil
	case s.CatalogFile != "":
		return &fileSource{FileWatcher: catalog.NewFileWatcher(qc.fs, s.CatalogFile, qc.logger), qc: qc}, nil
	}
	return nil, errors.New("no catalog configured: set --catalog-file, --catalog-etcd-endpoints or --catalog-postgres-dsn")
}

type fileSource struct {
	*catalog.FileWatcher
	qc *QueryVMCommand
}

func (f *fileSource) Load(context.Context) (*catalog.MemCatalog, error) {
	return catalog.LoadFile(f.qc.fs, f.qc.settings.CatalogFile)
}

func (f *fileSource) Close() error { return nil }

type etcdSource struct {
	*catalog.EtcdSource
	cli *clientv3.Client
}

func (e *etcdSource) Close() error { return e.cli.Close() }

// postgresSource snapshots tables. Watch re-reads them every refresh, or
// never when refresh is zero.
type postgresSource struct {
	db       *sql.DB
	database string
	schema   string
	tables   []string
	refresh  time.Duration
	qc       *QueryVMCommand
}

func (p *postgresSource) Load(ctx context.Context) (*catalog.MemCatalog, error) {
	db, err := catalog.LoadPostgres(ctx, p.db, p.database, p.schema, p.tables)
	if err != nil {
		return nil, err
	}
	return catalog.NewMemCatalog(db)
}

func (p *postgresSource) Watch(ctx context.Context, onChange func(*catalog.MemCatalog)) error {
	p.qc.pollCatalog(ctx, p.refresh, p.Load, onChange)
	return nil
}

func (p *postgresSource) Close() error { return p.db.Close() }
