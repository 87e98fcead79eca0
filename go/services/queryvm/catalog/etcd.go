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
	"fmt"
	"log/slog"
	"path"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdSource reads a catalog stored in etcd. Every key under
// <root>/databases/ holds one database document in the DatabaseSpec YAML
// shape.
type EtcdSource struct {
	kv      clientv3.KV
	watcher clientv3.Watcher
	root    string
	logger  *slog.Logger
}

// NewEtcdSource returns a source reading below root. A *clientv3.Client
// satisfies both kv and watcher.
func NewEtcdSource(kv clientv3.KV, watcher clientv3.Watcher, root string, logger *slog.Logger) *EtcdSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &EtcdSource{kv: kv, watcher: watcher, root: root, logger: logger}
}

func (s *EtcdSource) prefix() string {
	return path.Join(s.root, "databases") + "/"
}

// Load reads every database document and builds a catalog from them.
func (s *EtcdSource) Load(ctx context.Context) (*MemCatalog, error) {
	prefix := s.prefix()
	resp, err := s.kv.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", prefix, err)
	}
	dbs := make([]*Database, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		db, err := ParseDatabaseYAML(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", string(kv.Key), err)
		}
		if want := strings.TrimPrefix(string(kv.Key), prefix); !strings.EqualFold(want, db.Name) {
			return nil, fmt.Errorf("key %s holds database %q", string(kv.Key), db.Name)
		}
		dbs = append(dbs, db)
	}
	return NewMemCatalog(dbs...)
}

// Watch blocks until ctx is done, reloading the whole catalog after every
// batch of changes under the prefix. Reload failures are logged and the
// previous catalog stays in effect.
func (s *EtcdSource) Watch(ctx context.Context, onChange func(*MemCatalog)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wc := s.watcher.Watch(ctx, s.prefix(), clientv3.WithPrefix())
	if wc == nil {
		return fmt.Errorf("watch %s failed", s.prefix())
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case wresp, ok := <-wc:
			if !ok {
				return nil
			}
			if err := wresp.Err(); err != nil {
				return fmt.Errorf("watch %s: %w", s.prefix(), err)
			}
			if len(wresp.Events) == 0 {
				continue
			}
			cat, err := s.Load(ctx)
			if err != nil {
				s.logger.WarnContext(ctx, "catalog reload from etcd failed", "prefix", s.prefix(), "error", err)
				continue
			}
			s.logger.InfoContext(ctx, "catalog reloaded from etcd", "prefix", s.prefix(), "databases", cat.Databases())
			onChange(cat)
		}
	}
}
