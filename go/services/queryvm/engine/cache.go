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

package engine

import "strings"

// cache maps db -> sql -> artifact for one mode. It is not synchronized;
// Engine.mu guards both caches.
type cache struct {
	dbs map[string]map[string]*CompileInfo
}

func newCache() *cache {
	return &cache{dbs: make(map[string]map[string]*CompileInfo)}
}

func (c *cache) get(db, sql string) *CompileInfo {
	return c.dbs[db][sql]
}

// insert adds info unless its key is already cached. It returns the cached
// artifact and whether it is info.
func (c *cache) insert(info *CompileInfo) (*CompileInfo, bool) {
	sqls, ok := c.dbs[info.db]
	if !ok {
		sqls = make(map[string]*CompileInfo)
		c.dbs[info.db] = sqls
	}
	if cached, ok := sqls[info.sql]; ok {
		return cached, false
	}
	sqls[info.sql] = info
	return info, true
}

// clearDB drops every entry of db and returns how many were dropped.
// Database names match case-insensitively, like catalog lookups.
func (c *cache) clearDB(db string) int {
	n := 0
	for name, sqls := range c.dbs {
		if strings.EqualFold(name, db) {
			n += len(sqls)
			delete(c.dbs, name)
		}
	}
	return n
}

func (c *cache) len() int {
	n := 0
	for _, sqls := range c.dbs {
		n += len(sqls)
	}
	return n
}
