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

// Package engine compiles SQL into cached, reusable artifacts and runs them.
//
// The engine keeps one compile cache per execution mode. A cache miss is
// compiled outside the cache lock against the catalog snapshot current at
// that moment; the result is inserted only if no other goroutine cached
// the same key first. Sessions bound to an artifact keep it alive after it
// is evicted.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/queryvm/queryvm/go/common/mterrors"
	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/catalog"
	"github.com/queryvm/queryvm/go/services/queryvm/compiler"
	"github.com/queryvm/queryvm/go/services/queryvm/runner"
	"github.com/queryvm/queryvm/go/tools/ctxutil"
	"github.com/queryvm/queryvm/go/tools/telemetry"
)

// Mode selects the execution regime, and with it the cache.
type Mode int

const (
	// ModeBatch runs a plan over whole tables.
	ModeBatch Mode = iota
	// ModeRequest runs a plan over a single input row.
	ModeRequest
)

func (m Mode) String() string {
	switch m {
	case ModeBatch:
		return "batch"
	case ModeRequest:
		return "request"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Options are the standing options every compile of an engine uses.
type Options struct {
	// KeepIR keeps the generated expression listing in each artifact.
	KeepIR bool `mapstructure:"keep-ir"`
	// PlanOnly compiles plans without executable code. Combined with
	// CompileOnly it gives an engine that can only describe queries.
	PlanOnly bool `mapstructure:"plan-only"`
	// CompileOnly caches artifacts without building their runners.
	CompileOnly bool `mapstructure:"compile-only"`
	// DedupInflight makes concurrent misses on the same key share one
	// compilation.
	DedupInflight bool `mapstructure:"dedup-inflight"`

	// Compiler creates compilers. Nil means compiler.NewSQLCompiler.
	Compiler compiler.Factory `mapstructure:"-"`
	// Logger defaults to slog.Default().
	Logger *slog.Logger `mapstructure:"-"`
}

// CompileInfo is a compiled query. It is immutable once cached and shared
// by every session bound to the same (mode, db, sql).
type CompileInfo struct {
	sql  string
	db   string
	mode Mode

	logicalPlan      compiler.Plan
	physicalPlan     compiler.Plan
	logicalPlanText  string
	physicalPlanText string
	program          *compiler.Program
	ir               string
	requestSchema    sqltypes.Schema
	schema           sqltypes.Schema
	runner           runner.Runner
}

func newCompileInfo(sc *compiler.SQLContext) *CompileInfo {
	mode := ModeRequest
	if sc.IsBatchMode {
		mode = ModeBatch
	}
	return &CompileInfo{
		sql:              sc.SQL,
		db:               sc.DB,
		mode:             mode,
		logicalPlan:      sc.LogicalPlan,
		physicalPlan:     sc.PhysicalPlan,
		logicalPlanText:  sc.LogicalPlanText,
		physicalPlanText: sc.PhysicalPlanText,
		program:          sc.Program,
		ir:               sc.IR,
		requestSchema:    sc.RequestSchema,
		schema:           sc.Schema,
		runner:           sc.Runner,
	}
}

func (ci *CompileInfo) SQL() string { return ci.sql }
func (ci *CompileInfo) DB() string { return ci.db }
func (ci *CompileInfo) Mode() Mode { return ci.mode }
func (ci *CompileInfo) IsBatchMode() bool { return ci.mode == ModeBatch }
func (ci *CompileInfo) LogicalPlan() compiler.Plan { return ci.logicalPlan }
func (ci *CompileInfo) PhysicalPlan() compiler.Plan { return ci.physicalPlan }
func (ci *CompileInfo) LogicalPlanText() string { return ci.logicalPlanText }
func (ci *CompileInfo) PhysicalPlanText() string { return ci.physicalPlanText }
func (ci *CompileInfo) Program() *compiler.Program { return ci.program }
func (ci *CompileInfo) IR() string { return ci.ir }
func (ci *CompileInfo) RequestSchema() sqltypes.Schema { return ci.requestSchema }
func (ci *CompileInfo) Schema() sqltypes.Schema { return ci.schema }

// Runner returns the root of the runner tree, or nil for an artifact cached
// by a compile-only engine.
func (ci *CompileInfo) Runner() runner.Runner { return ci.runner }

// Stats are cumulative engine counters.
type Stats struct {
	Hits          int64
	Misses        int64
	Compiles      int64
	CompileErrors int64
	Discarded     int64
}

// Engine compiles and caches queries. It is safe for concurrent use.
type Engine struct {
	opts    Options
	factory compiler.Factory
	holder  *catalog.Holder
	logger  *slog.Logger
	metrics *Metrics

	// catalogGen is bumped after every catalog swap. An artifact compiled
	// under an older generation is handed to its caller but not cached.
	catalogGen atomic.Uint64

	// mu guards both caches. It is held for map operations only, never
	// while compiling.
	mu      sync.Mutex
	batch   *cache
	request *cache

	inflight singleflight.Group

	hits, misses, compiles, compileErrors, discarded atomic.Int64
}

// New returns an engine compiling against cat.
func New(cat catalog.Catalog, opts Options) *Engine {
	e := &Engine{
		opts:    opts,
		factory: opts.Compiler,
		holder:  catalog.NewHolder(cat),
		logger:  opts.Logger,
		batch:   newCache(),
		request: newCache(),
	}
	if e.factory == nil {
		e.factory = compiler.NewSQLCompiler
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	var err error
	e.metrics, err = NewMetrics()
	if err != nil {
		e.logger.Warn("failed to initialize some engine metrics", "error", err)
	}
	return e
}

func (e *Engine) cacheFor(mode Mode) *cache {
	if mode == ModeRequest {
		return e.request
	}
	return e.batch
}

// Get binds the compiled artifact for (sql, db, s.Mode()) to s, compiling
// and caching it on a miss. A failed compile leaves the cache untouched and
// returns an error with code CompileFailed or RunnerBuildFailed.
func (e *Engine) Get(ctx context.Context, sql, db string, s RunSession) error {
	if s == nil {
		return mterrors.QV30001("nil run session")
	}
	mode := s.Mode()
	ctx, span := telemetry.Tracer().Start(ctx, "queryvm.engine.Get", trace.WithAttributes(
		attribute.String("db", db),
		attribute.String("mode", mode.String()),
	))
	defer span.End()

	e.mu.Lock()
	info := e.cacheFor(mode).get(db, sql)
	e.mu.Unlock()

	e.metrics.recordLookup(ctx, mode, info != nil)
	span.SetAttributes(attribute.Bool("cache_hit", info != nil))
	if info != nil {
		e.hits.Add(1)
		s.SetCompileInfo(info)
		return nil
	}
	e.misses.Add(1)

	var err error
	if e.opts.DedupInflight {
		var v any
		v, err, _ = e.inflight.Do(flightKey(mode, db, sql), func() (any, error) {
			// A flight that finished after our lookup has already cached it.
			e.mu.Lock()
			cached := e.cacheFor(mode).get(db, sql)
			e.mu.Unlock()
			if cached != nil {
				return cached, nil
			}
			// Waiters share this result, so the caller that started the
			// flight must not be able to cancel it.
			fctx, fspan := ctxutil.StartLinkedSpan(ctxutil.Detach(ctx), telemetry.Tracer(), "queryvm.engine.SharedCompile")
			defer fspan.End()
			return e.compileAndInsert(fctx, sql, db, mode)
		})
		if err == nil {
			info = v.(*CompileInfo)
		}
	} else {
		info, err = e.compileAndInsert(ctx, sql, db, mode)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.SetCompileInfo(info)
	return nil
}

// flightKey length-prefixes db so that no (db, sql) pair can spell another
// pair's key.
func flightKey(mode Mode, db, sql string) string {
	return fmt.Sprintf("%s/%d:%s/%s", mode, len(db), db, sql)
}

func (e *Engine) compileAndInsert(ctx context.Context, sql, db string, mode Mode) (*CompileInfo, error) {
	info, gen, err := e.compile(ctx, sql, db, mode)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.catalogGen.Load() != gen {
		e.mu.Unlock()
		e.logger.DebugContext(ctx, "catalog changed during compile, not caching", "db", db, "mode", mode.String())
		return info, nil
	}
	cached, inserted := e.cacheFor(mode).insert(info)
	e.mu.Unlock()

	if !inserted {
		e.discarded.Add(1)
		e.metrics.recordDiscard(ctx, mode)
		e.logger.DebugContext(ctx, "discarding duplicate compile", "db", db, "mode", mode.String())
		return cached, nil
	}
	e.metrics.addEntries(ctx, mode, 1)
	return cached, nil
}

// compile builds a fresh artifact against the current catalog snapshot and
// returns the catalog generation that snapshot belongs to.
func (e *Engine) compile(ctx context.Context, sql, db string, mode Mode) (_ *CompileInfo, gen uint64, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "queryvm.engine.Compile")
	defer span.End()

	start := time.Now()
	e.compiles.Add(1)
	defer func() {
		e.metrics.recordCompile(ctx, mode, err, time.Since(start))
		if err != nil {
			e.compileErrors.Add(1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.DebugContext(ctx, "compile failed", "db", db, "mode", mode.String(), "error", err)
		}
	}()

	// Generation first: a swap landing in between makes gen stale, never
	// the snapshot newer than gen.
	gen = e.catalogGen.Load()
	c := e.factory(e.holder.Load(), compiler.Options{KeepIR: e.opts.KeepIR, PlanOnly: e.opts.PlanOnly})
	sc := &compiler.SQLContext{SQL: sql, DB: db, IsBatchMode: mode == ModeBatch}
	if err := c.Compile(ctx, sc); err != nil {
		if !mterrors.IsCode(err, mterrors.CompileFailed) {
			err = mterrors.QV10001(err, sql, db)
		}
		return nil, 0, err
	}
	if !e.opts.CompileOnly {
		if err := e.buildRunner(ctx, c, sc); err != nil {
			if !mterrors.IsCode(err, mterrors.RunnerBuildFailed) {
				err = mterrors.QV10002(err, sql, db)
			}
			return nil, 0, err
		}
	}
	return newCompileInfo(sc), gen, nil
}

func (e *Engine) buildRunner(ctx context.Context, c compiler.Compiler, sc *compiler.SQLContext) error {
	ctx, span := telemetry.Tracer().Start(ctx, "queryvm.engine.BuildRunner")
	defer span.End()
	return c.BuildRunner(ctx, sc)
}

// ClearCache drops every cached artifact of db in both modes. Sessions
// already bound keep their artifacts.
func (e *Engine) ClearCache(db string) {
	e.mu.Lock()
	nb := e.batch.clearDB(db)
	nr := e.request.clearDB(db)
	e.mu.Unlock()

	ctx := context.Background()
	e.metrics.addEntries(ctx, ModeBatch, -nb)
	e.metrics.addEntries(ctx, ModeRequest, -nr)
	if nb+nr > 0 {
		e.logger.Debug("cleared compile cache", "db", db, "batch", nb, "request", nr)
	}
}

// SetCatalog publishes cat to later compiles and clears the cache of every
// database known to the outgoing or the incoming catalog. Compiles already
// running finish against the snapshot they loaded; their artifacts reach
// their callers but are not cached.
func (e *Engine) SetCatalog(cat catalog.Catalog) {
	old := e.holder.Store(cat)
	e.catalogGen.Add(1)
	var dbs []string
	if old != nil {
		dbs = append(dbs, old.Databases()...)
	}
	if cat != nil {
		dbs = append(dbs, cat.Databases()...)
	}
	for _, db := range dbs {
		e.ClearCache(db)
	}
	e.logger.Info("catalog updated", "databases", len(dbs))
}

// Catalog returns the current catalog snapshot.
func (e *Engine) Catalog() catalog.Catalog {
	return e.holder.Load()
}

// CacheSize returns the number of artifacts cached for mode.
func (e *Engine) CacheSize(mode Mode) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cacheFor(mode).len()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Hits:          e.hits.Load(),
		Misses:        e.misses.Load(),
		Compiles:      e.compiles.Load(),
		CompileErrors: e.compileErrors.Load(),
		Discarded:     e.discarded.Load(),
	}
}
