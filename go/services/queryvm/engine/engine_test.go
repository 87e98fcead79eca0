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

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/queryvm/queryvm/go/common/mterrors"
	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/catalog"
	"github.com/queryvm/queryvm/go/services/queryvm/compiler"
	"github.com/queryvm/queryvm/go/services/queryvm/handler"
	"github.com/queryvm/queryvm/go/services/queryvm/runner"
	"github.com/queryvm/queryvm/go/tools/telemetry"
)

var intSchema = sqltypes.Schema{{Name: "v", Type: sqltypes.Int64}}

// fakeFactory hands out compilers that record how they were built and
// produce runners backed by run.
type fakeFactory struct {
	compiles atomic.Int32
	builds   atomic.Int32

	mu       sync.Mutex
	opts     []compiler.Options
	catalogs []catalog.Catalog

	compileErr error
	buildErr   error
	// entered receives once per Compile call, before block is waited on.
	entered chan struct{}
	block   chan struct{}
	run     func(c *runner.Context) (handler.Output, error)
}

func (f *fakeFactory) new(cat catalog.Catalog, opts compiler.Options) compiler.Compiler {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = append(f.opts, opts)
	f.catalogs = append(f.catalogs, cat)
	return &fakeCompiler{f: f, opts: opts}
}

func (f *fakeFactory) lastOptions() compiler.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts[len(f.opts)-1]
}

func (f *fakeFactory) lastCatalog() catalog.Catalog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.catalogs[len(f.catalogs)-1]
}

type fakeCompiler struct {
	f    *fakeFactory
	opts compiler.Options
}

func (c *fakeCompiler) Compile(ctx context.Context, sc *compiler.SQLContext) error {
	c.f.compiles.Add(1)
	if c.f.entered != nil {
		c.f.entered <- struct{}{}
	}
	if c.f.block != nil {
		<-c.f.block
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.f.compileErr != nil {
		return c.f.compileErr
	}
	sc.LogicalPlanText = "LOGICAL " + sc.SQL + "\n"
	sc.PhysicalPlanText = "PHYSICAL " + sc.SQL + "\n"
	sc.Schema = intSchema
	if !sc.IsBatchMode {
		sc.RequestSchema = sqltypes.Schema{{Name: "in", Type: sqltypes.Int64}}
	}
	if c.opts.KeepIR {
		sc.IR = "; ir\n"
	}
	return nil
}

func (c *fakeCompiler) BuildRunner(_ context.Context, sc *compiler.SQLContext) error {
	c.f.builds.Add(1)
	if c.f.buildErr != nil {
		return c.f.buildErr
	}
	sc.Runner = &fakeRunner{run: c.f.run}
	return nil
}

type fakeRunner struct {
	run func(c *runner.Context) (handler.Output, error)
}

func (*fakeRunner) ID() int { return 1 }
func (*fakeRunner) Kind() runner.Kind { return runner.KindData }
func (*fakeRunner) Producers() []runner.Runner { return nil }
func (*fakeRunner) Schema() sqltypes.Schema { return intSchema }

func (r *fakeRunner) RunWithCache(c *runner.Context) (handler.Output, error) {
	if r.run == nil {
		return handler.NewMemTableHandler(intSchema), nil
	}
	return r.run(c)
}

func testCatalog(t *testing.T, dbs ...string) catalog.Catalog {
	t.Helper()
	var databases []*catalog.Database
	for _, db := range dbs {
		databases = append(databases, &catalog.Database{Name: db})
	}
	cat, err := catalog.NewMemCatalog(databases...)
	require.NoError(t, err)
	return cat
}

func newTestEngine(t *testing.T, f *fakeFactory, opts Options) *Engine {
	t.Helper()
	opts.Compiler = f.new
	return New(testCatalog(t, "shop", "ops"), opts)
}

func TestGetCachesPerKey(t *testing.T) {
	f := &fakeFactory{}
	e := newTestEngine(t, f, Options{})
	ctx := context.Background()

	s1, s2 := NewBatchRunSession(), NewBatchRunSession()
	require.NoError(t, e.Get(ctx, "SELECT 1", "shop", s1))
	require.NoError(t, e.Get(ctx, "SELECT 1", "shop", s2))
	assert.Same(t, s1.CompileInfo(), s2.CompileInfo())
	assert.EqualValues(t, 1, f.compiles.Load())
	assert.EqualValues(t, 1, f.builds.Load())

	info := s1.CompileInfo()
	assert.Equal(t, "SELECT 1", info.SQL())
	assert.Equal(t, "shop", info.DB())
	assert.True(t, info.IsBatchMode())
	assert.Equal(t, "LOGICAL SELECT 1\n", info.LogicalPlanText())
	assert.NotNil(t, info.Runner())
	assert.Empty(t, info.IR())

	s3, s4 := NewBatchRunSession(), NewBatchRunSession()
	require.NoError(t, e.Get(ctx, "SELECT 2", "shop", s3))
	require.NoError(t, e.Get(ctx, "SELECT 1", "ops", s4))
	assert.NotSame(t, info, s3.CompileInfo())
	assert.NotSame(t, info, s4.CompileInfo())

	assert.Equal(t, 3, e.CacheSize(ModeBatch))
	assert.Equal(t, 0, e.CacheSize(ModeRequest))
	assert.Equal(t, Stats{Hits: 1, Misses: 3, Compiles: 3}, e.Stats())
}

func TestGetSeparatesModes(t *testing.T) {
	f := &fakeFactory{}
	e := newTestEngine(t, f, Options{KeepIR: true})
	ctx := context.Background()

	batch, request := NewBatchRunSession(), NewRequestRunSession()
	require.NoError(t, e.Get(ctx, "SELECT v", "shop", batch))
	require.NoError(t, e.Get(ctx, "SELECT v", "shop", request))

	assert.NotSame(t, batch.CompileInfo(), request.CompileInfo())
	assert.Equal(t, ModeBatch, batch.CompileInfo().Mode())
	assert.Equal(t, ModeRequest, request.CompileInfo().Mode())
	assert.Empty(t, batch.CompileInfo().RequestSchema())
	assert.Equal(t, "[in:int64]", request.CompileInfo().RequestSchema().String())
	assert.Equal(t, "; ir\n", request.CompileInfo().IR())
	assert.EqualValues(t, 2, f.compiles.Load())
	assert.Equal(t, 1, e.CacheSize(ModeBatch))
	assert.Equal(t, 1, e.CacheSize(ModeRequest))
	assert.Equal(t, compiler.Options{KeepIR: true}, f.lastOptions())
}

func TestGetNilSession(t *testing.T) {
	e := newTestEngine(t, &fakeFactory{}, Options{})
	err := e.Get(context.Background(), "SELECT 1", "shop", nil)
	assert.Equal(t, mterrors.InvalidArgument, mterrors.CodeOf(err))
}

func TestExplainDoesNotCache(t *testing.T) {
	f := &fakeFactory{}
	e := newTestEngine(t, f, Options{})
	ctx := context.Background()

	var out ExplainOutput
	require.NoError(t, e.Explain(ctx, "SELECT v", "shop", false, &out))
	assert.Equal(t, "[in:int64]", out.InputSchema.String())
	assert.Equal(t, "[v:int64]", out.OutputSchema.String())
	assert.Equal(t, "LOGICAL SELECT v\n", out.LogicalPlan)
	assert.Equal(t, "PHYSICAL SELECT v\n", out.PhysicalPlan)
	assert.Equal(t, "; ir\n", out.IR)
	assert.Equal(t, compiler.Options{KeepIR: true, PlanOnly: true}, f.lastOptions())
	assert.Contains(t, out.String(), "physical plan:\nPHYSICAL SELECT v\n")

	// Explain after Get still compiles and leaves the cached entry alone.
	s := NewRequestRunSession()
	require.NoError(t, e.Get(ctx, "SELECT v", "shop", s))
	require.NoError(t, e.Explain(ctx, "SELECT v", "shop", false, &out))

	assert.EqualValues(t, 3, f.compiles.Load())
	assert.EqualValues(t, 1, f.builds.Load())
	assert.Equal(t, 1, e.CacheSize(ModeRequest))
	assert.Equal(t, 0, e.CacheSize(ModeBatch))
}

func TestExplainErrors(t *testing.T) {
	f := &fakeFactory{}
	e := newTestEngine(t, f, Options{})

	err := e.Explain(context.Background(), "SELECT 1", "shop", true, nil)
	assert.Equal(t, mterrors.InvalidArgument, mterrors.CodeOf(err))
	assert.EqualValues(t, 0, f.compiles.Load())

	f.compileErr = errors.New("bad sql")
	var out ExplainOutput
	err = e.Explain(context.Background(), "SELECT 1", "shop", true, &out)
	assert.Same(t, f.compileErr, err)
	assert.Equal(t, ExplainOutput{}, out)
	assert.Equal(t, 0, e.CacheSize(ModeBatch))
}

func TestClearCache(t *testing.T) {
	f := &fakeFactory{}
	e := newTestEngine(t, f, Options{})
	ctx := context.Background()

	keep := NewBatchRunSession()
	require.NoError(t, e.Get(ctx, "SELECT 1", "shop", keep))
	require.NoError(t, e.Get(ctx, "SELECT 1", "shop", NewRequestRunSession()))
	require.NoError(t, e.Get(ctx, "SELECT 1", "ops", NewBatchRunSession()))

	e.ClearCache("SHOP")
	assert.Equal(t, 1, e.CacheSize(ModeBatch))
	assert.Equal(t, 0, e.CacheSize(ModeRequest))

	// The evicted artifact stays usable by the session holding it.
	_, err := keep.Run(ctx)
	require.NoError(t, err)

	again := NewBatchRunSession()
	require.NoError(t, e.Get(ctx, "SELECT 1", "shop", again))
	assert.NotSame(t, keep.CompileInfo(), again.CompileInfo())
	assert.EqualValues(t, 4, f.compiles.Load())

	e.ClearCache("missing")
	assert.Equal(t, 2, e.CacheSize(ModeBatch))
}

func TestCompileFailuresAreNotCached(t *testing.T) {
	cause := errors.New("no such table")

	t.Run("compile", func(t *testing.T) {
		f := &fakeFactory{compileErr: cause}
		e := newTestEngine(t, f, Options{})
		s := NewBatchRunSession()

		err := e.Get(context.Background(), "SELECT x", "shop", s)
		require.Error(t, err)
		assert.Equal(t, mterrors.CompileFailed, mterrors.CodeOf(err))
		assert.ErrorIs(t, err, cause)
		assert.True(t, mterrors.IsError(err, "QV10001"))
		assert.Nil(t, s.CompileInfo())
		assert.Equal(t, 0, e.CacheSize(ModeBatch))
		assert.EqualValues(t, 0, f.builds.Load())
		assert.EqualValues(t, 1, e.Stats().CompileErrors)
	})

	t.Run("build", func(t *testing.T) {
		f := &fakeFactory{buildErr: cause}
		e := newTestEngine(t, f, Options{})

		err := e.Get(context.Background(), "SELECT x", "shop", NewRequestRunSession())
		require.Error(t, err)
		assert.Equal(t, mterrors.RunnerBuildFailed, mterrors.CodeOf(err))
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 0, e.CacheSize(ModeRequest))
	})

	t.Run("coded errors pass through", func(t *testing.T) {
		coded := mterrors.QV10001(cause, "SELECT x", "shop")
		f := &fakeFactory{compileErr: coded}
		e := newTestEngine(t, f, Options{})

		err := e.Get(context.Background(), "SELECT x", "shop", NewBatchRunSession())
		assert.Same(t, coded, err)
	})
}

func TestCompileOnly(t *testing.T) {
	f := &fakeFactory{}
	e := newTestEngine(t, f, Options{CompileOnly: true, PlanOnly: true})
	s := NewBatchRunSession()

	require.NoError(t, e.Get(context.Background(), "SELECT 1", "shop", s))
	assert.EqualValues(t, 0, f.builds.Load())
	assert.Nil(t, s.CompileInfo().Runner())
	assert.Equal(t, compiler.Options{PlanOnly: true}, f.lastOptions())

	_, err := s.Run(context.Background())
	assert.Equal(t, mterrors.SessionNotBound, mterrors.CodeOf(err))
	assert.True(t, mterrors.IsError(err, "QV20005"))
}

func TestSetCatalog(t *testing.T) {
	f := &fakeFactory{}
	e := newTestEngine(t, f, Options{})
	ctx := context.Background()
	old := e.Catalog()

	require.NoError(t, e.Get(ctx, "SELECT 1", "shop", NewBatchRunSession()))
	require.NoError(t, e.Get(ctx, "SELECT 1", "ops", NewRequestRunSession()))
	require.NoError(t, e.Get(ctx, "SELECT 1", "other", NewBatchRunSession()))
	assert.Same(t, old, f.lastCatalog())

	next := testCatalog(t, "shop")
	e.SetCatalog(next)
	assert.Same(t, next, e.Catalog())

	// shop is in both catalogs and ops in the old one; other is in neither.
	assert.Equal(t, 1, e.CacheSize(ModeBatch))
	assert.Equal(t, 0, e.CacheSize(ModeRequest))

	require.NoError(t, e.Get(ctx, "SELECT 1", "shop", NewBatchRunSession()))
	assert.Same(t, next, f.lastCatalog())
}

func TestSetCatalogDuringCompile(t *testing.T) {
	for _, dedup := range []bool{false, true} {
		t.Run(fmt.Sprintf("dedup=%v", dedup), func(t *testing.T) {
			f := &fakeFactory{entered: make(chan struct{}, 2), block: make(chan struct{})}
			e := newTestEngine(t, f, Options{DedupInflight: dedup})
			old := e.Catalog()
			ctx := context.Background()

			s := NewBatchRunSession()
			errc := make(chan error, 1)
			go func() { errc <- e.Get(ctx, "SELECT 1", "shop", s) }()
			<-f.entered

			next := testCatalog(t, "shop")
			e.SetCatalog(next)
			close(f.block)
			require.NoError(t, <-errc)

			// The caller still gets its artifact, but it is not cached.
			require.NotNil(t, s.CompileInfo())
			assert.Same(t, old, f.lastCatalog())
			assert.Equal(t, 0, e.CacheSize(ModeBatch))

			again := NewBatchRunSession()
			require.NoError(t, e.Get(ctx, "SELECT 1", "shop", again))
			assert.NotSame(t, s.CompileInfo(), again.CompileInfo())
			assert.Same(t, next, f.lastCatalog())
			assert.EqualValues(t, 2, f.compiles.Load())
			assert.Equal(t, 1, e.CacheSize(ModeBatch))
		})
	}
}

func TestFlightKeyIsUnambiguous(t *testing.T) {
	assert.NotEqual(t, flightKey(ModeBatch, "a\x00b", "c"), flightKey(ModeBatch, "a", "b\x00c"))
	assert.NotEqual(t, flightKey(ModeBatch, "a/1:b", "c"), flightKey(ModeBatch, "a", "1:b/c"))
	assert.NotEqual(t, flightKey(ModeBatch, "shop", "SELECT 1"), flightKey(ModeRequest, "shop", "SELECT 1"))
	assert.Equal(t, flightKey(ModeRequest, "shop", "SELECT 1"), flightKey(ModeRequest, "shop", "SELECT 1"))
}

func TestConcurrentGetCachesOneArtifact(t *testing.T) {
	const n = 8

	for _, dedup := range []bool{false, true} {
		t.Run(fmt.Sprintf("dedup=%v", dedup), func(t *testing.T) {
			f := &fakeFactory{entered: make(chan struct{}, n), block: make(chan struct{})}
			e := newTestEngine(t, f, Options{DedupInflight: dedup})

			sessions := make([]*BatchRunSession, n)
			errs := make([]error, n)
			var wg sync.WaitGroup
			for i := range n {
				sessions[i] = NewBatchRunSession()
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs[i] = e.Get(context.Background(), "SELECT 1", "shop", sessions[i])
				}()
			}

			if dedup {
				<-f.entered
				require.Eventually(t, func() bool { return e.Stats().Misses == n }, 5*time.Second, time.Millisecond)
			} else {
				for range n {
					<-f.entered
				}
			}
			close(f.block)
			wg.Wait()

			for i := range n {
				require.NoError(t, errs[i])
				assert.Same(t, sessions[0].CompileInfo(), sessions[i].CompileInfo())
			}
			assert.Equal(t, 1, e.CacheSize(ModeBatch))

			stats := e.Stats()
			if dedup {
				assert.EqualValues(t, 1, f.compiles.Load())
				assert.Zero(t, stats.Discarded)
			} else {
				assert.EqualValues(t, n, f.compiles.Load())
				assert.EqualValues(t, n-1, stats.Discarded)
			}
		})
	}
}

func TestSharedCompileOutlivesLeader(t *testing.T) {
	tel := telemetry.SetupTestTelemetry(t)
	f := &fakeFactory{entered: make(chan struct{}, 2), block: make(chan struct{})}
	e := newTestEngine(t, f, Options{DedupInflight: true})

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leader, follower := NewBatchRunSession(), NewBatchRunSession()
	leaderErr, followerErr := make(chan error, 1), make(chan error, 1)

	go func() { leaderErr <- e.Get(leaderCtx, "SELECT 1", "shop", leader) }()
	<-f.entered
	go func() { followerErr <- e.Get(context.Background(), "SELECT 1", "shop", follower) }()
	require.Eventually(t, func() bool { return e.Stats().Misses == 2 }, 5*time.Second, time.Millisecond)

	cancel()
	close(f.block)

	require.NoError(t, <-leaderErr)
	require.NoError(t, <-followerErr)
	assert.Same(t, leader.CompileInfo(), follower.CompileInfo())
	assert.EqualValues(t, 1, f.compiles.Load())
	assert.Contains(t, tel.SpanNames(), "queryvm.engine.SharedCompile")
}

func TestEngineTelemetry(t *testing.T) {
	tel := telemetry.SetupTestTelemetry(t)
	e := newTestEngine(t, &fakeFactory{}, Options{})
	ctx := context.Background()

	require.NoError(t, e.Get(ctx, "SELECT 1", "shop", NewBatchRunSession()))
	require.NoError(t, e.Get(ctx, "SELECT 1", "shop", NewBatchRunSession()))

	names := tel.SpanNames()
	assert.Contains(t, names, "queryvm.engine.Get")
	assert.Contains(t, names, "queryvm.engine.Compile")
	assert.Contains(t, names, "queryvm.engine.BuildRunner")

	lookups, ok := tel.Metric(t, "queryvm.engine.cache.lookups").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	results := map[string]int64{}
	for _, dp := range lookups.DataPoints {
		v, _ := dp.Attributes.Value("result")
		results[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"hit": 1, "miss": 1}, results)

	entries, ok := tel.Metric(t, "queryvm.engine.cache.entries").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, entries.DataPoints, 1)
	assert.EqualValues(t, 1, entries.DataPoints[0].Value)

	hist, ok := tel.Metric(t, "queryvm.engine.compile.duration").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.EqualValues(t, 1, hist.DataPoints[0].Count)
}
