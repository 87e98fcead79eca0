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

package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/handler"
)

// Context is the state of one plan execution. It carries the optional
// request row, the debug flag and a cache of node outputs keyed by node id,
// so a node shared by several consumers runs once per execution.
//
// A Context is not safe for concurrent use.
type Context struct {
	ctx    context.Context
	input  *sqltypes.Row
	debug  bool
	logger *slog.Logger

	cache map[int]handler.Output
	trace []string
}

// NewBatchContext returns a context for running a batch plan.
func NewBatchContext(ctx context.Context, debug bool) *Context {
	return &Context{
		ctx:    ctx,
		debug:  debug,
		logger: slog.Default(),
		cache:  make(map[int]handler.Output),
	}
}

// NewRequestContext returns a context for running a request plan on in.
func NewRequestContext(ctx context.Context, in *sqltypes.Row, debug bool) *Context {
	c := NewBatchContext(ctx, debug)
	c.input = in
	return c
}

// WithLogger sets the logger used for debug traces.
func (c *Context) WithLogger(logger *slog.Logger) *Context {
	if logger != nil {
		c.logger = logger
	}
	return c
}

func (c *Context) Context() context.Context { return c.ctx }
func (c *Context) Input() *sqltypes.Row { return c.input }
func (c *Context) IsDebug() bool { return c.debug }

// Trace returns the debug lines recorded so far, one per executed node.
func (c *Context) Trace() []string {
	return c.trace
}

func (c *Context) record(r Runner, out handler.Output) {
	if !c.debug {
		return
	}
	line := fmt.Sprintf("[%d] %s -> %s", r.ID(), r.Kind(), describeOutput(out))
	c.trace = append(c.trace, line)
	c.logger.DebugContext(c.ctx, "runner executed", "id", r.ID(), "kind", r.Kind().String(), "output", describeOutput(out))
}

func describeOutput(out handler.Output) string {
	if out == nil {
		return "null"
	}
	return handler.Match(out,
		func(t handler.TableHandler) string { return fmt.Sprintf("table(%d rows)", t.Count()) },
		func(handler.RowHandler) string { return "row" },
		func(p handler.PartitionHandler) string { return fmt.Sprintf("partition(%d keys)", len(p.Keys())) },
	)
}
