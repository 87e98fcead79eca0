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

// Package runner executes physical plans. A plan is a tree of Runner nodes;
// each node consumes the outputs of its producers and returns a
// handler.Output.
package runner

import (
	"fmt"
	"strings"

	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/catalog"
	"github.com/queryvm/queryvm/go/services/queryvm/handler"
)

// Kind names a runner node type.
type Kind int

const (
	KindData Kind = iota + 1
	KindRequest
	KindConst
	KindFilter
	KindProject
	KindGroup
	KindAgg
	KindLimit
)

var kindNames = map[Kind]string{
	KindData:    "DATA",
	KindRequest: "REQUEST",
	KindConst:   "CONST",
	KindFilter:  "FILTER",
	KindProject: "PROJECT",
	KindGroup:   "GROUP",
	KindAgg:     "AGG",
	KindLimit:   "LIMIT",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Runner is one node of an executable plan.
type Runner interface {
	// ID is unique within a plan and keys the per-execution cache.
	ID() int
	Kind() Kind
	Producers() []Runner
	// Schema describes the rows this node outputs.
	Schema() sqltypes.Schema
	// RunWithCache runs the node, reusing its output if it already ran in c.
	RunWithCache(c *Context) (handler.Output, error)
}

type runFunc func(c *Context, inputs []handler.Output) (handler.Output, error)

type base struct {
	id        int
	kind      Kind
	schema    sqltypes.Schema
	producers []Runner
}

func (b *base) ID() int { return b.id }
func (b *base) Kind() Kind { return b.kind }
func (b *base) Producers() []Runner { return b.producers }
func (b *base) Schema() sqltypes.Schema { return b.schema }

// execute runs the producers of r, then fn on their outputs.
func execute(c *Context, r Runner, fn runFunc) (handler.Output, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, err
	}
	if out, ok := c.cache[r.ID()]; ok {
		return out, nil
	}
	inputs := make([]handler.Output, 0, len(r.Producers()))
	for _, p := range r.Producers() {
		out, err := p.RunWithCache(c)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, fmt.Errorf("%s node %d: producer %d returned no output", r.Kind(), r.ID(), p.ID())
		}
		inputs = append(inputs, out)
	}
	out, err := fn(c, inputs)
	if err != nil {
		return nil, fmt.Errorf("%s node %d: %w", r.Kind(), r.ID(), err)
	}
	c.cache[r.ID()] = out
	c.record(r, out)
	return out, nil
}

// Tree renders the plan rooted at r, one node per line, producers indented
// below their consumer.
func Tree(r Runner) string {
	var sb strings.Builder
	var walk func(r Runner, depth int)
	walk = func(r Runner, depth int) {
		fmt.Fprintf(&sb, "%s[%d] %s %s\n", strings.Repeat("  ", depth), r.ID(), r.Kind(), r.Schema())
		for _, p := range r.Producers() {
			walk(p, depth+1)
		}
	}
	walk(r, 0)
	return sb.String()
}

// DataRunner outputs every row of a catalog table.
type DataRunner struct {
	base
	table *catalog.Table
}

func NewDataRunner(id int, table *catalog.Table) *DataRunner {
	return &DataRunner{base: base{id: id, kind: KindData, schema: table.Schema}, table: table}
}

func (r *DataRunner) RunWithCache(c *Context) (handler.Output, error) {
	return execute(c, r, func(*Context, []handler.Output) (handler.Output, error) {
		rows := make([]*sqltypes.Row, len(r.table.Rows))
		copy(rows, r.table.Rows)
		return handler.NewMemTableHandler(r.schema, rows...), nil
	})
}

// RequestRunner outputs the request row of the context.
type RequestRunner struct {
	base
}

func NewRequestRunner(id int, schema sqltypes.Schema) *RequestRunner {
	return &RequestRunner{base: base{id: id, kind: KindRequest, schema: schema}}
}

func (r *RequestRunner) RunWithCache(c *Context) (handler.Output, error) {
	return execute(c, r, func(c *Context, _ []handler.Output) (handler.Output, error) {
		in := c.Input()
		if in == nil {
			return nil, fmt.Errorf("no request row")
		}
		if in.Len() != len(r.schema) {
			return nil, fmt.Errorf("request row has %d values, schema %s has %d", in.Len(), r.schema, len(r.schema))
		}
		return handler.NewMemRowHandler(r.schema, in), nil
	})
}

// ConstRunner outputs a single row with no columns, the input of a SELECT
// without FROM.
type ConstRunner struct {
	base
}

func NewConstRunner(id int) *ConstRunner {
	return &ConstRunner{base: base{id: id, kind: KindConst}}
}

func (r *ConstRunner) RunWithCache(c *Context) (handler.Output, error) {
	return execute(c, r, func(*Context, []handler.Output) (handler.Output, error) {
		return handler.NewMemRowHandler(nil, sqltypes.NewRow()), nil
	})
}

// FilterRunner keeps the rows for which the predicate is true. A row input
// that fails the predicate becomes an empty table.
type FilterRunner struct {
	base
	pred Func
}

func NewFilterRunner(id int, producer Runner, pred Func) *FilterRunner {
	return &FilterRunner{
		base: base{id: id, kind: KindFilter, schema: producer.Schema(), producers: []Runner{producer}},
		pred: pred,
	}
}

func (r *FilterRunner) RunWithCache(c *Context) (handler.Output, error) {
	return execute(c, r, func(_ *Context, in []handler.Output) (handler.Output, error) {
		keep := func(row *sqltypes.Row) (bool, error) {
			v, err := r.pred(row)
			if err != nil {
				return false, err
			}
			return Truthy(v)
		}
		return handler.Match(in[0],
			func(t handler.TableHandler) outcome {
				out := handler.NewMemTableHandler(r.schema)
				it := t.Iterator()
				for it.SeekToFirst(); it.Valid(); it.Next() {
					pass, err := keep(it.Value())
					if err != nil {
						return fail(err)
					}
					if pass {
						out.AddRow(it.Value())
					}
				}
				return ok(out)
			},
			func(rh handler.RowHandler) outcome {
				pass, err := keep(rh.Value())
				if err != nil {
					return fail(err)
				}
				if !pass {
					return ok(handler.NewMemTableHandler(r.schema))
				}
				return ok(rh)
			},
			func(handler.PartitionHandler) outcome {
				return fail(fmt.Errorf("cannot filter a partition"))
			},
		).unpack()
	})
}

// ProjectRunner evaluates one expression per output column.
type ProjectRunner struct {
	base
	exprs []Func
}

func NewProjectRunner(id int, producer Runner, schema sqltypes.Schema, exprs []Func) *ProjectRunner {
	return &ProjectRunner{
		base:  base{id: id, kind: KindProject, schema: schema, producers: []Runner{producer}},
		exprs: exprs,
	}
}

func (r *ProjectRunner) project(in *sqltypes.Row) (*sqltypes.Row, error) {
	out := &sqltypes.Row{Values: make([]sqltypes.Value, len(r.exprs))}
	for i, e := range r.exprs {
		v, err := e(in)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", r.schema[i].Name, err)
		}
		out.Values[i] = v
	}
	return out, nil
}

func (r *ProjectRunner) RunWithCache(c *Context) (handler.Output, error) {
	return execute(c, r, func(_ *Context, in []handler.Output) (handler.Output, error) {
		return handler.Match(in[0],
			func(t handler.TableHandler) outcome {
				out := handler.NewMemTableHandler(r.schema)
				it := t.Iterator()
				for it.SeekToFirst(); it.Valid(); it.Next() {
					row, err := r.project(it.Value())
					if err != nil {
						return fail(err)
					}
					out.AddRow(row)
				}
				return ok(out)
			},
			func(rh handler.RowHandler) outcome {
				row, err := r.project(rh.Value())
				if err != nil {
					return fail(err)
				}
				return ok(handler.NewMemRowHandler(r.schema, row))
			},
			func(handler.PartitionHandler) outcome {
				return fail(fmt.Errorf("cannot project a partition"))
			},
		).unpack()
	})
}

// GroupRunner splits a table into a partition keyed by the group
// expressions.
type GroupRunner struct {
	base
	keys []Func
}

func NewGroupRunner(id int, producer Runner, keys []Func) *GroupRunner {
	return &GroupRunner{
		base: base{id: id, kind: KindGroup, schema: producer.Schema(), producers: []Runner{producer}},
		keys: keys,
	}
}

func (r *GroupRunner) RunWithCache(c *Context) (handler.Output, error) {
	return execute(c, r, func(_ *Context, in []handler.Output) (handler.Output, error) {
		t, isTable := in[0].(handler.TableHandler)
		if !isTable {
			return nil, fmt.Errorf("group input must be a table, got %s", in[0].Kind())
		}
		out := handler.NewMemPartitionHandler(r.schema)
		it := t.Iterator()
		for it.SeekToFirst(); it.Valid(); it.Next() {
			key, err := groupKey(r.keys, it.Value())
			if err != nil {
				return nil, err
			}
			out.Add(key, it.Value())
		}
		return out, nil
	})
}

// groupKey encodes the key values so that distinct tuples never collide.
func groupKey(keys []Func, row *sqltypes.Row) (string, error) {
	var sb strings.Builder
	for _, k := range keys {
		v, err := k(row)
		if err != nil {
			return "", err
		}
		if v.IsNull() {
			sb.WriteString("N;")
			continue
		}
		fmt.Fprintf(&sb, "%d:%s;", len(v), v)
	}
	return sb.String(), nil
}

// AggRunner computes aggregates. A partition input yields a table with one
// row per segment; a table input yields a single row. Output rows hold the
// group key values followed by the aggregate results.
type AggRunner struct {
	base
	keys []Func
	aggs []*Aggregate
}

func NewAggRunner(id int, producer Runner, schema sqltypes.Schema, keys []Func, aggs []*Aggregate) *AggRunner {
	return &AggRunner{
		base: base{id: id, kind: KindAgg, schema: schema, producers: []Runner{producer}},
		keys: keys,
		aggs: aggs,
	}
}

func (r *AggRunner) aggregate(t handler.TableHandler) (*sqltypes.Row, error) {
	out := &sqltypes.Row{Values: make([]sqltypes.Value, 0, len(r.keys)+len(r.aggs))}
	it := t.Iterator()
	it.SeekToFirst()
	if len(r.keys) > 0 {
		if !it.Valid() {
			return nil, fmt.Errorf("empty group")
		}
		for _, k := range r.keys {
			v, err := k(it.Value())
			if err != nil {
				return nil, err
			}
			out.Values = append(out.Values, v)
		}
	}
	accs := make([]*accumulator, len(r.aggs))
	for i, a := range r.aggs {
		accs[i] = a.newAccumulator()
	}
	for ; it.Valid(); it.Next() {
		for _, acc := range accs {
			if err := acc.add(it.Value()); err != nil {
				return nil, err
			}
		}
	}
	for _, acc := range accs {
		v, err := acc.result()
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, v)
	}
	return out, nil
}

func (r *AggRunner) RunWithCache(c *Context) (handler.Output, error) {
	return execute(c, r, func(_ *Context, in []handler.Output) (handler.Output, error) {
		return handler.Match(in[0],
			func(t handler.TableHandler) outcome {
				if len(r.keys) > 0 {
					return fail(fmt.Errorf("grouped aggregate needs a partition input"))
				}
				row, err := r.aggregate(t)
				if err != nil {
					return fail(err)
				}
				return ok(handler.NewMemRowHandler(r.schema, row))
			},
			func(handler.RowHandler) outcome {
				return fail(fmt.Errorf("cannot aggregate a single row"))
			},
			func(p handler.PartitionHandler) outcome {
				out := handler.NewMemTableHandler(r.schema)
				for _, key := range p.Keys() {
					row, err := r.aggregate(p.Segment(key))
					if err != nil {
						return fail(err)
					}
					out.AddRow(row)
				}
				return ok(out)
			},
		).unpack()
	})
}

// LimitRunner truncates a table to at most n rows. A row input passes
// through unless n is zero.
type LimitRunner struct {
	base
	n int64
}

func NewLimitRunner(id int, producer Runner, n int64) *LimitRunner {
	return &LimitRunner{
		base: base{id: id, kind: KindLimit, schema: producer.Schema(), producers: []Runner{producer}},
		n:    n,
	}
}

func (r *LimitRunner) RunWithCache(c *Context) (handler.Output, error) {
	return execute(c, r, func(_ *Context, in []handler.Output) (handler.Output, error) {
		return handler.Match(in[0],
			func(t handler.TableHandler) outcome {
				out := handler.NewMemTableHandler(r.schema)
				it := t.Iterator()
				for it.SeekToFirst(); it.Valid() && int64(out.Count()) < r.n; it.Next() {
					out.AddRow(it.Value())
				}
				return ok(out)
			},
			func(rh handler.RowHandler) outcome {
				if r.n <= 0 {
					return ok(handler.NewMemTableHandler(r.schema))
				}
				return ok(rh)
			},
			func(handler.PartitionHandler) outcome {
				return fail(fmt.Errorf("cannot limit a partition"))
			},
		).unpack()
	})
}

// outcome lets Match callbacks return an output or an error.
type outcome struct {
	out handler.Output
	err error
}

func ok(out handler.Output) outcome { return outcome{out: out} }
func fail(err error) outcome { return outcome{err: err} }

func (o outcome) unpack() (handler.Output, error) { return o.out, o.err }
