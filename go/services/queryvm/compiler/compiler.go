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

// Package compiler turns SQL text into plans and an executable runner tree.
//
// The pipeline is parse (pg_query_go), bind against a catalog snapshot into
// a logical plan, pick mode-specific physical operators, compile
// expressions into closures, and finally build the runner tree.
package compiler

import (
	"context"
	"fmt"

	"github.com/queryvm/queryvm/go/common/mterrors"
	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/catalog"
	"github.com/queryvm/queryvm/go/services/queryvm/runner"
)

// SQLContext is the input and the output of a compilation.
type SQLContext struct {
	SQL         string
	DB          string
	IsBatchMode bool

	LogicalPlan      Plan
	PhysicalPlan     Plan
	LogicalPlanText  string
	PhysicalPlanText string

	// Program is nil when compiled with PlanOnly.
	Program *Program
	// IR is the listing of the compiled expressions, kept with KeepIR.
	IR string

	// RequestSchema is the layout of the request row. It is empty in
	// batch mode.
	RequestSchema sqltypes.Schema
	Schema        sqltypes.Schema

	Runner runner.Runner
}

// Options tune a compiler.
type Options struct {
	// KeepIR keeps the expression listing in SQLContext.IR.
	KeepIR bool
	// ExplainOnly makes BuildRunner fail.
	ExplainOnly bool
	// PlanOnly stops after planning; the result cannot be built into a
	// runner.
	PlanOnly bool
}

// Compiler compiles SQL against the catalog snapshot it was created with.
type Compiler interface {
	Compile(ctx context.Context, sc *SQLContext) error
	BuildRunner(ctx context.Context, sc *SQLContext) error
}

// Factory creates a compiler over a catalog snapshot.
type Factory func(cat catalog.Catalog, opts Options) Compiler

// SQLCompiler is the default Compiler.
type SQLCompiler struct {
	cat  catalog.Catalog
	opts Options
}

var _ Compiler = (*SQLCompiler)(nil)

// NewSQLCompiler is a Factory.
func NewSQLCompiler(cat catalog.Catalog, opts Options) Compiler {
	return &SQLCompiler{cat: cat, opts: opts}
}

// Compile parses, binds and plans sc.SQL. On failure sc may be partially
// filled and must be discarded.
func (c *SQLCompiler) Compile(ctx context.Context, sc *SQLContext) error {
	if err := c.compile(ctx, sc); err != nil {
		return mterrors.QV10001(err, sc.SQL, sc.DB)
	}
	return nil
}

func (c *SQLCompiler) compile(ctx context.Context, sc *SQLContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.cat == nil {
		return fmt.Errorf("no catalog")
	}
	sel, err := parseSelect(sc.SQL)
	if err != nil {
		return err
	}
	b := &binder{cat: c.cat, db: sc.DB}
	logical, err := b.bindSelect(sel)
	if err != nil {
		return err
	}
	sc.LogicalPlan = logical
	sc.LogicalPlanText = FormatPlan(logical)

	phys, err := physicalPlan(logical, sc.IsBatchMode)
	if err != nil {
		return err
	}
	sc.PhysicalPlan = phys
	sc.PhysicalPlanText = FormatPlan(phys)
	sc.Schema = phys.Schema()
	sc.RequestSchema = nil
	if !sc.IsBatchMode {
		sc.RequestSchema = requestSchema(phys)
	}

	prog, ir, err := generate(phys)
	if err != nil {
		return err
	}
	if c.opts.KeepIR {
		sc.IR = ir
	}
	if !c.opts.PlanOnly {
		sc.Program = prog
	}
	return nil
}

// BuildRunner builds the runner tree of a compiled context.
func (c *SQLCompiler) BuildRunner(ctx context.Context, sc *SQLContext) error {
	if err := c.buildRunner(ctx, sc); err != nil {
		return mterrors.QV10002(err, sc.SQL, sc.DB)
	}
	return nil
}

func (c *SQLCompiler) buildRunner(ctx context.Context, sc *SQLContext) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case c.opts.ExplainOnly:
		return fmt.Errorf("compiler is explain-only")
	case sc.PhysicalPlan == nil:
		return fmt.Errorf("sql is not compiled")
	case sc.Program == nil:
		return fmt.Errorf("sql was compiled plan-only")
	}
	b := &builder{prog: sc.Program}
	r, err := b.build(sc.PhysicalPlan)
	if err != nil {
		return err
	}
	sc.Runner = r
	return nil
}

func requestSchema(p Plan) sqltypes.Schema {
	if rr, ok := p.(*RequestRowNode); ok {
		return rr.Schema()
	}
	for _, in := range p.Inputs() {
		if s := requestSchema(in); s != nil {
			return s
		}
	}
	return nil
}

// physicalPlan maps logical operators onto mode-specific ones.
func physicalPlan(p Plan, batch bool) (Plan, error) {
	var in Plan
	if inputs := p.Inputs(); len(inputs) == 1 {
		var err error
		if in, err = physicalPlan(inputs[0], batch); err != nil {
			return nil, err
		}
	}
	switch n := p.(type) {
	case *ScanNode:
		if batch {
			return &TableScanNode{Table: n.Table}, nil
		}
		return &RequestRowNode{Table: n.Table}, nil
	case *ConstRowNode:
		return &ConstRowNode{}, nil
	case *FilterNode:
		return &FilterNode{single: single{in}, Pred: n.Pred}, nil
	case *AggregateNode:
		switch {
		case !batch:
			return &RequestAggregateNode{single: single{in}, Groups: n.Groups, Aggs: n.Aggs, Out: n.Out}, nil
		case len(n.Groups) > 0:
			part := &GroupPartitionNode{single: single{in}, Groups: n.Groups}
			return &GroupAggregateNode{single: single{part}, Groups: n.Groups, Aggs: n.Aggs, Out: n.Out}, nil
		}
		return &TableAggregateNode{single: single{in}, Aggs: n.Aggs, Out: n.Out}, nil
	case *ProjectNode:
		return &ProjectNode{single: single{in}, Exprs: n.Exprs, Out: n.Out}, nil
	case *LimitNode:
		return &LimitNode{single: single{in}, Count: n.Count}, nil
	}
	return nil, fmt.Errorf("[BUG] no physical operator for %s", p.Name())
}

// builder turns a physical plan into runners. Node ids are assigned in
// execution order starting at 1.
type builder struct {
	prog   *Program
	nextID int
}

func (b *builder) id() int {
	b.nextID++
	return b.nextID
}

func (b *builder) build(p Plan) (runner.Runner, error) {
	var in runner.Runner
	if inputs := p.Inputs(); len(inputs) == 1 {
		var err error
		if in, err = b.build(inputs[0]); err != nil {
			return nil, err
		}
	}
	code := b.prog.code(p)
	switch n := p.(type) {
	case *TableScanNode:
		return runner.NewDataRunner(b.id(), n.Table), nil
	case *RequestRowNode:
		return runner.NewRequestRunner(b.id(), n.Schema()), nil
	case *ConstRowNode:
		return runner.NewConstRunner(b.id()), nil
	case *FilterNode:
		return runner.NewFilterRunner(b.id(), in, code.pred), nil
	case *ProjectNode:
		return runner.NewProjectRunner(b.id(), in, n.Out, code.exprs), nil
	case *GroupPartitionNode:
		return runner.NewGroupRunner(b.id(), in, code.groups), nil
	case *GroupAggregateNode:
		return runner.NewAggRunner(b.id(), in, n.Out, code.groups, code.aggs), nil
	case *TableAggregateNode:
		return runner.NewAggRunner(b.id(), in, n.Out, nil, code.aggs), nil
	case *LimitNode:
		return runner.NewLimitRunner(b.id(), in, n.Count), nil
	case *RequestAggregateNode:
		return nil, fmt.Errorf("aggregate queries cannot run in request mode")
	}
	return nil, fmt.Errorf("[BUG] no runner for %s", p.Name())
}
