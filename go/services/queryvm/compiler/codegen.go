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

package compiler

import (
	"fmt"
	"strings"

	"github.com/queryvm/queryvm/go/services/queryvm/runner"
)

// Program holds the compiled expressions of a physical plan, keyed by the
// plan node that evaluates them.
type Program struct {
	nodes map[Plan]*nodeCode
}

type nodeCode struct {
	pred   runner.Func
	exprs  []runner.Func
	groups []runner.Func
	aggs   []*runner.Aggregate
}

func (p *Program) code(n Plan) *nodeCode {
	if c, ok := p.nodes[n]; ok {
		return c
	}
	return &nodeCode{}
}

// codegen compiles every expression of a physical plan into closures and
// writes a register-style listing of them.
type codegen struct {
	prog  *Program
	ir    strings.Builder
	reg   int
	steps int
}

func generate(root Plan) (*Program, string, error) {
	g := &codegen{prog: &Program{nodes: make(map[Plan]*nodeCode)}}
	if err := g.node(root); err != nil {
		return nil, "", err
	}
	return g.prog, g.ir.String(), nil
}

func (g *codegen) node(n Plan) error {
	for _, in := range n.Inputs() {
		if err := g.node(in); err != nil {
			return err
		}
	}
	g.steps++
	fmt.Fprintf(&g.ir, "; %d %s\n", g.steps, n.Name())
	code := &nodeCode{}
	var err error
	switch n := n.(type) {
	case *FilterNode:
		var reg string
		if code.pred, reg, err = g.expr(n.Pred); err != nil {
			return err
		}
		fmt.Fprintf(&g.ir, "  filter %s\n", reg)
	case *ProjectNode:
		var regs []string
		if code.exprs, regs, err = g.exprs(n.Exprs); err != nil {
			return err
		}
		fmt.Fprintf(&g.ir, "  emit %s\n", strings.Join(regs, ", "))
	case *GroupPartitionNode:
		var regs []string
		if code.groups, regs, err = g.exprs(n.Groups); err != nil {
			return err
		}
		fmt.Fprintf(&g.ir, "  partition %s\n", strings.Join(regs, ", "))
	case *GroupAggregateNode:
		if code.groups, _, err = g.exprs(n.Groups); err != nil {
			return err
		}
		if code.aggs, err = g.aggs(n.Aggs); err != nil {
			return err
		}
	case *TableAggregateNode:
		if code.aggs, err = g.aggs(n.Aggs); err != nil {
			return err
		}
	case *RequestAggregateNode:
		if code.aggs, err = g.aggs(n.Aggs); err != nil {
			return err
		}
	case *LimitNode:
		fmt.Fprintf(&g.ir, "  limit %d\n", n.Count)
	case *TableScanNode, *RequestRowNode:
		fmt.Fprintf(&g.ir, "  input %s %s\n", n.Detail(), n.Schema())
	case *ConstRowNode:
		g.ir.WriteString("  input ()\n")
	default:
		return fmt.Errorf("[BUG] no code generation for %s", n.Name())
	}
	g.prog.nodes[n] = code
	return nil
}

func (g *codegen) exprs(exprs []Expr) ([]runner.Func, []string, error) {
	funcs := make([]runner.Func, len(exprs))
	regs := make([]string, len(exprs))
	for i, e := range exprs {
		f, reg, err := g.expr(e)
		if err != nil {
			return nil, nil, err
		}
		funcs[i], regs[i] = f, reg
	}
	return funcs, regs, nil
}

func (g *codegen) aggs(aggs []*AggCall) ([]*runner.Aggregate, error) {
	out := make([]*runner.Aggregate, len(aggs))
	for i, a := range aggs {
		if a.Arg == nil {
			g.ir.WriteString("  agg count(*)\n")
			out[i] = a.spec(nil)
			continue
		}
		f, reg, err := g.expr(a.Arg)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&g.ir, "  agg %s %s %s\n", a.Func, a.Arg.Type(), reg)
		out[i] = a.spec(f)
	}
	return out, nil
}

func (g *codegen) emit(format string, args ...any) string {
	g.reg++
	reg := fmt.Sprintf("%%%d", g.reg)
	fmt.Fprintf(&g.ir, "  %s = %s\n", reg, fmt.Sprintf(format, args...))
	return reg
}

var opNames = map[string]string{
	"+": "add", "-": "sub", "*": "mul", "/": "div", "%": "mod",
	"=": "eq", "<>": "ne", "!=": "ne", "<": "lt", "<=": "le", ">": "gt", ">=": "ge",
}

// expr compiles e and returns the closure and the register holding its
// value in the listing.
func (g *codegen) expr(e Expr) (runner.Func, string, error) {
	switch e := e.(type) {
	case *ColumnExpr:
		return runner.ColumnRef(e.Index), g.emit("load $%d %s ; %s", e.Index, e.Typ, e.Name), nil
	case *ConstExpr:
		return runner.Constant(e.Value), g.emit("const %s %s", e.Typ, e), nil
	case *BinaryExpr:
		l, lr, err := g.expr(e.Left)
		if err != nil {
			return nil, "", err
		}
		r, rr, err := g.expr(e.Right)
		if err != nil {
			return nil, "", err
		}
		var f runner.Func
		if e.isComparison() {
			f, err = runner.Cmp(e.Op, e.OperandType, l, r)
		} else {
			f, err = runner.Arith(e.Op, e.OperandType, l, r)
		}
		if err != nil {
			return nil, "", err
		}
		return f, g.emit("%s %s %s, %s", opNames[e.Op], e.OperandType, lr, rr), nil
	case *LogicExpr:
		l, lr, err := g.expr(e.Left)
		if err != nil {
			return nil, "", err
		}
		if e.Op == "NOT" {
			return runner.Not(l), g.emit("not %s", lr), nil
		}
		r, rr, err := g.expr(e.Right)
		if err != nil {
			return nil, "", err
		}
		if e.Op == "AND" {
			return runner.And(l, r), g.emit("and %s, %s", lr, rr), nil
		}
		return runner.Or(l, r), g.emit("or %s, %s", lr, rr), nil
	case *NullTestExpr:
		arg, reg, err := g.expr(e.Arg)
		if err != nil {
			return nil, "", err
		}
		op := "isnull"
		if e.Negate {
			op = "notnull"
		}
		return runner.IsNull(arg, e.Negate), g.emit("%s %s", op, reg), nil
	case *AggCall:
		return nil, "", fmt.Errorf("aggregate %s outside of an aggregation", e)
	}
	return nil, "", fmt.Errorf("[BUG] no code generation for %T", e)
}
