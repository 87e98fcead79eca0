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
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/catalog"
	"github.com/queryvm/queryvm/go/services/queryvm/runner"
)

// parseSelect parses sql, which must hold exactly one SELECT statement.
func parseSelect(sql string) (*pg_query.SelectStmt, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("syntax error: %w", err)
	}
	if len(result.Stmts) != 1 {
		return nil, fmt.Errorf("expected one statement, got %d", len(result.Stmts))
	}
	sel := result.Stmts[0].GetStmt().GetSelectStmt()
	if sel == nil {
		return nil, fmt.Errorf("only SELECT statements are supported")
	}
	return sel, nil
}

func unsupported(what string) error {
	return fmt.Errorf("unsupported: %s", what)
}

// scope resolves column names against a row layout.
type scope struct {
	qualifier string
	schema    sqltypes.Schema
}

func (s *scope) resolve(fields []*pg_query.Node) (*ColumnExpr, error) {
	var names []string
	for _, f := range fields {
		if f.GetAStar() != nil {
			return nil, unsupported("qualified *")
		}
		names = append(names, f.GetString_().GetSval())
	}
	switch len(names) {
	case 1:
	case 2:
		if s.qualifier == "" || !strings.EqualFold(names[0], s.qualifier) {
			return nil, fmt.Errorf("missing FROM-clause entry for table %q", names[0])
		}
		names = names[1:]
	default:
		return nil, unsupported(fmt.Sprintf("column reference %s", strings.Join(names, ".")))
	}
	idx := s.schema.Index(names[0])
	if idx < 0 {
		return nil, fmt.Errorf("column %q does not exist", names[0])
	}
	f := s.schema[idx]
	return &ColumnExpr{Index: idx, Name: f.Name, Typ: f.Type}, nil
}

// binder turns a parsed SELECT into a logical plan.
type binder struct {
	cat catalog.Catalog
	db  string

	input *scope
	// aggs collects aggregate calls while binding the select list. It is
	// nil where aggregates are not allowed.
	aggs *[]*AggCall
}

func (b *binder) bindSelect(sel *pg_query.SelectStmt) (Plan, error) {
	switch {
	case sel.GetOp() != pg_query.SetOperation_SETOP_NONE:
		return nil, unsupported("set operations")
	case sel.GetWithClause() != nil:
		return nil, unsupported("WITH")
	case len(sel.GetValuesLists()) > 0:
		return nil, unsupported("VALUES")
	case len(sel.GetDistinctClause()) > 0:
		return nil, unsupported("DISTINCT")
	case len(sel.GetSortClause()) > 0:
		return nil, unsupported("ORDER BY")
	case sel.GetHavingClause() != nil:
		return nil, unsupported("HAVING")
	case len(sel.GetWindowClause()) > 0:
		return nil, unsupported("WINDOW")
	case sel.GetLimitOffset() != nil:
		return nil, unsupported("OFFSET")
	case sel.GetIntoClause() != nil:
		return nil, unsupported("SELECT INTO")
	case len(sel.GetLockingClause()) > 0:
		return nil, unsupported("locking clause")
	}

	plan, err := b.bindFrom(sel.GetFromClause())
	if err != nil {
		return nil, err
	}

	if where := sel.GetWhereClause(); where != nil {
		pred, err := b.bindExpr(where)
		if err != nil {
			return nil, fmt.Errorf("WHERE: %w", err)
		}
		if t := pred.Type(); t != sqltypes.Bool && t != sqltypes.Unknown {
			return nil, fmt.Errorf("argument of WHERE must be type bool, not type %s", t)
		}
		plan = &FilterNode{single: single{plan}, Pred: pred}
	}

	plan, err = b.bindTargets(plan, sel)
	if err != nil {
		return nil, err
	}

	if lc := sel.GetLimitCount(); lc != nil {
		n, all, err := limitCount(lc)
		if err != nil {
			return nil, err
		}
		if !all {
			plan = &LimitNode{single: single{plan}, Count: n}
		}
	}
	return plan, nil
}

func (b *binder) bindFrom(from []*pg_query.Node) (Plan, error) {
	switch len(from) {
	case 0:
		b.input = &scope{}
		return &ConstRowNode{}, nil
	case 1:
	default:
		return nil, unsupported("more than one FROM item")
	}
	rv := from[0].GetRangeVar()
	if rv == nil {
		return nil, unsupported("FROM item other than a table")
	}
	if rv.GetSchemaname() != "" || rv.GetCatalogname() != "" {
		return nil, unsupported("qualified table name")
	}
	table, err := b.cat.Table(b.db, rv.GetRelname())
	if err != nil {
		return nil, err
	}
	qualifier := table.Name
	if alias := rv.GetAlias(); alias != nil {
		qualifier = alias.GetAliasname()
	}
	b.input = &scope{qualifier: qualifier, schema: table.Schema}
	return &ScanNode{Table: table}, nil
}

// bindTargets binds the select list. When the query aggregates, the
// targets are rebound on top of an AggregateNode whose output holds the
// group columns followed by the aggregates.
func (b *binder) bindTargets(input Plan, sel *pg_query.SelectStmt) (Plan, error) {
	var groups []Expr
	for _, g := range sel.GetGroupClause() {
		cr := g.GetColumnRef()
		if cr == nil {
			return nil, unsupported("GROUP BY expression other than a column")
		}
		col, err := b.input.resolve(cr.GetFields())
		if err != nil {
			return nil, fmt.Errorf("GROUP BY: %w", err)
		}
		groups = append(groups, col)
	}

	var aggs []*AggCall
	b.aggs = &aggs
	exprs, schema, err := b.bindTargetList(sel.GetTargetList())
	b.aggs = nil
	if err != nil {
		return nil, err
	}

	if len(aggs) == 0 && len(groups) == 0 {
		return &ProjectNode{single: single{input}, Exprs: exprs, Out: schema}, nil
	}

	aggOut := make(sqltypes.Schema, 0, len(groups)+len(aggs))
	for _, g := range groups {
		aggOut = append(aggOut, &sqltypes.Field{Name: g.String(), Type: g.Type()})
	}
	for _, a := range aggs {
		aggOut = append(aggOut, &sqltypes.Field{Name: a.String(), Type: a.Type()})
	}
	agg := &AggregateNode{single: single{input}, Groups: groups, Aggs: aggs, Out: aggOut}

	rebound := make([]Expr, len(exprs))
	for i, e := range exprs {
		r, err := rebindAggregated(e, groups, aggs, len(groups))
		if err != nil {
			return nil, err
		}
		rebound[i] = r
	}
	return &ProjectNode{single: single{agg}, Exprs: rebound, Out: schema}, nil
}

func (b *binder) bindTargetList(targets []*pg_query.Node) ([]Expr, sqltypes.Schema, error) {
	var exprs []Expr
	var schema sqltypes.Schema
	for _, t := range targets {
		rt := t.GetResTarget()
		if rt == nil {
			return nil, nil, unsupported("target list item")
		}
		if cr := rt.GetVal().GetColumnRef(); cr != nil && isStar(cr.GetFields()) {
			if b.input.schema == nil {
				return nil, nil, fmt.Errorf("SELECT * with no tables specified is not valid")
			}
			for i, f := range b.input.schema {
				exprs = append(exprs, &ColumnExpr{Index: i, Name: f.Name, Typ: f.Type})
				schema = append(schema, &sqltypes.Field{Name: f.Name, Type: f.Type})
			}
			continue
		}
		e, err := b.bindExpr(rt.GetVal())
		if err != nil {
			return nil, nil, err
		}
		exprs = append(exprs, e)
		schema = append(schema, &sqltypes.Field{Name: targetName(rt, e), Type: e.Type()})
	}
	return exprs, schema, nil
}

func isStar(fields []*pg_query.Node) bool {
	return len(fields) > 0 && fields[len(fields)-1].GetAStar() != nil
}

func targetName(rt *pg_query.ResTarget, e Expr) string {
	if rt.GetName() != "" {
		return rt.GetName()
	}
	switch e := e.(type) {
	case *ColumnExpr:
		return e.Name
	case *AggCall:
		return string(aggName(e.Func))
	}
	return "?column?"
}

func aggName(f runner.AggFunc) runner.AggFunc {
	if f == runner.AggCountStar {
		return runner.AggCount
	}
	return f
}

// rebindAggregated rewrites an expression bound against the aggregate's
// input so that it reads the aggregate's output instead.
func rebindAggregated(e Expr, groups []Expr, aggs []*AggCall, offset int) (Expr, error) {
	switch e := e.(type) {
	case *AggCall:
		for i, a := range aggs {
			if a == e {
				return &ColumnExpr{Index: offset + i, Name: a.String(), Typ: a.Type()}, nil
			}
		}
		return nil, fmt.Errorf("aggregate %s was not collected", e)
	case *ColumnExpr:
		for i, g := range groups {
			if g.(*ColumnExpr).Index == e.Index {
				return &ColumnExpr{Index: i, Name: e.Name, Typ: e.Typ}, nil
			}
		}
		return nil, fmt.Errorf("column %q must appear in the GROUP BY clause or be used in an aggregate function", e.Name)
	case *ConstExpr:
		return e, nil
	case *BinaryExpr:
		l, err := rebindAggregated(e.Left, groups, aggs, offset)
		if err != nil {
			return nil, err
		}
		r, err := rebindAggregated(e.Right, groups, aggs, offset)
		if err != nil {
			return nil, err
		}
		out := *e
		out.Left, out.Right = l, r
		return &out, nil
	case *LogicExpr:
		l, err := rebindAggregated(e.Left, groups, aggs, offset)
		if err != nil {
			return nil, err
		}
		out := *e
		out.Left = l
		if e.Right != nil {
			if out.Right, err = rebindAggregated(e.Right, groups, aggs, offset); err != nil {
				return nil, err
			}
		}
		return &out, nil
	case *NullTestExpr:
		arg, err := rebindAggregated(e.Arg, groups, aggs, offset)
		if err != nil {
			return nil, err
		}
		return &NullTestExpr{Arg: arg, Negate: e.Negate}, nil
	}
	return nil, fmt.Errorf("[BUG] cannot rebind %T", e)
}

func (b *binder) bindExpr(n *pg_query.Node) (Expr, error) {
	switch {
	case n.GetColumnRef() != nil:
		if isStar(n.GetColumnRef().GetFields()) {
			return nil, unsupported("* in expression")
		}
		return b.input.resolve(n.GetColumnRef().GetFields())
	case n.GetAConst() != nil:
		return bindConst(n.GetAConst())
	case n.GetAExpr() != nil:
		return b.bindAExpr(n.GetAExpr())
	case n.GetBoolExpr() != nil:
		return b.bindBoolExpr(n.GetBoolExpr())
	case n.GetNullTest() != nil:
		arg, err := b.bindExpr(n.GetNullTest().GetArg())
		if err != nil {
			return nil, err
		}
		return &NullTestExpr{Arg: arg, Negate: n.GetNullTest().GetNulltesttype() == pg_query.NullTestType_IS_NOT_NULL}, nil
	case n.GetFuncCall() != nil:
		return b.bindFuncCall(n.GetFuncCall())
	}
	return nil, unsupported(fmt.Sprintf("expression %T", n.GetNode()))
}

func bindConst(c *pg_query.A_Const) (Expr, error) {
	switch {
	case c.GetIsnull():
		return &ConstExpr{Typ: sqltypes.Unknown}, nil
	case c.GetIval() != nil:
		return &ConstExpr{Value: sqltypes.NewInt64(int64(c.GetIval().GetIval())), Typ: sqltypes.Int64}, nil
	case c.GetFval() != nil:
		s := c.GetFval().GetFval()
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &ConstExpr{Value: sqltypes.NewInt64(i), Typ: sqltypes.Int64}, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid numeric literal %q", s)
		}
		return &ConstExpr{Value: sqltypes.NewFloat64(f), Typ: sqltypes.Float64}, nil
	case c.GetSval() != nil:
		return &ConstExpr{Value: sqltypes.NewString(c.GetSval().GetSval()), Typ: sqltypes.String}, nil
	case c.GetBoolval() != nil:
		return &ConstExpr{Value: sqltypes.NewBool(c.GetBoolval().GetBoolval()), Typ: sqltypes.Bool}, nil
	}
	return nil, unsupported("literal")
}

var (
	arithOps = map[string]bool{"+": true, "-": true, "*": true, "/": true, "%": true}
	cmpOps   = map[string]bool{"=": true, "<>": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}
)

func (b *binder) bindAExpr(e *pg_query.A_Expr) (Expr, error) {
	if e.GetKind() != pg_query.A_Expr_Kind_AEXPR_OP {
		return nil, unsupported(fmt.Sprintf("operator kind %s", e.GetKind()))
	}
	names := e.GetName()
	if len(names) == 0 {
		return nil, unsupported("anonymous operator")
	}
	op := names[len(names)-1].GetString_().GetSval()

	var left Expr = &ConstExpr{Value: sqltypes.NewInt64(0), Typ: sqltypes.Int64}
	if e.GetLexpr() != nil {
		var err error
		if left, err = b.bindExpr(e.GetLexpr()); err != nil {
			return nil, err
		}
	} else if op != "-" && op != "+" {
		return nil, unsupported("prefix operator " + op)
	}
	right, err := b.bindExpr(e.GetRexpr())
	if err != nil {
		return nil, err
	}

	switch {
	case arithOps[op]:
		t, err := arithType(left.Type(), right.Type())
		if err != nil {
			return nil, fmt.Errorf("operator does not exist: %s %s %s", left.Type(), op, right.Type())
		}
		return &BinaryExpr{Op: op, Left: left, Right: right, OperandType: t, Typ: t}, nil
	case cmpOps[op]:
		t, err := comparisonType(left.Type(), right.Type())
		if err != nil {
			return nil, fmt.Errorf("operator does not exist: %s %s %s", left.Type(), op, right.Type())
		}
		return &BinaryExpr{Op: op, Left: left, Right: right, OperandType: t, Typ: sqltypes.Bool}, nil
	}
	return nil, unsupported("operator " + op)
}

func arithType(l, r sqltypes.Type) (sqltypes.Type, error) {
	for _, t := range []sqltypes.Type{l, r} {
		if t != sqltypes.Unknown && !t.IsNumeric() {
			return sqltypes.Unknown, fmt.Errorf("%s is not numeric", t)
		}
	}
	if l == sqltypes.Float64 || r == sqltypes.Float64 {
		return sqltypes.Float64, nil
	}
	return sqltypes.Int64, nil
}

func comparisonType(l, r sqltypes.Type) (sqltypes.Type, error) {
	switch {
	case l == r:
		return l, nil
	case l == sqltypes.Unknown:
		return r, nil
	case r == sqltypes.Unknown:
		return l, nil
	case l.IsNumeric() && r.IsNumeric():
		return sqltypes.Float64, nil
	}
	return sqltypes.Unknown, fmt.Errorf("cannot compare %s with %s", l, r)
}

func (b *binder) bindBoolExpr(e *pg_query.BoolExpr) (Expr, error) {
	args := make([]Expr, len(e.GetArgs()))
	for i, a := range e.GetArgs() {
		arg, err := b.bindExpr(a)
		if err != nil {
			return nil, err
		}
		if t := arg.Type(); t != sqltypes.Bool && t != sqltypes.Unknown {
			return nil, fmt.Errorf("argument of %s must be type bool, not type %s", e.GetBoolop(), t)
		}
		args[i] = arg
	}
	var op string
	switch e.GetBoolop() {
	case pg_query.BoolExprType_NOT_EXPR:
		if len(args) != 1 {
			return nil, fmt.Errorf("NOT takes one argument, got %d", len(args))
		}
		return &LogicExpr{Op: "NOT", Left: args[0]}, nil
	case pg_query.BoolExprType_AND_EXPR:
		op = "AND"
	case pg_query.BoolExprType_OR_EXPR:
		op = "OR"
	default:
		return nil, unsupported(e.GetBoolop().String())
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("%s takes at least two arguments", op)
	}
	out := args[0]
	for _, a := range args[1:] {
		out = &LogicExpr{Op: op, Left: out, Right: a}
	}
	return out, nil
}

func (b *binder) bindFuncCall(fc *pg_query.FuncCall) (Expr, error) {
	names := fc.GetFuncname()
	if len(names) == 0 {
		return nil, unsupported("anonymous function")
	}
	name := strings.ToLower(names[len(names)-1].GetString_().GetSval())
	f, ok := runner.ParseAggFunc(name, fc.GetAggStar())
	if !ok {
		return nil, fmt.Errorf("function %s does not exist", name)
	}
	switch {
	case fc.GetAggDistinct():
		return nil, unsupported("DISTINCT in aggregate")
	case fc.GetAggFilter() != nil:
		return nil, unsupported("FILTER in aggregate")
	case fc.GetOver() != nil:
		return nil, unsupported("window function")
	case len(fc.GetAggOrder()) > 0:
		return nil, unsupported("ORDER BY in aggregate")
	}
	if b.aggs == nil {
		return nil, fmt.Errorf("aggregate functions are not allowed here")
	}

	call := &AggCall{Func: f}
	if f != runner.AggCountStar {
		if len(fc.GetArgs()) != 1 {
			return nil, fmt.Errorf("%s takes one argument, got %d", name, len(fc.GetArgs()))
		}
		// Aggregate arguments cannot nest aggregates.
		outer := b.aggs
		b.aggs = nil
		arg, err := b.bindExpr(fc.GetArgs()[0])
		b.aggs = outer
		if err != nil {
			return nil, err
		}
		call.Arg = arg
		if err := call.spec(nil).CheckArg(); err != nil {
			return nil, err
		}
	}

	for _, a := range *b.aggs {
		if a.String() == call.String() {
			return a, nil
		}
	}
	*b.aggs = append(*b.aggs, call)
	return call, nil
}

// limitCount reads a LIMIT argument. LIMIT ALL and LIMIT NULL mean no
// limit.
func limitCount(n *pg_query.Node) (int64, bool, error) {
	c := n.GetAConst()
	if c == nil {
		return 0, false, unsupported("non-constant LIMIT")
	}
	if c.GetIsnull() {
		return 0, true, nil
	}
	e, err := bindConst(c)
	if err != nil {
		return 0, false, err
	}
	if e.Type() != sqltypes.Int64 {
		return 0, false, fmt.Errorf("argument of LIMIT must be an integer")
	}
	v, err := e.(*ConstExpr).Value.ToInt64()
	if err != nil {
		return 0, false, err
	}
	if v < 0 {
		return 0, false, fmt.Errorf("LIMIT must not be negative")
	}
	return v, false, nil
}
