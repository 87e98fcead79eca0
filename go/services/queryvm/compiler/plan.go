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

	"github.com/queryvm/queryvm/go/common/sqltypes"
	"github.com/queryvm/queryvm/go/services/queryvm/catalog"
)

// Plan is a node of a logical or physical plan tree.
type Plan interface {
	// Name is the operator name shown in plan text.
	Name() string
	// Detail is the operator argument shown in plan text.
	Detail() string
	Inputs() []Plan
	Schema() sqltypes.Schema
}

// FormatPlan renders a plan tree, one node per line, inputs indented below
// their consumer.
func FormatPlan(p Plan) string {
	var sb strings.Builder
	var walk func(p Plan, depth int)
	walk = func(p Plan, depth int) {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(p.Name())
		if d := p.Detail(); d != "" {
			sb.WriteString("(" + d + ")")
		}
		sb.WriteByte('\n')
		for _, in := range p.Inputs() {
			walk(in, depth+1)
		}
	}
	walk(p, 0)
	return sb.String()
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func joinAggs(aggs []*AggCall) string {
	parts := make([]string, len(aggs))
	for i, a := range aggs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

func projectDetail(exprs []Expr, schema sqltypes.Schema) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
		if name := schema[i].Name; name != e.String() {
			parts[i] += " AS " + name
		}
	}
	return strings.Join(parts, ", ")
}

type single struct {
	input Plan
}

func (s *single) Inputs() []Plan { return []Plan{s.input} }
func (s *single) Schema() sqltypes.Schema { return s.input.Schema() }

type leaf struct{}

func (leaf) Inputs() []Plan { return nil }

// Logical plan.

// ScanNode reads every row of a table.
type ScanNode struct {
	leaf
	Table *catalog.Table
}

func (n *ScanNode) Name() string { return "SCAN" }
func (n *ScanNode) Detail() string { return n.Table.Name }
func (n *ScanNode) Schema() sqltypes.Schema { return n.Table.Schema }

// ConstRowNode produces one empty row, for SELECT without FROM.
type ConstRowNode struct {
	leaf
}

func (n *ConstRowNode) Name() string { return "CONST_ROW" }
func (n *ConstRowNode) Detail() string { return "" }
func (n *ConstRowNode) Schema() sqltypes.Schema { return nil }

// FilterNode keeps the rows matching Pred.
type FilterNode struct {
	single
	Pred Expr
}

func (n *FilterNode) Name() string { return "FILTER" }
func (n *FilterNode) Detail() string { return n.Pred.String() }

// AggregateNode groups its input by Groups and computes Aggs. Its output
// holds the group columns followed by the aggregate values.
type AggregateNode struct {
	single
	Groups []Expr
	Aggs   []*AggCall
	Out    sqltypes.Schema
}

func (n *AggregateNode) Name() string { return "AGGREGATE" }
func (n *AggregateNode) Schema() sqltypes.Schema { return n.Out }

func (n *AggregateNode) Detail() string {
	if len(n.Groups) == 0 {
		return joinAggs(n.Aggs)
	}
	return fmt.Sprintf("group by %s: %s", joinExprs(n.Groups), joinAggs(n.Aggs))
}

// ProjectNode evaluates the select list.
type ProjectNode struct {
	single
	Exprs []Expr
	Out   sqltypes.Schema
}

func (n *ProjectNode) Name() string { return "PROJECT" }
func (n *ProjectNode) Detail() string { return projectDetail(n.Exprs, n.Out) }
func (n *ProjectNode) Schema() sqltypes.Schema { return n.Out }

// LimitNode keeps the first Count rows.
type LimitNode struct {
	single
	Count int64
}

func (n *LimitNode) Name() string { return "LIMIT" }
func (n *LimitNode) Detail() string { return fmt.Sprintf("%d", n.Count) }

// Physical plan.

// TableScanNode outputs a catalog table.
type TableScanNode struct {
	leaf
	Table *catalog.Table
}

func (n *TableScanNode) Name() string { return "TABLE_SCAN" }
func (n *TableScanNode) Detail() string { return n.Table.Name }
func (n *TableScanNode) Schema() sqltypes.Schema { return n.Table.Schema }

// RequestRowNode outputs the request row, whose layout is the scanned
// table's schema.
type RequestRowNode struct {
	leaf
	Table *catalog.Table
}

func (n *RequestRowNode) Name() string { return "REQUEST_ROW" }
func (n *RequestRowNode) Detail() string { return n.Table.Name }
func (n *RequestRowNode) Schema() sqltypes.Schema { return n.Table.Schema }

// GroupPartitionNode splits a table into groups.
type GroupPartitionNode struct {
	single
	Groups []Expr
}

func (n *GroupPartitionNode) Name() string { return "GROUP_PARTITION" }
func (n *GroupPartitionNode) Detail() string { return joinExprs(n.Groups) }

// GroupAggregateNode aggregates each group of a partition.
type GroupAggregateNode struct {
	single
	Groups []Expr
	Aggs   []*AggCall
	Out    sqltypes.Schema
}

func (n *GroupAggregateNode) Name() string { return "GROUP_AGGREGATE" }
func (n *GroupAggregateNode) Detail() string { return joinAggs(n.Aggs) }
func (n *GroupAggregateNode) Schema() sqltypes.Schema { return n.Out }

// TableAggregateNode aggregates a whole table into one row.
type TableAggregateNode struct {
	single
	Aggs []*AggCall
	Out  sqltypes.Schema
}

func (n *TableAggregateNode) Name() string { return "TABLE_AGGREGATE" }
func (n *TableAggregateNode) Detail() string { return joinAggs(n.Aggs) }
func (n *TableAggregateNode) Schema() sqltypes.Schema { return n.Out }

// RequestAggregateNode is an aggregate over the request row. It is
// planned so the query can be explained, but no runner implements it.
type RequestAggregateNode struct {
	single
	Groups []Expr
	Aggs   []*AggCall
	Out    sqltypes.Schema
}

func (n *RequestAggregateNode) Name() string { return "REQUEST_AGGREGATE" }
func (n *RequestAggregateNode) Detail() string { return joinAggs(n.Aggs) }
func (n *RequestAggregateNode) Schema() sqltypes.Schema { return n.Out }
