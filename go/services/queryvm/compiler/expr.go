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
	"github.com/queryvm/queryvm/go/services/queryvm/runner"
)

// Expr is a bound, typed scalar expression.
type Expr interface {
	Type() sqltypes.Type
	String() string
}

// ColumnExpr reads a column of the input row by position.
type ColumnExpr struct {
	Index int
	Name  string
	Typ   sqltypes.Type
}

func (e *ColumnExpr) Type() sqltypes.Type { return e.Typ }
func (e *ColumnExpr) String() string { return e.Name }

// ConstExpr is a literal. NULL has type Unknown.
type ConstExpr struct {
	Value sqltypes.Value
	Typ   sqltypes.Type
}

func (e *ConstExpr) Type() sqltypes.Type { return e.Typ }

func (e *ConstExpr) String() string {
	switch {
	case e.Value.IsNull():
		return "NULL"
	case e.Typ == sqltypes.String:
		return "'" + strings.ReplaceAll(e.Value.String(), "'", "''") + "'"
	}
	return e.Value.String()
}

// BinaryExpr is an arithmetic or comparison operator. OperandType is the
// type both sides are evaluated as.
type BinaryExpr struct {
	Op          string
	Left, Right Expr
	OperandType sqltypes.Type
	Typ         sqltypes.Type
}

func (e *BinaryExpr) Type() sqltypes.Type { return e.Typ }

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e *BinaryExpr) isComparison() bool {
	return e.Typ == sqltypes.Bool
}

// LogicExpr is AND, OR or NOT. Right is nil for NOT.
type LogicExpr struct {
	Op          string
	Left, Right Expr
}

func (e *LogicExpr) Type() sqltypes.Type { return sqltypes.Bool }

func (e *LogicExpr) String() string {
	if e.Op == "NOT" {
		return fmt.Sprintf("NOT %s", e.Left)
	}
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

// NullTestExpr is IS NULL or IS NOT NULL.
type NullTestExpr struct {
	Arg    Expr
	Negate bool
}

func (e *NullTestExpr) Type() sqltypes.Type { return sqltypes.Bool }

func (e *NullTestExpr) String() string {
	if e.Negate {
		return fmt.Sprintf("%s IS NOT NULL", e.Arg)
	}
	return fmt.Sprintf("%s IS NULL", e.Arg)
}

// AggCall is an aggregate function call. Arg is bound against the
// aggregate's input and is nil for count(*).
type AggCall struct {
	Func runner.AggFunc
	Arg  Expr
}

func (a *AggCall) Type() sqltypes.Type {
	return a.spec(nil).ResultType()
}

func (a *AggCall) String() string {
	if a.Arg == nil {
		return string(a.Func)
	}
	return fmt.Sprintf("%s(%s)", a.Func, a.Arg)
}

func (a *AggCall) spec(arg runner.Func) *runner.Aggregate {
	out := &runner.Aggregate{Func: a.Func, Arg: arg}
	if a.Arg != nil {
		out.ArgType = a.Arg.Type()
	}
	return out
}
