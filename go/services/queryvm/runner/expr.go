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
	"fmt"
	"math"

	"github.com/queryvm/queryvm/go/common/sqltypes"
)

// Func is a compiled scalar expression evaluated against one input row.
type Func func(row *sqltypes.Row) (sqltypes.Value, error)

// ColumnRef reads column idx of the input row.
func ColumnRef(idx int) Func {
	return func(row *sqltypes.Row) (sqltypes.Value, error) {
		if idx < 0 || idx >= row.Len() {
			return nil, fmt.Errorf("column index %d out of range for row of %d values", idx, row.Len())
		}
		return row.Values[idx], nil
	}
}

// Constant always returns v.
func Constant(v sqltypes.Value) Func {
	return func(*sqltypes.Row) (sqltypes.Value, error) {
		return v, nil
	}
}

// Arith applies a binary arithmetic operator. Operands are converted to
// the result type t, which must be numeric. NULL operands give NULL.
func Arith(op string, t sqltypes.Type, l, r Func) (Func, error) {
	var apply func(a, b sqltypes.Value) (sqltypes.Value, error)
	switch t {
	case sqltypes.Int64:
		fn, err := intOp(op)
		if err != nil {
			return nil, err
		}
		apply = func(a, b sqltypes.Value) (sqltypes.Value, error) {
			x, err := a.ToInt64()
			if err != nil {
				return nil, err
			}
			y, err := b.ToInt64()
			if err != nil {
				return nil, err
			}
			v, err := fn(x, y)
			if err != nil {
				return nil, err
			}
			return sqltypes.NewInt64(v), nil
		}
	case sqltypes.Float64:
		fn, err := floatOp(op)
		if err != nil {
			return nil, err
		}
		apply = func(a, b sqltypes.Value) (sqltypes.Value, error) {
			x, err := a.ToFloat64()
			if err != nil {
				return nil, err
			}
			y, err := b.ToFloat64()
			if err != nil {
				return nil, err
			}
			v, err := fn(x, y)
			if err != nil {
				return nil, err
			}
			return sqltypes.NewFloat64(v), nil
		}
	default:
		return nil, fmt.Errorf("operator %s is not defined for %s", op, t)
	}
	return func(row *sqltypes.Row) (sqltypes.Value, error) {
		a, b, err := eval2(l, r, row)
		if err != nil || a.IsNull() || b.IsNull() {
			return nil, err
		}
		return apply(a, b)
	}, nil
}

var errDivisionByZero = fmt.Errorf("division by zero")

func intOp(op string) (func(x, y int64) (int64, error), error) {
	switch op {
	case "+":
		return func(x, y int64) (int64, error) { return x + y, nil }, nil
	case "-":
		return func(x, y int64) (int64, error) { return x - y, nil }, nil
	case "*":
		return func(x, y int64) (int64, error) { return x * y, nil }, nil
	case "/":
		return func(x, y int64) (int64, error) {
			if y == 0 {
				return 0, errDivisionByZero
			}
			return x / y, nil
		}, nil
	case "%":
		return func(x, y int64) (int64, error) {
			if y == 0 {
				return 0, errDivisionByZero
			}
			return x % y, nil
		}, nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func floatOp(op string) (func(x, y float64) (float64, error), error) {
	switch op {
	case "+":
		return func(x, y float64) (float64, error) { return x + y, nil }, nil
	case "-":
		return func(x, y float64) (float64, error) { return x - y, nil }, nil
	case "*":
		return func(x, y float64) (float64, error) { return x * y, nil }, nil
	case "/":
		return func(x, y float64) (float64, error) {
			if y == 0 {
				return 0, errDivisionByZero
			}
			return x / y, nil
		}, nil
	case "%":
		return func(x, y float64) (float64, error) {
			if y == 0 {
				return 0, errDivisionByZero
			}
			return math.Mod(x, y), nil
		}, nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

// Cmp compares both operands as type t and returns a bool. NULL operands
// give NULL.
func Cmp(op string, t sqltypes.Type, l, r Func) (Func, error) {
	var test func(c int) bool
	switch op {
	case "=":
		test = func(c int) bool { return c == 0 }
	case "<>", "!=":
		test = func(c int) bool { return c != 0 }
	case "<":
		test = func(c int) bool { return c < 0 }
	case "<=":
		test = func(c int) bool { return c <= 0 }
	case ">":
		test = func(c int) bool { return c > 0 }
	case ">=":
		test = func(c int) bool { return c >= 0 }
	default:
		return nil, fmt.Errorf("unknown comparison operator %q", op)
	}
	return func(row *sqltypes.Row) (sqltypes.Value, error) {
		a, b, err := eval2(l, r, row)
		if err != nil || a.IsNull() || b.IsNull() {
			return nil, err
		}
		c, err := sqltypes.Compare(t, a, b)
		if err != nil {
			return nil, err
		}
		return sqltypes.NewBool(test(c)), nil
	}, nil
}

// And is three-valued: false wins over NULL.
func And(l, r Func) Func {
	return func(row *sqltypes.Row) (sqltypes.Value, error) {
		a, b, err := evalBools(l, r, row)
		if err != nil {
			return nil, err
		}
		switch {
		case isFalse(a) || isFalse(b):
			return sqltypes.NewBool(false), nil
		case a == nil || b == nil:
			return nil, nil
		}
		return sqltypes.NewBool(true), nil
	}
}

// Or is three-valued: true wins over NULL.
func Or(l, r Func) Func {
	return func(row *sqltypes.Row) (sqltypes.Value, error) {
		a, b, err := evalBools(l, r, row)
		if err != nil {
			return nil, err
		}
		switch {
		case isTrue(a) || isTrue(b):
			return sqltypes.NewBool(true), nil
		case a == nil || b == nil:
			return nil, nil
		}
		return sqltypes.NewBool(false), nil
	}
}

// Not negates a bool. NOT NULL is NULL.
func Not(f Func) Func {
	return func(row *sqltypes.Row) (sqltypes.Value, error) {
		v, err := f(row)
		if err != nil || v.IsNull() {
			return nil, err
		}
		b, err := v.ToBool()
		if err != nil {
			return nil, err
		}
		return sqltypes.NewBool(!b), nil
	}
}

// IsNull tests f for NULL, or for NOT NULL when negate is set.
func IsNull(f Func, negate bool) Func {
	return func(row *sqltypes.Row) (sqltypes.Value, error) {
		v, err := f(row)
		if err != nil {
			return nil, err
		}
		return sqltypes.NewBool(v.IsNull() != negate), nil
	}
}

// Truthy reports whether a predicate result selects the row. NULL does not.
func Truthy(v sqltypes.Value) (bool, error) {
	if v.IsNull() {
		return false, nil
	}
	return v.ToBool()
}

func eval2(l, r Func, row *sqltypes.Row) (sqltypes.Value, sqltypes.Value, error) {
	a, err := l(row)
	if err != nil {
		return nil, nil, err
	}
	b, err := r(row)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func evalBools(l, r Func, row *sqltypes.Row) (*bool, *bool, error) {
	a, b, err := eval2(l, r, row)
	if err != nil {
		return nil, nil, err
	}
	x, err := optBool(a)
	if err != nil {
		return nil, nil, err
	}
	y, err := optBool(b)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func optBool(v sqltypes.Value) (*bool, error) {
	if v.IsNull() {
		return nil, nil
	}
	b, err := v.ToBool()
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func isTrue(b *bool) bool { return b != nil && *b }
func isFalse(b *bool) bool { return b != nil && !*b }
