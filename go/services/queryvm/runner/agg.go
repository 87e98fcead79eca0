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

	"github.com/queryvm/queryvm/go/common/sqltypes"
)

// AggFunc names an aggregate function.
type AggFunc string

const (
	AggCountStar AggFunc = "count(*)"
	AggCount     AggFunc = "count"
	AggSum       AggFunc = "sum"
	AggMin       AggFunc = "min"
	AggMax       AggFunc = "max"
	AggAvg       AggFunc = "avg"
)

// ParseAggFunc maps a lower-case function name to an AggFunc.
func ParseAggFunc(name string, star bool) (AggFunc, bool) {
	if star {
		return AggCountStar, name == "count"
	}
	switch f := AggFunc(name); f {
	case AggCount, AggSum, AggMin, AggMax, AggAvg:
		return f, true
	}
	return "", false
}

// Aggregate is one aggregate call. ArgType is the type of Arg, which is nil
// for count(*).
type Aggregate struct {
	Func    AggFunc
	Arg     Func
	ArgType sqltypes.Type
}

// ResultType is the type of the aggregate's value.
func (a *Aggregate) ResultType() sqltypes.Type {
	switch a.Func {
	case AggCountStar, AggCount:
		return sqltypes.Int64
	case AggAvg:
		return sqltypes.Float64
	}
	return a.ArgType
}

// CheckArg reports whether the aggregate can take its argument type.
func (a *Aggregate) CheckArg() error {
	switch a.Func {
	case AggSum, AggAvg:
		if !a.ArgType.IsNumeric() {
			return fmt.Errorf("%s(%s) is not supported", a.Func, a.ArgType)
		}
	}
	return nil
}

func (a *Aggregate) newAccumulator() *accumulator {
	return &accumulator{agg: a}
}

type accumulator struct {
	agg   *Aggregate
	count int64
	isum  int64
	fsum  float64
	best  sqltypes.Value
}

func (acc *accumulator) add(row *sqltypes.Row) error {
	a := acc.agg
	if a.Func == AggCountStar {
		acc.count++
		return nil
	}
	v, err := a.Arg(row)
	if err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}
	acc.count++
	switch a.Func {
	case AggSum, AggAvg:
		if a.ArgType == sqltypes.Int64 && a.Func == AggSum {
			i, err := v.ToInt64()
			if err != nil {
				return err
			}
			acc.isum += i
			return nil
		}
		f, err := v.ToFloat64()
		if err != nil {
			return err
		}
		acc.fsum += f
	case AggMin, AggMax:
		if acc.best == nil {
			acc.best = v
			return nil
		}
		c, err := sqltypes.Compare(a.ArgType, v, acc.best)
		if err != nil {
			return err
		}
		if (a.Func == AggMin && c < 0) || (a.Func == AggMax && c > 0) {
			acc.best = v
		}
	}
	return nil
}

func (acc *accumulator) result() (sqltypes.Value, error) {
	a := acc.agg
	switch a.Func {
	case AggCountStar, AggCount:
		return sqltypes.NewInt64(acc.count), nil
	case AggSum:
		if acc.count == 0 {
			return nil, nil
		}
		if a.ArgType == sqltypes.Int64 {
			return sqltypes.NewInt64(acc.isum), nil
		}
		return sqltypes.NewFloat64(acc.fsum), nil
	case AggAvg:
		if acc.count == 0 {
			return nil, nil
		}
		return sqltypes.NewFloat64(acc.fsum / float64(acc.count)), nil
	case AggMin, AggMax:
		return acc.best, nil
	}
	return nil, fmt.Errorf("unknown aggregate %q", a.Func)
}
