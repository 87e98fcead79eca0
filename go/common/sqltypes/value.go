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

package sqltypes

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strconv"
)

// NewInt64 encodes an integer value.
func NewInt64(v int64) Value {
	return Value(strconv.AppendInt(nil, v, 10))
}

// NewFloat64 encodes a float value.
func NewFloat64(v float64) Value {
	return Value(strconv.AppendFloat(nil, v, 'g', -1, 64))
}

// NewString encodes a string value.
func NewString(v string) Value {
	return Value(append([]byte{}, v...))
}

// NewBool encodes a boolean value as "true" or "false".
func NewBool(v bool) Value {
	if v {
		return Value("true")
	}
	return Value("false")
}

// ToInt64 decodes an integer value.
func (v Value) ToInt64() (int64, error) {
	if v == nil {
		return 0, fmt.Errorf("cannot convert NULL to int64")
	}
	return strconv.ParseInt(string(v), 10, 64)
}

// ToFloat64 decodes a numeric value. Integers are accepted.
func (v Value) ToFloat64() (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("cannot convert NULL to float64")
	}
	return strconv.ParseFloat(string(v), 64)
}

// ToBool decodes a boolean value.
func (v Value) ToBool() (bool, error) {
	if v == nil {
		return false, fmt.Errorf("cannot convert NULL to bool")
	}
	switch string(v) {
	case "true", "t", "1":
		return true, nil
	case "false", "f", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool value %q", string(v))
}

// Normalize re-encodes text into the canonical form for the given type, so
// that values loaded from different sources compare byte-for-byte.
func Normalize(t Type, v Value) (Value, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case Int64:
		i, err := v.ToInt64()
		if err != nil {
			return nil, err
		}
		return NewInt64(i), nil
	case Float64:
		f, err := v.ToFloat64()
		if err != nil {
			return nil, err
		}
		return NewFloat64(f), nil
	case Bool:
		b, err := v.ToBool()
		if err != nil {
			return nil, err
		}
		return NewBool(b), nil
	}
	return v, nil
}

// Compare orders two values of type t. NULL sorts before every non-NULL
// value.
func Compare(t Type, a, b Value) (int, error) {
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}
	switch t {
	case Int64:
		x, err := a.ToInt64()
		if err != nil {
			return 0, err
		}
		y, err := b.ToInt64()
		if err != nil {
			return 0, err
		}
		return cmp.Compare(x, y), nil
	case Float64:
		x, err := a.ToFloat64()
		if err != nil {
			return 0, err
		}
		y, err := b.ToFloat64()
		if err != nil {
			return 0, err
		}
		if math.IsNaN(x) || math.IsNaN(y) {
			return 0, fmt.Errorf("cannot compare NaN")
		}
		return cmp.Compare(x, y), nil
	case Bool:
		x, err := a.ToBool()
		if err != nil {
			return 0, err
		}
		y, err := b.ToBool()
		if err != nil {
			return 0, err
		}
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		}
		return 1, nil
	}
	return bytes.Compare(a, b), nil
}
