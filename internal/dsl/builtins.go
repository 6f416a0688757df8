package dsl

import (
	"fmt"
	"math"
)

var builtins = []builtinFn{
	{name: "abs", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		if err := arity("abs", args, 1, pos); err != nil {
			return nil, err
		}
		if s, ok := args[0].(Series); ok {
			return s.Abs(), nil
		}
		x, err := asFloat(args[0], pos)
		if err != nil {
			return nil, err
		}
		return math.Abs(x), nil
	}},
	{name: "min", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		return reduceCall("min", args, pos, func(a, b float64) float64 { return math.Min(a, b) })
	}},
	{name: "max", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		return reduceCall("max", args, pos, func(a, b float64) float64 { return math.Max(a, b) })
	}},
	{name: "sum", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		if err := arity("sum", args, 1, pos); err != nil {
			return nil, err
		}
		vals, err := numbersOf(args[0], pos)
		if err != nil {
			return nil, err
		}
		total := 0.0
		for _, v := range vals {
			if !math.IsNaN(v) {
				total += v
			}
		}
		return total, nil
	}},
	{name: "len", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		if err := arity("len", args, 1, pos); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case Series:
			return float64(len(x)), nil
		case List:
			return float64(len(x)), nil
		case string:
			return float64(len(x)), nil
		}
		return nil, fmt.Errorf("len() unsupported for %T at %d:%d", args[0], pos.Line, pos.Col)
	}},
	{name: "round", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, fmt.Errorf("round() takes 1 or 2 arguments at %d:%d", pos.Line, pos.Col)
		}
		x, err := asFloat(args[0], pos)
		if err != nil {
			return nil, err
		}
		digits := 0
		if len(args) == 2 {
			digits, err = asInt(args[1], pos)
			if err != nil {
				return nil, err
			}
		}
		scale := math.Pow(10, float64(digits))
		return math.Round(x*scale) / scale, nil
	}},
	{name: "float", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		if err := arity("float", args, 1, pos); err != nil {
			return nil, err
		}
		return asFloat(args[0], pos)
	}},
	{name: "int", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		if err := arity("int", args, 1, pos); err != nil {
			return nil, err
		}
		x, err := asFloat(args[0], pos)
		if err != nil {
			return nil, err
		}
		return math.Trunc(x), nil
	}},
	{name: "bool", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		if err := arity("bool", args, 1, pos); err != nil {
			return nil, err
		}
		return truthy(args[0], pos)
	}},
	{name: "log", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		return mathCall("log", args, pos, math.Log)
	}},
	{name: "sqrt", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		return mathCall("sqrt", args, pos, math.Sqrt)
	}},
	{name: "exp", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		return mathCall("exp", args, pos, math.Exp)
	}},
	{name: "range", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		if len(args) < 1 || len(args) > 3 {
			return nil, fmt.Errorf("range() takes 1 to 3 arguments at %d:%d", pos.Line, pos.Col)
		}
		start, stop, step := 0, 0, 1
		var err error
		switch len(args) {
		case 1:
			stop, err = asInt(args[0], pos)
		case 2:
			if start, err = asInt(args[0], pos); err == nil {
				stop, err = asInt(args[1], pos)
			}
		case 3:
			if start, err = asInt(args[0], pos); err == nil {
				if stop, err = asInt(args[1], pos); err == nil {
					step, err = asInt(args[2], pos)
				}
			}
		}
		if err != nil {
			return nil, err
		}
		if step == 0 {
			return nil, fmt.Errorf("range() step must not be zero at %d:%d", pos.Line, pos.Col)
		}
		var out List
		if step > 0 {
			for i := start; i < stop; i += step {
				out = append(out, float64(i))
			}
		} else {
			for i := start; i > stop; i += step {
				out = append(out, float64(i))
			}
		}
		return out, nil
	}},
	{name: "where", call: func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
		if err := arity("where", args, 3, pos); err != nil {
			return nil, err
		}
		cond, ok := args[0].(Series)
		if !ok {
			t, err := truthy(args[0], pos)
			if err != nil {
				return nil, err
			}
			if t {
				return args[1], nil
			}
			return args[2], nil
		}
		pick := func(v Value, i int) (float64, error) {
			if s, ok := v.(Series); ok {
				if len(s) != len(cond) {
					return 0, fmt.Errorf("series length mismatch %d vs %d at %d:%d", len(s), len(cond), pos.Line, pos.Col)
				}
				return s[i], nil
			}
			return asFloat(v, pos)
		}
		out := make(Series, len(cond))
		for i, c := range cond {
			var err error
			if c != 0 && !math.IsNaN(c) {
				out[i], err = pick(args[1], i)
			} else {
				out[i], err = pick(args[2], i)
			}
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}},
}

func arity(name string, args []Value, n int, pos Position) error {
	if len(args) != n {
		return fmt.Errorf("%s() takes %d arguments, got %d at %d:%d", name, n, len(args), pos.Line, pos.Col)
	}
	return nil
}

func mathCall(name string, args []Value, pos Position, f func(float64) float64) (Value, error) {
	if err := arity(name, args, 1, pos); err != nil {
		return nil, err
	}
	if s, ok := args[0].(Series); ok {
		return s.apply(f), nil
	}
	x, err := asFloat(args[0], pos)
	if err != nil {
		return nil, err
	}
	return f(x), nil
}

func numbersOf(v Value, pos Position) ([]float64, error) {
	switch x := v.(type) {
	case Series:
		return x, nil
	case List:
		out := make([]float64, len(x))
		for i, el := range x {
			f, err := asFloat(el, pos)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a series or list, got %T at %d:%d", v, pos.Line, pos.Col)
}

func reduceCall(name string, args []Value, pos Position, f func(a, b float64) float64) (Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s() takes at least 1 argument at %d:%d", name, pos.Line, pos.Col)
	}
	var vals []float64
	if len(args) == 1 {
		v, err := numbersOf(args[0], pos)
		if err != nil {
			return nil, err
		}
		vals = v
	} else {
		vals = make([]float64, 0, len(args))
		for _, a := range args {
			x, err := asFloat(a, pos)
			if err != nil {
				return nil, err
			}
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s() of empty sequence at %d:%d", name, pos.Line, pos.Col)
	}
	acc := vals[0]
	for _, v := range vals[1:] {
		if math.IsNaN(acc) {
			acc = v
			continue
		}
		if !math.IsNaN(v) {
			acc = f(acc, v)
		}
	}
	return acc, nil
}
