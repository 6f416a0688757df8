package dsl

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Value is a runtime value: float64, bool, string, Series, List, None,
// *Rolling or a callable.
type Value interface{}

// None is the null value.
type None struct{}

// List is an ordered value collection.
type List []Value

// Rolling is the intermediate produced by series.rolling(n).
type Rolling struct {
	series Series
	window int
}

type builtinFn struct {
	name string
	call func(in *Interp, args []Value, kwargs map[string]Value, pos Position) (Value, error)
}

type userFn struct {
	def     *FuncDef
	closure *Env
}

// Env is a lexical scope chain for snippet evaluation.
type Env struct {
	vars   map[string]Value
	parent *Env
}

// NewEnv creates a scope. A nil parent makes a root scope.
func NewEnv(parent *Env) *Env {
	return &Env{vars: make(map[string]Value), parent: parent}
}

// Get resolves a name through the scope chain.
func (e *Env) Get(name string) (Value, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set binds a name in this scope.
func (e *Env) Set(name string, v Value) { e.vars[name] = v }

// BaseEnv returns a root scope preloaded with the builtin functions.
func BaseEnv() *Env {
	env := NewEnv(nil)
	for _, b := range builtins {
		env.Set(b.name, b)
	}
	return env
}

// DefaultStepBudget bounds evaluation work per snippet. Runaway loops hit
// the budget long before they hit the wall clock.
const DefaultStepBudget = 2_000_000

const maxCallDepth = 64

type breakSignal struct{ pos Position }

func (s breakSignal) Error() string {
	return fmt.Sprintf("break outside loop at %d:%d", s.pos.Line, s.pos.Col)
}

type continueSignal struct{ pos Position }

func (s continueSignal) Error() string {
	return fmt.Sprintf("continue outside loop at %d:%d", s.pos.Line, s.pos.Col)
}

type returnSignal struct {
	pos   Position
	value Value
}

func (s returnSignal) Error() string {
	return fmt.Sprintf("return outside function at %d:%d", s.pos.Line, s.pos.Col)
}

// Interp executes parsed snippets under a hard step budget.
type Interp struct {
	ctx    context.Context
	budget int64
	steps  int64
	depth  int
}

// NewInterp creates an interpreter. budget <= 0 selects DefaultStepBudget.
func NewInterp(ctx context.Context, budget int64) *Interp {
	if ctx == nil {
		ctx = context.Background()
	}
	if budget <= 0 {
		budget = DefaultStepBudget
	}
	return &Interp{ctx: ctx, budget: budget}
}

// Steps reports how much budget the last run consumed.
func (in *Interp) Steps() int64 { return in.steps }

// Run executes every statement of mod against env.
func (in *Interp) Run(mod *Module, env *Env) error {
	for _, s := range mod.Body {
		if err := in.execStmt(s, env); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interp) step(pos Position) error {
	in.steps++
	if in.steps > in.budget {
		return fmt.Errorf("evaluation budget exceeded at %d:%d", pos.Line, pos.Col)
	}
	if in.steps&1023 == 0 {
		select {
		case <-in.ctx.Done():
			return in.ctx.Err()
		default:
		}
	}
	return nil
}

func (in *Interp) execStmts(stmts []Stmt, env *Env) error {
	for _, s := range stmts {
		if err := in.execStmt(s, env); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interp) execStmt(stmt Stmt, env *Env) error {
	if err := in.step(stmt.Pos()); err != nil {
		return err
	}
	switch s := stmt.(type) {
	case *Assign:
		v, err := in.evalExpr(s.Value, env)
		if err != nil {
			return err
		}
		name, ok := s.Target.(*NameRef)
		if !ok {
			return fmt.Errorf("unsupported assignment target at %d:%d", s.Pos().Line, s.Pos().Col)
		}
		env.Set(name.Name, v)
		return nil
	case *AugAssign:
		name, ok := s.Target.(*NameRef)
		if !ok {
			return fmt.Errorf("unsupported assignment target at %d:%d", s.Pos().Line, s.Pos().Col)
		}
		cur, ok := env.Get(name.Name)
		if !ok {
			return fmt.Errorf("undefined name %q at %d:%d", name.Name, s.Pos().Line, s.Pos().Col)
		}
		v, err := in.evalExpr(s.Value, env)
		if err != nil {
			return err
		}
		res, err := in.arith(s.Op, cur, v, s.Pos())
		if err != nil {
			return err
		}
		env.Set(name.Name, res)
		return nil
	case *ExprStmt:
		_, err := in.evalExpr(s.Value, env)
		return err
	case *Import, *FromImport:
		return fmt.Errorf("import statements are not executable")
	case *If:
		cond, err := in.evalExpr(s.Cond, env)
		if err != nil {
			return err
		}
		t, err := truthy(cond, s.Cond.Pos())
		if err != nil {
			return err
		}
		if t {
			return in.execStmts(s.Body, env)
		}
		return in.execStmts(s.Else, env)
	case *While:
		for {
			cond, err := in.evalExpr(s.Cond, env)
			if err != nil {
				return err
			}
			t, err := truthy(cond, s.Cond.Pos())
			if err != nil {
				return err
			}
			if !t {
				return nil
			}
			if err := in.execStmts(s.Body, env); err != nil {
				switch err.(type) {
				case breakSignal:
					return nil
				case continueSignal:
					continue
				}
				return err
			}
		}
	case *For:
		iter, err := in.evalExpr(s.Iter, env)
		if err != nil {
			return err
		}
		items, err := iterate(iter, s.Iter.Pos())
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := in.step(s.Pos()); err != nil {
				return err
			}
			env.Set(s.Var, item)
			if err := in.execStmts(s.Body, env); err != nil {
				switch err.(type) {
				case breakSignal:
					return nil
				case continueSignal:
					continue
				}
				return err
			}
		}
		return nil
	case *FuncDef:
		env.Set(s.Name, userFn{def: s, closure: env})
		return nil
	case *Return:
		sig := returnSignal{pos: s.Pos(), value: None{}}
		if s.Value != nil {
			v, err := in.evalExpr(s.Value, env)
			if err != nil {
				return err
			}
			sig.value = v
		}
		return sig
	case *Break:
		return breakSignal{pos: s.Pos()}
	case *Continue:
		return continueSignal{pos: s.Pos()}
	case *Pass:
		return nil
	}
	return fmt.Errorf("unsupported statement %T", stmt)
}

func (in *Interp) evalExpr(expr Expr, env *Env) (Value, error) {
	if err := in.step(expr.Pos()); err != nil {
		return nil, err
	}
	switch e := expr.(type) {
	case *NumberLit:
		return e.Value, nil
	case *StringLit:
		return unescapeString(e.Value), nil
	case *BoolLit:
		return e.Value, nil
	case *NoneLit:
		return None{}, nil
	case *NameRef:
		if v, ok := env.Get(e.Name); ok {
			return v, nil
		}
		return nil, fmt.Errorf("undefined name %q at %d:%d", e.Name, e.Pos().Line, e.Pos().Col)
	case *ListLit:
		out := make(List, 0, len(e.Elems))
		for _, el := range e.Elems {
			v, err := in.evalExpr(el, env)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *UnaryExpr:
		return in.evalUnary(e, env)
	case *BinaryExpr:
		l, err := in.evalExpr(e.Left, env)
		if err != nil {
			return nil, err
		}
		r, err := in.evalExpr(e.Right, env)
		if err != nil {
			return nil, err
		}
		return in.arith(e.Op, l, r, e.Pos())
	case *CompareExpr:
		return in.evalCompare(e, env)
	case *BoolOpExpr:
		return in.evalBoolOp(e, env)
	case *AttrRef:
		return nil, fmt.Errorf("attribute %q must be called at %d:%d", e.Name, e.Pos().Line, e.Pos().Col)
	case *CallExpr:
		return in.evalCall(e, env)
	case *IndexExpr:
		return in.evalIndex(e, env)
	}
	return nil, fmt.Errorf("unsupported expression %T", expr)
}

func (in *Interp) evalUnary(e *UnaryExpr, env *Env) (Value, error) {
	v, err := in.evalExpr(e.Operand, env)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "-":
		if s, ok := v.(Series); ok {
			return s.apply(func(x float64) float64 { return -x }), nil
		}
		x, err := asFloat(v, e.Pos())
		if err != nil {
			return nil, err
		}
		return -x, nil
	case "+":
		return v, nil
	case "not":
		if s, ok := v.(Series); ok {
			return s.apply(func(x float64) float64 {
				if x != 0 && !math.IsNaN(x) {
					return 0
				}
				return 1
			}), nil
		}
		t, err := truthy(v, e.Pos())
		if err != nil {
			return nil, err
		}
		return !t, nil
	}
	return nil, fmt.Errorf("unsupported unary operator %q", e.Op)
}

func (in *Interp) evalCompare(e *CompareExpr, env *Env) (Value, error) {
	left, err := in.evalExpr(e.Left, env)
	if err != nil {
		return nil, err
	}
	var acc Value
	for i, op := range e.Ops {
		right, err := in.evalExpr(e.Comparators[i], env)
		if err != nil {
			return nil, err
		}
		res, err := compare(op, left, right, e.Pos())
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = res
		} else {
			acc, err = boolCombine("and", acc, res, e.Pos())
			if err != nil {
				return nil, err
			}
		}
		left = right
	}
	return acc, nil
}

func (in *Interp) evalBoolOp(e *BoolOpExpr, env *Env) (Value, error) {
	l, err := in.evalExpr(e.Left, env)
	if err != nil {
		return nil, err
	}
	// short circuit only for scalar operands; the falsy (and) or truthy (or)
	// operand value itself is the result, as in Python
	if _, isSeries := l.(Series); !isSeries {
		t, err := truthy(l, e.Pos())
		if err != nil {
			return nil, err
		}
		if (e.Op == "and" && !t) || (e.Op == "or" && t) {
			return l, nil
		}
		r, err := in.evalExpr(e.Right, env)
		if err != nil {
			return nil, err
		}
		if _, isSeries := r.(Series); !isSeries {
			return r, nil
		}
		return boolCombine(e.Op, l, r, e.Pos())
	}
	r, err := in.evalExpr(e.Right, env)
	if err != nil {
		return nil, err
	}
	return boolCombine(e.Op, l, r, e.Pos())
}

func (in *Interp) evalIndex(e *IndexExpr, env *Env) (Value, error) {
	target, err := in.evalExpr(e.Target, env)
	if err != nil {
		return nil, err
	}
	idxVal, err := in.evalExpr(e.Index, env)
	if err != nil {
		return nil, err
	}
	idx, err := asInt(idxVal, e.Index.Pos())
	if err != nil {
		return nil, err
	}
	switch t := target.(type) {
	case Series:
		i, err := normalizeIndex(idx, len(t), e.Pos())
		if err != nil {
			return nil, err
		}
		return t[i], nil
	case List:
		i, err := normalizeIndex(idx, len(t), e.Pos())
		if err != nil {
			return nil, err
		}
		return t[i], nil
	}
	return nil, fmt.Errorf("value of type %T is not indexable at %d:%d", target, e.Pos().Line, e.Pos().Col)
}

func normalizeIndex(idx, length int, pos Position) (int, error) {
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return 0, fmt.Errorf("index %d out of range at %d:%d", idx, pos.Line, pos.Col)
	}
	return idx, nil
}

func (in *Interp) evalCall(e *CallExpr, env *Env) (Value, error) {
	args := make([]Value, 0, len(e.Args))
	for _, a := range e.Args {
		v, err := in.evalExpr(a, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	var kwargs map[string]Value
	if len(e.Kwargs) > 0 {
		kwargs = make(map[string]Value, len(e.Kwargs))
		for _, kw := range e.Kwargs {
			v, err := in.evalExpr(kw.Value, env)
			if err != nil {
				return nil, err
			}
			kwargs[kw.Name] = v
		}
	}

	// method call on a receiver
	if attr, ok := e.Fn.(*AttrRef); ok {
		recv, err := in.evalExpr(attr.Target, env)
		if err != nil {
			return nil, err
		}
		return in.callMethod(recv, attr.Name, args, kwargs, e.Pos())
	}

	fn, err := in.evalExpr(e.Fn, env)
	if err != nil {
		return nil, err
	}
	return in.callValue(fn, args, kwargs, e.Pos())
}

func (in *Interp) callValue(fn Value, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
	switch f := fn.(type) {
	case builtinFn:
		return f.call(in, args, kwargs, pos)
	case userFn:
		if len(args) != len(f.def.Params) {
			return nil, fmt.Errorf("%s() takes %d arguments, got %d at %d:%d",
				f.def.Name, len(f.def.Params), len(args), pos.Line, pos.Col)
		}
		if in.depth >= maxCallDepth {
			return nil, fmt.Errorf("call depth limit exceeded at %d:%d", pos.Line, pos.Col)
		}
		in.depth++
		defer func() { in.depth-- }()
		local := NewEnv(f.closure)
		for i, p := range f.def.Params {
			local.Set(p, args[i])
		}
		err := in.execStmts(f.def.Body, local)
		if err == nil {
			return None{}, nil
		}
		if ret, ok := err.(returnSignal); ok {
			return ret.value, nil
		}
		return nil, err
	}
	return nil, fmt.Errorf("value of type %T is not callable at %d:%d", fn, pos.Line, pos.Col)
}

// callMethod dispatches series and rolling-window methods.
func (in *Interp) callMethod(recv Value, name string, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
	switch r := recv.(type) {
	case Series:
		return callSeriesMethod(r, name, args, kwargs, pos)
	case *Rolling:
		return callRollingMethod(r, name, pos)
	}
	return nil, fmt.Errorf("value of type %T has no method %q at %d:%d", recv, name, pos.Line, pos.Col)
}

func callSeriesMethod(s Series, name string, args []Value, kwargs map[string]Value, pos Position) (Value, error) {
	argInt := func(def int) (int, error) {
		if v, ok := kwargs["periods"]; ok {
			return asInt(v, pos)
		}
		if v, ok := kwargs["window"]; ok {
			return asInt(v, pos)
		}
		if len(args) == 0 {
			return def, nil
		}
		return asInt(args[0], pos)
	}
	switch name {
	case "shift":
		n, err := argInt(1)
		if err != nil {
			return nil, err
		}
		return s.Shift(n), nil
	case "diff":
		n, err := argInt(1)
		if err != nil {
			return nil, err
		}
		return s.Diff(n), nil
	case "pct_change":
		n, err := argInt(1)
		if err != nil {
			return nil, err
		}
		return s.PctChange(n), nil
	case "rolling":
		n, err := argInt(0)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("rolling window must be positive at %d:%d", pos.Line, pos.Col)
		}
		return &Rolling{series: s, window: n}, nil
	case "rolling_mean":
		n, err := argInt(0)
		if err != nil {
			return nil, err
		}
		return s.RollingMean(n), nil
	case "rolling_std":
		n, err := argInt(0)
		if err != nil {
			return nil, err
		}
		return s.RollingStd(n), nil
	case "abs":
		return s.Abs(), nil
	case "rank":
		return s.Rank(), nil
	case "mean":
		return s.RollingMean(len(s)).Last(), nil
	case "std":
		return s.RollingStd(len(s)).Last(), nil
	case "sum":
		return s.RollingSum(len(s)).Last(), nil
	case "min":
		return s.RollingMin(len(s)).Last(), nil
	case "max":
		return s.RollingMax(len(s)).Last(), nil
	case "fillna":
		fill := 0.0
		if len(args) > 0 {
			f, err := asFloat(args[0], pos)
			if err != nil {
				return nil, err
			}
			fill = f
		}
		return s.apply(func(x float64) float64 {
			if math.IsNaN(x) {
				return fill
			}
			return x
		}), nil
	}
	return nil, fmt.Errorf("series has no method %q at %d:%d", name, pos.Line, pos.Col)
}

func callRollingMethod(r *Rolling, name string, pos Position) (Value, error) {
	switch name {
	case "mean":
		return r.series.RollingMean(r.window), nil
	case "std":
		return r.series.RollingStd(r.window), nil
	case "max":
		return r.series.RollingMax(r.window), nil
	case "min":
		return r.series.RollingMin(r.window), nil
	case "sum":
		return r.series.RollingSum(r.window), nil
	}
	return nil, fmt.Errorf("rolling window has no method %q at %d:%d", name, pos.Line, pos.Col)
}

// arith applies an arithmetic operator with scalar/series broadcasting.
func (in *Interp) arith(op string, l, r Value, pos Position) (Value, error) {
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok && op == "+" {
			return ls + rs, nil
		}
		return nil, fmt.Errorf("unsupported operand types for %q at %d:%d", op, pos.Line, pos.Col)
	}
	lSeries, lOk := l.(Series)
	rSeries, rOk := r.(Series)
	switch {
	case lOk && rOk:
		if len(lSeries) != len(rSeries) {
			return nil, fmt.Errorf("series length mismatch %d vs %d at %d:%d",
				len(lSeries), len(rSeries), pos.Line, pos.Col)
		}
		out := make(Series, len(lSeries))
		for i := range out {
			out[i] = applyOp(op, lSeries[i], rSeries[i])
		}
		return out, nil
	case lOk:
		x, err := asFloat(r, pos)
		if err != nil {
			return nil, err
		}
		return lSeries.apply(func(v float64) float64 { return applyOp(op, v, x) }), nil
	case rOk:
		x, err := asFloat(l, pos)
		if err != nil {
			return nil, err
		}
		return rSeries.apply(func(v float64) float64 { return applyOp(op, x, v) }), nil
	}
	x, err := asFloat(l, pos)
	if err != nil {
		return nil, err
	}
	y, err := asFloat(r, pos)
	if err != nil {
		return nil, err
	}
	return applyOp(op, x, y), nil
}

func applyOp(op string, x, y float64) float64 {
	switch op {
	case "+":
		return x + y
	case "-":
		return x - y
	case "*":
		return x * y
	case "/":
		if y == 0 {
			return math.NaN()
		}
		return x / y
	case "%":
		if y == 0 {
			return math.NaN()
		}
		return math.Mod(x, y)
	case "**":
		return math.Pow(x, y)
	}
	return math.NaN()
}

func compare(op string, l, r Value, pos Position) (Value, error) {
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			return compareStrings(op, ls, rs, pos)
		}
	}
	lSeries, lOk := l.(Series)
	rSeries, rOk := r.(Series)
	switch {
	case lOk && rOk:
		if len(lSeries) != len(rSeries) {
			return nil, fmt.Errorf("series length mismatch %d vs %d at %d:%d",
				len(lSeries), len(rSeries), pos.Line, pos.Col)
		}
		out := make(Series, len(lSeries))
		for i := range out {
			out[i] = boolToFloat(compareFloats(op, lSeries[i], rSeries[i]))
		}
		return out, nil
	case lOk:
		x, err := asFloat(r, pos)
		if err != nil {
			return nil, err
		}
		return lSeries.apply(func(v float64) float64 { return boolToFloat(compareFloats(op, v, x)) }), nil
	case rOk:
		x, err := asFloat(l, pos)
		if err != nil {
			return nil, err
		}
		return rSeries.apply(func(v float64) float64 { return boolToFloat(compareFloats(op, x, v)) }), nil
	}
	x, err := asFloat(l, pos)
	if err != nil {
		return nil, err
	}
	y, err := asFloat(r, pos)
	if err != nil {
		return nil, err
	}
	return compareFloats(op, x, y), nil
}

// compareFloats follows dataframe semantics: any comparison against NaN is
// false, except != which is true.
func compareFloats(op string, x, y float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) {
		return op == "!="
	}
	switch op {
	case "<":
		return x < y
	case "<=":
		return x <= y
	case ">":
		return x > y
	case ">=":
		return x >= y
	case "==":
		return x == y
	case "!=":
		return x != y
	}
	return false
}

func compareStrings(op, x, y string, pos Position) (Value, error) {
	switch op {
	case "==":
		return x == y, nil
	case "!=":
		return x != y, nil
	case "<":
		return x < y, nil
	case "<=":
		return x <= y, nil
	case ">":
		return x > y, nil
	case ">=":
		return x >= y, nil
	}
	return nil, fmt.Errorf("unsupported string comparison %q at %d:%d", op, pos.Line, pos.Col)
}

func boolCombine(op string, l, r Value, pos Position) (Value, error) {
	lSeries, lOk := l.(Series)
	rSeries, rOk := r.(Series)
	toSeries := func(v Value, n int) (Series, error) {
		if s, ok := v.(Series); ok {
			return s, nil
		}
		t, err := truthy(v, pos)
		if err != nil {
			return nil, err
		}
		out := make(Series, n)
		for i := range out {
			out[i] = boolToFloat(t)
		}
		return out, nil
	}
	if lOk || rOk {
		n := 0
		if lOk {
			n = len(lSeries)
		} else {
			n = len(rSeries)
		}
		ls, err := toSeries(l, n)
		if err != nil {
			return nil, err
		}
		rs, err := toSeries(r, n)
		if err != nil {
			return nil, err
		}
		if len(ls) != len(rs) {
			return nil, fmt.Errorf("series length mismatch %d vs %d at %d:%d", len(ls), len(rs), pos.Line, pos.Col)
		}
		out := make(Series, len(ls))
		for i := range out {
			a := ls[i] != 0 && !math.IsNaN(ls[i])
			b := rs[i] != 0 && !math.IsNaN(rs[i])
			if op == "and" {
				out[i] = boolToFloat(a && b)
			} else {
				out[i] = boolToFloat(a || b)
			}
		}
		return out, nil
	}
	lt, err := truthy(l, pos)
	if err != nil {
		return nil, err
	}
	rt, err := truthy(r, pos)
	if err != nil {
		return nil, err
	}
	if op == "and" {
		return lt && rt, nil
	}
	return lt || rt, nil
}

func truthy(v Value, pos Position) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0 && !math.IsNaN(x), nil
	case string:
		return x != "", nil
	case None:
		return false, nil
	case List:
		return len(x) > 0, nil
	case Series:
		return false, fmt.Errorf("truth value of a series is ambiguous at %d:%d", pos.Line, pos.Col)
	}
	return false, fmt.Errorf("truth value of %T is undefined at %d:%d", v, pos.Line, pos.Col)
}

func asFloat(v Value, pos Position) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expected a number, got %T at %d:%d", v, pos.Line, pos.Col)
}

func asInt(v Value, pos Position) (int, error) {
	f, err := asFloat(v, pos)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("expected an integer, got %v at %d:%d", f, pos.Line, pos.Col)
	}
	return int(f), nil
}

func iterate(v Value, pos Position) ([]Value, error) {
	switch x := v.(type) {
	case List:
		return x, nil
	case Series:
		out := make([]Value, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("value of type %T is not iterable at %d:%d", v, pos.Line, pos.Col)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func unescapeString(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			sb.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '\\', '\'', '"':
			sb.WriteByte(s[i])
		default:
			sb.WriteByte('\\')
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}
