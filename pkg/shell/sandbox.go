package shell

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// The run evaluator has no memory hooks of its own, so every construct
// that can build a large value goes through a checked builtin that
// reserves bytes from a per-evaluation budget before allocating.

const (
	budgetKey = "webterm.budget"
	maxRange  = 10_000_000
	cellSize  = 16 // bytes charged per list, tuple or dict slot
)

var errOutOfMemory = errors.New("expression uses too much memory")

// Methods that build results far larger than their inputs.
var blockedAttrs = map[string]bool{
	"format":  true,
	"join":    true,
	"replace": true,
	"extend":  true,
}

type budget struct {
	remaining int64
}

func (b *budget) reserve(n int64) error {
	if n < 0 || n > b.remaining {
		b.remaining = 0
		return errOutOfMemory
	}
	b.remaining -= n
	return nil
}

func budgetOf(thread *starlark.Thread) *budget {
	if b, ok := thread.Local(budgetKey).(*budget); ok {
		return b
	}
	return &budget{}
}

// reprSize estimates the bytes needed to print v, counting shared values
// once per reference. The walk stops as soon as the total passes limit.
func reprSize(v starlark.Value, limit int64) int64 {
	var total int64
	stack := []starlark.Value{v}
	for len(stack) > 0 && total <= limit {
		v, stack = stack[len(stack)-1], stack[:len(stack)-1]
		switch v := v.(type) {
		case starlark.String:
			total += int64(len(v)) + 2
		case starlark.Bytes:
			total += int64(len(v)) + 3
		case starlark.Int:
			if _, ok := v.Int64(); ok {
				total += 20
			} else {
				total += int64(v.BigInt().BitLen())/3 + 2
			}
		case *starlark.List:
			total += 2
			for i := 0; i < v.Len(); i++ {
				total += 2
				stack = append(stack, v.Index(i))
			}
		case starlark.Tuple:
			total += 2
			for _, e := range v {
				total += 2
				stack = append(stack, e)
			}
		case *starlark.Dict:
			total += 2
			for _, kv := range v.Items() {
				total += 4
				stack = append(stack, kv[0], kv[1])
			}
		default:
			total += 32
		}
	}
	return total
}

// seqLen returns the element count of a sized iterable.
func seqLen(v starlark.Value) (int64, bool) {
	if s, ok := v.(starlark.Sequence); ok {
		return int64(s.Len()), true
	}
	return 0, false
}

func intBits(v starlark.Value) (int64, bool) {
	i, ok := v.(starlark.Int)
	if !ok {
		return 0, false
	}
	if n, ok := i.Int64(); ok {
		if n < 0 {
			n = -n
		}
		bits := int64(0)
		for n > 0 {
			bits++
			n >>= 1
		}
		return bits, true
	}
	return int64(i.BigInt().BitLen()), true
}

func isSeq(v starlark.Value) bool {
	switch v.(type) {
	case starlark.String, starlark.Bytes, *starlark.List, starlark.Tuple:
		return true
	}
	return false
}

// checkedBinary evaluates x op y after reserving the size of the result.
func checkedBinary(op syntax.Token) *starlark.Builtin {
	return starlark.NewBuiltin(checkedOps[op], func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 2 || len(kwargs) != 0 {
			return nil, fmt.Errorf("%s: want 2 arguments", fn.Name())
		}
		x, y := args[0], args[1]
		b := budgetOf(thread)
		if err := b.reserve(estimate(op, x, y, b.remaining)); err != nil {
			return nil, err
		}
		return starlark.Binary(op, x, y)
	})
}

// estimate returns an upper bound for the bytes x op y allocates, or a
// value above limit when the result would not fit.
func estimate(op syntax.Token, x, y starlark.Value, limit int64) int64 {
	switch op {
	case syntax.STAR:
		if isSeq(y) {
			x, y = y, x
		}
		if isSeq(x) {
			n, ok := y.(starlark.Int)
			if !ok {
				return 0
			}
			count, ok := n.Int64()
			if !ok {
				return limit + 1
			}
			if count <= 0 {
				return 0
			}
			var unit int64
			switch x := x.(type) {
			case starlark.String:
				unit = int64(len(x))
			case starlark.Bytes:
				unit = int64(len(x))
			default:
				unit = reprSize(x, limit)
			}
			if unit > 0 && count > limit/unit {
				return limit + 1
			}
			return unit * count
		}
		xb, xok := intBits(x)
		yb, yok := intBits(y)
		if xok && yok {
			return (xb+yb)/8 + 1
		}
	case syntax.PLUS, syntax.PIPE:
		if isSeq(x) || isSeq(y) {
			return reprSize(x, limit) + reprSize(y, limit)
		}
		if _, ok := x.(*starlark.Dict); ok {
			return reprSize(x, limit) + reprSize(y, limit)
		}
	case syntax.PERCENT:
		if f, ok := x.(starlark.String); ok {
			directives := int64(strings.Count(string(f), "%"))
			arg := reprSize(y, limit)
			if directives > 0 && arg > 0 && directives > limit/arg {
				return limit + 1
			}
			return int64(len(f)) + directives*arg
		}
	}
	return 0
}

// charge reserves the printed size of v and returns it unchanged. Bodies
// of comprehensions and container literals pass through it.
func charge(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 || len(kwargs) != 0 {
		return nil, fmt.Errorf("%s: want 1 argument", fn.Name())
	}
	b := budgetOf(thread)
	if err := b.reserve(reprSize(args[0], b.remaining)); err != nil {
		return nil, err
	}
	return args[0], nil
}

// wrapUniverse returns a builtin that reserves pre(args) bytes and then
// calls the universal builtin of the same name.
func wrapUniverse(name string, pre func(args starlark.Tuple, kwargs []starlark.Tuple, limit int64) int64) *starlark.Builtin {
	inner := starlark.Universe[name]
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		b := budgetOf(thread)
		if err := b.reserve(pre(args, kwargs, b.remaining)); err != nil {
			return nil, err
		}
		return starlark.Call(thread, inner, args, kwargs)
	})
}

// printed reserves the printed size of every argument.
func printed(args starlark.Tuple, kwargs []starlark.Tuple, limit int64) int64 {
	var n int64
	for _, a := range args {
		n += reprSize(a, limit)
	}
	for _, kv := range kwargs {
		n += reprSize(kv[1], limit)
	}
	return n
}

// cells reserves one slot per element of every sized argument.
func cells(args starlark.Tuple, kwargs []starlark.Tuple, _ int64) int64 {
	var n int64
	for _, a := range args {
		if l, ok := seqLen(a); ok {
			n += l * cellSize
		}
	}
	for _, kv := range kwargs {
		if l, ok := seqLen(kv[1]); ok {
			n += l * cellSize
		}
	}
	return n
}

func sandboxBuiltins() starlark.StringDict {
	env := starlark.StringDict{
		"__charge": starlark.NewBuiltin("__charge", charge),
		"str":      wrapUniverse("str", printed),
		"repr":     wrapUniverse("repr", printed),
		"fail":     wrapUniverse("fail", printed),
		"print": starlark.NewBuiltin("print", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.None, nil
		}),
		"range": starlark.NewBuiltin("range", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			r, err := starlark.Call(thread, starlark.Universe["range"], args, kwargs)
			if err != nil {
				return nil, err
			}
			if n, _ := seqLen(r); n > maxRange {
				return nil, fmt.Errorf("range: %d elements exceeds the limit of %d", n, maxRange)
			}
			return r, nil
		}),
		"getattr": starlark.NewBuiltin("getattr", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(args) >= 2 {
				if name, ok := args[1].(starlark.String); ok && blockedAttrs[string(name)] {
					return nil, fmt.Errorf("getattr: .%s is not available", string(name))
				}
			}
			return starlark.Call(thread, starlark.Universe["getattr"], args, kwargs)
		}),
	}
	for _, name := range []string{"list", "tuple", "sorted", "reversed", "enumerate", "zip", "dict"} {
		env[name] = wrapUniverse(name, cells)
	}
	for op, name := range checkedOps {
		env[name] = checkedBinary(op)
	}
	return env
}

var checkedOps = map[syntax.Token]string{
	syntax.STAR:    "__mul",
	syntax.PLUS:    "__add",
	syntax.PERCENT: "__mod",
	syntax.PIPE:    "__or",
}

// rewrite replaces allocating operators with their checked builtins and
// routes container literals and comprehension bodies through __charge.
func rewrite(e syntax.Expr) (syntax.Expr, error) {
	var err error
	switch e := e.(type) {
	case nil, *syntax.Ident, *syntax.Literal:
		return e, nil
	case *syntax.ParenExpr:
		e.X, err = rewrite(e.X)
		return e, err
	case *syntax.UnaryExpr:
		if e.X != nil {
			e.X, err = rewrite(e.X)
		}
		return e, err
	case *syntax.BinaryExpr:
		if e.X, err = rewrite(e.X); err != nil {
			return nil, err
		}
		if e.Y, err = rewrite(e.Y); err != nil {
			return nil, err
		}
		if name, ok := checkedOps[e.Op]; ok {
			return call(name, e, e.X, e.Y), nil
		}
		return e, nil
	case *syntax.CondExpr:
		if e.Cond, err = rewrite(e.Cond); err != nil {
			return nil, err
		}
		if e.True, err = rewrite(e.True); err != nil {
			return nil, err
		}
		e.False, err = rewrite(e.False)
		return e, err
	case *syntax.CallExpr:
		if e.Fn, err = rewrite(e.Fn); err != nil {
			return nil, err
		}
		for i, arg := range e.Args {
			// name=value keeps its name
			if kw, ok := arg.(*syntax.BinaryExpr); ok && kw.Op == syntax.EQ {
				if kw.Y, err = rewrite(kw.Y); err != nil {
					return nil, err
				}
				continue
			}
			if e.Args[i], err = rewrite(arg); err != nil {
				return nil, err
			}
		}
		return e, nil
	case *syntax.DotExpr:
		if blockedAttrs[e.Name.Name] {
			return nil, fmt.Errorf(".%s is not available", e.Name.Name)
		}
		e.X, err = rewrite(e.X)
		return e, err
	case *syntax.IndexExpr:
		if e.X, err = rewrite(e.X); err != nil {
			return nil, err
		}
		if e.Y, err = rewrite(e.Y); err != nil {
			return nil, err
		}
		e.Y = call("__charge", e.Y, e.Y)
		return e, nil
	case *syntax.SliceExpr:
		for _, p := range []*syntax.Expr{&e.X, &e.Lo, &e.Hi, &e.Step} {
			if *p, err = rewrite(*p); err != nil {
				return nil, err
			}
		}
		return e, nil
	case *syntax.ListExpr:
		if err := rewriteAll(e.List); err != nil {
			return nil, err
		}
		return call("__charge", e, e), nil
	case *syntax.TupleExpr:
		if err := rewriteAll(e.List); err != nil {
			return nil, err
		}
		return call("__charge", e, e), nil
	case *syntax.DictExpr:
		for _, entry := range e.List {
			if err := rewriteEntry(entry.(*syntax.DictEntry)); err != nil {
				return nil, err
			}
		}
		return call("__charge", e, e), nil
	case *syntax.Comprehension:
		for _, clause := range e.Clauses {
			switch c := clause.(type) {
			case *syntax.ForClause:
				c.X, err = rewrite(c.X)
			case *syntax.IfClause:
				c.Cond, err = rewrite(c.Cond)
			}
			if err != nil {
				return nil, err
			}
		}
		if entry, ok := e.Body.(*syntax.DictEntry); ok {
			err = rewriteEntry(entry)
		} else {
			e.Body, err = rewrite(e.Body)
			if err == nil {
				e.Body = call("__charge", e.Body, e.Body)
			}
		}
		return e, err
	case *syntax.LambdaExpr:
		return nil, errors.New("lambda is not available")
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func rewriteAll(list []syntax.Expr) error {
	for i, x := range list {
		var err error
		if list[i], err = rewrite(x); err != nil {
			return err
		}
	}
	return nil
}

// rewriteEntry charges both sides of a dict entry. Keys are charged before
// insertion since duplicate or missing key errors print them.
func rewriteEntry(entry *syntax.DictEntry) error {
	key, err := rewrite(entry.Key)
	if err != nil {
		return err
	}
	value, err := rewrite(entry.Value)
	if err != nil {
		return err
	}
	entry.Key = call("__charge", key, key)
	entry.Value = call("__charge", value, value)
	return nil
}

// call builds fn(args...) positioned over the span of at.
func call(fn string, at syntax.Expr, args ...syntax.Expr) *syntax.CallExpr {
	start, end := at.Span()
	return &syntax.CallExpr{
		Fn:     &syntax.Ident{NamePos: start, Name: fn},
		Lparen: start,
		Args:   args,
		Rparen: end,
	}
}
