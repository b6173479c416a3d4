package shell

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	defaultMaxResult = 64 << 10
	defaultMaxAlloc  = 4 << 20
)

var errResultTooLarge = errors.New("result too large")

// EvalLimits bounds one run evaluation. MaxSteps or Timeout of 0 leave
// that dimension unbounded; MaxResult and MaxAlloc of 0 take defaults.
type EvalLimits struct {
	MaxSteps  uint64
	Timeout   time.Duration
	MaxResult int // bytes of the printed result
	MaxAlloc  int // bytes all intermediate values may use together
}

// Evaluator runs single Starlark expressions for the run command. There is
// no I/O, no load, a cap on execution steps and a memory budget enforced
// by the checked operators in sandbox.go.
type Evaluator struct {
	limits      EvalLimits
	predeclared starlark.StringDict
}

// NewEvaluator creates an evaluator.
func NewEvaluator(limits EvalLimits) *Evaluator {
	if limits.MaxResult <= 0 {
		limits.MaxResult = defaultMaxResult
	}
	if limits.MaxAlloc <= 0 {
		limits.MaxAlloc = defaultMaxAlloc
	}
	predeclared := sandboxBuiltins()
	predeclared["math"] = math.Module
	return &Evaluator{limits: limits, predeclared: predeclared}
}

// Eval evaluates code and formats the result. Strings are returned
// unquoted, every other value in its Starlark representation.
func (e *Evaluator) Eval(code string) (string, error) {
	opts := &syntax.FileOptions{}
	expr, err := opts.ParseExpr("run", code, 0)
	if err != nil {
		return "", e.message(err)
	}
	expr, err = rewrite(expr)
	if err != nil {
		return "", err
	}

	thread := &starlark.Thread{
		Name:  "run",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetLocal(budgetKey, &budget{remaining: int64(e.limits.MaxAlloc)})
	if e.limits.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(e.limits.MaxSteps)
	}
	if e.limits.Timeout > 0 {
		timer := time.AfterFunc(e.limits.Timeout, func() { thread.Cancel("timeout") })
		defer timer.Stop()
	}

	v, err := starlark.EvalExprOptions(opts, thread, expr, e.predeclared)
	if err != nil {
		return "", e.message(err)
	}

	limit := int64(e.limits.MaxResult)
	if s, ok := v.(starlark.String); ok {
		if int64(len(s)) > limit {
			return "", fmt.Errorf("%w (max %d bytes)", errResultTooLarge, limit)
		}
		return string(s), nil
	}
	if reprSize(v, limit) > limit {
		return "", fmt.Errorf("%w (max %d bytes)", errResultTooLarge, limit)
	}
	out := v.String()
	if int64(len(out)) > limit {
		return "", fmt.Errorf("%w (max %d bytes)", errResultTooLarge, limit)
	}
	return out, nil
}

// message drops the backtrace Starlark attaches to runtime errors and
// keeps the text within the result limit.
func (e *Evaluator) message(err error) error {
	msg := err.Error()
	if evalErr, ok := err.(*starlark.EvalError); ok {
		msg = evalErr.Msg
	}
	if len(msg) > e.limits.MaxResult {
		cut := e.limits.MaxResult
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return errors.New(msg)
}
