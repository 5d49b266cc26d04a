// Package condition evaluates branching conditions against execution context.
//
// Two forms are supported: the structured field/operator/value form and a
// free-form expression evaluated with expr-lang. Missing context fields are
// treated as undefined rather than an error: every operator evaluates to
// false against an undefined field except not_equals, which evaluates to
// true (an absent field cannot equal anything).
package condition

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// Evaluator evaluates step conditions. Thread-safe: compiled expression
// programs are cached and reused across goroutines.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates a condition evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate resolves a condition to a boolean against the execution context.
// When both field and expression are set, the structured form wins.
func (e *Evaluator) Evaluate(cond *schema.Condition, execCtx map[string]any) (bool, error) {
	if cond == nil {
		return false, schema.NewError(schema.ErrCodeValidation, "condition is nil")
	}
	if cond.Field != "" {
		return e.evaluateField(cond, execCtx)
	}
	if cond.Expression != "" {
		return e.evaluateExpression(cond.Expression, execCtx)
	}
	return false, schema.NewError(schema.ErrCodeValidation, "condition requires a field or an expression")
}

func (e *Evaluator) evaluateField(cond *schema.Condition, execCtx map[string]any) (bool, error) {
	actual, found := resolvePath(execCtx, cond.Field)
	if !found {
		// Undefined-field semantics: only not_equals holds.
		return cond.Operator == schema.OperatorNotEquals, nil
	}

	switch cond.Operator {
	case schema.OperatorEquals:
		return looseEqual(actual, cond.Value), nil
	case schema.OperatorNotEquals:
		return !looseEqual(actual, cond.Value), nil
	case schema.OperatorGreaterThan:
		cmp, ok := compare(actual, cond.Value)
		return ok && cmp > 0, nil
	case schema.OperatorLessThan:
		cmp, ok := compare(actual, cond.Value)
		return ok && cmp < 0, nil
	case schema.OperatorContains:
		return contains(actual, cond.Value), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown condition operator %q", cond.Operator)
	}
}

func (e *Evaluator) evaluateExpression(expression string, execCtx map[string]any) (bool, error) {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	env := execCtx
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStepFailed,
			"expression evaluation failed for %q: %s", expression, err.Error()).WithCause(err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"expression %q returned %T, want bool", expression, out)
	}
	return result, nil
}

func (e *Evaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid condition expression %q: %s", expression, err.Error()).WithCause(err)
	}
	e.cache[expression] = prg
	return prg, nil
}

// resolvePath walks a dot-separated path through nested maps. The second
// return value reports whether the full path resolved.
func resolvePath(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current any = m
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares two values, treating all numeric types as float64
// since decoded JSON yields float64 for every number.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compare orders two values numerically when both are numbers, otherwise
// lexicographically over their string forms. Returns ok=false when the
// values are not comparable (e.g. a map or slice operand).
func compare(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

// contains reports substring containment for strings and membership for
// slices.
func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
