package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/Knetic/govaluate"
)

// ConstraintFunctionRegistry holds the functions callable from parameter constraints.
type ConstraintFunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]govaluate.ExpressionFunction
}

var globalConstraintFuncs = &ConstraintFunctionRegistry{functions: map[string]govaluate.ExpressionFunction{
	"len": lengthOf,
}}

// RegisterConstraintFunction makes fn callable from constraint expressions.
func RegisterConstraintFunction(name string, fn govaluate.ExpressionFunction) {
	globalConstraintFuncs.mu.Lock()
	defer globalConstraintFuncs.mu.Unlock()
	globalConstraintFuncs.functions[name] = fn
}

func constraintFunctions() map[string]govaluate.ExpressionFunction {
	globalConstraintFuncs.mu.RLock()
	defer globalConstraintFuncs.mu.RUnlock()
	out := make(map[string]govaluate.ExpressionFunction, len(globalConstraintFuncs.functions))
	for k, v := range globalConstraintFuncs.functions {
		out[k] = v
	}
	return out
}

// ValidateConstraint checks that expr parses.
func ValidateConstraint(expr string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expr, constraintFunctions())
	return err
}

// CheckConstraint evaluates expr with the parameter bound to "value".
// A constraint that does not evaluate to true is an error.
func CheckConstraint(expr string, value interface{}) error {
	expression, err := govaluate.NewEvaluableExpressionWithFunctions(expr, constraintFunctions())
	if err != nil {
		return fmt.Errorf("invalid constraint %q: %w", expr, err)
	}
	result, err := expression.Evaluate(map[string]interface{}{"value": normalizeNumber(value)})
	if err != nil {
		return fmt.Errorf("constraint %q could not be evaluated: %w", expr, err)
	}
	if ok, _ := result.(bool); !ok {
		return fmt.Errorf("value %v violates constraint %q", value, expr)
	}
	return nil
}

// govaluate compares numbers as float64.
func normalizeNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

func lengthOf(args ...interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return 0.0, nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return float64(rv.Len()), nil
	}
	return nil, fmt.Errorf("len: unsupported type %T", args[0])
}
