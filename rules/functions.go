package rules

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var ErrUnknownFunction = errors.New("rules: unknown function")

// Func transforms the running value of a rule.
type Func func(ctx context.Context, value any, params map[string]any) (any, error)

// FunctionLibrary maps function ids to transforms.
type FunctionLibrary struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewFunctionLibrary returns a library holding the built-in functions.
func NewFunctionLibrary() *FunctionLibrary {
	l := &FunctionLibrary{funcs: make(map[string]Func)}
	l.Register("identity", fnIdentity)
	l.Register("constant", fnConstant)
	l.Register("add", fnAdd)
	l.Register("multiply", fnMultiply)
	l.Register("round", fnRound)
	l.Register("negate", fnNegate)
	l.Register("field", fnField)
	return l
}

func (l *FunctionLibrary) Register(id string, fn Func) {
	l.mu.Lock()
	l.funcs[id] = fn
	l.mu.Unlock()
}

// IDs returns the registered function ids, sorted.
func (l *FunctionLibrary) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.funcs))
	for id := range l.funcs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run invokes the function registered under id.
func (l *FunctionLibrary) Run(ctx context.Context, id string, value any, params map[string]any) (any, error) {
	l.mu.RLock()
	fn, ok := l.funcs[id]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, id)
	}
	return fn(ctx, value, params)
}

func numberParam(params map[string]any, name string) (float64, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", name)
	}
	n, ok := toFloat64(raw)
	if !ok {
		return 0, fmt.Errorf("parameter %q is not a number", name)
	}
	return n, nil
}

func numberValue(value any) (float64, error) {
	n, ok := toFloat64(value)
	if !ok {
		return 0, fmt.Errorf("value %v is not a number", value)
	}
	return n, nil
}

func fnIdentity(_ context.Context, value any, _ map[string]any) (any, error) {
	return value, nil
}

func fnConstant(_ context.Context, _ any, params map[string]any) (any, error) {
	v, ok := params["value"]
	if !ok {
		return nil, errors.New("missing parameter \"value\"")
	}
	return v, nil
}

func fnAdd(_ context.Context, value any, params map[string]any) (any, error) {
	n, err := numberValue(value)
	if err != nil {
		return nil, err
	}
	operand, err := numberParam(params, "operand")
	if err != nil {
		return nil, err
	}
	return n + operand, nil
}

func fnMultiply(_ context.Context, value any, params map[string]any) (any, error) {
	n, err := numberValue(value)
	if err != nil {
		return nil, err
	}
	factor, err := numberParam(params, "factor")
	if err != nil {
		return nil, err
	}
	return n * factor, nil
}

func fnRound(_ context.Context, value any, params map[string]any) (any, error) {
	n, err := numberValue(value)
	if err != nil {
		return nil, err
	}
	digits := 0.0
	if _, ok := params["digits"]; ok {
		if digits, err = numberParam(params, "digits"); err != nil {
			return nil, err
		}
	}
	scale := math.Pow(10, digits)
	return math.Round(n*scale) / scale, nil
}

func fnNegate(_ context.Context, value any, _ map[string]any) (any, error) {
	if b, ok := value.(bool); ok {
		return !b, nil
	}
	n, err := numberValue(value)
	if err != nil {
		return nil, err
	}
	return -n, nil
}

func fnField(_ context.Context, value any, params map[string]any) (any, error) {
	path, _ := params["path"].(string)
	v, ok := lookupPath(value, path)
	if !ok {
		return nil, fmt.Errorf("field %q not found", path)
	}
	return v, nil
}
