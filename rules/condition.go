package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

const (
	OpEqual            = "eq"
	OpNotEqual         = "ne"
	OpLessThan         = "lt"
	OpLessThanEqual    = "lte"
	OpGreaterThan      = "gt"
	OpGreaterThanEqual = "gte"
	OpContains         = "contains"
	OpStartsWith       = "starts_with"
	OpEndsWith         = "ends_with"
	OpRegexMatch       = "regex"

	LogicAnd = "and"
	LogicOr  = "or"
)

// OperatorFunc compares a field value against a condition's value.
type OperatorFunc func(fieldValue, compareValue any) (bool, error)

// EvaluationError describes why a condition could not be evaluated.
type EvaluationError struct {
	Field    string
	Operator string
	Message  string
	Err      error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("condition on field %q with operator %q: %s: %v", e.Field, e.Operator, e.Message, e.Err)
	}
	return fmt.Sprintf("condition on field %q with operator %q: %s", e.Field, e.Operator, e.Message)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// ConditionEvaluator evaluates condition items against the running value.
type ConditionEvaluator struct {
	operators map[string]OperatorFunc
	regexes   sync.Map // pattern -> *regexp.Regexp
}

func NewConditionEvaluator() *ConditionEvaluator {
	e := &ConditionEvaluator{operators: make(map[string]OperatorFunc)}
	e.operators[OpEqual] = func(a, b any) (bool, error) { return compare(a, b) == 0, nil }
	e.operators[OpNotEqual] = func(a, b any) (bool, error) { return compare(a, b) != 0, nil }
	e.operators[OpLessThan] = func(a, b any) (bool, error) { return compare(a, b) < 0, nil }
	e.operators[OpLessThanEqual] = func(a, b any) (bool, error) { return compare(a, b) <= 0, nil }
	e.operators[OpGreaterThan] = func(a, b any) (bool, error) { return compare(a, b) > 0, nil }
	e.operators[OpGreaterThanEqual] = func(a, b any) (bool, error) { return compare(a, b) >= 0, nil }
	e.operators[OpContains] = func(a, b any) (bool, error) { return strings.Contains(toString(a), toString(b)), nil }
	e.operators[OpStartsWith] = func(a, b any) (bool, error) { return strings.HasPrefix(toString(a), toString(b)), nil }
	e.operators[OpEndsWith] = func(a, b any) (bool, error) { return strings.HasSuffix(toString(a), toString(b)), nil }
	e.operators[OpRegexMatch] = e.regexMatch
	return e
}

// Evaluate applies the condition item to value. An empty condition list passes.
func (e *ConditionEvaluator) Evaluate(value any, cond model.RuleCondition) (bool, error) {
	if len(cond.Conditions) == 0 {
		return true, nil
	}
	logic := cond.Logic
	if logic == "" {
		logic = LogicAnd
	}
	if logic != LogicAnd && logic != LogicOr {
		return false, &EvaluationError{Message: fmt.Sprintf("unsupported logic operator: %s", cond.Logic)}
	}
	for _, c := range cond.Conditions {
		ok, err := e.evaluateOne(value, c)
		if err != nil {
			return false, err
		}
		if logic == LogicOr && ok {
			return true, nil
		}
		if logic == LogicAnd && !ok {
			return false, nil
		}
	}
	return logic == LogicAnd, nil
}

func (e *ConditionEvaluator) evaluateOne(value any, c model.ConditionExpression) (bool, error) {
	fieldValue, exists := lookupPath(value, c.Field)
	if !exists {
		if c.Required {
			return false, &EvaluationError{Field: c.Field, Operator: c.Operator, Message: "required field not found"}
		}
		return false, nil
	}
	op, ok := e.operators[c.Operator]
	if !ok {
		return false, &EvaluationError{Field: c.Field, Operator: c.Operator, Message: "unsupported operator"}
	}
	result, err := op(fieldValue, c.Value)
	if err != nil {
		return false, &EvaluationError{Field: c.Field, Operator: c.Operator, Message: "operator execution failed", Err: err}
	}
	return result, nil
}

func (e *ConditionEvaluator) regexMatch(fieldValue, compareValue any) (bool, error) {
	pattern, ok := compareValue.(string)
	if !ok {
		return false, fmt.Errorf("regex pattern must be a string")
	}
	var re *regexp.Regexp
	if cached, ok := e.regexes.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		e.regexes.Store(pattern, compiled)
		re = compiled
	}
	return re.MatchString(toString(fieldValue)), nil
}

// compare orders a and b numerically when both are numbers, or when one is
// a number and the other a string that parses as one. Anything else is
// ordered by string form.
func compare(a, b any) int {
	an, aok := toFloat64(a)
	bn, bok := toFloat64(b)
	if aok && !bok {
		bn, bok = parseNumber(b)
	} else if bok && !aok {
		an, aok = parseNumber(a)
	}
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return strings.Compare(toString(a), toString(b))
}

func parseNumber(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

// lookupPath resolves a dot-separated path into nested maps. An empty path
// is the value itself.
func lookupPath(value any, path string) (any, bool) {
	if path == "" {
		return value, true
	}
	cur := value
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
