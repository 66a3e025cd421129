// Package condition evaluates condition-node params against a Run's context.
// Evaluation is pure: no I/O, no clock, total over the declared param shape.
package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Params shape: {"field": string, "operator": string, "value": any}.
const (
	OperatorEqual          = "=="
	OperatorNotEqual       = "!="
	OperatorGreater        = ">"
	OperatorGreaterOrEqual = ">="
	OperatorLess           = "<"
	OperatorLessOrEqual    = "<="
	OperatorIn             = "in"
	OperatorNotIn          = "not_in"
	OperatorContains       = "contains"
)

var (
	ErrMissingField     = errors.New("condition params missing 'field'")
	ErrMissingOperator  = errors.New("condition params missing 'operator'")
	ErrUnknownOperator  = errors.New("unknown condition operator")
	ErrNotComparable    = errors.New("values are not comparable")
	ErrMembershipTarget = errors.New("membership operator needs a list value")
)

// Evaluate applies the predicate described by params to the context. A field
// absent from the context yields false, not an error; the subscriber simply
// does not satisfy the condition yet. Malformed params are an error and fatal
// to the Run at that node.
func Evaluate(params, context map[string]any) (bool, error) {
	field, ok := params["field"].(string)
	if !ok || field == "" {
		return false, ErrMissingField
	}

	operator, ok := params["operator"].(string)
	if !ok || operator == "" {
		return false, ErrMissingOperator
	}

	expected := params["value"]

	actual, present := lookup(context, field)
	if !present {
		return false, nil
	}

	switch operator {
	case OperatorEqual:
		return equal(actual, expected), nil
	case OperatorNotEqual:
		return !equal(actual, expected), nil
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual:
		return compareNumeric(operator, actual, expected)
	case OperatorIn:
		return member(actual, expected)
	case OperatorNotIn:
		in, err := member(actual, expected)
		if err != nil {
			return false, err
		}

		return !in, nil
	case OperatorContains:
		return contains(actual, expected)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, operator)
	}
}

// lookup resolves a field from the context, supporting dotted paths into
// nested maps ("lead.country").
func lookup(context map[string]any, field string) (any, bool) {
	parts := strings.Split(field, ".")

	var current any = context

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// equal compares values after numeric normalization, so a json-decoded
// float64(5) equals an authored int(5).
func equal(a, b any) bool {
	an, aok := toFloat(a)

	bn, bok := toFloat(b)
	if aok && bok {
		return an == bn
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareNumeric(operator string, actual, expected any) (bool, error) {
	an, aok := toFloat(actual)

	bn, bok := toFloat(expected)
	if !aok || !bok {
		return false, fmt.Errorf("%w: %v %s %v", ErrNotComparable, actual, operator, expected)
	}

	switch operator {
	case OperatorGreater:
		return an > bn, nil
	case OperatorGreaterOrEqual:
		return an >= bn, nil
	case OperatorLess:
		return an < bn, nil
	default:
		return an <= bn, nil
	}
}

func member(actual, expected any) (bool, error) {
	list, ok := expected.([]any)
	if !ok {
		return false, ErrMembershipTarget
	}

	for _, candidate := range list {
		if equal(actual, candidate) {
			return true, nil
		}
	}

	return false, nil
}

// contains matches substrings on strings and membership on lists.
func contains(actual, expected any) (bool, error) {
	switch haystack := actual.(type) {
	case string:
		return strings.Contains(haystack, fmt.Sprintf("%v", expected)), nil
	case []any:
		for _, candidate := range haystack {
			if equal(candidate, expected) {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, fmt.Errorf("%w: contains on %T", ErrNotComparable, actual)
	}
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
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}
