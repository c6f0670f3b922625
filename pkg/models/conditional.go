// Package models provides condition evaluation for condition steps
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ConditionOperator is the comparison applied by a condition step.
type ConditionOperator string

const (
	OperatorEquals   ConditionOperator = "equals"
	OperatorContains ConditionOperator = "contains"
	OperatorExists   ConditionOperator = "exists"
	OperatorTruthy   ConditionOperator = "truthy" // field value converted to boolean
)

// ErrConditionInvalid is returned for malformed condition configuration.
var ErrConditionInvalid = errors.New("invalid condition")

// Condition inspects a field of the task data. Fields use dot notation to
// reach into nested maps ("order.total").
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value,omitempty"`
}

// ParseCondition builds a Condition from a raw configuration value. A bare
// boolean or string is treated as a constant truthy expression.
func ParseCondition(raw any) (*Condition, error) {
	switch v := raw.(type) {
	case bool:
		return &Condition{Operator: OperatorTruthy, Value: v}, nil
	case string:
		return &Condition{Operator: OperatorTruthy, Value: v}, nil
	case map[string]any:
		field, _ := v["field"].(string)

		operator, _ := v["operator"].(string)
		if operator == "" {
			operator = string(OperatorTruthy)
		}

		switch ConditionOperator(operator) {
		case OperatorEquals, OperatorContains, OperatorExists, OperatorTruthy:
		default:
			return nil, fmt.Errorf("unknown operator %q: %w", operator, ErrConditionInvalid)
		}

		if field == "" && ConditionOperator(operator) != OperatorTruthy {
			return nil, fmt.Errorf("'field' is required for operator %q: %w", operator, ErrConditionInvalid)
		}

		return &Condition{
			Field:    field,
			Operator: ConditionOperator(operator),
			Value:    v["value"],
		}, nil
	default:
		return nil, fmt.Errorf("condition must be a boolean, string or object, got %T: %w", raw, ErrConditionInvalid)
	}
}

// Evaluate applies the condition against the given data.
func (c *Condition) Evaluate(data map[string]any) (bool, error) {
	var subject any

	if c.Field == "" {
		subject = c.Value
	} else {
		var found bool

		subject, found = lookupField(data, c.Field)
		if c.Operator == OperatorExists {
			return found, nil
		}

		if !found {
			return false, nil
		}
	}

	switch c.Operator {
	case OperatorExists:
		return subject != nil, nil
	case OperatorEquals:
		return fmt.Sprintf("%v", subject) == fmt.Sprintf("%v", c.Value), nil
	case OperatorContains:
		return strings.Contains(fmt.Sprintf("%v", subject), fmt.Sprintf("%v", c.Value)), nil
	case OperatorTruthy:
		return truthy(subject)
	default:
		return false, fmt.Errorf("unknown operator %q: %w", c.Operator, ErrConditionInvalid)
	}
}

// Lookup resolves a dot-notation path inside nested maps ("order.total").
func Lookup(data map[string]any, path string) (any, bool) {
	return lookupField(data, path)
}

// lookupField resolves a dot-notation path inside nested maps.
func lookupField(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")

	var current any = data

	for _, part := range parts {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = asMap[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func truthy(value any) (bool, error) {
	if value == nil {
		return false, nil
	}

	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		if v == "" {
			return false, nil
		}

		result, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, ErrConditionInvalid)
		}

		return result, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean: %w", value, ErrConditionInvalid)
	}
}
