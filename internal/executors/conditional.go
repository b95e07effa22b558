package executors

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/okibo/skein/internal/expressions"
	"github.com/okibo/skein/pkg/schema"
)

// ConditionalExecutor evaluates a closed set of comparison operators over
// already-resolved operands and emits the branch tag the scheduler prunes
// by. There is no general expression language here: the grammar is the
// enumerated operator set and nothing else.
type ConditionalExecutor struct {
	paths *expressions.PathEngine
}

func NewConditionalExecutor(paths *expressions.PathEngine) *ConditionalExecutor {
	return &ConditionalExecutor{paths: paths}
}

func (e *ConditionalExecutor) Type() schema.NodeType { return schema.NodeTypeConditional }

type conditionalConfig struct {
	Conditions []condition `json:"conditions"`
}

type condition struct {
	Variable string `json:"variable"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

func (e *ConditionalExecutor) Execute(_ context.Context, nodeID string, config json.RawMessage, view *schema.ContextView) (schema.NodeOutput, error) {
	var cfg conditionalConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Conditions) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfig, "conditional requires at least one condition").WithNode(nodeID)
	}

	scope := expressions.ScopeFromView(view)
	result := true
	for _, c := range cfg.Conditions {
		ok, err := e.evaluate(c, scope)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "condition on %q: %v", c.Variable, err).
				WithNode(nodeID).WithCause(err)
		}
		if !ok {
			result = false
			break
		}
	}

	branch := "false"
	if result {
		branch = "true"
	}
	return schema.SuccessOutput(map[string]any{
		"branch":               branch,
		"conditions_evaluated": len(cfg.Conditions),
	}), nil
}

// evaluate resolves the variable path and applies the operator. A missing
// variable makes the condition false, not an error.
func (e *ConditionalExecutor) evaluate(c condition, scope *expressions.Scope) (bool, error) {
	left, found := e.paths.Lookup(c.Variable, scope)
	if !found {
		return false, nil
	}

	switch c.Operator {
	case "equals":
		return looseEqual(left, c.Value), nil
	case "not_equals":
		return !looseEqual(left, c.Value), nil
	case "greater_than", "greater_or_equal", "less_than", "less_or_equal":
		lf, lok := asNumber(left)
		rf, rok := asNumber(c.Value)
		if !lok || !rok {
			// non-numeric operands fail the condition quietly
			return false, nil
		}
		switch c.Operator {
		case "greater_than":
			return lf > rf, nil
		case "greater_or_equal":
			return lf >= rf, nil
		case "less_than":
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	case "contains":
		return stringContains(left, c.Value), nil
	case "not_contains":
		return !stringContains(left, c.Value), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeConfig, "unknown operator %q", c.Operator)
	}
}

// looseEqual compares numerically when both operands are numbers, and by
// deep equality otherwise.
func looseEqual(a, b any) bool {
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stringContains(haystack, needle any) bool {
	hs, hok := haystack.(string)
	ns, nok := needle.(string)
	if !hok || !nok {
		return false
	}
	return strings.Contains(hs, ns)
}
