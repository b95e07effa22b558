package executors

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okibo/skein/internal/expressions"
	"github.com/okibo/skein/pkg/schema"
)

func newPathEngine(t *testing.T) *expressions.PathEngine {
	t.Helper()
	e, err := expressions.NewPathEngine()
	require.NoError(t, err)
	return e
}

func conditionalView() *schema.ContextView {
	return &schema.ContextView{
		TriggerData: map[string]any{"threshold": 0.5, "label": "cat-and-dog"},
		DependencyOutputs: map[string]schema.NodeOutput{
			"detect": {"status": "success", "summary": map[string]any{"count": 3.0}},
		},
		Predecessors: []string{"detect"},
	}
}

func evalBranch(t *testing.T, config string) string {
	t.Helper()
	e := NewConditionalExecutor(newPathEngine(t))
	out, err := e.Execute(context.Background(), "cond", json.RawMessage(config), conditionalView())
	require.NoError(t, err)
	branch, _ := out["branch"].(string)
	return branch
}

func TestConditionalOperators(t *testing.T) {
	cases := []struct {
		name   string
		cond   string
		branch string
	}{
		{"equals true", `{"variable":"nodes.detect.summary.count","operator":"equals","value":3}`, "true"},
		{"equals false", `{"variable":"nodes.detect.summary.count","operator":"equals","value":4}`, "false"},
		{"not_equals", `{"variable":"nodes.detect.status","operator":"not_equals","value":"failed"}`, "true"},
		{"greater_than", `{"variable":"nodes.detect.summary.count","operator":"greater_than","value":2}`, "true"},
		{"greater_or_equal", `{"variable":"nodes.detect.summary.count","operator":"greater_or_equal","value":3}`, "true"},
		{"less_than", `{"variable":"trigger.threshold","operator":"less_than","value":0.4}`, "false"},
		{"less_or_equal", `{"variable":"trigger.threshold","operator":"less_or_equal","value":0.5}`, "true"},
		{"contains", `{"variable":"trigger.label","operator":"contains","value":"dog"}`, "true"},
		{"not_contains", `{"variable":"trigger.label","operator":"not_contains","value":"bird"}`, "true"},
		{"ordering on non-numeric", `{"variable":"nodes.detect.status","operator":"greater_than","value":1}`, "false"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.branch, evalBranch(t, `{"conditions":[`+tc.cond+`]}`))
		})
	}
}

func TestConditionalMissingVariableIsFalse(t *testing.T) {
	branch := evalBranch(t, `{"conditions":[{"variable":"nodes.ghost.count","operator":"equals","value":1}]}`)
	assert.Equal(t, "false", branch)
}

func TestConditionalANDsAllConditions(t *testing.T) {
	both := `{"conditions":[
		{"variable":"nodes.detect.summary.count","operator":"greater_than","value":1},
		{"variable":"trigger.threshold","operator":"less_than","value":1}
	]}`
	assert.Equal(t, "true", evalBranch(t, both))

	oneFails := `{"conditions":[
		{"variable":"nodes.detect.summary.count","operator":"greater_than","value":1},
		{"variable":"trigger.threshold","operator":"greater_than","value":1}
	]}`
	assert.Equal(t, "false", evalBranch(t, oneFails))
}

func TestConditionalRejectsEmptyConditionList(t *testing.T) {
	e := NewConditionalExecutor(newPathEngine(t))
	_, err := e.Execute(context.Background(), "cond", json.RawMessage(`{"conditions":[]}`), conditionalView())
	require.Error(t, err)
	ee := err.(*schema.EngineError)
	assert.Equal(t, schema.ErrCodeConfig, ee.Code)
}
