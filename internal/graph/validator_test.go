package graph

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/okibo/skein/pkg/schema"
)

// --- helpers ---

func node(id string, nt schema.NodeType, config string) schema.Node {
	var raw json.RawMessage
	if config != "" {
		raw = json.RawMessage(config)
	}
	return schema.Node{ID: id, Type: nt, Config: raw}
}

func edge(source, target string) schema.Edge {
	return schema.Edge{Source: source, Target: target}
}

func labeled(source, target, label string) schema.Edge {
	return schema.Edge{Source: source, Target: target, Label: label}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	var ee *schema.EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EngineError, got %T: %v", err, err)
	}
	if ee.Code != code {
		t.Fatalf("expected code %s, got %s (%v)", code, ee.Code, err)
	}
}

// --- tests ---

func TestValidateAcceptsLinearGraph(t *testing.T) {
	v := newTestValidator(t)
	nodes := []schema.Node{
		node("in", schema.NodeTypeInput, `{"mode":"single","source":"a.jpg"}`),
		node("detect", schema.NodeTypeDetection, `{"model_id":"m1"}`),
		node("out", schema.NodeTypeAPIResponse, ""),
	}
	edges := []schema.Edge{edge("in", "detect"), edge("detect", "out")}
	if err := v.Validate(nodes, edges); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
}

func TestValidateRejectsEmptyGraph(t *testing.T) {
	v := newTestValidator(t)
	assertCode(t, v.Validate(nil, nil), schema.ErrCodeGraphValidation)
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	v := newTestValidator(t)
	nodes := []schema.Node{
		node("a", schema.NodeTypeInput, `{"mode":"single","source":"x"}`),
		node("a", schema.NodeTypeDetection, `{"model_id":"m"}`),
	}
	assertCode(t, v.Validate(nodes, nil), schema.ErrCodeGraphValidation)
}

func TestValidateRejectsUnknownType(t *testing.T) {
	v := newTestValidator(t)
	nodes := []schema.Node{node("a", schema.NodeType("mystery"), "")}
	assertCode(t, v.Validate(nodes, nil), schema.ErrCodeGraphValidation)
}

func TestValidateRejectsDanglingEdge(t *testing.T) {
	v := newTestValidator(t)
	nodes := []schema.Node{node("a", schema.NodeTypeInput, `{"mode":"single","source":"x"}`)}
	assertCode(t, v.Validate(nodes, []schema.Edge{edge("a", "ghost")}), schema.ErrCodeGraphValidation)
}

func TestValidateRejectsTwoResponders(t *testing.T) {
	v := newTestValidator(t)
	nodes := []schema.Node{
		node("in", schema.NodeTypeInput, `{"mode":"single","source":"x"}`),
		node("r1", schema.NodeTypeAPIResponse, ""),
		node("r2", schema.NodeTypeAPIResponse, ""),
	}
	edges := []schema.Edge{edge("in", "r1"), edge("in", "r2")}
	assertCode(t, v.Validate(nodes, edges), schema.ErrCodeGraphValidation)
}

func TestValidateResponderNeedsIncomingEdge(t *testing.T) {
	v := newTestValidator(t)
	nodes := []schema.Node{
		node("in", schema.NodeTypeInput, `{"mode":"single","source":"x"}`),
		node("r", schema.NodeTypeAPIResponse, ""),
	}
	assertCode(t, v.Validate(nodes, nil), schema.ErrCodeGraphValidation)
}

func TestValidateResponderAllowListNamesOffendingType(t *testing.T) {
	v := newTestValidator(t)
	nodes := []schema.Node{
		node("train", schema.NodeTypeTraining, `{"dataset_id":"d1"}`),
		node("r", schema.NodeTypeAPIResponse, ""),
	}
	err := v.Validate(nodes, []schema.Edge{edge("train", "r")})
	assertCode(t, err, schema.ErrCodeGraphValidation)
	if !strings.Contains(err.Error(), "training") {
		t.Fatalf("error should name the offending type: %v", err)
	}
}

func TestValidateTriggerFieldRules(t *testing.T) {
	v := newTestValidator(t)

	dup := node("t", schema.NodeTypeAPITrigger,
		`{"fields":[{"name":"x","type":"string"},{"name":"x","type":"number"}]}`)
	assertCode(t, v.Validate([]schema.Node{dup}, nil), schema.ErrCodeGraphValidation)

	badType := node("t", schema.NodeTypeAPITrigger,
		`{"fields":[{"name":"x","type":"timestamp"}]}`)
	assertCode(t, v.Validate([]schema.Node{badType}, nil), schema.ErrCodeGraphValidation)
}

func TestValidateConditionalEdgeLabels(t *testing.T) {
	v := newTestValidator(t)
	nodes := []schema.Node{
		node("c", schema.NodeTypeConditional, `{"conditions":[{"variable":"trigger.x","operator":"equals","value":1}]}`),
		node("a", schema.NodeTypeInput, `{"mode":"single","source":"x"}`),
		node("b", schema.NodeTypeInput, `{"mode":"single","source":"y"}`),
	}

	// unlabeled edge out of a conditional
	assertCode(t, v.Validate(nodes, []schema.Edge{edge("c", "a"), labeled("c", "b", "false")}),
		schema.ErrCodeGraphValidation)

	// label on a non-conditional source
	assertCode(t, v.Validate(nodes, []schema.Edge{labeled("a", "b", "true")}),
		schema.ErrCodeGraphValidation)

	// properly labeled both ways
	if err := v.Validate(nodes, []schema.Edge{labeled("c", "a", "true"), labeled("c", "b", "false")}); err != nil {
		t.Fatalf("expected valid labels, got %v", err)
	}
}

func TestValidateNodeConfigSchema(t *testing.T) {
	v := newTestValidator(t)

	// detection without model_id
	bad := []schema.Node{node("d", schema.NodeTypeDetection, `{}`)}
	assertCode(t, v.Validate(bad, nil), schema.ErrCodeConfig)

	// interpolated numeric field survives submission validation
	ok := []schema.Node{node("d", schema.NodeTypeDetection,
		`{"model_id":"m","confidence":"${{ trigger.conf }}"}`)}
	if err := v.Validate(ok, nil); err != nil {
		t.Fatalf("interpolated config should validate, got %v", err)
	}
}
