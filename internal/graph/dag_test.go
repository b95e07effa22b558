package graph

import (
	"testing"

	"github.com/okibo/skein/pkg/schema"
)

func buildDAG(t *testing.T, nodes []schema.Node, edges []schema.Edge) *DAG {
	t.Helper()
	v := newTestValidator(t)
	d, err := Build(v, &schema.Graph{Nodes: nodes, Edges: edges})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return d
}

func TestBuildTopologicalOrder(t *testing.T) {
	nodes := []schema.Node{
		node("in", schema.NodeTypeInput, `{"mode":"single","source":"a.jpg"}`),
		node("d1", schema.NodeTypeDetection, `{"model_id":"m"}`),
		node("d2", schema.NodeTypeDetection, `{"model_id":"m"}`),
		node("out", schema.NodeTypeAPIResponse, ""),
	}
	edges := []schema.Edge{
		edge("in", "d1"), edge("in", "d2"),
		edge("d1", "out"), edge("d2", "out"),
	}
	d := buildDAG(t, nodes, edges)

	pos := make(map[string]int, len(d.Sorted))
	for i, id := range d.Sorted {
		pos[id] = i
	}
	for _, e := range edges {
		if pos[e.Source] >= pos[e.Target] {
			t.Fatalf("edge %s -> %s violates topological order %v", e.Source, e.Target, d.Sorted)
		}
	}
	if len(d.Roots) != 1 || d.Roots[0] != "in" {
		t.Fatalf("expected single root 'in', got %v", d.Roots)
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	nodes := []schema.Node{
		node("a", schema.NodeTypeInput, `{"mode":"single","source":"x"}`),
		node("b", schema.NodeTypeDetection, `{"model_id":"m"}`),
		node("c", schema.NodeTypeDetection, `{"model_id":"m"}`),
	}
	edges := []schema.Edge{edge("a", "b"), edge("b", "c"), edge("c", "b")}
	v := newTestValidator(t)
	_, err := Build(v, &schema.Graph{Nodes: nodes, Edges: edges})
	assertCode(t, err, schema.ErrCodeGraphValidation)
}

func TestPredecessorsPreserveDeclarationOrder(t *testing.T) {
	nodes := []schema.Node{
		node("z", schema.NodeTypeInput, `{"mode":"single","source":"z"}`),
		node("a", schema.NodeTypeInput, `{"mode":"single","source":"a"}`),
		node("out", schema.NodeTypeAPIResponse, ""),
	}
	// z was declared first on purpose: order must follow edges, not IDs
	edges := []schema.Edge{edge("z", "out"), edge("a", "out")}
	d := buildDAG(t, nodes, edges)

	preds := d.Predecessors("out")
	if len(preds) != 2 || preds[0] != "z" || preds[1] != "a" {
		t.Fatalf("expected [z a], got %v", preds)
	}
}
