package graph

import (
	"sort"

	"github.com/okibo/skein/pkg/schema"
)

// DAG is the in-memory directed acyclic graph representation of a workflow.
// Built from a validated Graph, used by the engine to determine execution
// order. Edge slices preserve submission declaration order, which fixes the
// aggregator's source visitation order.
type DAG struct {
	Nodes    map[string]*schema.Node
	Incoming map[string][]schema.Edge // target ID → incoming edges
	Outgoing map[string][]schema.Edge // source ID → outgoing edges
	Sorted   []string                 // topological order
	Roots    []string                 // nodes with no incoming edges
}

// Build validates the graph and constructs its DAG. Cycles are rejected
// with ErrCodeGraphValidation.
func Build(v *Validator, g *schema.Graph) (*DAG, error) {
	if err := v.Validate(g.Nodes, g.Edges); err != nil {
		return nil, err
	}

	dag := &DAG{
		Nodes:    make(map[string]*schema.Node, len(g.Nodes)),
		Incoming: make(map[string][]schema.Edge, len(g.Nodes)),
		Outgoing: make(map[string][]schema.Edge, len(g.Nodes)),
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		dag.Nodes[n.ID] = n
	}
	for _, e := range g.Edges {
		dag.Outgoing[e.Source] = append(dag.Outgoing[e.Source], e)
		dag.Incoming[e.Target] = append(dag.Incoming[e.Target], e)
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(dag.Nodes))
	for id := range dag.Nodes {
		inDegree[id] = len(dag.Incoming[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	// Sort roots for deterministic ordering.
	sort.Strings(queue)
	dag.Roots = make([]string, len(queue))
	copy(dag.Roots, queue)

	sorted := make([]string, 0, len(dag.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		next := make([]string, 0, len(dag.Outgoing[id]))
		for _, e := range dag.Outgoing[id] {
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				next = append(next, e.Target)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(sorted) != len(dag.Nodes) {
		return nil, schema.NewError(schema.ErrCodeGraphValidation, "workflow graph contains a cycle")
	}
	dag.Sorted = sorted

	return dag, nil
}

// Predecessors returns the IDs of a node's direct predecessors in incoming
// edge declaration order, without duplicates.
func (d *DAG) Predecessors(nodeID string) []string {
	edges := d.Incoming[nodeID]
	seen := make(map[string]bool, len(edges))
	preds := make([]string, 0, len(edges))
	for _, e := range edges {
		if !seen[e.Source] {
			seen[e.Source] = true
			preds = append(preds, e.Source)
		}
	}
	return preds
}
