package expressions

import "github.com/okibo/skein/pkg/schema"

// Scope holds all data available for variable resolution inside node
// configs: the trigger payload, completed dependency outputs, workflow
// metadata, and run-global values. A Scope is a frozen snapshot — it is
// built from a ContextView, which is already deep-copied per node.
type Scope struct {
	Trigger  map[string]any
	Nodes    map[string]any // node ID -> output map
	Workflow map[string]any
	Global   map[string]any
}

// ScopeFromView builds a Scope from a node's frozen context view.
func ScopeFromView(v *schema.ContextView) *Scope {
	nodes := make(map[string]any, len(v.DependencyOutputs))
	for id, out := range v.DependencyOutputs {
		nodes[id] = map[string]any(out)
	}
	return &Scope{
		Trigger: v.TriggerData,
		Nodes:   nodes,
		Workflow: map[string]any{
			"workflow_id":  v.WorkflowID,
			"execution_id": v.ExecutionID,
			"project_id":   v.ProjectID,
			"creator_id":   v.CreatorID,
		},
		Global: v.Global,
	}
}

// root exposes the scope as a single document for path queries, namespaced
// as trigger.*, nodes.*, workflow.*, global.*.
func (s *Scope) root() map[string]any {
	return map[string]any{
		"trigger":  s.Trigger,
		"nodes":    s.Nodes,
		"workflow": s.Workflow,
		"global":   s.Global,
	}
}
