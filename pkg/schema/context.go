package schema

// ExecutionContext is the mutable state threaded through one run: trigger
// payload, identity fields, and the accumulated map of per-node outputs.
// Writes are exclusive to the scheduler; node executors only ever see a
// read-only ContextView. Lifetime = one run, never shared across runs.
type ExecutionContext struct {
	TriggerData map[string]any
	CreatorID   string
	ProjectID   string
	WorkflowID  string
	ExecutionID string

	// DependencyOutputs accumulates as nodes complete, keyed by node ID.
	DependencyOutputs map[string]NodeOutput

	// Global holds run-scoped values shared by all nodes (set at submission).
	Global map[string]any
}

// NewExecutionContext seeds a context for a fresh run.
func NewExecutionContext(executionID, workflowID, projectID, creatorID string, trigger map[string]any) *ExecutionContext {
	return &ExecutionContext{
		TriggerData:       deepCopyMap(trigger),
		CreatorID:         creatorID,
		ProjectID:         projectID,
		WorkflowID:        workflowID,
		ExecutionID:       executionID,
		DependencyOutputs: make(map[string]NodeOutput),
		Global:            make(map[string]any),
	}
}

// ContextView is the frozen, read-only slice of an ExecutionContext handed
// to a node executor: dependency outputs are restricted to the node's direct
// predecessors and deep-copied at view-build time, so a node never observes
// partial or late updates.
type ContextView struct {
	TriggerData map[string]any
	CreatorID   string
	ProjectID   string
	WorkflowID  string
	ExecutionID string

	// DependencyOutputs holds only the direct predecessors' outputs.
	DependencyOutputs map[string]NodeOutput

	// Predecessors lists the direct predecessor IDs in edge declaration
	// order; aggregators visit sources in this order.
	Predecessors []string

	Global map[string]any
}

// View builds the per-node view for a node whose direct predecessors are
// the given IDs. Predecessors without a recorded output are omitted.
func (c *ExecutionContext) View(predecessors []string) *ContextView {
	deps := make(map[string]NodeOutput, len(predecessors))
	order := make([]string, 0, len(predecessors))
	for _, id := range predecessors {
		if out, ok := c.DependencyOutputs[id]; ok {
			deps[id] = out.Clone()
			order = append(order, id)
		}
	}
	return &ContextView{
		TriggerData:       deepCopyMap(c.TriggerData),
		CreatorID:         c.CreatorID,
		ProjectID:         c.ProjectID,
		WorkflowID:        c.WorkflowID,
		ExecutionID:       c.ExecutionID,
		DependencyOutputs: deps,
		Predecessors:      order,
		Global:            deepCopyMap(c.Global),
	}
}

// Dependency returns a single predecessor output and whether it exists.
func (v *ContextView) Dependency(nodeID string) (NodeOutput, bool) {
	out, ok := v.DependencyOutputs[nodeID]
	return out, ok
}
