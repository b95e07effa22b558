package schema

import "time"

// NodeStatus is the terminal state of a single node within a run.
type NodeStatus string

const (
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusFailed  NodeStatus = "failed"
	NodeStatusSkipped NodeStatus = "skipped"
)

// RunStatus is the terminal state of a whole run.
type RunStatus string

const (
	RunStatusSuccess        RunStatus = "success"
	RunStatusPartialSuccess RunStatus = "partial_success"
	RunStatusFailed         RunStatus = "failed"
)

// StatusRunning is the one non-terminal execution status: persisted while a
// run is in flight and reported in webhook envelopes fired mid-run, before
// any RunStatus is known.
const StatusRunning = "running"

// NodeOutput is the tagged map produced by a node executor. It always
// carries a "status" entry plus type-specific payload fields (job_id,
// results, branch, ...). Consumed by downstream executors and by the
// terminal api_response aggregator.
type NodeOutput map[string]any

// Status returns the output's status tag, defaulting to failed when the
// tag is missing or malformed.
func (o NodeOutput) Status() NodeStatus {
	s, ok := o["status"].(string)
	if !ok {
		return NodeStatusFailed
	}
	switch NodeStatus(s) {
	case NodeStatusSuccess, NodeStatusFailed, NodeStatusSkipped:
		return NodeStatus(s)
	}
	return NodeStatusFailed
}

// Clone deep-copies the output so downstream consumers observe a frozen
// snapshot.
func (o NodeOutput) Clone() NodeOutput {
	if o == nil {
		return nil
	}
	return NodeOutput(deepCopyMap(o))
}

// SuccessOutput builds a success-tagged output from payload fields.
func SuccessOutput(fields map[string]any) NodeOutput {
	out := NodeOutput{"status": string(NodeStatusSuccess)}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// FailureOutput builds a failed-tagged output carrying the error message.
func FailureOutput(err error) NodeOutput {
	out := NodeOutput{"status": string(NodeStatusFailed)}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}

// SkippedOutput marks a node pruned by a conditional branch or an aborted run.
func SkippedOutput() NodeOutput {
	return NodeOutput{"status": string(NodeStatusSkipped)}
}

// RunResult is the terminal record of one run: overall status, per-node
// outputs, and the first fatal error if any. Immutable after creation.
type RunResult struct {
	ExecutionID string                `json:"execution_id"`
	WorkflowID  string                `json:"workflow_id,omitempty"`
	Status      RunStatus             `json:"status"`
	Outputs     map[string]NodeOutput `json:"outputs"`
	Error       *EngineError          `json:"error,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
	DurationMs  int64                 `json:"duration_ms"`
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyAny(v)
	}
	return out
}

func deepCopyAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case NodeOutput:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyAny(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		// Scalars (and anything else) are copied by value.
		return v
	}
}
