package schema

import "encoding/json"

// Graph is the JSON-serializable workflow submission format:
// a node/edge set plus optional metadata. It is immutable during a run.
type Graph struct {
	Nodes    []Node         `json:"nodes"`
	Edges    []Edge         `json:"edges"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Node is a unit of work in a workflow graph, tagged by type with a
// type-specific configuration blob.
type Node struct {
	ID     string          `json:"id"`
	Type   NodeType        `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Edge is a directed dependency link between two nodes. Label distinguishes
// the "true"/"false" branches out of conditional nodes; empty otherwise.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// NodeType enumerates the kinds of nodes in a workflow.
type NodeType string

const (
	NodeTypeAPITrigger     NodeType = "api_trigger"
	NodeTypeInput          NodeType = "input"
	NodeTypeDetection      NodeType = "detection"
	NodeTypeBatchDetection NodeType = "batch_detection"
	NodeTypeVideoDetection NodeType = "video_detection"
	NodeTypeTraining       NodeType = "training"
	NodeTypeExport         NodeType = "export"
	NodeTypeConditional    NodeType = "conditional"
	NodeTypeAPIResponse    NodeType = "api_response"
	NodeTypeEmail          NodeType = "email"
	NodeTypeWebhook        NodeType = "webhook"
)

// ResponderSources is the fixed allow-list of node types that may feed an
// api_response node.
var ResponderSources = map[NodeType]bool{
	NodeTypeInput:          true,
	NodeTypeDetection:      true,
	NodeTypeBatchDetection: true,
	NodeTypeVideoDetection: true,
	NodeTypeExport:         true,
	NodeTypeConditional:    true,
}

// TriggerFieldTypes is the set of declarable input field types on an
// api_trigger node.
var TriggerFieldTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// CommonConfig holds the config fields shared by every node type. Parsed
// from the same blob as the type-specific config.
type CommonConfig struct {
	// ContinueOnError records the failure and lets the run proceed instead
	// of aborting; the run then finishes partial_success.
	ContinueOnError bool `json:"continue_on_error,omitempty"`
}
