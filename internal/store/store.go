// Package store persists WorkflowExecution and NodeExecution records.
// Persistence is a collaborator of the engine, not part of it: the engine
// writes through the Recorder contract, best-effort, and never fails a run
// on storage errors.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/okibo/skein/pkg/schema"
)

// StatusRunning is the in-flight execution status written at run start.
const StatusRunning = schema.StatusRunning

// Execution is the persisted record of one workflow run.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	ProjectID   string          `json:"project_id,omitempty"`
	CreatorID   string          `json:"creator_id,omitempty"`
	Status      string          `json:"status"`
	TriggerData json.RawMessage `json:"trigger_data,omitempty"`
	Outputs     json.RawMessage `json:"outputs,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NodeRecord is the persisted per-node outcome within an execution.
type NodeRecord struct {
	ExecutionID string            `json:"execution_id"`
	NodeID      string            `json:"node_id"`
	Type        schema.NodeType   `json:"type"`
	Status      schema.NodeStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// ExecutionUpdate carries the terminal fields written when a run finishes.
type ExecutionUpdate struct {
	Status      string
	Outputs     json.RawMessage
	Error       json.RawMessage
	CompletedAt *time.Time
}

// Recorder is the write-side contract the engine consumes.
type Recorder interface {
	CreateExecution(ctx context.Context, ex *Execution) error
	FinishExecution(ctx context.Context, id string, update ExecutionUpdate) error
	UpsertNodeRecord(ctx context.Context, rec *NodeRecord) error
}

// Store is the full persistence contract: Recorder plus the read side used
// by the trigger layer. All implementations must be safe for concurrent use.
type Store interface {
	Recorder
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*Execution, error)
	ListNodeRecords(ctx context.Context, executionID string) ([]*NodeRecord, error)
	Close() error
}
