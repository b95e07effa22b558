package streaming

import (
	"context"
	"time"
)

// Event is a real-time notification emitted while a run executes.
type Event struct {
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id,omitempty"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload,omitempty"`
}

// Filter narrows which events a subscriber receives. Zero-value fields
// match everything.
type Filter struct {
	WorkflowID  string   `json:"workflow_id,omitempty"`
	ExecutionID string   `json:"execution_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// Hub provides pub/sub for run lifecycle events. Publish must never block
// the engine; slow subscribers lose events rather than stall a run.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
