package schema

// Lifecycle event types published to the streaming hub and appended to the
// execution record store.
const (
	EventRunStarted    = "run.started"
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
	EventRunTimedOut   = "run.timed_out"
	EventNodeStarted   = "node.started"
	EventNodeCompleted = "node.completed"
	EventNodeFailed    = "node.failed"
	EventNodeSkipped   = "node.skipped"
)

// WebhookEvent is the standard envelope delivered to external webhook URLs.
type WebhookEvent struct {
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// WebhookEventName is the Event value for workflow execution notifications.
const WebhookEventName = "workflow.execution"
