package executors

import (
	"context"
	"encoding/json"

	"github.com/okibo/skein/internal/notify"
	"github.com/okibo/skein/pkg/schema"
)

// WebhookExecutor delivers the standard event payload to an external URL
// through the retrying dispatcher. Exhausted retries are a failed node
// outcome, not an executor error.
type WebhookExecutor struct {
	dispatcher *notify.Dispatcher
}

func NewWebhookExecutor(dispatcher *notify.Dispatcher) *WebhookExecutor {
	return &WebhookExecutor{dispatcher: dispatcher}
}

func (e *WebhookExecutor) Type() schema.NodeType { return schema.NodeTypeWebhook }

type webhookConfig struct {
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	CustomPayload  map[string]any    `json:"custom_payload"`
	IncludeContext bool              `json:"include_context"`
	MaxRetries     flexInt           `json:"max_retries"`
	BackoffFactor  flexFloat         `json:"backoff_factor"`
}

func (e *WebhookExecutor) Execute(ctx context.Context, nodeID string, config json.RawMessage, view *schema.ContextView) (schema.NodeOutput, error) {
	var cfg webhookConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "webhook requires a url").WithNode(nodeID)
	}

	var contextData map[string]any
	if cfg.IncludeContext {
		contextData = make(map[string]any, len(view.DependencyOutputs))
		for id, out := range view.DependencyOutputs {
			contextData[id] = map[string]any(out)
		}
	}

	// The run has no terminal status yet when a mid-graph webhook fires.
	payload := notify.BuildEventPayload(view.WorkflowID, view.ExecutionID,
		schema.StatusRunning, nodeID, contextData, cfg.CustomPayload)

	delivery := e.dispatcher.Send(ctx, cfg.URL, payload, cfg.Method, cfg.Headers,
		int(cfg.MaxRetries), float64(cfg.BackoffFactor))

	fields := map[string]any{
		"delivered":   delivery.Delivered,
		"status_code": delivery.StatusCode,
		"attempts":    delivery.Attempts,
		"url":         cfg.URL,
	}
	if !delivery.Delivered {
		fields["status"] = string(schema.NodeStatusFailed)
		fields["error"] = "webhook delivery failed"
		return schema.NodeOutput(fields), nil
	}
	return schema.SuccessOutput(fields), nil
}
