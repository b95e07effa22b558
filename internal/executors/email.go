package executors

import (
	"context"
	"encoding/json"

	"github.com/okibo/skein/internal/notify"
	"github.com/okibo/skein/pkg/schema"
)

// EmailExecutor sends a notification through the rate-limited sender.
// Subject and body references are interpolated before the executor runs.
type EmailExecutor struct {
	sender *notify.EmailSender
}

func NewEmailExecutor(sender *notify.EmailSender) *EmailExecutor {
	return &EmailExecutor{sender: sender}
}

func (e *EmailExecutor) Type() schema.NodeType { return schema.NodeTypeEmail }

type emailConfig struct {
	Recipients  []string `json:"recipients"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
}

func (e *EmailExecutor) Execute(ctx context.Context, nodeID string, config json.RawMessage, view *schema.ContextView) (schema.NodeOutput, error) {
	var cfg emailConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Recipients) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfig, "email requires at least one recipient").WithNode(nodeID)
	}

	res, err := e.sender.Send(ctx, view.WorkflowID, notify.Message{
		To:          cfg.Recipients,
		Subject:     cfg.Subject,
		Body:        cfg.Body,
		Attachments: cfg.Attachments,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "email delivery failed: %v", err).
			WithNode(nodeID).WithCause(err)
	}

	fields := map[string]any{
		"sent":        res.Sent,
		"recipients":  res.Recipients,
		"attachments": res.Attachments,
	}
	if res.RateLimited {
		// structured denial, not an error: the node fails, the caller
		// learns when to retry
		fields["status"] = string(schema.NodeStatusFailed)
		fields["rate_limited"] = true
		fields["retry_after_seconds"] = int(res.RetryAfter.Seconds())
		fields["error"] = "email rate limit exceeded"
		return schema.NodeOutput(fields), nil
	}
	return schema.SuccessOutput(fields), nil
}
