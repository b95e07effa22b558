package executors

import (
	"context"
	"encoding/json"

	"github.com/okibo/skein/internal/inference"
	"github.com/okibo/skein/pkg/schema"
)

// DetectionExecutor runs single-source inference through the collaborator
// service.
type DetectionExecutor struct {
	svc inference.Service
}

func NewDetectionExecutor(svc inference.Service) *DetectionExecutor {
	return &DetectionExecutor{svc: svc}
}

func (e *DetectionExecutor) Type() schema.NodeType { return schema.NodeTypeDetection }

type detectionConfig struct {
	ModelID       string    `json:"model_id"`
	Source        string    `json:"source"`
	Confidence    flexFloat `json:"confidence"`
	MaxDetections flexInt   `json:"max_detections"`
}

func (e *DetectionExecutor) Execute(ctx context.Context, nodeID string, config json.RawMessage, view *schema.ContextView) (schema.NodeOutput, error) {
	var cfg detectionConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}
	if cfg.ModelID == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "detection requires model_id").WithNode(nodeID)
	}

	source := cfg.Source
	if source == "" {
		upstream := upstreamSources(view)
		if len(upstream) == 0 {
			return nil, schema.NewError(schema.ErrCodeDependencyMissing,
				"no source configured and no upstream sources available").WithNode(nodeID)
		}
		source = upstream[0]
	}

	res, err := e.svc.Detect(ctx, inference.DetectRequest{
		ModelID:       cfg.ModelID,
		Source:        source,
		Confidence:    float64(cfg.Confidence),
		MaxDetections: int(cfg.MaxDetections),
	})
	if err != nil {
		return nil, asExternalError(err, nodeID)
	}

	predictions := res.Predictions
	if predictions == nil {
		predictions = []any{}
	}
	return schema.SuccessOutput(map[string]any{
		"model_id":    cfg.ModelID,
		"source":      source,
		"predictions": predictions,
		"results":     predictions,
		"image_urls":  asList(res.ImageURLs),
		"summary":     res.Summary,
	}), nil
}

// upstreamSources collects the "sources" lists published by the node's
// direct predecessors, in visitation order.
func upstreamSources(view *schema.ContextView) []string {
	var out []string
	for _, id := range view.Predecessors {
		dep, ok := view.Dependency(id)
		if !ok || dep.Status() != schema.NodeStatusSuccess {
			continue
		}
		out = append(out, asStrings(dep["sources"])...)
	}
	return out
}

// asExternalError wraps a collaborator failure, preserving an existing
// EngineError's code and details.
func asExternalError(err error, nodeID string) error {
	if ee, ok := err.(*schema.EngineError); ok {
		return ee.WithNode(nodeID)
	}
	return schema.NewErrorf(schema.ErrCodeExternalCall, "inference call failed: %v", err).
		WithNode(nodeID).WithCause(err)
}
