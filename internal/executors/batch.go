package executors

import (
	"context"
	"encoding/json"

	"github.com/okibo/skein/internal/inference"
	"github.com/okibo/skein/pkg/schema"
)

// BatchDetectionExecutor runs inference over a list of sources and reports
// per-source results. A single collaborator failure fails the node; batch
// inference is not retried here.
type BatchDetectionExecutor struct {
	svc inference.Service
}

func NewBatchDetectionExecutor(svc inference.Service) *BatchDetectionExecutor {
	return &BatchDetectionExecutor{svc: svc}
}

func (e *BatchDetectionExecutor) Type() schema.NodeType { return schema.NodeTypeBatchDetection }

type batchDetectionConfig struct {
	ModelID    string    `json:"model_id"`
	Sources    []string  `json:"sources"`
	Confidence flexFloat `json:"confidence"`
}

func (e *BatchDetectionExecutor) Execute(ctx context.Context, nodeID string, config json.RawMessage, view *schema.ContextView) (schema.NodeOutput, error) {
	var cfg batchDetectionConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}
	if cfg.ModelID == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "batch_detection requires model_id").WithNode(nodeID)
	}

	sources := cfg.Sources
	if len(sources) == 0 {
		sources = upstreamSources(view)
	}
	if len(sources) == 0 {
		return nil, schema.NewError(schema.ErrCodeDependencyMissing,
			"no sources configured and no upstream sources available").WithNode(nodeID)
	}

	results := make([]any, 0, len(sources))
	allPredictions := []any{}
	allImages := []any{}
	for _, source := range sources {
		res, err := e.svc.Detect(ctx, inference.DetectRequest{
			ModelID:    cfg.ModelID,
			Source:     source,
			Confidence: float64(cfg.Confidence),
		})
		if err != nil {
			return nil, asExternalError(err, nodeID)
		}
		preds := res.Predictions
		if preds == nil {
			preds = []any{}
		}
		results = append(results, map[string]any{
			"source":           source,
			"predictions":      preds,
			"prediction_count": len(preds),
		})
		allPredictions = append(allPredictions, preds...)
		allImages = append(allImages, asList(res.ImageURLs)...)
	}

	return schema.SuccessOutput(map[string]any{
		"model_id":    cfg.ModelID,
		"sources":     sources,
		"results":     results,
		"predictions": allPredictions,
		"image_urls":  allImages,
		"count":       len(sources),
	}), nil
}
