package executors

import (
	"context"
	"encoding/json"

	"github.com/okibo/skein/internal/inference"
	"github.com/okibo/skein/pkg/schema"
)

// VideoDetectionExecutor runs frame-sampled inference on a single video
// source.
type VideoDetectionExecutor struct {
	svc inference.Service
}

func NewVideoDetectionExecutor(svc inference.Service) *VideoDetectionExecutor {
	return &VideoDetectionExecutor{svc: svc}
}

func (e *VideoDetectionExecutor) Type() schema.NodeType { return schema.NodeTypeVideoDetection }

type videoDetectionConfig struct {
	ModelID    string    `json:"model_id"`
	Source     string    `json:"source"`
	FrameRate  flexFloat `json:"frame_rate"`
	MaxFrames  flexInt   `json:"max_frames"`
	Confidence flexFloat `json:"confidence"`
}

func (e *VideoDetectionExecutor) Execute(ctx context.Context, nodeID string, config json.RawMessage, view *schema.ContextView) (schema.NodeOutput, error) {
	var cfg videoDetectionConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}
	if cfg.ModelID == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "video_detection requires model_id").WithNode(nodeID)
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
		ModelID:    cfg.ModelID,
		Source:     source,
		Confidence: float64(cfg.Confidence),
		FrameRate:  float64(cfg.FrameRate),
		MaxFrames:  int(cfg.MaxFrames),
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
