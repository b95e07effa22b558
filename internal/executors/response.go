package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/okibo/skein/pkg/schema"
)

// ResponseExecutor is the terminal aggregator: it collects every producer's
// output into the run's API response. Producers are visited in edge
// declaration order; producers pruned by a conditional branch are ignored.
type ResponseExecutor struct{}

func NewResponseExecutor() *ResponseExecutor { return &ResponseExecutor{} }

func (e *ResponseExecutor) Type() schema.NodeType { return schema.NodeTypeAPIResponse }

type responseConfig struct {
	ErrorHandling string  `json:"error_handling"`
	ResponseMode  string  `json:"response_mode"`
	MaxImages     flexInt `json:"max_images"`
}

func (e *ResponseExecutor) Execute(_ context.Context, nodeID string, config json.RawMessage, view *schema.ContextView) (schema.NodeOutput, error) {
	var cfg responseConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}
	if cfg.ErrorHandling == "" {
		cfg.ErrorHandling = "fail_on_any"
	}
	if cfg.ResponseMode == "" {
		cfg.ResponseMode = "array"
	}

	var entries []any
	mergedPredictions := []any{}
	mergedImages := []any{}
	sources := 0
	failures := 0

	for _, sourceID := range view.Predecessors {
		out, ok := view.Dependency(sourceID)
		if !ok || out.Status() == schema.NodeStatusSkipped {
			continue
		}
		sources++

		if out.Status() == schema.NodeStatusFailed {
			if cfg.ErrorHandling == "fail_on_any" {
				return nil, schema.NewErrorf(schema.ErrCodeNodeFailed,
					"upstream node %s failed: %v", sourceID, out["error"]).WithNode(nodeID)
			}
			failures++
			entries = append(entries, map[string]any{
				"source": sourceID,
				"status": string(schema.NodeStatusFailed),
				"error":  fmt.Sprintf("%v", out["error"]),
			})
			continue
		}

		predictions := collectPredictions(out)
		images := asList(out["image_urls"])
		if images == nil {
			images = []any{}
		}

		switch cfg.ResponseMode {
		case "merged":
			mergedPredictions = append(mergedPredictions, predictions...)
			mergedImages = append(mergedImages, images...)
		default:
			if n := int(cfg.MaxImages); n > 0 {
				predictions = truncateList(predictions, n)
				images = truncateList(images, n)
			}
			entry := map[string]any{
				"source":           sourceID,
				"status":           string(schema.NodeStatusSuccess),
				"predictions":      predictions,
				"image_urls":       images,
				"prediction_count": len(predictions),
			}
			if summary, ok := out["summary"]; ok {
				entry["summary"] = summary
			}
			entries = append(entries, entry)
		}
	}

	if cfg.ResponseMode == "merged" {
		merged := map[string]any{
			"response_mode":    "merged",
			"predictions":      mergedPredictions,
			"image_urls":       mergedImages,
			"prediction_count": len(mergedPredictions),
			"sources":          sources,
			"failures":         failures,
		}
		// tolerated failures still surface per-source
		if failures > 0 {
			merged["results"] = entries
		}
		return schema.SuccessOutput(merged), nil
	}

	if entries == nil {
		entries = []any{}
	}
	return schema.SuccessOutput(map[string]any{
		"response_mode": "array",
		"results":       entries,
		"sources":       sources,
		"failures":      failures,
	}), nil
}

// collectPredictions reads a producer's list-valued result field, accepting
// the "predictions" name with "results" as fallback.
func collectPredictions(out schema.NodeOutput) []any {
	if preds := asList(out["predictions"]); preds != nil {
		return preds
	}
	if results := asList(out["results"]); results != nil {
		return results
	}
	return []any{}
}

func truncateList(list []any, n int) []any {
	if len(list) <= n {
		return list
	}
	return list[:n]
}
