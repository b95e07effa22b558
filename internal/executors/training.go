package executors

import (
	"context"
	"encoding/json"

	"github.com/okibo/skein/internal/inference"
	"github.com/okibo/skein/pkg/schema"
)

// TrainingExecutor submits an asynchronous training job and returns its id.
// The node does not wait for training to finish.
type TrainingExecutor struct {
	svc inference.Service
}

func NewTrainingExecutor(svc inference.Service) *TrainingExecutor {
	return &TrainingExecutor{svc: svc}
}

func (e *TrainingExecutor) Type() schema.NodeType { return schema.NodeTypeTraining }

type trainingConfig struct {
	DatasetID   string  `json:"dataset_id"`
	ModelType   string  `json:"model_type"`
	BaseModelID string  `json:"base_model_id"`
	Epochs      flexInt `json:"epochs"`
}

func (e *TrainingExecutor) Execute(ctx context.Context, nodeID string, config json.RawMessage, _ *schema.ContextView) (schema.NodeOutput, error) {
	var cfg trainingConfig
	if err := decodeConfig(nodeID, config, &cfg); err != nil {
		return nil, err
	}
	if cfg.DatasetID == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "training requires dataset_id").WithNode(nodeID)
	}

	res, err := e.svc.Train(ctx, inference.TrainRequest{
		DatasetID:   cfg.DatasetID,
		ModelType:   cfg.ModelType,
		BaseModelID: cfg.BaseModelID,
		Epochs:      int(cfg.Epochs),
	})
	if err != nil {
		return nil, asExternalError(err, nodeID)
	}

	return schema.SuccessOutput(map[string]any{
		"job_id":     res.JobID,
		"job_status": res.Status,
		"dataset_id": cfg.DatasetID,
	}), nil
}
