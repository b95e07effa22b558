// Package inference defines the request/result contract with the opaque
// detection/training backends and provides the HTTP reference client.
// The engine never sees past this boundary.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okibo/skein/pkg/schema"
)

// DetectRequest asks a model for predictions on one source reference.
type DetectRequest struct {
	ModelID       string  `json:"model_id"`
	Source        string  `json:"source"`
	Confidence    float64 `json:"confidence,omitempty"`
	MaxDetections int     `json:"max_detections,omitempty"`
	FrameRate     float64 `json:"frame_rate,omitempty"` // video only
	MaxFrames     int     `json:"max_frames,omitempty"` // video only
}

// DetectResult is one source's predictions plus backend summary fields.
type DetectResult struct {
	Predictions []any          `json:"predictions"`
	ImageURLs   []any          `json:"image_urls,omitempty"`
	Summary     map[string]any `json:"summary,omitempty"`
}

// TrainRequest submits a training job; the backend answers with a job id.
type TrainRequest struct {
	DatasetID   string `json:"dataset_id"`
	ModelType   string `json:"model_type,omitempty"`
	BaseModelID string `json:"base_model_id,omitempty"`
	Epochs      int    `json:"epochs,omitempty"`
}

// TrainResult acknowledges a submitted training job.
type TrainResult struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Service is the collaborator contract consumed by the detection, batch,
// video, and training executors.
type Service interface {
	Detect(ctx context.Context, req DetectRequest) (*DetectResult, error)
	Train(ctx context.Context, req TrainRequest) (*TrainResult, error)
}

const (
	defaultRequestTimeout  = 60 * time.Second
	defaultMaxResponseBody = 10 * 1024 * 1024
)

// HTTPClient talks JSON to an inference service over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	maxBody int64
}

// NewHTTPClient creates a client for the service at baseURL. A nil client
// gets a fresh one with the default timeout.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		maxBody: defaultMaxResponseBody,
	}
}

func (c *HTTPClient) Detect(ctx context.Context, req DetectRequest) (*DetectResult, error) {
	var out DetectResult
	if err := c.post(ctx, "/v1/detect", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	var out TrainResult
	if err := c.post(ctx, "/v1/train", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "marshal inference request: %s", err.Error()).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "build inference request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "inference call %s failed: %s", path, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "read inference response: %s", err.Error()).WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return schema.NewErrorf(schema.ErrCodeExternalCall,
			"inference service returned %d for %s", resp.StatusCode, path).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": truncate(string(respBody), 512)})
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "decode inference response: %s", err.Error()).WithCause(err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}
