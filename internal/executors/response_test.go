package executors

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okibo/skein/pkg/schema"
)

func responseView(deps map[string]schema.NodeOutput, order ...string) *schema.ContextView {
	return &schema.ContextView{DependencyOutputs: deps, Predecessors: order}
}

func TestResponseMergedConcatenatesInVisitationOrder(t *testing.T) {
	view := responseView(map[string]schema.NodeOutput{
		"first":  {"status": "success", "predictions": []any{"a", "b"}},
		"second": {"status": "success", "predictions": []any{"c"}},
	}, "first", "second")

	e := NewResponseExecutor()
	out, err := e.Execute(context.Background(), "resp", json.RawMessage(`{"response_mode":"merged"}`), view)
	require.NoError(t, err)

	assert.Equal(t, []any{"a", "b", "c"}, out["predictions"])
	assert.Equal(t, []any{}, out["image_urls"], "no source supplied image_urls")
	assert.Equal(t, 3, out["prediction_count"])
	assert.Equal(t, 2, out["sources"])
}

func TestResponseFailOnAnyRaises(t *testing.T) {
	view := responseView(map[string]schema.NodeOutput{
		"bad":  {"status": "failed", "error": "boom"},
		"good": {"status": "success", "predictions": []any{"a"}},
	}, "bad", "good")

	e := NewResponseExecutor()
	_, err := e.Execute(context.Background(), "resp", json.RawMessage(`{"error_handling":"fail_on_any"}`), view)
	require.Error(t, err)
	ee := err.(*schema.EngineError)
	assert.Equal(t, schema.ErrCodeNodeFailed, ee.Code)
	assert.Contains(t, ee.Message, "bad")
}

func TestResponsePartialResultsEmitsFailedEntry(t *testing.T) {
	view := responseView(map[string]schema.NodeOutput{
		"bad":  {"status": "failed", "error": "boom"},
		"good": {"status": "success", "predictions": []any{"a"}},
	}, "bad", "good")

	e := NewResponseExecutor()
	out, err := e.Execute(context.Background(), "resp", json.RawMessage(`{"error_handling":"partial_results"}`), view)
	require.NoError(t, err)

	results := out["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "failed", first["status"])
	assert.Equal(t, "bad", first["source"])
	second := results[1].(map[string]any)
	assert.Equal(t, "success", second["status"])
	assert.Equal(t, 1, second["prediction_count"])
}

func TestResponseArrayModeTruncatesWithMaxImages(t *testing.T) {
	view := responseView(map[string]schema.NodeOutput{
		"detect": {
			"status":      "success",
			"predictions": []any{"p1", "p2", "p3"},
			"image_urls":  []any{"u1", "u2", "u3"},
		},
	}, "detect")

	e := NewResponseExecutor()
	out, err := e.Execute(context.Background(), "resp", json.RawMessage(`{"response_mode":"array","max_images":2}`), view)
	require.NoError(t, err)

	results := out["results"].([]any)
	require.Len(t, results, 1)
	entry := results[0].(map[string]any)
	assert.Equal(t, []any{"p1", "p2"}, entry["predictions"])
	assert.Equal(t, []any{"u1", "u2"}, entry["image_urls"])
	assert.Equal(t, 2, entry["prediction_count"])
}

func TestResponseIgnoresPrunedProducers(t *testing.T) {
	view := responseView(map[string]schema.NodeOutput{
		"skipped": schema.SkippedOutput(),
		"live":    {"status": "success", "results": []any{"x"}},
	}, "skipped", "live")

	e := NewResponseExecutor()
	out, err := e.Execute(context.Background(), "resp", nil, view)
	require.NoError(t, err)

	assert.Equal(t, 1, out["sources"])
	results := out["results"].([]any)
	require.Len(t, results, 1)
	entry := results[0].(map[string]any)
	assert.Equal(t, "live", entry["source"])
	assert.Equal(t, []any{"x"}, entry["predictions"], "results is accepted as the prediction field")
}
