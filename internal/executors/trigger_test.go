package executors

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okibo/skein/pkg/schema"
)

func triggerView(data map[string]any) *schema.ContextView {
	return &schema.ContextView{TriggerData: data}
}

func TestTriggerAcceptsMatchingPayload(t *testing.T) {
	cfg := json.RawMessage(`{"fields":[
		{"name":"image_url","type":"string","required":true},
		{"name":"confidence","type":"number"}
	]}`)
	out, err := NewTriggerExecutor().Execute(context.Background(), "trig", cfg,
		triggerView(map[string]any{"image_url": "s3://img.jpg", "confidence": 0.4}))
	require.NoError(t, err)
	assert.Equal(t, 2, out["fields_validated"])

	// integers satisfy a declared number field
	_, err = NewTriggerExecutor().Execute(context.Background(), "trig", cfg,
		triggerView(map[string]any{"image_url": "a", "confidence": 7}))
	require.NoError(t, err)
}

func TestTriggerRejectsMissingRequiredField(t *testing.T) {
	cfg := json.RawMessage(`{"fields":[{"name":"image_url","type":"string","required":true}]}`)
	_, err := NewTriggerExecutor().Execute(context.Background(), "trig", cfg,
		triggerView(map[string]any{"other": 1}))
	require.Error(t, err)
	ee := err.(*schema.EngineError)
	assert.Equal(t, schema.ErrCodeConfig, ee.Code)
	assert.Equal(t, "trig", ee.NodeID)
}

func TestTriggerRejectsTypeMismatch(t *testing.T) {
	cfg := json.RawMessage(`{"fields":[{"name":"count","type":"number","required":true}]}`)
	_, err := NewTriggerExecutor().Execute(context.Background(), "trig", cfg,
		triggerView(map[string]any{"count": "several"}))
	require.Error(t, err)
}

func TestTriggerCachesCompiledFieldSchemas(t *testing.T) {
	e := NewTriggerExecutor()
	cfg := json.RawMessage(`{"fields":[{"name":"image_url","type":"string","required":true}]}`)
	payload := triggerView(map[string]any{"image_url": "a"})

	for i := 0; i < 3; i++ {
		_, err := e.Execute(context.Background(), "trig", cfg, payload)
		require.NoError(t, err)
	}
	assert.Len(t, e.cache, 1, "repeat runs with the same field set must reuse the compiled schema")

	other := json.RawMessage(`{"fields":[{"name":"count","type":"number"}]}`)
	_, err := e.Execute(context.Background(), "trig2", other, payload)
	require.NoError(t, err)
	assert.Len(t, e.cache, 2)
}

func TestTriggerWithoutFieldsAcceptsAnything(t *testing.T) {
	out, err := NewTriggerExecutor().Execute(context.Background(), "trig", json.RawMessage(`{}`),
		triggerView(map[string]any{"whatever": []any{1, 2, 3}}))
	require.NoError(t, err)
	assert.Equal(t, 0, out["fields_validated"])
}
