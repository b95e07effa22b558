package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	waits := &[]time.Duration{}
	d.sleep = func(_ context.Context, w time.Duration) error {
		*waits = append(*waits, w)
		return nil
	}
	return d, waits
}

func TestSendDeliversOn200(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher()
	res := d.Send(context.Background(), srv.URL, map[string]any{"k": "v"}, "", map[string]string{"X-Token": "secret"}, 3, 2)

	assert.True(t, res.Delivered)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSendRetriesServerErrorsThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, waits := newTestDispatcher()
	res := d.Send(context.Background(), srv.URL, nil, http.MethodPost, nil, 3, 2)

	assert.False(t, res.Delivered)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	// backoff_factor^attempt seconds, no wait after the final attempt
	require.Len(t, *waits, 2)
	assert.Equal(t, 1*time.Second, (*waits)[0])
	assert.Equal(t, 2*time.Second, (*waits)[1])
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d, waits := newTestDispatcher()
	res := d.Send(context.Background(), srv.URL, nil, http.MethodPost, nil, 5, 2)

	assert.False(t, res.Delivered)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, *waits)
}

func TestSendRetriesNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse all connections

	d, _ := newTestDispatcher()
	res := d.Send(context.Background(), srv.URL, nil, http.MethodPost, nil, 2, 2)

	assert.False(t, res.Delivered)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 0, res.StatusCode)
}

func TestSendRecoversAfterTransientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher()
	res := d.Send(context.Background(), srv.URL, nil, http.MethodPost, nil, 5, 2)

	assert.True(t, res.Delivered)
	assert.Equal(t, 3, res.Attempts)
}

func TestBuildEventPayload(t *testing.T) {
	payload := BuildEventPayload("wf-1", "ex-1", "success", "hook",
		map[string]any{"detect": map[string]any{"count": 2}},
		map[string]any{"event": "spoofed", "team": "vision"})

	assert.Equal(t, "workflow.execution", payload["event"], "custom keys must not override the envelope")
	assert.Equal(t, "vision", payload["team"])

	data := payload["data"].(map[string]any)
	assert.Equal(t, "wf-1", data["workflow_id"])
	assert.Equal(t, "ex-1", data["execution_id"])
	assert.Equal(t, "success", data["status"])
	assert.Equal(t, "hook", data["node_id"])
	assert.Contains(t, data, "context")
}
