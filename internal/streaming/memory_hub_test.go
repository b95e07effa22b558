package streaming

import (
	"context"
	"testing"
	"time"
)

func publish(t *testing.T, h *MemoryHub, e Event) {
	t.Helper()
	if err := h.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func assertEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %+v", e)
	default:
	}
}

func TestHubDeliversMatchingEvents(t *testing.T) {
	h := NewMemoryHub()
	ch, cancel, err := h.Subscribe(context.Background(), Filter{ExecutionID: "ex-1"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	publish(t, h, Event{ExecutionID: "ex-1", EventType: "node.started", NodeID: "det"})
	publish(t, h, Event{ExecutionID: "ex-2", EventType: "node.started", NodeID: "other"})

	got := receive(t, ch)
	if got.NodeID != "det" {
		t.Fatalf("event node = %s, want det", got.NodeID)
	}
	assertEmpty(t, ch)
}

func TestHubFiltersByEventType(t *testing.T) {
	h := NewMemoryHub()
	ch, cancel, err := h.Subscribe(context.Background(), Filter{EventTypes: []string{"run.failed"}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	publish(t, h, Event{ExecutionID: "ex-1", EventType: "run.started"})
	publish(t, h, Event{ExecutionID: "ex-1", EventType: "run.failed"})

	got := receive(t, ch)
	if got.EventType != "run.failed" {
		t.Fatalf("event type = %s, want run.failed", got.EventType)
	}
	assertEmpty(t, ch)
}

func TestHubCancelStopsDelivery(t *testing.T) {
	h := NewMemoryHub()
	ch, cancel, err := h.Subscribe(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()
	publish(t, h, Event{ExecutionID: "ex-1", EventType: "run.started"})
	assertEmpty(t, ch)
}

func TestHubDropsWhenSubscriberLagging(t *testing.T) {
	h := NewMemoryHub()
	ch, cancel, err := h.Subscribe(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// fill the buffer and then some; Publish must never block
	for i := 0; i < subscriberBuffer+10; i++ {
		publish(t, h, Event{ExecutionID: "ex-1", EventType: "node.completed"})
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	if drained != subscriberBuffer {
		t.Fatalf("drained %d events, want %d", drained, subscriberBuffer)
	}
}

func TestHubRejectsCancelledContext(t *testing.T) {
	h := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := h.Subscribe(ctx, Filter{}); err == nil {
		t.Fatal("subscribe with cancelled context must fail")
	}
	if err := h.Publish(ctx, Event{}); err == nil {
		t.Fatal("publish with cancelled context must fail")
	}
}
