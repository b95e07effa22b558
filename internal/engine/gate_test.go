package engine

import (
	"context"
	"testing"
	"time"
)

func TestGateRejectWhenFull(t *testing.T) {
	g := NewRunGate(1, OverflowReject)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	err := g.Acquire(context.Background())
	assertErrorCode(t, err, "RUN_REJECTED")

	g.Release()
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	g.Release()

	if got := g.Stats().Rejected; got != 1 {
		t.Fatalf("rejected = %d, want 1", got)
	}
}

func TestGateQueueBlocksUntilSlotFrees(t *testing.T) {
	g := NewRunGate(1, OverflowQueue)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- g.Acquire(context.Background())
	}()

	select {
	case err := <-acquired:
		t.Fatalf("second acquire completed while gate full: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	g.Release()
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("queued acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued acquire never completed")
	}
	g.Release()
}

func TestGateQueueCancelledWhileWaiting(t *testing.T) {
	g := NewRunGate(1, OverflowQueue)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	acquired := make(chan error, 1)
	go func() {
		acquired <- g.Acquire(ctx)
	}()
	cancel()

	select {
	case err := <-acquired:
		assertErrorCode(t, err, "CANCELLED")
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire never returned")
	}
}

func TestGateCapacityFloor(t *testing.T) {
	g := NewRunGate(0, "bogus")
	if got := g.Stats().Capacity; got != 1 {
		t.Fatalf("capacity = %d, want 1", got)
	}
}
