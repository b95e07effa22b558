package engine

import (
	"context"
	"sync/atomic"

	"github.com/okibo/skein/pkg/schema"
)

// Overflow policies for run admission when every slot is taken.
const (
	OverflowQueue  = "queue"  // block FIFO until a slot frees
	OverflowReject = "reject" // fail immediately with RUN_REJECTED
)

// RunGate bounds the number of simultaneously active runs. The policy for
// requests beyond the cap is explicit: queue or reject, never a silent drop.
type RunGate struct {
	slots  chan struct{}
	policy string

	active   atomic.Int64
	queued   atomic.Int64
	rejected atomic.Int64
}

// NewRunGate builds a gate with max slots. max <= 0 falls back to 1.
func NewRunGate(max int, policy string) *RunGate {
	if max <= 0 {
		max = 1
	}
	if policy != OverflowReject {
		policy = OverflowQueue
	}
	return &RunGate{
		slots:  make(chan struct{}, max),
		policy: policy,
	}
}

// Acquire claims a run slot. Under the queue policy it blocks until a slot
// frees or ctx is cancelled; under reject it returns RUN_REJECTED when full.
func (g *RunGate) Acquire(ctx context.Context) error {
	if g.policy == OverflowReject {
		select {
		case g.slots <- struct{}{}:
			g.active.Add(1)
			return nil
		default:
			g.rejected.Add(1)
			return schema.NewError(schema.ErrCodeRunRejected,
				"concurrent run limit reached")
		}
	}

	g.queued.Add(1)
	defer g.queued.Add(-1)
	select {
	case g.slots <- struct{}{}:
		g.active.Add(1)
		return nil
	case <-ctx.Done():
		return schema.NewError(schema.ErrCodeCancelled,
			"cancelled while queued for a run slot").WithCause(ctx.Err())
	}
}

// Release frees a slot claimed by Acquire.
func (g *RunGate) Release() {
	g.active.Add(-1)
	<-g.slots
}

// GateStats is a point-in-time snapshot for logging and diagnostics.
type GateStats struct {
	Active   int64 `json:"active"`
	Queued   int64 `json:"queued"`
	Rejected int64 `json:"rejected"`
	Capacity int   `json:"capacity"`
}

func (g *RunGate) Stats() GateStats {
	return GateStats{
		Active:   g.active.Load(),
		Queued:   g.queued.Load(),
		Rejected: g.rejected.Load(),
		Capacity: cap(g.slots),
	}
}
