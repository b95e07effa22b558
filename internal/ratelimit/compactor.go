package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultCompactionInterval is how often idle identities are swept.
const DefaultCompactionInterval = 5 * time.Minute

// Compactor periodically sweeps idle identity buckets out of one or more
// limiters. Explicit Start/Stop lifecycle.
type Compactor struct {
	limiters []*Limiter
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCompactor creates a compactor for the given limiters. interval <= 0
// falls back to DefaultCompactionInterval.
func NewCompactor(interval time.Duration, logger *slog.Logger, limiters ...*Limiter) *Compactor {
	if interval <= 0 {
		interval = DefaultCompactionInterval
	}
	return &Compactor{limiters: limiters, interval: interval, logger: logger}
}

// Start launches the background sweep loop.
func (c *Compactor) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return fmt.Errorf("compactor already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop(loopCtx)
	return nil
}

func (c *Compactor) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := 0
			for _, l := range c.limiters {
				removed += l.compact()
			}
			if removed > 0 {
				c.logger.Debug("compacted idle rate-limit identities", slog.Int("removed", removed))
			}
		}
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (c *Compactor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}
