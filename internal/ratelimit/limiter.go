package ratelimit

import (
	"strconv"
	"sync"
	"time"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// Decision is the structured outcome of a rate-limit check. Denial is a
// normal result carrying retry metadata, never an error.
type Decision struct {
	Allowed         bool
	LimitMinute     int
	LimitHour       int
	RemainingMinute int
	RemainingHour   int

	// RetryAfter is how long the caller should wait before the next attempt.
	// Zero when allowed; floored at one second when denied.
	RetryAfter time.Duration
}

// Headers renders the decision as the response metadata exposed to the
// HTTP trigger layer. A window with limit 0 (unlimited) emits no headers.
func (d Decision) Headers() map[string]string {
	h := make(map[string]string, 5)
	if d.LimitMinute > 0 {
		h["X-RateLimit-Limit-Minute"] = strconv.Itoa(d.LimitMinute)
		h["X-RateLimit-Remaining-Minute"] = strconv.Itoa(d.RemainingMinute)
	}
	if d.LimitHour > 0 {
		h["X-RateLimit-Limit-Hour"] = strconv.Itoa(d.LimitHour)
		h["X-RateLimit-Remaining-Hour"] = strconv.Itoa(d.RemainingHour)
	}
	if !d.Allowed {
		h["Retry-After"] = strconv.Itoa(int(d.RetryAfter / time.Second))
	}
	return h
}

// Limiter is a sliding-window call counter keyed by identity (user ID or
// workflow ID). Timestamps are appended FIFO per identity and trimmed to
// the hour lookback on every check. One coarse mutex guards all buckets;
// expected call volume does not justify finer locking.
//
// Independent instances gate API-triggered runs (per user, minute+hour)
// and outbound email (per workflow, hour only).
type Limiter struct {
	mu    sync.Mutex
	calls map[string][]time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an empty limiter.
func New() *Limiter {
	return &Limiter{
		calls: make(map[string][]time.Time),
		now:   time.Now,
	}
}

// Check applies the sliding-window counts for one identity. A limit of 0
// disables that window. When allowed, the current timestamp is recorded
// before returning, so the decision's remaining counts reflect this call.
func (l *Limiter) Check(identity string, limitPerMinute, limitPerHour int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := trimOld(l.calls[identity], now.Add(-hourWindow))

	countHour := len(kept)
	countMinute := 0
	minuteCutoff := now.Add(-minuteWindow)
	for i := len(kept) - 1; i >= 0; i-- {
		if kept[i].After(minuteCutoff) {
			countMinute++
		} else {
			break
		}
	}

	d := Decision{
		LimitMinute: limitPerMinute,
		LimitHour:   limitPerHour,
	}

	minuteOK := limitPerMinute <= 0 || countMinute < limitPerMinute
	hourOK := limitPerHour <= 0 || countHour < limitPerHour
	d.Allowed = minuteOK && hourOK

	if d.Allowed {
		kept = append(kept, now)
		countMinute++
		countHour++
	} else {
		// Wait until the oldest entry of each exhausted window ages out.
		var wait time.Duration
		if !minuteOK {
			oldest := kept[len(kept)-countMinute]
			if w := oldest.Add(minuteWindow).Sub(now); w > wait {
				wait = w
			}
		}
		if !hourOK {
			if w := kept[0].Add(hourWindow).Sub(now); w > wait {
				wait = w
			}
		}
		if wait < time.Second {
			wait = time.Second
		}
		d.RetryAfter = wait
	}
	l.calls[identity] = kept

	if limitPerMinute > 0 {
		d.RemainingMinute = max(0, limitPerMinute-countMinute)
	}
	if limitPerHour > 0 {
		d.RemainingHour = max(0, limitPerHour-countHour)
	}
	return d
}

// trimOld drops timestamps at or before the cutoff, preserving order.
func trimOld(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}

// compact removes identities with no timestamps inside the lookback window.
// Called by the background compaction loop.
func (l *Limiter) compact() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-hourWindow)
	removed := 0
	for id, ts := range l.calls {
		kept := trimOld(ts, cutoff)
		if len(kept) == 0 {
			delete(l.calls, id)
			removed++
			continue
		}
		l.calls[id] = kept
	}
	return removed
}
