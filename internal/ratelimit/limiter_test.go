package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a manual time source for deterministic window tests.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *clock) {
	c := &clock{t: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}
	l := New()
	l.now = c.now
	return l, c
}

func TestCheckAllowsUpToMinuteLimit(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 3; i++ {
		d := l.Check("user-1", 3, 100)
		require.True(t, d.Allowed, "call %d should be allowed", i)
	}

	d := l.Check("user-1", 3, 100)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.RemainingMinute)
	assert.GreaterOrEqual(t, d.RetryAfter, time.Second)
}

func TestCheckAllowsAgainAfterRetryAfter(t *testing.T) {
	l, c := newTestLimiter()

	for i := 0; i < 2; i++ {
		require.True(t, l.Check("u", 2, 0).Allowed)
		c.advance(5 * time.Second)
	}
	d := l.Check("u", 2, 0)
	require.False(t, d.Allowed)

	c.advance(d.RetryAfter)
	assert.True(t, l.Check("u", 2, 0).Allowed)
}

func TestCheckHourWindowIndependentOfMinute(t *testing.T) {
	l, c := newTestLimiter()

	// 5 calls spread over several minutes: under the minute limit,
	// exactly at the hour limit
	for i := 0; i < 5; i++ {
		require.True(t, l.Check("wf", 10, 5).Allowed)
		c.advance(2 * time.Minute)
	}
	d := l.Check("wf", 10, 5)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.RemainingHour)

	// first call ages out of the hour window
	c.advance(51 * time.Minute)
	assert.True(t, l.Check("wf", 10, 5).Allowed)
}

func TestCheckZeroLimitDisablesWindow(t *testing.T) {
	l, _ := newTestLimiter()
	for i := 0; i < 100; i++ {
		require.True(t, l.Check("wf", 0, 0).Allowed)
	}
}

func TestCheckIdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	require.True(t, l.Check("a", 1, 0).Allowed)
	require.False(t, l.Check("a", 1, 0).Allowed)
	assert.True(t, l.Check("b", 1, 0).Allowed)
}

func TestDecisionHeaders(t *testing.T) {
	l, _ := newTestLimiter()

	d := l.Check("u", 5, 100)
	h := d.Headers()
	assert.Equal(t, "5", h["X-RateLimit-Limit-Minute"])
	assert.Equal(t, "4", h["X-RateLimit-Remaining-Minute"])
	assert.Equal(t, "100", h["X-RateLimit-Limit-Hour"])
	assert.Equal(t, "99", h["X-RateLimit-Remaining-Hour"])
	assert.NotContains(t, h, "Retry-After")

	// hour-only limiter emits no minute headers
	d = l.Check("wf", 0, 10)
	h = d.Headers()
	assert.NotContains(t, h, "X-RateLimit-Limit-Minute")
	assert.Equal(t, "10", h["X-RateLimit-Limit-Hour"])

	// denial carries Retry-After in seconds
	require.True(t, l.Check("x", 1, 0).Allowed)
	d = l.Check("x", 1, 0)
	require.False(t, d.Allowed)
	assert.Contains(t, d.Headers(), "Retry-After")
}

func TestCompactRemovesIdleIdentities(t *testing.T) {
	l, c := newTestLimiter()

	require.True(t, l.Check("old", 10, 10).Allowed)
	c.advance(2 * time.Hour)
	require.True(t, l.Check("fresh", 10, 10).Allowed)

	removed := l.compact()
	assert.Equal(t, 1, removed)

	l.mu.Lock()
	_, hasOld := l.calls["old"]
	_, hasFresh := l.calls["fresh"]
	l.mu.Unlock()
	assert.False(t, hasOld)
	assert.True(t, hasFresh)
}
