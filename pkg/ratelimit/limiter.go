package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most MaxEvents events per key within any
// trailing window. Per-key state is a timestamped ring of admitted events.
//
// Window math uses Go's monotonic clock reading (carried by time.Now values),
// so wall-clock adjustments cannot release bursts.
type SlidingWindowLimiter struct {
	maxEvents int
	window    time.Duration

	// now is the clock source, replaceable in tests.
	now func() time.Time

	mu   sync.Mutex
	keys map[string]*eventRing
}

type eventRing struct {
	events []time.Time
}

// NewSlidingWindow creates a limiter from cfg. A non-positive MaxEvents or
// Window yields a limiter that admits everything.
func NewSlidingWindow(cfg Config) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		maxEvents: cfg.MaxEvents,
		window:    cfg.Window,
		now:       time.Now,
		keys:      make(map[string]*eventRing),
	}
}

// TryAcquire implements Limiter.
func (l *SlidingWindowLimiter) TryAcquire(key string) bool {
	if l.maxEvents <= 0 || l.window <= 0 {
		return true
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	ring := l.keys[key]
	if ring == nil {
		ring = &eventRing{}
		l.keys[key] = ring
	}

	ring.evict(now.Add(-l.window))

	if len(ring.events) >= l.maxEvents {
		return false
	}

	ring.events = append(ring.events, now)
	return true
}

// RetryAfter implements Limiter. It reports the time until the oldest
// in-window event leaves the window; zero when the budget has headroom.
func (l *SlidingWindowLimiter) RetryAfter(key string) time.Duration {
	if l.maxEvents <= 0 || l.window <= 0 {
		return 0
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	ring := l.keys[key]
	if ring == nil {
		return 0
	}

	ring.evict(now.Add(-l.window))

	if len(ring.events) < l.maxEvents {
		return 0
	}

	oldest := ring.events[0]
	return oldest.Add(l.window).Sub(now)
}

// evict drops events at or before cutoff. An event whose timestamp equals the
// cutoff is treated as outside the window.
func (r *eventRing) evict(cutoff time.Time) {
	i := 0
	for i < len(r.events) && !r.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.events = append(r.events[:0], r.events[i:]...)
	}
}

var _ Limiter = (*SlidingWindowLimiter)(nil)
