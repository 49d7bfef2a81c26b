package resilience

import (
	"sync"
	"time"

	"payment-sync-service/errs"
)

// LimiterSettings parameterizes a SlidingWindowLimiter.
type LimiterSettings struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// SlidingWindowLimiter caps outbound call volume to a dependency within a
// rolling window, tracked as a FIFO of request timestamps. One instance per
// gateway capability; no fairness guarantee beyond timestamp eviction order.
type SlidingWindowLimiter struct {
	settings LimiterSettings

	mu         sync.Mutex
	timestamps []time.Time
}

// NewSlidingWindowLimiter creates a limiter with the given settings.
func NewSlidingWindowLimiter(settings LimiterSettings) *SlidingWindowLimiter {
	if settings.MaxRequests <= 0 {
		settings.MaxRequests = 100
	}
	if settings.Window <= 0 {
		settings.Window = time.Second
	}
	return &SlidingWindowLimiter{settings: settings}
}

// TryAcquire reserves one slot in the window. When the window is full it
// reports false and how long until the oldest tracked request slides out.
func (l *SlidingWindowLimiter) TryAcquire() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.settings.Window)

	evict := 0
	for evict < len(l.timestamps) && !l.timestamps[evict].After(cutoff) {
		evict++
	}
	if evict > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[evict:]...)
	}

	if len(l.timestamps) < l.settings.MaxRequests {
		l.timestamps = append(l.timestamps, now)
		return true, 0
	}
	return false, l.timestamps[0].Add(l.settings.Window).Sub(now)
}

// Execute runs op if a slot is available, otherwise returns a rate-limited
// error carrying the wait hint. Callers decide whether to queue or fail fast.
func (l *SlidingWindowLimiter) Execute(op func() error) error {
	ok, wait := l.TryAcquire()
	if !ok {
		return errs.RateLimited(wait)
	}
	return op()
}

// InFlight returns the number of requests currently tracked in the window.
func (l *SlidingWindowLimiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timestamps)
}
