// Package resilience holds the building blocks the gateway client composes
// around every outbound call: a circuit breaker, a sliding-window rate
// limiter and an exponential-backoff retry executor.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"payment-sync-service/errs"
)

// BreakerState is the health state of a circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// StateChangeListener receives breaker transition notifications. The breaker
// never blocks on it; implementations must return quickly.
type StateChangeListener interface {
	OnStateChange(name string, from, to BreakerState)
}

// BreakerSettings parameterizes a CircuitBreaker.
type BreakerSettings struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
	CallTimeout      time.Duration
}

// BreakerSnapshot is a point-in-time view of breaker state and counters,
// exposed on the health surface.
type BreakerSnapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Successes           uint64    `json:"successes"`
	Failures            uint64    `json:"failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	NextProbeAt         time.Time `json:"next_probe_at,omitempty"`
}

// CircuitBreaker wraps one outbound dependency capability. State is
// process-local and reconstructible: a cold restart reverts to closed.
type CircuitBreaker struct {
	settings BreakerSettings
	listener StateChangeListener

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	successes           uint64
	failures            uint64
	lastFailureAt       time.Time
	openedAt            time.Time
	probing             bool
}

// NewCircuitBreaker creates a breaker in the closed state. listener may be nil.
func NewCircuitBreaker(settings BreakerSettings, listener StateChangeListener) *CircuitBreaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = 30 * time.Second
	}
	if settings.CallTimeout <= 0 {
		settings.CallTimeout = 10 * time.Second
	}
	return &CircuitBreaker{settings: settings, listener: listener, state: StateClosed}
}

// Execute runs op behind the breaker. While open it fails immediately with a
// circuit-open error carrying the time until the next probe. Once the reset
// timeout has elapsed exactly one trial call is let through; its outcome
// decides between closing and re-opening. Every call runs under the
// configured call timeout; a timeout counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.settings.CallTimeout)
	err := op(callCtx)
	cancel()

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = errs.Timeout(cb.settings.Name+" call timed out", err)
	}

	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		probeAt := cb.openedAt.Add(cb.settings.ResetTimeout)
		if now.Before(probeAt) {
			return errs.CircuitOpen(cb.settings.Name, probeAt.Sub(now))
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			// A trial call is already in flight; everyone else fails fast.
			return errs.CircuitOpen(cb.settings.Name, cb.settings.ResetTimeout)
		}
		cb.probing = true
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.successes++
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.probing = false
			cb.transition(StateClosed)
		}
		return
	}

	cb.failures++
	cb.consecutiveFailures++
	cb.lastFailureAt = time.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.probing = false
		cb.openedAt = time.Now()
		cb.transition(StateOpen)
	case StateClosed:
		if cb.consecutiveFailures >= cb.settings.FailureThreshold {
			cb.openedAt = time.Now()
			cb.transition(StateOpen)
		}
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.listener != nil {
		cb.listener.OnStateChange(cb.settings.Name, from, to)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the current state and counters.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snap := BreakerSnapshot{
		Name:                cb.settings.Name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		Successes:           cb.successes,
		Failures:            cb.failures,
		LastFailureAt:       cb.lastFailureAt,
	}
	if cb.state == StateOpen {
		snap.NextProbeAt = cb.openedAt.Add(cb.settings.ResetTimeout)
	}
	return snap
}
