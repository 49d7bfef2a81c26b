// Package errs carries the classified error taxonomy shared by the gateway
// client, the retry executor, the webhook pipeline and the reconciler.
// Every failure that crosses a component boundary is one of these kinds, so
// the retry/terminal split is decided in exactly one place.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind partitions failures into the retryable / terminal taxonomy.
type Kind int

const (
	KindValidation Kind = iota // malformed payload, amount mismatch; terminal
	KindAuth                   // credentials rejected; terminal
	KindRateLimited            // outbound budget exhausted; retryable, carries wait hint
	KindCircuitOpen            // breaker rejected the call; terminal for this attempt
	KindTimeout                // call deadline exceeded; retryable
	KindTransient              // 5xx-equivalent gateway failure; retryable
	KindConflict               // state machine rejected a stale or duplicate transition; terminal
	KindCancelled              // caller cancelled mid-flight; terminal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindCircuitOpen:
		return "circuit_open"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Error is a classified application error.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // backoff hint for rate_limited / circuit_open
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string, err error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

func Auth(message string, err error) *Error {
	return &Error{Kind: KindAuth, Message: message, Err: err}
}

func RateLimited(wait time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfter: wait}
}

func CircuitOpen(name string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindCircuitOpen, Message: "circuit open for " + name, RetryAfter: retryAfter}
}

func Timeout(message string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: message, Err: err}
}

func Transient(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Message: "operation cancelled", Err: err}
}

// KindOf reports the classification of err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsRetryable reports whether the retry executor may re-attempt after err.
// Unclassified errors are treated as transient: the gateway client classifies
// everything it surfaces, so an unclassified error is an infrastructure
// failure (network, driver) rather than a semantic rejection.
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return true
	}
	switch k {
	case KindRateLimited, KindTimeout, KindTransient:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns the backoff hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// ExhaustedError wraps the last error after the retry executor has used up
// its attempt budget.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts in %s: %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
