package domain

import (
	"fmt"

	"payment-sync-service/errs"
)

// TransitionSource records which path triggered a state transition. It ends
// up in the audit trail.
type TransitionSource string

const (
	SourceWebhook        TransitionSource = "webhook"
	SourceReconciliation TransitionSource = "reconciliation"
	SourceDirect         TransitionSource = "direct"
)

// Decision is the outcome of evaluating a proposed transition.
type Decision int

const (
	// DecisionApply: the transition is allowed and should be committed.
	DecisionApply Decision = iota
	// DecisionDuplicate: proposed equals current, an idempotent no-op that is
	// still a success to the caller.
	DecisionDuplicate
)

// Apply validates a proposed status against the current one. It returns
// DecisionDuplicate for a same-status re-application, a conflict error for a
// disallowed edge or a proposal against an incompatible terminal status, and
// DecisionApply otherwise. It is pure: committing the transition (and the
// audit history row) is the repository's job.
func Apply(current, proposed PaymentStatus) (Decision, error) {
	if !proposed.Valid() {
		return 0, errs.Validation(fmt.Sprintf("unknown payment status %q", proposed), nil)
	}
	if proposed == current {
		return DecisionDuplicate, nil
	}
	if current.Terminal() {
		return 0, errs.Conflict(fmt.Sprintf("payment already terminal in %s, cannot apply %s", current, proposed))
	}
	if !CanTransition(current, proposed) {
		return 0, errs.Conflict(fmt.Sprintf("transition %s -> %s not allowed", current, proposed))
	}
	return DecisionApply, nil
}

// ApplyRefund validates a refund of amount against a payment, given the sum
// of already-succeeded refunds, and returns the payment status the refund
// lands it in. Over-refunding is a terminal validation error, never retried.
func ApplyRefund(current PaymentStatus, paymentAmount, refundedSoFar, amount int64) (PaymentStatus, error) {
	if amount <= 0 {
		return "", errs.Validation("refund amount must be positive", nil)
	}
	switch current {
	case StatusSucceeded, StatusPartiallyRefunded:
	default:
		return "", errs.Conflict(fmt.Sprintf("cannot refund payment in status %s", current))
	}
	if refundedSoFar+amount > paymentAmount {
		return "", errs.Validation(
			fmt.Sprintf("refund total %d exceeds payment amount %d", refundedSoFar+amount, paymentAmount), nil)
	}
	if refundedSoFar+amount == paymentAmount {
		return StatusRefunded, nil
	}
	return StatusPartiallyRefunded, nil
}
