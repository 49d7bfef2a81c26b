package domain

// PaymentStatus is the lifecycle state of a payment record.
type PaymentStatus string

const (
	StatusPending           PaymentStatus = "PENDING"
	StatusAuthorized        PaymentStatus = "AUTHORIZED"
	StatusSucceeded         PaymentStatus = "SUCCEEDED"
	StatusFailed            PaymentStatus = "FAILED"
	StatusCancelled         PaymentStatus = "CANCELLED"
	StatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	StatusRefunded          PaymentStatus = "REFUNDED"
)

// RefundStatus is the lifecycle state of a single refund.
type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundSucceeded RefundStatus = "SUCCEEDED"
	RefundFailed    RefundStatus = "FAILED"
)

// allowedTransitions is the full forward-only edge table. SUCCEEDED is
// terminal except for the refund sub-flow; PARTIALLY_REFUNDED is re-enterable
// by further partial refunds until the payment is fully refunded.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:           {StatusAuthorized, StatusSucceeded, StatusFailed, StatusCancelled},
	StatusAuthorized:        {StatusSucceeded, StatusFailed, StatusCancelled},
	StatusSucceeded:         {StatusPartiallyRefunded, StatusRefunded},
	StatusPartiallyRefunded: {StatusPartiallyRefunded, StatusRefunded},
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAuthorized, StatusSucceeded, StatusFailed,
		StatusCancelled, StatusPartiallyRefunded, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether s has no outbound transitions in normal operation.
// SUCCEEDED and PARTIALLY_REFUNDED are not terminal: the refund sub-flow can
// still move them.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DistanceFromTerminal ranks how far a status is from settling. The
// reconciler serves farther-from-terminal payments first.
func (s PaymentStatus) DistanceFromTerminal() int {
	switch s {
	case StatusPending:
		return 3
	case StatusAuthorized:
		return 2
	case StatusSucceeded, StatusPartiallyRefunded:
		return 1
	default:
		return 0
	}
}
