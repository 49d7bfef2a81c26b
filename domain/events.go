package domain

// EventKind enumerates the gateway event types the pipeline understands.
// Mapping wire strings to a closed enum at the edge keeps dispatch
// exhaustive: adding a kind without handling it is a compile-visible gap, not
// a silent default case.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPaymentAuthorized
	EventPaymentSucceeded
	EventPaymentFailed
	EventPaymentCancelled
	EventRefundSucceeded
	EventRefundFailed
)

var eventKindNames = map[EventKind]string{
	EventUnknown:            "unknown",
	EventPaymentAuthorized:  "payment.authorized",
	EventPaymentSucceeded:   "payment.succeeded",
	EventPaymentFailed:      "payment.failed",
	EventPaymentCancelled:   "payment.cancelled",
	EventRefundSucceeded:    "refund.succeeded",
	EventRefundFailed:       "refund.failed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseEventKind normalizes a wire event type to an EventKind. Both the
// canonical names and the Stripe-style aliases are accepted; tolerance for
// wire variants lives here and nowhere else.
func ParseEventKind(wire string) EventKind {
	switch wire {
	case "payment.authorized", "payment_intent.amount_capturable_updated":
		return EventPaymentAuthorized
	case "payment.succeeded", "payment_intent.succeeded", "checkout.session.completed":
		return EventPaymentSucceeded
	case "payment.failed", "payment_intent.payment_failed":
		return EventPaymentFailed
	case "payment.cancelled", "payment_intent.canceled":
		return EventPaymentCancelled
	case "refund.succeeded", "charge.refunded", "refund.created":
		return EventRefundSucceeded
	case "refund.failed", "refund.updated", "charge.refund.updated":
		return EventRefundFailed
	}
	return EventUnknown
}

// ProposedStatus maps an event kind to the payment status it proposes.
// Refund kinds drive the refund sub-flow instead and report ok=false here.
func (k EventKind) ProposedStatus() (PaymentStatus, bool) {
	switch k {
	case EventPaymentAuthorized:
		return StatusAuthorized, true
	case EventPaymentSucceeded:
		return StatusSucceeded, true
	case EventPaymentFailed:
		return StatusFailed, true
	case EventPaymentCancelled:
		return StatusCancelled, true
	}
	return "", false
}

// Refund reports whether the kind belongs to the refund sub-flow.
func (k EventKind) Refund() bool {
	return k == EventRefundSucceeded || k == EventRefundFailed
}
