package models

import (
	"time"

	"payment-sync-service/domain"
)

// PaymentEvent is the domain event published downstream after every accepted
// state transition. Both the webhook pipeline and the reconciler publish this
// same shape.
type PaymentEvent struct {
	Type           string                  `json:"type"` // e.g. "payment_succeeded", "refund_succeeded"
	PaymentID      string                  `json:"payment_id"`
	IdempotencyKey string                  `json:"idempotency_key"`
	Amount         int64                   `json:"amount"` // minor units
	Currency       string                  `json:"currency"`
	Status         domain.PaymentStatus    `json:"status"`
	Source         domain.TransitionSource `json:"source"`
	Timestamp      time.Time               `json:"timestamp"` // UTC event time
}

// EventTypeFor names the downstream event for a payment status.
func EventTypeFor(status domain.PaymentStatus) string {
	switch status {
	case domain.StatusAuthorized:
		return "payment_authorized"
	case domain.StatusSucceeded:
		return "payment_succeeded"
	case domain.StatusFailed:
		return "payment_failed"
	case domain.StatusCancelled:
		return "payment_cancelled"
	case domain.StatusPartiallyRefunded:
		return "payment_partially_refunded"
	case domain.StatusRefunded:
		return "payment_refunded"
	}
	return "payment_updated"
}

// PaymentRequest is the inbound payment-initiation shape.
type PaymentRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,min=1"`
	Currency       string `json:"currency" binding:"required,len=3"`
}

// RefundRequest is the inbound direct-refund shape.
type RefundRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,min=1"`
}
