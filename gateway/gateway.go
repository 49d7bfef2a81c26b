// Package gateway is the only way the rest of the system talks to the
// external payment gateway. The Client composes a circuit breaker, a rate
// limiter and the retry executor around each capability of a raw Gateway.
package gateway

import (
	"context"

	"payment-sync-service/domain"
)

// Request carries what a gateway capability needs. IdempotencyKey
// accompanies every call so delivery retries collapse at the gateway.
type Request struct {
	IdempotencyKey string
	Reference      string // gateway transaction reference (query/refund)
	Amount         int64  // minor units
	Currency       string
}

// Result is the gateway's view of a transaction, with its status already
// mapped into the local lifecycle vocabulary.
type Result struct {
	Reference  string
	Status     domain.PaymentStatus
	RawPayload []byte
}

// Gateway is the raw capability contract an adapter implements. Errors it
// returns must already be classified into the errs taxonomy.
type Gateway interface {
	Charge(ctx context.Context, req Request) (*Result, error)
	Refund(ctx context.Context, req Request) (*Result, error)
	QueryStatus(ctx context.Context, req Request) (*Result, error)
}
