package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/refund"
	"github.com/stripe/stripe-go/v80/webhook"

	"payment-sync-service/domain"
	"payment-sync-service/errs"
	"payment-sync-service/models"
)

// StripeGateway implements the Gateway contract over Stripe PaymentIntents.
type StripeGateway struct {
	SecretKey  string
	WebhookKey string
}

// NewStripeGateway configures the stripe SDK and returns the adapter.
func NewStripeGateway(secretKey, webhookKey string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{SecretKey: secretKey, WebhookKey: webhookKey}
}

func (s *StripeGateway) Charge(ctx context.Context, req Request) (*Result, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
		params.AddMetadata("idempotency_key", req.IdempotencyKey)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return resultFromIntent(pi), nil
}

func (s *StripeGateway) Refund(ctx context.Context, req Request) (*Result, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.Reference),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	rf, err := refund.New(params)
	if err != nil {
		return nil, classify(err)
	}
	if rf.Status == stripe.RefundStatusFailed {
		return nil, errs.Validation("gateway reported refund failed", nil)
	}
	raw, _ := json.Marshal(rf)
	return &Result{Reference: rf.ID, RawPayload: raw}, nil
}

func (s *StripeGateway) QueryStatus(ctx context.Context, req Request) (*Result, error) {
	if req.Reference == "" {
		return nil, errs.Validation("query-status requires a gateway reference", nil)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(req.Reference, params)
	if err != nil {
		return nil, classify(err)
	}
	return resultFromIntent(pi), nil
}

func resultFromIntent(pi *stripe.PaymentIntent) *Result {
	raw, _ := json.Marshal(pi)
	return &Result{
		Reference:  pi.ID,
		Status:     mapIntentStatus(pi.Status),
		RawPayload: raw,
	}
}

// mapIntentStatus translates Stripe PaymentIntent statuses into the local
// lifecycle vocabulary.
func mapIntentStatus(status stripe.PaymentIntentStatus) domain.PaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.StatusSucceeded
	case stripe.PaymentIntentStatusRequiresCapture:
		return domain.StatusAuthorized
	case stripe.PaymentIntentStatusCanceled:
		return domain.StatusCancelled
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return domain.StatusPending
	}
	return domain.StatusPending
}

// classify maps a stripe SDK error into the errs taxonomy so the retry
// executor can enforce the retry/terminal split.
func classify(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
			return errs.RateLimited(0)
		case stripeErr.HTTPStatusCode == http.StatusUnauthorized,
			stripeErr.HTTPStatusCode == http.StatusForbidden:
			return errs.Auth("gateway rejected credentials", err)
		case stripeErr.HTTPStatusCode >= 500:
			return errs.Transient("gateway server error", err)
		default:
			return errs.Validation("gateway rejected request", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Timeout("gateway call timed out", err)
	}
	// SDK-level transport failures (connection reset, DNS) arrive
	// unclassified; treat them as transient.
	return errs.Transient("gateway unreachable", err)
}

// ParseWebhook verifies the Stripe signature and returns the event.
func (s *StripeGateway) ParseWebhook(r *http.Request) (stripe.Event, error) {
	var event stripe.Event
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return event, err
	}
	r.Body = io.NopCloser(bytes.NewBuffer(payload))
	sigHeader := r.Header.Get("Stripe-Signature")
	return webhook.ConstructEvent(payload, sigHeader, s.WebhookKey)
}

// EnvelopeFromEvent normalizes a verified Stripe event into the canonical
// webhook envelope.
func EnvelopeFromEvent(event stripe.Event) (*models.WebhookEnvelope, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return models.NormalizeEnvelope(raw)
}
