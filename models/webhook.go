package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// WebhookEnvelope is the one canonical shape webhook events take past the
// transport boundary. All tolerated wire variants are normalized into it at
// the edge; the pipeline never sees raw gateway payloads.
type WebhookEnvelope struct {
	EventType      string          `json:"event_type" validate:"required"`
	EventID        string          `json:"event_id"`
	Reference      string          `json:"reference"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         int64           `json:"amount" validate:"gte=0"`
	Currency       string          `json:"currency" validate:"omitempty,len=3"`
	RawPayload     json.RawMessage `json:"raw_payload,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// dedupBucket groups events without a gateway event id into 5-minute windows
// so the derived key is deterministic across redeliveries.
const dedupBucket = 5 * time.Minute

// DedupKey identifies the envelope for deduplication: the gateway event id
// when present, else a hash of type, reference and a timestamp bucket.
func (e *WebhookEnvelope) DedupKey() string {
	if e.EventID != "" {
		return e.EventID
	}
	ts := e.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	bucket := ts.UTC().Truncate(dedupBucket).Unix()
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", e.EventType, e.Reference, bucket))
	return hex.EncodeToString(sum[:])
}

// NormalizeEnvelope maps an accepted wire shape onto the canonical envelope.
// It tolerates the flat canonical form and the nested provider form
// {"id", "type", "data": {"object": {...}}}; anything else is an error. This
// is the only place wire-shape tolerance lives.
func NormalizeEnvelope(raw []byte) (*WebhookEnvelope, error) {
	var flat WebhookEnvelope
	if err := json.Unmarshal(raw, &flat); err == nil && flat.EventType != "" {
		if flat.RawPayload == nil {
			flat.RawPayload = json.RawMessage(raw)
		}
		return &flat, nil
	}

	var nested struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object struct {
				ID            string `json:"id"`
				PaymentIntent string `json:"payment_intent"`
				Amount        int64  `json:"amount"`
				Currency      string `json:"currency"`
				Metadata      struct {
					IdempotencyKey string `json:"idempotency_key"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("unrecognized webhook shape: %w", err)
	}
	if nested.Type == "" {
		return nil, fmt.Errorf("webhook payload carries no event type")
	}

	// Refund and charge objects carry their own id; the payment is found
	// through payment_intent when the object exposes one.
	reference := nested.Data.Object.ID
	if nested.Data.Object.PaymentIntent != "" {
		reference = nested.Data.Object.PaymentIntent
	}

	env := &WebhookEnvelope{
		EventType:      nested.Type,
		EventID:        nested.ID,
		Reference:      reference,
		IdempotencyKey: nested.Data.Object.Metadata.IdempotencyKey,
		Amount:         nested.Data.Object.Amount,
		Currency:       nested.Data.Object.Currency,
		RawPayload:     json.RawMessage(raw),
		CorrelationID:  nested.ID,
	}
	if nested.Created > 0 {
		env.OccurredAt = time.Unix(nested.Created, 0).UTC()
	}
	return env, nil
}

// sensitiveKeys are stripped from gateway payloads before persistence.
var sensitiveKeys = map[string]bool{
	"card_number":     true,
	"card":            true,
	"cvc":             true,
	"cvv":             true,
	"pan":             true,
	"account_number":  true,
	"client_secret":   true,
	"payment_method":  true,
	"billing_details": true,
}

// MaskPayload strips sensitive fields from a raw gateway payload so it can be
// stored on the payment record. Unparseable payloads are dropped entirely
// rather than stored raw.
func MaskPayload(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	maskMap(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(out)
}

func maskMap(doc map[string]interface{}) {
	for key, val := range doc {
		if sensitiveKeys[key] {
			doc[key] = "[REDACTED]"
			continue
		}
		if nested, ok := val.(map[string]interface{}); ok {
			maskMap(nested)
		}
	}
}
