package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEnvelope_CanonicalShape(t *testing.T) {
	raw := []byte(`{"event_type":"payment.succeeded","event_id":"evt_1","reference":"pi_1","idempotency_key":"ord-42","amount":1000,"currency":"usd"}`)

	env, err := NormalizeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "payment.succeeded", env.EventType)
	assert.Equal(t, "evt_1", env.EventID)
	assert.Equal(t, "pi_1", env.Reference)
	assert.Equal(t, "ord-42", env.IdempotencyKey)
	assert.Equal(t, int64(1000), env.Amount)
}

func TestNormalizeEnvelope_NestedProviderShape(t *testing.T) {
	raw := []byte(`{
		"id": "evt_9",
		"type": "payment_intent.succeeded",
		"created": 1700000000,
		"data": {"object": {"id": "pi_9", "amount": 2500, "currency": "eur", "metadata": {"idempotency_key": "ord-9"}}}
	}`)

	env, err := NormalizeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "payment_intent.succeeded", env.EventType)
	assert.Equal(t, "evt_9", env.EventID)
	assert.Equal(t, "pi_9", env.Reference)
	assert.Equal(t, "ord-9", env.IdempotencyKey)
	assert.Equal(t, int64(2500), env.Amount)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), env.OccurredAt)
	assert.Equal(t, json.RawMessage(raw), env.RawPayload)
}

func TestNormalizeEnvelope_RefundObjectResolvesPaymentIntent(t *testing.T) {
	// Refund objects identify themselves as re_..., but the payment record is
	// keyed by its PaymentIntent id.
	raw := []byte(`{
		"id": "evt_7",
		"type": "refund.created",
		"created": 1700000100,
		"data": {"object": {"id": "re_123", "payment_intent": "pi_123", "amount": 400, "currency": "usd"}}
	}`)

	env, err := NormalizeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "refund.created", env.EventType)
	assert.Equal(t, "pi_123", env.Reference)
	assert.Equal(t, int64(400), env.Amount)
}

func TestNormalizeEnvelope_RejectsUnknownShape(t *testing.T) {
	_, err := NormalizeEnvelope([]byte(`{"hello":"world"}`))
	assert.Error(t, err)

	_, err = NormalizeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestDedupKey(t *testing.T) {
	withID := &WebhookEnvelope{EventType: "payment.succeeded", EventID: "evt_1", Reference: "pi_1"}
	assert.Equal(t, "evt_1", withID.DedupKey())

	at := time.Date(2026, 8, 30, 12, 2, 30, 0, time.UTC)
	a := &WebhookEnvelope{EventType: "payment.succeeded", Reference: "pi_1", OccurredAt: at}
	b := &WebhookEnvelope{EventType: "payment.succeeded", Reference: "pi_1", OccurredAt: at.Add(time.Minute)}
	assert.Equal(t, a.DedupKey(), b.DedupKey(), "same 5-minute bucket must derive the same key")

	c := &WebhookEnvelope{EventType: "payment.succeeded", Reference: "pi_1", OccurredAt: at.Add(10 * time.Minute)}
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())

	d := &WebhookEnvelope{EventType: "payment.failed", Reference: "pi_1", OccurredAt: at}
	assert.NotEqual(t, a.DedupKey(), d.DedupKey())
}

func TestMaskPayload(t *testing.T) {
	raw := []byte(`{"id":"pi_1","amount":100,"card_number":"4242424242424242","payment_method":{"card":{"number":"4242"}},"outer":{"cvc":"123","ok":"keep"}}`)

	masked := MaskPayload(raw)
	require.NotEmpty(t, masked)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(masked), &doc))
	assert.Equal(t, "[REDACTED]", doc["card_number"])
	assert.Equal(t, "[REDACTED]", doc["payment_method"])
	outer := doc["outer"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", outer["cvc"])
	assert.Equal(t, "keep", outer["ok"])
	assert.Equal(t, "pi_1", doc["id"])

	assert.Empty(t, MaskPayload([]byte("not json")))
	assert.Empty(t, MaskPayload(nil))
}
