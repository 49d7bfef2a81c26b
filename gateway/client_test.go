package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payment-sync-service/domain"
	"payment-sync-service/errs"
	"payment-sync-service/resilience"
)

// fakeGateway scripts per-capability outcomes.
type fakeGateway struct {
	chargeCalls int
	queryCalls  int
	refundCalls int
	chargeErrs  []error // consumed per call; nil entry means success
	queryErrs   []error
}

func (f *fakeGateway) next(calls int, errors []error) error {
	if calls <= len(errors) {
		return errors[calls-1]
	}
	return nil
}

func (f *fakeGateway) Charge(ctx context.Context, req Request) (*Result, error) {
	f.chargeCalls++
	if err := f.next(f.chargeCalls, f.chargeErrs); err != nil {
		return nil, err
	}
	return &Result{Reference: "pi_1", Status: domain.StatusPending}, nil
}

func (f *fakeGateway) Refund(ctx context.Context, req Request) (*Result, error) {
	f.refundCalls++
	return &Result{Reference: "re_1"}, nil
}

func (f *fakeGateway) QueryStatus(ctx context.Context, req Request) (*Result, error) {
	f.queryCalls++
	if err := f.next(f.queryCalls, f.queryErrs); err != nil {
		return nil, err
	}
	return &Result{Reference: req.Reference, Status: domain.StatusSucceeded}, nil
}

func testSettings() ClientSettings {
	return ClientSettings{
		FailureThreshold: 2,
		ResetTimeout:     time.Second,
		CallTimeout:      time.Second,
		MaxRequests:      100,
		Window:           time.Second,
		Retry:            resilience.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2},
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	fake := &fakeGateway{chargeErrs: []error{
		errs.Transient("503", nil),
		errs.Transient("503", nil),
	}}
	// Threshold above the attempt budget keeps the breaker closed for the
	// whole run; the breaker-retry interplay is covered separately below.
	settings := testSettings()
	settings.FailureThreshold = settings.Retry.MaxAttempts + 1
	client := NewClient(fake, settings, zap.NewNop())

	res, err := client.Charge(context.Background(), Request{IdempotencyKey: "ord-1", Amount: 1000, Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.Reference)
	assert.Equal(t, 3, fake.chargeCalls)
}

func TestClient_TerminalErrorNotRetried(t *testing.T) {
	fake := &fakeGateway{chargeErrs: []error{errs.Validation("bad currency", nil)}}
	client := NewClient(fake, testSettings(), zap.NewNop())

	_, err := client.Charge(context.Background(), Request{Amount: 1000, Currency: "xxx"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Equal(t, 1, fake.chargeCalls)
}

func TestClient_OpenCircuitStopsCalls(t *testing.T) {
	fake := &fakeGateway{queryErrs: []error{
		errs.Transient("503", nil),
		errs.Transient("503", nil),
		errs.Transient("503", nil),
	}}
	client := NewClient(fake, testSettings(), zap.NewNop())

	// Threshold 2: the breaker opens during the retry run; the circuit-open
	// rejection is terminal for this attempt so the retry stops there.
	_, err := client.QueryStatus(context.Background(), Request{Reference: "pi_1"})
	require.Error(t, err)
	assert.Equal(t, 2, fake.queryCalls)

	_, err = client.QueryStatus(context.Background(), Request{Reference: "pi_1"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCircuitOpen))
	assert.Equal(t, 2, fake.queryCalls, "open circuit must not reach the gateway")
}

func TestClient_CapabilitiesAreIsolated(t *testing.T) {
	fake := &fakeGateway{queryErrs: []error{
		errs.Transient("503", nil),
		errs.Transient("503", nil),
		errs.Transient("503", nil),
	}}
	client := NewClient(fake, testSettings(), zap.NewNop())

	_, err := client.QueryStatus(context.Background(), Request{Reference: "pi_1"})
	require.Error(t, err)

	// The query breaker is open; charge and refund still pass.
	_, err = client.Charge(context.Background(), Request{IdempotencyKey: "ord-2", Amount: 500, Currency: "usd"})
	assert.NoError(t, err)
	_, err = client.Refund(context.Background(), Request{Reference: "pi_2", Amount: 100})
	assert.NoError(t, err)
}

func TestClient_RateLimitRejectionCarriesWait(t *testing.T) {
	settings := testSettings()
	settings.MaxRequests = 1
	settings.Retry = resilience.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Factor: 2}
	fake := &fakeGateway{}
	client := NewClient(fake, settings, zap.NewNop())

	_, err := client.Charge(context.Background(), Request{Amount: 100, Currency: "usd"})
	require.NoError(t, err)

	_, err = client.Charge(context.Background(), Request{Amount: 100, Currency: "usd"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindRateLimited))
	assert.Greater(t, errs.RetryAfterOf(err), time.Duration(0))
	assert.Equal(t, 1, fake.chargeCalls)
}

func TestClient_Health(t *testing.T) {
	client := NewClient(&fakeGateway{}, testSettings(), zap.NewNop())

	snaps := client.Health()
	require.Len(t, snaps, 3)
	names := []string{snaps[0].Name, snaps[1].Name, snaps[2].Name}
	assert.Contains(t, names, "gateway_charge")
	assert.Contains(t, names, "gateway_refund")
	assert.Contains(t, names, "gateway_query_status")
	for _, snap := range snaps {
		assert.Equal(t, "closed", snap.State)
	}
}
