package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"payment-sync-service/resilience"
)

// ClientSettings carries the per-capability resilience tunables.
type ClientSettings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	CallTimeout      time.Duration
	MaxRequests      int
	Window           time.Duration
	Retry            resilience.RetryPolicy
}

// DefaultClientSettings matches a conservative production profile.
func DefaultClientSettings() ClientSettings {
	return ClientSettings{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		CallTimeout:      10 * time.Second,
		MaxRequests:      50,
		Window:           time.Second,
		Retry:            resilience.DefaultRetryPolicy(),
	}
}

// capability bundles the breaker and limiter guarding one logical gateway
// operation. Charge, refund and query-status each get their own pair so one
// failing capability does not starve another.
type capability struct {
	name    string
	breaker *resilience.CircuitBreaker
	limiter *resilience.SlidingWindowLimiter
}

// Client wraps a raw Gateway with per-capability resilience. The nesting is
// retry(limiter(breaker(raw))): the limiter admits a call first, then the
// breaker decides whether it reaches the wire. The same ordering applies to
// all three capabilities.
type Client struct {
	gw     Gateway
	retry  resilience.RetryPolicy
	logger *zap.Logger

	charge *capability
	refund *capability
	query  *capability
}

// NewClient builds a resilient client over gw.
func NewClient(gw Gateway, settings ClientSettings, logger *zap.Logger) *Client {
	c := &Client{gw: gw, retry: settings.Retry, logger: logger}
	listener := &breakerLogger{logger: logger}
	build := func(name string) *capability {
		return &capability{
			name: name,
			breaker: resilience.NewCircuitBreaker(resilience.BreakerSettings{
				Name:             name,
				FailureThreshold: settings.FailureThreshold,
				ResetTimeout:     settings.ResetTimeout,
				CallTimeout:      settings.CallTimeout,
			}, listener),
			limiter: resilience.NewSlidingWindowLimiter(resilience.LimiterSettings{
				Name:        name,
				MaxRequests: settings.MaxRequests,
				Window:      settings.Window,
			}),
		}
	}
	c.charge = build("gateway_charge")
	c.refund = build("gateway_refund")
	c.query = build("gateway_query_status")
	return c
}

// Charge submits a charge through the resilient call path.
func (c *Client) Charge(ctx context.Context, req Request) (*Result, error) {
	return c.call(ctx, c.charge, c.gw.Charge, req)
}

// Refund submits a refund through the resilient call path.
func (c *Client) Refund(ctx context.Context, req Request) (*Result, error) {
	return c.call(ctx, c.refund, c.gw.Refund, req)
}

// QueryStatus fetches the gateway's current view of a transaction.
func (c *Client) QueryStatus(ctx context.Context, req Request) (*Result, error) {
	return c.call(ctx, c.query, c.gw.QueryStatus, req)
}

func (c *Client) call(ctx context.Context, cap *capability, raw func(context.Context, Request) (*Result, error), req Request) (*Result, error) {
	var result *Result
	err := resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		return cap.limiter.Execute(func() error {
			return cap.breaker.Execute(ctx, func(ctx context.Context) error {
				r, err := raw(ctx, req)
				if err != nil {
					return err
				}
				result = r
				return nil
			})
		})
	})
	if err != nil {
		c.logger.Warn("Gateway call failed",
			zap.String("capability", cap.name),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}

// Health returns breaker snapshots for every capability, for the
// health-check surface.
func (c *Client) Health() []resilience.BreakerSnapshot {
	return []resilience.BreakerSnapshot{
		c.charge.breaker.Snapshot(),
		c.refund.breaker.Snapshot(),
		c.query.breaker.Snapshot(),
	}
}

// breakerLogger forwards breaker transitions to the structured log.
type breakerLogger struct {
	logger *zap.Logger
}

func (l *breakerLogger) OnStateChange(name string, from, to resilience.BreakerState) {
	l.logger.Warn("Circuit breaker state change",
		zap.String("dependency", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
