// Package pipeline ingests webhook envelopes: validate, deduplicate, map to a
// state-machine proposal, apply under a per-payment single-flight guard, then
// publish a domain event. Transports feed it and translate its results into
// ack/nack decisions.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"payment-sync-service/dedup"
	"payment-sync-service/domain"
	"payment-sync-service/errs"
	"payment-sync-service/gateway"
	"payment-sync-service/models"
	"payment-sync-service/repository"
	"payment-sync-service/resilience"
)

// Result tells the transport what to do with the underlying message.
type Result int

const (
	// ResultProcessed: a transition was committed (or the event type is not
	// one we act on). Ack.
	ResultProcessed Result = iota
	// ResultDuplicate: dedup hit or idempotent/stale no-op. Ack without
	// reprocessing.
	ResultDuplicate
	// ResultRejected: terminal failure (malformed, unauthenticated, unknown
	// payment). Dead-letter, do not requeue.
	ResultRejected
	// ResultRetry: transient failure after the retry budget. Nack with
	// requeue so the transport redelivers.
	ResultRetry
)

func (r Result) String() string {
	switch r {
	case ResultProcessed:
		return "processed"
	case ResultDuplicate:
		return "duplicate"
	case ResultRejected:
		return "rejected"
	case ResultRetry:
		return "retry"
	}
	return "unknown"
}

// EventPublisher is the domain event sink. Publishing is fire-and-forget:
// failures are logged, never allowed to block a committed transition.
type EventPublisher interface {
	Publish(ctx context.Context, event models.PaymentEvent) error
}

// JobEnqueuer hands payments that are still non-terminal to the
// reconciliation queue.
type JobEnqueuer interface {
	EnqueueReconciliation(idempotencyKey string, lastKnown domain.PaymentStatus)
}

// Pipeline drives webhook envelopes through the state machine.
type Pipeline struct {
	repo      repository.PaymentRepository
	gw        *gateway.Client
	dedup     dedup.Store
	publisher EventPublisher
	enqueuer  JobEnqueuer
	locks     *KeyLock
	retry     resilience.RetryPolicy
	validate  *validator.Validate
	logger    *zap.Logger
}

// New wires a Pipeline. locks must be the same KeyLock instance the
// reconciler uses.
func New(
	repo repository.PaymentRepository,
	gw *gateway.Client,
	dedupStore dedup.Store,
	publisher EventPublisher,
	enqueuer JobEnqueuer,
	locks *KeyLock,
	retry resilience.RetryPolicy,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		repo:      repo,
		gw:        gw,
		dedup:     dedupStore,
		publisher: publisher,
		enqueuer:  enqueuer,
		locks:     locks,
		retry:     retry,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Submit processes one envelope end to end and reports the disposition.
// Signature verification has already happened at the transport boundary.
func (p *Pipeline) Submit(ctx context.Context, env *models.WebhookEnvelope) Result {
	if err := p.validate.Struct(env); err != nil {
		p.logger.Warn("Webhook envelope failed validation",
			zap.String("event_type", env.EventType),
			zap.Error(err),
		)
		return ResultRejected
	}

	kind := domain.ParseEventKind(env.EventType)
	if kind == domain.EventUnknown {
		p.logger.Info("Unhandled webhook event type", zap.String("event_type", env.EventType))
		return ResultProcessed
	}

	dedupKey := env.DedupKey()
	seen, err := p.dedup.Seen(ctx, dedupKey)
	if err != nil {
		// A broken dedup store must not lose events; the state machine
		// absorbs the redundant apply.
		p.logger.Warn("Dedup lookup failed, processing anyway", zap.Error(err))
	}
	if seen {
		p.logger.Info("Skipping duplicate webhook",
			zap.String("event_type", env.EventType),
			zap.String("dedup_key", dedupKey),
		)
		return ResultDuplicate
	}

	result := p.process(ctx, env, kind)

	if result == ResultProcessed || result == ResultDuplicate {
		// Only successfully handled envelopes enter the dedup set; a failed
		// envelope must stay eligible for redelivery.
		if err := p.dedup.MarkSeen(ctx, dedupKey); err != nil {
			p.logger.Warn("Failed to mark webhook in dedup set", zap.Error(err))
		}
	}
	return result
}

func (p *Pipeline) process(ctx context.Context, env *models.WebhookEnvelope, kind domain.EventKind) Result {
	payment, err := p.lookupPayment(ctx, env)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.logger.Warn("Webhook references unknown payment",
				zap.String("event_type", env.EventType),
				zap.String("reference", env.Reference),
				zap.String("idempotency_key", env.IdempotencyKey),
			)
			return ResultRejected
		}
		p.logger.Error("Payment lookup failed", zap.Error(err))
		return ResultRetry
	}

	release := p.locks.Acquire(payment.IdempotencyKey)
	defer release()

	var outcome Result
	err = resilience.Retry(ctx, p.retry, func(ctx context.Context) error {
		var applyErr error
		outcome, applyErr = p.apply(ctx, payment, env, kind)
		return applyErr
	})
	if err == nil {
		return outcome
	}

	switch kindOf(err) {
	case errs.KindConflict:
		// Stale or incompatible transition: the record is already past this
		// event. Anomaly, not an operational failure; ack so the transport
		// does not redeliver forever.
		p.logger.Warn("Webhook proposed a stale transition",
			zap.String("event_type", env.EventType),
			zap.String("payment_id", payment.ID.String()),
			zap.String("current_status", string(payment.Status)),
			zap.Error(err),
		)
		return ResultDuplicate
	case errs.KindValidation, errs.KindAuth:
		p.logger.Warn("Webhook terminally rejected",
			zap.String("event_type", env.EventType),
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		return ResultRejected
	default:
		p.logger.Error("Webhook processing failed after retries",
			zap.String("event_type", env.EventType),
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		return ResultRetry
	}
}

func (p *Pipeline) lookupPayment(ctx context.Context, env *models.WebhookEnvelope) (*models.Payment, error) {
	if env.IdempotencyKey != "" {
		return p.repo.GetByIdempotencyKey(ctx, env.IdempotencyKey)
	}
	return p.repo.GetByReference(ctx, env.Reference)
}

// apply commits the envelope's proposal. The record may have moved since the
// lookup, so the current status is re-read under the key lock.
func (p *Pipeline) apply(ctx context.Context, payment *models.Payment, env *models.WebhookEnvelope, kind domain.EventKind) (Result, error) {
	current, err := p.repo.GetByID(ctx, payment.ID)
	if err != nil {
		return 0, err
	}

	if kind.Refund() {
		return p.applyRefund(ctx, current, env, kind)
	}

	proposed, ok := kind.ProposedStatus()
	if !ok {
		return ResultProcessed, nil
	}

	decision, err := domain.Apply(current.Status, proposed)
	if err != nil {
		return 0, err
	}
	if decision == domain.DecisionDuplicate {
		return ResultDuplicate, nil
	}

	updated, err := p.repo.ApplyTransition(ctx, current.ID, current.Status, proposed,
		models.MaskPayload(env.RawPayload), domain.SourceWebhook)
	if err != nil {
		return 0, err
	}

	p.publishEvent(ctx, updated, domain.SourceWebhook)
	if !updated.Status.Terminal() && p.enqueuer != nil {
		p.enqueuer.EnqueueReconciliation(updated.IdempotencyKey, updated.Status)
	}
	return ResultProcessed, nil
}

func (p *Pipeline) applyRefund(ctx context.Context, payment *models.Payment, env *models.WebhookEnvelope, kind domain.EventKind) (Result, error) {
	if kind == domain.EventRefundFailed {
		// Nothing to commit locally; the refund record, if any, is marked by
		// the direct-refund path. Log and move on.
		p.logger.Info("Gateway reported refund failure",
			zap.String("payment_id", payment.ID.String()),
			zap.String("reference", env.Reference),
		)
		return ResultProcessed, nil
	}

	amount := env.Amount
	if amount == 0 {
		// The envelope does not say how much was refunded; fetch the
		// gateway's view to clarify before touching the record.
		res, err := p.gw.QueryStatus(ctx, gateway.Request{
			Reference:      derefString(payment.GatewayReference),
			IdempotencyKey: payment.IdempotencyKey,
		})
		if err != nil {
			return 0, err
		}
		if res.Status == domain.StatusSucceeded && payment.Status == domain.StatusSucceeded {
			// Gateway still reports the payment settled with no refund
			// detail: nothing to apply.
			return ResultDuplicate, nil
		}
		amount = payment.Amount
	}

	refunded, err := p.repo.SucceededRefundTotal(ctx, payment.ID)
	if err != nil {
		return 0, err
	}
	newStatus, err := domain.ApplyRefund(payment.Status, payment.Amount, refunded, amount)
	if err != nil {
		return 0, err
	}

	refund := &models.Refund{
		ID:             uuid.New(),
		PaymentID:      payment.ID,
		Amount:         amount,
		Status:         domain.RefundSucceeded,
		IdempotencyKey: env.DedupKey(),
	}
	if env.Reference != "" {
		refund.GatewayReference = &env.Reference
	}
	if err := p.repo.CreateRefund(ctx, refund); err != nil {
		return 0, err
	}

	updated, err := p.repo.ApplyTransition(ctx, payment.ID, payment.Status, newStatus,
		models.MaskPayload(env.RawPayload), domain.SourceWebhook)
	if err != nil {
		return 0, err
	}

	p.publishEvent(ctx, updated, domain.SourceWebhook)
	return ResultProcessed, nil
}

func (p *Pipeline) publishEvent(ctx context.Context, payment *models.Payment, source domain.TransitionSource) {
	event := models.PaymentEvent{
		Type:           models.EventTypeFor(payment.Status),
		PaymentID:      payment.ID.String(),
		IdempotencyKey: payment.IdempotencyKey,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Status:         payment.Status,
		Source:         source,
		Timestamp:      time.Now().UTC(),
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		// The transition is already committed; a sink failure must not undo
		// or block it.
		p.logger.Error("Failed to publish payment event",
			zap.String("event_type", event.Type),
			zap.String("payment_id", event.PaymentID),
			zap.Error(err),
		)
	}
}

func kindOf(err error) errs.Kind {
	k, _ := errs.KindOf(err)
	return k
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
