package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"payment-sync-service/domain"
	"payment-sync-service/errs"
	"payment-sync-service/gateway"
	"payment-sync-service/models"
	"payment-sync-service/pipeline"
	"payment-sync-service/repository"
)

// Settings tunes the background reconciler.
type Settings struct {
	// Concurrency is the number of worker goroutines draining the queue.
	Concurrency int
	// PollInterval is how long a non-terminal payment waits before being
	// checked against the gateway again.
	PollInterval time.Duration
	// RetryBackoff delays re-checks after a gateway failure.
	RetryBackoff time.Duration
	// MaxAttempts bounds consecutive failed checks before a job is dropped.
	MaxAttempts int
	// QueueCapacity bounds the pending job set.
	QueueCapacity int
}

// DefaultSettings mirrors production defaults.
func DefaultSettings() Settings {
	return Settings{
		Concurrency:   1,
		PollInterval:  2 * time.Minute,
		RetryBackoff:  30 * time.Second,
		MaxAttempts:   5,
		QueueCapacity: 4096,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Concurrency <= 0 {
		s.Concurrency = d.Concurrency
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.RetryBackoff <= 0 {
		s.RetryBackoff = d.RetryBackoff
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = d.MaxAttempts
	}
	if s.QueueCapacity <= 0 {
		s.QueueCapacity = d.QueueCapacity
	}
	return s
}

// Reconciler drives non-terminal payments toward their true gateway state.
// It shares the webhook pipeline's key locks, so a reconciliation sync and a
// webhook apply for the same payment never interleave.
type Reconciler struct {
	repo      repository.PaymentRepository
	gw        *gateway.Client
	publisher pipeline.EventPublisher
	locks     *pipeline.KeyLock
	queue     *Queue
	settings  Settings
	logger    *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New wires a Reconciler. locks must be the same KeyLock the webhook
// pipeline uses.
func New(
	repo repository.PaymentRepository,
	gw *gateway.Client,
	publisher pipeline.EventPublisher,
	locks *pipeline.KeyLock,
	settings Settings,
	logger *zap.Logger,
) *Reconciler {
	settings = settings.withDefaults()
	return &Reconciler{
		repo:      repo,
		gw:        gw,
		publisher: publisher,
		locks:     locks,
		queue:     NewQueue(settings.QueueCapacity),
		settings:  settings,
		logger:    logger,
	}
}

// reconcilable reports whether a status is worth polling the gateway about.
// SUCCEEDED and PARTIALLY_REFUNDED settle through refund webhooks, not
// through polling, so the reconciler treats them as done. This matches the
// population ListNonTerminal rebuilds after a restart.
func reconcilable(s domain.PaymentStatus) bool {
	return s == domain.StatusPending || s == domain.StatusAuthorized
}

// EnqueueReconciliation schedules a follow-up sync for a payment the webhook
// pipeline left non-terminal. Settled statuses are dropped here rather than
// polled forever. Implements pipeline.JobEnqueuer.
func (r *Reconciler) EnqueueReconciliation(idempotencyKey string, lastKnown domain.PaymentStatus) {
	if !reconcilable(lastKnown) {
		return
	}
	r.queue.Push(SyncJob{
		IdempotencyKey: idempotencyKey,
		LastKnown:      lastKnown,
		Priority:       priorityFor(lastKnown, 0),
		NotBefore:      time.Now().Add(r.settings.PollInterval),
	})
}

// Rebuild reloads every non-terminal payment into the queue. Called at
// startup so in-flight payments survive restarts without any webhook help.
func (r *Reconciler) Rebuild(ctx context.Context) error {
	payments, err := r.repo.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, p := range payments {
		r.queue.Push(SyncJob{
			IdempotencyKey: p.IdempotencyKey,
			LastKnown:      p.Status,
			Priority:       priorityFor(p.Status, 0),
		})
	}
	r.logger.Info("Rebuilt reconciliation queue", zap.Int("payments", len(payments)))
	return nil
}

// Start launches the worker pool. Stop waits for in-flight syncs to finish.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.settings.Concurrency; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				job, ok := r.queue.Pop(ctx)
				if !ok {
					return
				}
				r.sync(ctx, job)
			}
		}()
	}
}

// Stop shuts the workers down and waits for them.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Depth reports the number of pending jobs, for the health surface.
func (r *Reconciler) Depth() int {
	return r.queue.Len()
}

func (r *Reconciler) sync(ctx context.Context, job SyncJob) {
	release := r.locks.Acquire(job.IdempotencyKey)
	defer release()

	payment, err := r.repo.GetByIdempotencyKey(ctx, job.IdempotencyKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.logger.Warn("Reconciliation job for unknown payment",
				zap.String("idempotency_key", job.IdempotencyKey))
			return
		}
		r.requeueAfterFailure(job, err)
		return
	}

	// A webhook may have moved the payment while the job sat in the queue.
	if !reconcilable(payment.Status) {
		return
	}

	res, err := r.gw.QueryStatus(ctx, gateway.Request{
		IdempotencyKey: payment.IdempotencyKey,
		Reference:      derefString(payment.GatewayReference),
	})
	if err != nil {
		r.requeueAfterFailure(job, err)
		return
	}

	if res.Reference != "" && payment.GatewayReference == nil {
		if err := r.repo.SetGatewayReference(ctx, payment.ID, res.Reference); err != nil {
			r.logger.Warn("Failed to backfill gateway reference", zap.Error(err))
		}
	}

	if res.Status == payment.Status {
		// Gateway agrees; check again after the poll interval.
		r.queue.Push(SyncJob{
			IdempotencyKey: job.IdempotencyKey,
			LastKnown:      payment.Status,
			Priority:       priorityFor(payment.Status, 0),
			NotBefore:      time.Now().Add(r.settings.PollInterval),
		})
		return
	}

	r.apply(ctx, payment, res, job)
}

func (r *Reconciler) apply(ctx context.Context, payment *models.Payment, res *gateway.Result, job SyncJob) {
	decision, err := domain.Apply(payment.Status, res.Status)
	if err != nil {
		if kind, ok := errs.KindOf(err); ok && kind == errs.KindConflict {
			// The gateway and the local record disagree in a way the state
			// machine refuses. Surface it and stop polling this payment.
			r.logger.Error("Gateway state conflicts with local record",
				zap.String("payment_id", payment.ID.String()),
				zap.String("local_status", string(payment.Status)),
				zap.String("gateway_status", string(res.Status)),
			)
			return
		}
		r.requeueAfterFailure(job, err)
		return
	}
	if decision == domain.DecisionDuplicate {
		return
	}

	updated, err := r.repo.ApplyTransition(ctx, payment.ID, payment.Status, res.Status,
		models.MaskPayload(res.RawPayload), domain.SourceReconciliation)
	if err != nil {
		r.requeueAfterFailure(job, err)
		return
	}

	r.logger.Info("Reconciliation advanced payment",
		zap.String("payment_id", updated.ID.String()),
		zap.String("from", string(payment.Status)),
		zap.String("to", string(updated.Status)),
	)

	if r.publisher != nil {
		event := models.PaymentEvent{
			Type:           models.EventTypeFor(updated.Status),
			PaymentID:      updated.ID.String(),
			IdempotencyKey: updated.IdempotencyKey,
			Amount:         updated.Amount,
			Currency:       updated.Currency,
			Status:         updated.Status,
			Source:         domain.SourceReconciliation,
			Timestamp:      time.Now().UTC(),
		}
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Error("Failed to publish reconciliation event", zap.Error(err))
		}
	}

	if reconcilable(updated.Status) {
		r.queue.Push(SyncJob{
			IdempotencyKey: updated.IdempotencyKey,
			LastKnown:      updated.Status,
			Priority:       priorityFor(updated.Status, 0),
			NotBefore:      time.Now().Add(r.settings.PollInterval),
		})
	}
}

func (r *Reconciler) requeueAfterFailure(job SyncJob, err error) {
	job.AttemptCount++
	if job.AttemptCount >= r.settings.MaxAttempts {
		r.logger.Error("Dropping reconciliation job after repeated failures",
			zap.String("idempotency_key", job.IdempotencyKey),
			zap.Int("attempts", job.AttemptCount),
			zap.Error(err),
		)
		return
	}
	r.logger.Warn("Reconciliation check failed, will retry",
		zap.String("idempotency_key", job.IdempotencyKey),
		zap.Int("attempt", job.AttemptCount),
		zap.Error(err),
	)
	job.Priority = priorityFor(job.LastKnown, job.AttemptCount)
	job.NotBefore = time.Now().Add(r.settings.RetryBackoff)
	r.queue.Push(job)
}

// priorityFor ranks jobs so payments farthest from a terminal state are
// checked first; repeated failures bump a job ahead of its peers.
func priorityFor(status domain.PaymentStatus, attempts int) int {
	return status.DistanceFromTerminal()*10 + attempts
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
