package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payment-sync-service/domain"
	"payment-sync-service/errs"
	"payment-sync-service/gateway"
	"payment-sync-service/models"
	"payment-sync-service/pipeline"
	"payment-sync-service/repository"
)

type fakeRepo struct {
	mu          sync.Mutex
	payments    map[string]*models.Payment // by idempotency key
	transitions int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{payments: make(map[string]*models.Payment)}
}

func (r *fakeRepo) add(status domain.PaymentStatus) *models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref := "pi_" + uuid.NewString()[:8]
	p := &models.Payment{
		ID:               uuid.New(),
		IdempotencyKey:   "ord-" + uuid.NewString()[:8],
		Amount:           1000,
		Currency:         "usd",
		Status:           status,
		GatewayReference: &ref,
	}
	r.payments[p.IdempotencyKey] = p
	return p
}

func (r *fakeRepo) Create(ctx context.Context, p *models.Payment) error { return nil }

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ID == id {
			clone := *p
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[key]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) SetGatewayReference(ctx context.Context, id uuid.UUID, reference string) error {
	return nil
}

func (r *fakeRepo) ApplyTransition(ctx context.Context, id uuid.UUID, from, to domain.PaymentStatus, maskedPayload string, source domain.TransitionSource) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ID == id {
			if p.Status != from {
				return nil, errs.Conflict("stale transition")
			}
			p.Status = to
			r.transitions++
			clone := *p
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) CreateRefund(ctx context.Context, refund *models.Refund) error { return nil }

func (r *fakeRepo) GetRefundByIdempotencyKey(ctx context.Context, key string) (*models.Refund, error) {
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) SucceededRefundTotal(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) MarkRefund(ctx context.Context, refundID uuid.UUID, status domain.RefundStatus, reference *string) error {
	return nil
}

func (r *fakeRepo) ListNonTerminal(ctx context.Context) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Payment
	for _, p := range r.payments {
		if !p.Status.Terminal() && p.Status != domain.StatusSucceeded && p.Status != domain.StatusPartiallyRefunded {
			out = append(out, *p)
		}
	}
	return out, nil
}

// scriptedGateway returns a fixed status, or an error, and counts calls.
type scriptedGateway struct {
	mu     sync.Mutex
	status domain.PaymentStatus
	err    error
	calls  int
}

func (g *scriptedGateway) Charge(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	return nil, errs.Validation("not used", nil)
}

func (g *scriptedGateway) Refund(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	return nil, errs.Validation("not used", nil)
}

func (g *scriptedGateway) QueryStatus(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Result{Reference: req.Reference, Status: g.status}, nil
}

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func newReconciler(repo *fakeRepo, gw *scriptedGateway, pub *recordingPublisher) *Reconciler {
	client := gateway.NewClient(gw, gateway.DefaultClientSettings(), zap.NewNop())
	return New(repo, client, pub, pipeline.NewKeyLock(), Settings{
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
		RetryBackoff: 5 * time.Millisecond,
		MaxAttempts:  3,
	}, zap.NewNop())
}

func TestSync_AdvancesPaymentToGatewayStatus(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{status: domain.StatusSucceeded}
	pub := &recordingPublisher{}
	r := newReconciler(repo, gw, pub)

	payment := repo.add(domain.StatusPending)
	r.sync(context.Background(), SyncJob{IdempotencyKey: payment.IdempotencyKey, LastKnown: payment.Status})

	updated, err := repo.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, updated.Status)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.SourceReconciliation, pub.events[0].Source)
	assert.Equal(t, "payment_succeeded", pub.events[0].Type)
}

func TestSync_TerminalPaymentSkipsGateway(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{status: domain.StatusSucceeded}
	r := newReconciler(repo, gw, &recordingPublisher{})

	payment := repo.add(domain.StatusFailed)
	r.sync(context.Background(), SyncJob{IdempotencyKey: payment.IdempotencyKey, LastKnown: domain.StatusPending})

	assert.Equal(t, 0, gw.callCount())
	assert.Equal(t, 0, r.Depth())
}

func TestSync_MatchingStatusRequeuesForLater(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{status: domain.StatusPending}
	r := newReconciler(repo, gw, &recordingPublisher{})

	payment := repo.add(domain.StatusPending)
	r.sync(context.Background(), SyncJob{IdempotencyKey: payment.IdempotencyKey, LastKnown: payment.Status})

	assert.Equal(t, 1, r.Depth(), "agreeing status schedules another check")
	unchanged, err := repo.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, unchanged.Status)
}

func TestSync_GatewayFailureRetriesThenDrops(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{err: errs.Validation("bad request", nil)}
	r := newReconciler(repo, gw, &recordingPublisher{})

	payment := repo.add(domain.StatusPending)

	job := SyncJob{IdempotencyKey: payment.IdempotencyKey, LastKnown: payment.Status}
	r.sync(context.Background(), job)
	assert.Equal(t, 1, r.Depth(), "first failure requeues")

	requeued, ok := r.queue.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, requeued.AttemptCount)

	requeued.AttemptCount = r.settings.MaxAttempts - 1
	r.sync(context.Background(), requeued)
	assert.Equal(t, 0, r.Depth(), "final failure drops the job")
}

func TestSync_ConflictingGatewayStateDropsJob(t *testing.T) {
	repo := newFakeRepo()
	// The gateway reporting a backwards transition is a conflict the state
	// machine refuses.
	gw := &scriptedGateway{status: domain.StatusPending}
	r := newReconciler(repo, gw, &recordingPublisher{})

	payment := repo.add(domain.StatusAuthorized)
	r.sync(context.Background(), SyncJob{IdempotencyKey: payment.IdempotencyKey, LastKnown: payment.Status})

	unchanged, err := repo.GetByID(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, unchanged.Status)
	assert.Equal(t, 0, r.Depth(), "conflicting record stops being polled")
}

func TestSync_SettledPaymentStopsPolling(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{status: domain.StatusSucceeded}
	r := newReconciler(repo, gw, &recordingPublisher{})

	payment := repo.add(domain.StatusSucceeded)
	r.sync(context.Background(), SyncJob{IdempotencyKey: payment.IdempotencyKey, LastKnown: domain.StatusPending})

	assert.Equal(t, 0, gw.callCount())
	assert.Equal(t, 0, r.Depth())
}

func TestEnqueueReconciliation_DropsSettledStatuses(t *testing.T) {
	r := newReconciler(newFakeRepo(), &scriptedGateway{}, &recordingPublisher{})

	r.EnqueueReconciliation("ord-1", domain.StatusSucceeded)
	r.EnqueueReconciliation("ord-2", domain.StatusPartiallyRefunded)
	assert.Equal(t, 0, r.Depth())

	r.EnqueueReconciliation("ord-3", domain.StatusPending)
	assert.Equal(t, 1, r.Depth())
}

func TestRebuild_EnqueuesNonTerminalPayments(t *testing.T) {
	repo := newFakeRepo()
	r := newReconciler(repo, &scriptedGateway{status: domain.StatusPending}, &recordingPublisher{})

	repo.add(domain.StatusPending)
	repo.add(domain.StatusAuthorized)
	repo.add(domain.StatusFailed)

	require.NoError(t, r.Rebuild(context.Background()))
	assert.Equal(t, 2, r.Depth())
}

func TestStartStop_DrainsQueue(t *testing.T) {
	repo := newFakeRepo()
	gw := &scriptedGateway{status: domain.StatusSucceeded}
	pub := &recordingPublisher{}
	r := newReconciler(repo, gw, pub)

	payment := repo.add(domain.StatusPending)
	r.queue.Push(SyncJob{IdempotencyKey: payment.IdempotencyKey, LastKnown: payment.Status})

	r.Start(context.Background())

	require.Eventually(t, func() bool {
		updated, err := repo.GetByID(context.Background(), payment.ID)
		return err == nil && updated.Status == domain.StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
}
