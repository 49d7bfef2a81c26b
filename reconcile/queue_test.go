package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-sync-service/domain"
)

func TestQueue_PopOrdersByPriorityThenAge(t *testing.T) {
	q := NewQueue(16)
	now := time.Now()

	q.Push(SyncJob{IdempotencyKey: "low", Priority: 10, EnqueuedAt: now})
	q.Push(SyncJob{IdempotencyKey: "high", Priority: 30, EnqueuedAt: now})
	q.Push(SyncJob{IdempotencyKey: "old-low", Priority: 10, EnqueuedAt: now.Add(-time.Minute)})

	ctx := context.Background()
	first, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "high", first.IdempotencyKey)

	second, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "old-low", second.IdempotencyKey, "same priority, longest waiting wins")

	third, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "low", third.IdempotencyKey)
}

func TestQueue_PopHonorsNotBefore(t *testing.T) {
	q := NewQueue(16)
	q.Push(SyncJob{IdempotencyKey: "delayed", NotBefore: time.Now().Add(50 * time.Millisecond)})

	start := time.Now()
	job, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "delayed", job.IdempotencyKey)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestQueue_PopReturnsOnCancel(t *testing.T) {
	q := NewQueue(16)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestQueue_PushCoalescesSameKey(t *testing.T) {
	q := NewQueue(16)
	q.Push(SyncJob{IdempotencyKey: "p1", Priority: 10, LastKnown: domain.StatusPending})
	q.Push(SyncJob{IdempotencyKey: "p1", Priority: 30, LastKnown: domain.StatusAuthorized})

	assert.Equal(t, 1, q.Len())

	job, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, 30, job.Priority)
	assert.Equal(t, domain.StatusAuthorized, job.LastKnown)
}

func TestQueue_FullEvictsLowestPriority(t *testing.T) {
	q := NewQueue(2)
	require.True(t, q.Push(SyncJob{IdempotencyKey: "a", Priority: 10}))
	require.True(t, q.Push(SyncJob{IdempotencyKey: "b", Priority: 20}))

	assert.True(t, q.Push(SyncJob{IdempotencyKey: "c", Priority: 30}), "outranking job evicts the weakest")
	assert.Equal(t, 2, q.Len())

	assert.False(t, q.Push(SyncJob{IdempotencyKey: "d", Priority: 5}), "weaker job is dropped when full")
}
