package reconcile

import (
	"context"
	"sync"
	"time"

	"payment-sync-service/domain"
)

// SyncJob asks the reconciler to confirm one payment's status against the
// gateway. Jobs are keyed by idempotency key; a payment has at most one
// pending job at a time.
type SyncJob struct {
	IdempotencyKey string
	LastKnown      domain.PaymentStatus
	AttemptCount   int
	Priority       int
	EnqueuedAt     time.Time
	NotBefore      time.Time
}

// Queue is a bounded in-memory job queue. Pop hands out the
// highest-priority job whose NotBefore has passed; among equals the one
// waiting longest wins. Re-enqueueing a key coalesces with the pending job
// instead of duplicating it.
type Queue struct {
	mu       sync.Mutex
	jobs     map[string]*SyncJob
	capacity int
	wake     chan struct{}
}

// NewQueue creates a queue holding at most capacity pending jobs.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		jobs:     make(map[string]*SyncJob),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Push enqueues job, coalescing with any pending job for the same key by
// keeping the higher priority and the earlier NotBefore. When the queue is
// full the lowest-priority pending job is evicted if the new job outranks
// it; otherwise the new job is dropped. Push reports whether the job (or
// its coalesced form) is pending afterwards.
func (q *Queue) Push(job SyncJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	if existing, ok := q.jobs[job.IdempotencyKey]; ok {
		if job.Priority > existing.Priority {
			existing.Priority = job.Priority
		}
		if job.NotBefore.Before(existing.NotBefore) {
			existing.NotBefore = job.NotBefore
		}
		existing.LastKnown = job.LastKnown
		q.signal()
		return true
	}

	if len(q.jobs) >= q.capacity {
		victim := q.lowestPriorityLocked()
		if victim == nil || victim.Priority >= job.Priority {
			return false
		}
		delete(q.jobs, victim.IdempotencyKey)
	}

	q.jobs[job.IdempotencyKey] = &job
	q.signal()
	return true
}

// Pop blocks until a job is runnable or ctx is cancelled.
func (q *Queue) Pop(ctx context.Context) (SyncJob, bool) {
	for {
		q.mu.Lock()
		job, wait := q.nextLocked()
		if job != nil {
			delete(q.jobs, job.IdempotencyKey)
			q.mu.Unlock()
			return *job, true
		}
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return SyncJob{}, false
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len reports how many jobs are pending, runnable or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// nextLocked picks the runnable job to hand out, or the duration to sleep
// before one becomes runnable.
func (q *Queue) nextLocked() (*SyncJob, time.Duration) {
	now := time.Now()
	var best *SyncJob
	earliest := time.Hour
	for _, job := range q.jobs {
		if job.NotBefore.After(now) {
			if d := job.NotBefore.Sub(now); d < earliest {
				earliest = d
			}
			continue
		}
		if best == nil || outranks(job, best) {
			best = job
		}
	}
	return best, earliest
}

func (q *Queue) lowestPriorityLocked() *SyncJob {
	var victim *SyncJob
	for _, job := range q.jobs {
		if victim == nil || outranks(victim, job) {
			victim = job
		}
	}
	return victim
}

func outranks(a, b *SyncJob) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}
