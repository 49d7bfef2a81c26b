// Package dedup provides the TTL-bounded set backing webhook deduplication.
// The set is an optimization to skip redundant work; idempotent application
// at the state-machine layer is the actual correctness backstop, so missing
// an entry only costs a redundant (and rejected) apply.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL covers typical gateway redelivery windows. It is a tunable
// heuristic, not a hard requirement.
const DefaultTTL = 24 * time.Hour

const redisKeyPrefix = "webhook_dedup:"

// Store is a time-bounded set of processed webhook dedup keys.
type Store interface {
	// Seen reports whether key was marked within the TTL window.
	Seen(ctx context.Context, key string) (bool, error)
	// MarkSeen records key for the TTL window.
	MarkSeen(ctx context.Context, key string) error
}

// MemoryStore is the process-local default. In a multi-instance deployment
// each instance keeps its own set, which admits rare duplicate processing;
// the state machine absorbs those.
type MemoryStore struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a memory store and starts a janitor that sweeps
// expired entries. Close stops the janitor.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) MarkSeen(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = time.Now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) janitor() {
	interval := s.ttl / 10
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, expiry := range s.entries {
				if now.After(expiry) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the janitor goroutine.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stopCh) })
}

// RedisStore shares the dedup set across instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps a redis client in the Store contract.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) MarkSeen(ctx context.Context, key string) error {
	return s.client.SetNX(ctx, redisKeyPrefix+key, 1, s.ttl).Err()
}
