package pipeline

import "sync"

// KeyLock serializes work per key. Webhook processing and reconciliation for
// the same payment acquire the same lock, so two transitions for one record
// never interleave; different keys do not contend.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLock creates an empty lock table.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyLockEntry)}
}

// Len reports how many keys currently have holders or waiters.
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Acquire blocks until the lock for key is held and returns the release
// function. Entries are reference-counted and removed when unused, so the
// table does not grow with the keyspace.
func (k *KeyLock) Acquire(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyLockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			k.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}
