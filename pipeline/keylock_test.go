package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func waitTimeout() <-chan time.Time {
	return time.After(2 * time.Second)
}

func TestKeyLock_SerializesSameKey(t *testing.T) {
	locks := NewKeyLock()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Acquire("payment-1")
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, locks.Len(), "entries must be reclaimed once released")
}

func TestKeyLock_DifferentKeysDoNotBlock(t *testing.T) {
	locks := NewKeyLock()

	releaseA := locks.Acquire("a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		release := locks.Acquire("b")
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-waitTimeout():
		t.Fatal("acquire on an unrelated key blocked")
	}
}

func TestKeyLock_ReleaseIsIdempotent(t *testing.T) {
	locks := NewKeyLock()

	release := locks.Acquire("a")
	release()
	release()

	// Key must be free again.
	again := locks.Acquire("a")
	again()
	assert.Equal(t, 0, locks.Len())
}
