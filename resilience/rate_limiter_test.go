package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-sync-service/errs"
)

func TestSlidingWindowLimiter_CapsWindow(t *testing.T) {
	l := NewSlidingWindowLimiter(LimiterSettings{Name: "charge", MaxRequests: 3, Window: time.Second})

	for i := 0; i < 3; i++ {
		ok, _ := l.TryAcquire()
		assert.True(t, ok)
	}

	ok, wait := l.TryAcquire()
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Second)
	assert.Equal(t, 3, l.InFlight())
}

func TestSlidingWindowLimiter_EvictsOldTimestamps(t *testing.T) {
	l := NewSlidingWindowLimiter(LimiterSettings{Name: "charge", MaxRequests: 2, Window: 30 * time.Millisecond})

	ok, _ := l.TryAcquire()
	require.True(t, ok)
	ok, _ = l.TryAcquire()
	require.True(t, ok)
	ok, _ = l.TryAcquire()
	require.False(t, ok)

	time.Sleep(40 * time.Millisecond)

	ok, _ = l.TryAcquire()
	assert.True(t, ok, "window should have slid past the old timestamps")
}

func TestSlidingWindowLimiter_Execute(t *testing.T) {
	l := NewSlidingWindowLimiter(LimiterSettings{Name: "refund", MaxRequests: 1, Window: time.Second})

	called := 0
	require.NoError(t, l.Execute(func() error { called++; return nil }))
	assert.Equal(t, 1, called)

	err := l.Execute(func() error { called++; return nil })
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindRateLimited))
	assert.Greater(t, errs.RetryAfterOf(err), time.Duration(0))
	assert.Equal(t, 1, called, "rejected call must not run the operation")
}
