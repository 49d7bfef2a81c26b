package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_MarkAndSeen(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	seen, err := s.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkSeen(ctx, "evt_1"))

	seen, err = s.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.Seen(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore(20 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.MarkSeen(ctx, "evt_1"))

	seen, err := s.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	time.Sleep(30 * time.Millisecond)

	seen, err = s.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen, "entry must expire after the TTL")
}
