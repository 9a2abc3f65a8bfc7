package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_BlocksAfterMaxFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemory(16, time.Minute, 3, 10*time.Minute)
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		blocked, _, err := l.Failure(ctx, "alice", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	ok, _, err := l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, ok)

	blocked, dur, err := l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, dur)

	ok, retry, err := l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Positive(t, retry)

	ok, _, err = l.Allow(ctx, "bob", ip)
	require.NoError(t, err)
	require.True(t, ok, "other users are not affected")
}

func TestMemory_SuccessResets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemory(16, time.Minute, 2, time.Minute)
	ip := HashIP("10.0.0.1")

	_, _, err := l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.NoError(t, l.Success(ctx, "alice", ip))

	blocked, _, err := l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestMemory_WindowExpiryRestartsCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemory(16, time.Minute, 2, time.Hour)
	now := time.Now()
	l.now = func() time.Time { return now }
	ip := HashIP("10.0.0.1")

	_, _, err := l.Failure(ctx, "alice", ip)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	blocked, _, err := l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.False(t, blocked)

	now = now.Add(time.Second)
	blocked, _, err = l.Failure(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, blocked)

	now = now.Add(2 * time.Hour)
	ok, _, err := l.Allow(ctx, "alice", ip)
	require.NoError(t, err)
	require.True(t, ok)
}
