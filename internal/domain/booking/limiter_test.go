package booking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, perWindow int) (*RedisConflictLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisConflictLimiter(client, perWindow, time.Minute), mr
}

func TestRedisConflictLimiter_BoundsPerDoctor(t *testing.T) {
	l, _ := newRedisLimiter(t, 2)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	for i, want := range []bool{true, true, false, false} {
		ok, err := l.Allow(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "attempt %d", i+1)
	}

	ok, err := l.Allow(ctx, b)
	require.NoError(t, err)
	assert.True(t, ok, "other doctors keep their own budget")
}

func TestRedisConflictLimiter_KeyExpires(t *testing.T) {
	l, mr := newRedisLimiter(t, 1)
	fixed := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	id := uuid.New()

	ok, err := l.Allow(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	key := l.key(id)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(key))
}

func TestRedisConflictLimiter_NewWindowResets(t *testing.T) {
	l, _ := newRedisLimiter(t, 1)
	now := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	id := uuid.New()
	ctx := context.Background()

	ok, _ := l.Allow(ctx, id)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, id)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, err := l.Allow(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisConflictLimiter_Unavailable(t *testing.T) {
	l, mr := newRedisLimiter(t, 1)
	mr.Close()

	_, err := l.Allow(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestMemoryConflictLimiter(t *testing.T) {
	l := NewMemoryConflictLimiter(3, time.Hour)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	allowed := 0
	for i := 0; i < 10; i++ {
		ok, err := l.Allow(ctx, a)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)

	ok, _ := l.Allow(ctx, b)
	assert.True(t, ok)
}
