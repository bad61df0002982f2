package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ConflictLimiter bounds how many conflict log entries a doctor's slots can
// produce per window.
type ConflictLimiter interface {
	Allow(ctx context.Context, doctorID uuid.UUID) (bool, error)
}

// RedisConflictLimiter counts conflicts in fixed windows shared by every
// instance.
type RedisConflictLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewRedisConflictLimiter(client redis.Cmdable, perWindow int, window time.Duration) *RedisConflictLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisConflictLimiter{client: client, limit: int64(perWindow), window: window, now: time.Now}
}

func (l *RedisConflictLimiter) key(doctorID uuid.UUID) string {
	bucket := l.now().UnixNano() / int64(l.window)
	return fmt.Sprintf("conflictlog:%s:%d", doctorID, bucket)
}

func (l *RedisConflictLimiter) Allow(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	key := l.key(doctorID)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("conflict limiter: %w", err)
	}
	return incr.Val() <= l.limit, nil
}

// MemoryConflictLimiter keeps a token bucket per doctor. It is used when no
// Redis is configured and only bounds the local instance.
type MemoryConflictLimiter struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewMemoryConflictLimiter(perWindow int, window time.Duration) *MemoryConflictLimiter {
	if perWindow <= 0 {
		perWindow = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryConflictLimiter{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(perWindow)),
		burst:    perWindow,
	}
}

func (l *MemoryConflictLimiter) Allow(_ context.Context, doctorID uuid.UUID) (bool, error) {
	l.mu.Lock()
	lim, ok := l.limiters[doctorID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[doctorID] = lim
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}
