package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrSourceBusy indicates another process is generating entries for the same source.
var ErrSourceBusy = errors.New("source document is being processed elsewhere")

// SourceLockKey builds redis keys guarding journal generation per source document.
func SourceLockKey(module, sourceType string, id int64) string {
	return fmt.Sprintf("ledger:source:%s:%s:%d:lock", module, sourceType, id)
}

// SourceLocker serialises work on one source document across processes.
type SourceLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewSourceLocker builds a locker on top of a redis client.
func NewSourceLocker(rdb redis.UniversalClient, ttl time.Duration) *SourceLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SourceLocker{client: redislock.New(rdb), ttl: ttl, retries: 10, backoff: 100 * time.Millisecond}
}

// WithLock runs fn while holding the lock for key. It waits a bounded time for a
// competing holder and returns ErrSourceBusy when the lock is never granted.
func (l *SourceLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrSourceBusy, key)
	}
	if err != nil {
		return fmt.Errorf("obtain lock %s: %w", key, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
