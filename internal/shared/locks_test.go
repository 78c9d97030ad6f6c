package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*SourceLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := NewSourceLocker(rdb, time.Second)
	locker.retries = 1
	locker.backoff = 10 * time.Millisecond
	return locker, mr
}

func TestSourceLockKey(t *testing.T) {
	require.Equal(t, "ledger:source:sales:sale:42:lock", SourceLockKey("sales", "sale", 42))
}

func TestSourceLockerRunsAndReleases(t *testing.T) {
	locker, mr := newLocker(t)
	key := SourceLockKey("sales", "sale", 1)

	ran := false
	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		require.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, mr.Exists(key))
}

func TestSourceLockerBusy(t *testing.T) {
	locker, _ := newLocker(t)
	key := SourceLockKey("purchases", "purchase", 7)

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, key, func(context.Context) error { return nil })
		require.ErrorIs(t, inner, ErrSourceBusy)
		return nil
	})
	require.NoError(t, err)
}

func TestSourceLockerPropagatesError(t *testing.T) {
	locker, mr := newLocker(t)
	key := SourceLockKey("sales", "sale", 3)
	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), key, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(key))
}

func TestNilLockerRunsDirectly(t *testing.T) {
	var locker *SourceLocker
	called := false
	require.NoError(t, locker.WithLock(context.Background(), "k", func(context.Context) error {
		called = true
		return nil
	}))
	require.True(t, called)
}
