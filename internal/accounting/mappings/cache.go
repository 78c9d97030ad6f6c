package mappings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cachePrefix   = "ledger:mapping:"
	notConfigured = "none"
)

// CachedLookup fronts another Lookup with redis. Absent mappings are cached
// too so a branch without a discount account does not hit the database on
// every sale. Redis failures degrade to the underlying lookup.
type CachedLookup struct {
	next   Lookup
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedLookup wraps next.
func NewCachedLookup(next Lookup, rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedLookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedLookup{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(module Module, role Role, branchID int64) string {
	return fmt.Sprintf("%s%s:%s:%d", cachePrefix, module, role, branchID)
}

// Resolve implements Lookup.
func (c *CachedLookup) Resolve(ctx context.Context, module Module, role Role, branchID int64) (AccountRef, error) {
	key := cacheKey(module, role, branchID)
	if ref, ok := c.fromCache(ctx, key); ok {
		return ref, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		ref, err := c.next.Resolve(ctx, module, role, branchID)
		if err != nil {
			return NotConfigured(), err
		}
		c.store(ctx, key, ref)
		return ref, nil
	})
	if err != nil {
		return NotConfigured(), err
	}
	return v.(AccountRef), nil
}

func (c *CachedLookup) fromCache(ctx context.Context, key string) (AccountRef, bool) {
	if c.rdb == nil {
		return NotConfigured(), false
	}
	raw, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("mapping cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return NotConfigured(), false
	}
	if raw == notConfigured {
		return NotConfigured(), true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.logger.Warn("mapping cache holds invalid value", slog.String("key", key), slog.String("value", raw))
		return NotConfigured(), false
	}
	return Configured(id), true
}

func (c *CachedLookup) store(ctx context.Context, key string, ref AccountRef) {
	if c.rdb == nil {
		return
	}
	value := notConfigured
	if id, ok := ref.Get(); ok {
		value = strconv.FormatInt(id, 10)
	}
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("mapping cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Invalidate drops one cached slot. A change to a DefaultBranch row should be
// followed by InvalidateAll since every branch may have cached it.
func (c *CachedLookup) Invalidate(ctx context.Context, module Module, role Role, branchID int64) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, cacheKey(module, role, branchID)).Err()
}

// InvalidateAll drops every cached mapping.
func (c *CachedLookup) InvalidateAll(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, cachePrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
