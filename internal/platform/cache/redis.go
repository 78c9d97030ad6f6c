// Package cache owns the Redis connection used for the mapping cache, the
// per-source locks and the asynq broker.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dialTimeout = 5 * time.Second

// New dials Redis at addr and pings it before returning.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  dialTimeout,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	if err := Check(client)(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Check returns a health probe pinging client with a bounded timeout.
func Check(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("platform/cache: ping: %w", err)
		}
		return nil
	}
}
