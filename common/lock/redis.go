package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/redis"
)

const retryInterval = 50 * time.Millisecond

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
// The TTL bounds how long a crashed holder can block other replicas.
type RedisLocker struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisLocker creates a locker backed by client
func NewRedisLocker(client *redis.Client, log *logger.Logger) *RedisLocker {
	return &RedisLocker{client: client, log: log}
}

// Acquire polls SETNX until the key is free, ctx is done or wait elapses
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	token := uuid.NewString()

	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock for %s: %w", key, err)
		}
		if ok {
			break
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire lock for %s: %w", key, ErrTimeout)
		}

		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock for %s: %w", key, ctx.Err())
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// ctx may already be cancelled by the time the caller releases
			deleted, err := l.client.DeleteIfEquals(context.Background(), key, token)
			if err != nil {
				l.log.Warn("failed to release lock", "key", key, "error", err)
				return
			}
			if !deleted {
				l.log.Warn("lock expired before release", "key", key, "ttl", ttl)
			}
		})
	}
	return release, nil
}
