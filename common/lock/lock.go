// Package lock serializes mutations of a single artifact.
//
// Two implementations are provided: MemoryLocker for a single process and
// RedisLocker for several replicas sharing one storage root.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrTimeout is returned when a lock could not be obtained before the wait bound
var ErrTimeout = errors.New("lock wait timed out")

// Locker hands out exclusive locks by key
type Locker interface {
	// Acquire blocks until the lock is held, ctx is done or wait elapses.
	// The returned release func is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (release func(), err error)
}

// Key builds the lock key for one artifact
func Key(category, owner, name string) string {
	return strings.Join([]string{"labstore", "lock", category, owner, name}, ":")
}
