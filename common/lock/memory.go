package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLocker implements Locker with one channel-backed mutex per key
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]*entry),
	}
}

func (l *MemoryLocker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *MemoryLocker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Acquire obtains the lock for key. ttl is ignored: a process-local lock
// cannot outlive its holder.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	e := l.ref(key)

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case e.sem <- struct{}{}:
	case <-timeout:
		l.unref(key, e)
		return nil, fmt.Errorf("acquire lock for %s: %w", key, ErrTimeout)
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("acquire lock for %s: %w", key, ctx.Err())
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}
	return release, nil
}

// Held returns the number of keys currently tracked
func (l *MemoryLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
