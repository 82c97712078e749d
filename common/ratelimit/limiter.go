package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/redis"
)

// fixedWindowScript increments KEYS[1] and starts its window on the first hit.
// Returns {allowed, current_count, limit, retry_after_ms}.
const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
local limit = tonumber(ARGV[1])
if current > limit then
  return {0, current, limit, ttl}
end
return {1, current, limit, 0}
`

// Result contains the result of a rate limit check
type Result struct {
	Allowed    bool          // Whether the request is allowed
	Count      int64         // Current count in the window
	Limit      int64         // The limit that was checked
	RetryAfter time.Duration // Time until the window resets (0 if allowed)
}

// Limiter counts hits per key in fixed windows
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error)
}

// RedisLimiter shares counters between replicas using Redis + Lua
type RedisLimiter struct {
	client *redis.Client
	script *goredis.Script
	prefix string
	logger *logger.Logger
}

// NewRedisLimiter creates a Redis-backed limiter. Keys are stored under prefix.
func NewRedisLimiter(client *redis.Client, prefix string, log *logger.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		script: goredis.NewScript(fixedWindowScript),
		prefix: prefix,
		logger: log,
	}
}

// Allow records one hit on key and reports whether it is within limit
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error) {
	k := r.prefix + key

	// Run Lua script atomically
	ints, err := r.client.RunInts(ctx, r.script, []string{k}, limit, window.Milliseconds())
	if err != nil {
		r.logger.Error("rate limit check failed", "key", k, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(ints) != 4 {
		return nil, fmt.Errorf("unexpected script result length %d", len(ints))
	}

	result := &Result{
		Allowed:    ints[0] == 1,
		Count:      ints[1],
		Limit:      ints[2],
		RetryAfter: time.Duration(ints[3]) * time.Millisecond,
	}

	if !result.Allowed {
		r.logger.Warn("rate limit exceeded",
			"key", k,
			"current", result.Count,
			"limit", limit,
			"retry_after", result.RetryAfter)
	}

	return result, nil
}

// Reset clears the counter of key
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Delete(ctx, r.prefix+key)
}

// MemoryLimiter keeps counters in process memory
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records one hit on key and reports whether it is within limit
func (m *MemoryLimiter) Allow(ctx context.Context, key string, limit int64, d time.Duration) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		// expired windows are dropped whenever a new window starts
		m.evict(now)
		w = &window{resetAt: now.Add(d)}
		m.windows[key] = w
	}
	w.count++

	result := &Result{
		Allowed: w.count <= limit,
		Count:   w.count,
		Limit:   limit,
	}
	if !result.Allowed {
		result.RetryAfter = w.resetAt.Sub(now)
	}
	return result, nil
}

// Reset clears the counter of key
func (m *MemoryLimiter) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
	return nil
}

func (m *MemoryLimiter) evict(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
