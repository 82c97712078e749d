package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/logger"
)

// ErrKeyNotFound is returned by Get when the key does not exist
var ErrKeyNotFound = errors.New("key not found")

const dialTimeout = 5 * time.Second

// Client is the Redis connection shared by locks, sessions and rate limits
type Client struct {
	redis *redis.Client
	log   *logger.Logger
}

// Dial connects to the configured Redis and verifies it answers
func Dial(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	c := NewClient(rdb, log)

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		rdb.Close()
		return nil, err
	}

	log.Info("redis connected", "addr", cfg.Addr, "db", cfg.DB)
	return c, nil
}

// NewClient wraps an existing go-redis client
func NewClient(rdb *redis.Client, log *logger.Logger) *Client {
	return &Client{redis: rdb, log: log}
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (c *Client) Close() error {
	c.log.Info("closing redis connection")
	return c.redis.Close()
}

// Get returns the value of key or ErrKeyNotFound
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		c.log.Error("redis GET failed", "key", key, "error", err)
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key; expiry 0 keeps it forever
func (c *Client) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	if err := c.redis.Set(ctx, key, value, expiry).Err(); err != nil {
		c.log.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// SetNX stores value only if key is absent and reports whether it did
func (c *Client) SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	ok, err := c.redis.SetNX(ctx, key, value, expiry).Result()
	if err != nil {
		c.log.Error("redis SETNX failed", "key", key, "error", err)
		return false, fmt.Errorf("failed to setnx key %s: %w", key, err)
	}
	return ok, nil
}

// Delete removes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.log.Error("redis DEL failed", "keys", keys, "error", err)
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// deleteIfEquals only removes the key while it still holds the caller's token
var deleteIfEquals = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DeleteIfEquals removes key only if its current value is value.
// Returns true when the key was deleted.
func (c *Client) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	n, err := deleteIfEquals.Run(ctx, c.redis, []string{key}, value).Int()
	if err != nil {
		c.log.Error("redis compare-and-delete failed", "key", key, "error", err)
		return false, fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return n == 1, nil
}

// RunInts runs a Lua script that returns an array of integers
func (c *Client) RunInts(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) ([]int64, error) {
	out, err := script.Run(ctx, c.redis, keys, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("script failed: %w", err)
	}
	return out, nil
}
