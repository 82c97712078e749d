package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/redis"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(logger.Discard())
	defer c.Close()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(logger.Discard())
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	c.evictExpired(time.Now())
	assert.Equal(t, 0, c.Stats()["entries"])
}

func TestMemoryCacheCloseTwice(t *testing.T) {
	c := NewMemoryCache(logger.Discard())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewRedisCache(redis.NewClient(rdb, logger.Discard()), "labstore:session:")
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "tok", []byte("alice"), time.Hour))
	assert.True(t, mr.Exists("labstore:session:tok"))

	val, ok, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", string(val))

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "tok", []byte("bob"), time.Hour))
	require.NoError(t, c.Delete(ctx, "tok"))
	assert.False(t, mr.Exists("labstore:session:tok"))
}
