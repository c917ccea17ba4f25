package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bar struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheFromClient(client, "test"), s
}

func TestMemoryCache_TypedRoundTrip(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	in := []bar{{Date: "2024-01-02", Close: 10.5}, {Date: "2024-01-03", Close: 11}}
	require.NoError(t, mc.Set(ctx, "bars", in, time.Minute))

	var out []bar
	require.NoError(t, mc.Get(ctx, "bars", &out))
	assert.Equal(t, in, out)

	var s string
	require.NoError(t, mc.Set(ctx, "name", "kronos", time.Minute))
	require.NoError(t, mc.Get(ctx, "name", &s))
	assert.Equal(t, "kronos", s)
}

func TestMemoryCache_ExpiryAndMiss(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", 1, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var v int
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, time.Minute))
	time.Sleep(time.Millisecond)
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", 3, time.Minute))

	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &v))
	assert.NoError(t, mc.Get(ctx, "c", &v))
}

func TestMemoryCache_DeleteByPattern(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "feed:600519:a", 1, time.Minute))
	require.NoError(t, mc.Set(ctx, "feed:000001:a", 1, time.Minute))
	require.NoError(t, mc.DeleteByPattern(ctx, "feed:600519:*"))

	ok, _ := mc.Exists(ctx, "feed:600519:a")
	assert.False(t, ok)
	ok, _ = mc.Exists(ctx, "feed:000001:a")
	assert.True(t, ok)
}

func TestMemoryCache_TryLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = mc.TryLock(ctx, "job", time.Minute)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "job"))
	ok, _ = mc.TryLock(ctx, "job", time.Minute)
	assert.True(t, ok)
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	rc, s := newRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "bars", []bar{{Date: "2024-01-02", Close: 9}}, time.Minute))
	assert.True(t, s.Exists("test:bars"))

	var out []bar
	require.NoError(t, rc.Get(ctx, "bars", &out))
	assert.Equal(t, 9.0, out[0].Close)

	require.NoError(t, rc.Delete(ctx, "bars"))
	assert.ErrorIs(t, rc.Get(ctx, "bars", &out), ErrCacheMiss)
}

func TestRedisCache_DeleteByPatternAndLock(t *testing.T) {
	rc, s := newRedis(t)
	ctx := context.Background()

	for _, k := range []string{"feed:1", "feed:2", "other"} {
		require.NoError(t, rc.Set(ctx, k, "x", time.Minute))
	}
	require.NoError(t, rc.DeleteByPattern(ctx, "feed:*"))
	assert.False(t, s.Exists("test:feed:1"))
	assert.False(t, s.Exists("test:feed:2"))
	assert.True(t, s.Exists("test:other"))

	ok, err := rc.TryLock(ctx, "eval", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = rc.TryLock(ctx, "eval", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	s.FastForward(2 * time.Minute)
	ok, _ = rc.TryLock(ctx, "eval", time.Minute)
	assert.True(t, ok)
}

func TestLayeredCache_ReadThroughPopulatesMemory(t *testing.T) {
	rc, s := newRedis(t)
	lc := NewLayeredCache(rc, WithLayeredMemory(10, time.Minute))
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", bar{Date: "d", Close: 3}, time.Hour))

	var out bar
	require.NoError(t, lc.Get(ctx, "k", &out))
	assert.Equal(t, 3.0, out.Close)

	s.Del("test:k")
	out = bar{}
	require.NoError(t, lc.Get(ctx, "k", &out), "second read served from memory")
	assert.Equal(t, 3.0, out.Close)

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &out), ErrCacheMiss)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "feed:600519:2024-01-02", GenerateKey("feed", "600519", "2024-01-02"))
	assert.Equal(t, "feed", GenerateKey("feed"))
}
