package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

type payload struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func newMemory(c *fakeClock, size int) *MemoryCache {
	return NewMemoryCache(WithMemoryMaxSize(size), WithMemoryCleanup(0), WithMemoryClock(c.now))
}

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	c := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	mc := newMemory(c, 10)
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "clusters:v3", payload{Name: "premium", Score: 1.5}, time.Minute))
	var got payload
	require.NoError(t, mc.Get(ctx, "clusters:v3", &got))
	assert.Equal(t, payload{Name: "premium", Score: 1.5}, got)

	c.t = c.t.Add(2 * time.Minute)
	assert.True(t, errors.Is(mc.Get(ctx, "clusters:v3", &got), ErrCacheMiss))
	assert.Zero(t, mc.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	mc := newMemory(c, 2)
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	c.t = c.t.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "b", 2, 0))
	c.t = c.t.Add(time.Second)
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	c.t = c.t.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "c", 3, 0))

	assert.NoError(t, mc.Get(ctx, "a", &v))
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "c", &v))
	assert.Equal(t, 3, v)
}

func TestMemoryCacheTryLock(t *testing.T) {
	c := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	mc := newMemory(c, 10)
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "refresh", time.Minute)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "refresh"))
	ok, _ = mc.TryLock(ctx, "refresh", time.Minute)
	assert.True(t, ok)

	// an expired lock can be taken again
	c.t = c.t.Add(2 * time.Minute)
	ok, _ = mc.TryLock(ctx, "refresh", time.Minute)
	assert.True(t, ok)
}

func TestLayeredCachePromotesFromL2(t *testing.T) {
	c := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	l2 := newMemory(c, 10)
	lc := NewLayeredCache(l2, WithMemoryCleanup(0), WithMemoryClock(c.now))
	defer lc.Close()
	ctx := context.Background()

	require.NoError(t, l2.Set(ctx, "portfolio:v1", payload{Name: "p", Score: 0.4}, time.Hour))
	var got payload
	require.NoError(t, lc.Get(ctx, "portfolio:v1", &got))
	assert.Equal(t, "p", got.Name)
	assert.Equal(t, 1, lc.l1.Len())

	require.NoError(t, lc.Delete(ctx, "portfolio:v1"))
	assert.ErrorIs(t, lc.Get(ctx, "portfolio:v1", &got), ErrCacheMiss)

	ok, err := lc.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l2.TryLock(ctx, "refresh", time.Minute)
	assert.False(t, ok)
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "agropulse:clusters:7", GenerateKeyWithParams("agropulse", "clusters", 7))
	assert.Equal(t, "a:b", GenerateKey("a", "b"))
}
