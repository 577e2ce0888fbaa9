package cache

import (
	"context"
	"testing"
	"time"

	"marketroute/pkg/timing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryCache(maxSize int64, ttl time.Duration) (*MemoryCache, *timing.ManualClock) {
	clock := timing.NewManualClock(time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC))
	mc := NewMemoryCache(MemoryCacheConfig{MaxSize: maxSize, DefaultTTL: ttl, Clock: clock})
	return mc, clock
}

func TestMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestMemoryCache(10, time.Minute)
	defer mc.Close()

	_, err := mc.Get(ctx, "missing")
	assert.True(t, IsMiss(err))

	require.NoError(t, mc.Set(ctx, "k", "value", 0))
	v, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	require.NoError(t, mc.Delete(ctx, "k"))
	_, err = mc.Get(ctx, "k")
	assert.True(t, IsMiss(err))
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	mc, clock := newTestMemoryCache(10, time.Minute)
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "short", "a", 10*time.Second))
	require.NoError(t, mc.Set(ctx, "long", "b", 0))

	clock.Advance(10 * time.Second)
	_, err := mc.Get(ctx, "short")
	assert.True(t, IsMiss(err), "到期时刻的条目应视为过期")

	v, err := mc.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, mc.PurgeExpired())
	assert.Equal(t, int64(0), mc.Stats().Size)
}

func TestMemoryCache_EvictsOldestWhenFull(t *testing.T) {
	ctx := context.Background()
	mc, clock := newTestMemoryCache(2, time.Hour)
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "first", 1, 0))
	clock.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "second", 2, 0))
	clock.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "third", 3, 0))

	_, err := mc.Get(ctx, "first")
	assert.True(t, IsMiss(err))
	v, err := mc.Get(ctx, "third")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, int64(2), mc.Stats().Size)
}

func TestMemoryCache_FullCachePrefersExpiredEntries(t *testing.T) {
	ctx := context.Background()
	mc, clock := newTestMemoryCache(2, time.Hour)
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "old-but-live", 1, 0))
	clock.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "expiring", 2, time.Second))
	clock.Advance(2 * time.Second)
	require.NoError(t, mc.Set(ctx, "new", 3, 0))

	_, err := mc.Get(ctx, "old-but-live")
	assert.NoError(t, err)
}

func TestMemoryCache_Stats(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestMemoryCache(10, time.Minute)
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", 0))
	_, _ = mc.Get(ctx, "k")
	_, _ = mc.Get(ctx, "k")
	_, _ = mc.Get(ctx, "nope")

	stats := mc.Stats()
	assert.Equal(t, int64(1), stats.Size)
	assert.Equal(t, int64(2), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
	assert.Equal(t, time.Minute, stats.TTL)

	require.NoError(t, mc.Clear(ctx))
	assert.Equal(t, int64(0), mc.Stats().Size)
	assert.Equal(t, int64(0), mc.Stats().HitCount)
}

func TestMemoryCache_BackgroundCleanup(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(MemoryCacheConfig{MaxSize: 10, DefaultTTL: time.Minute, CleanupInterval: 10 * time.Millisecond})
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", 20*time.Millisecond))
	assert.Eventually(t, func() bool {
		return mc.Stats().Size == 0
	}, time.Second, 10*time.Millisecond)

	assert.NoError(t, mc.Close(), "重复关闭不应 panic")
}
