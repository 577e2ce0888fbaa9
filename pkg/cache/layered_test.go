package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketroute/pkg/timing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenCache 模拟不可用的远程层
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (interface{}, error) {
	return nil, errors.New("connection refused")
}
func (brokenCache) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenCache) Delete(context.Context, string) error { return nil }
func (brokenCache) Clear(context.Context) error          { return nil }
func (brokenCache) Stats() CacheStats                    { return CacheStats{} }

func TestLayeredCache_PromotesFromLowerLayer(t *testing.T) {
	ctx := context.Background()
	l1 := NewMemoryCache(MemoryCacheConfig{MaxSize: 10, DefaultTTL: time.Minute})
	l2 := NewMemoryCache(MemoryCacheConfig{MaxSize: 10, DefaultTTL: time.Minute})
	defer l1.Close()
	defer l2.Close()

	lc, err := NewLayeredCache(l1, l2)
	require.NoError(t, err)

	require.NoError(t, l2.Set(ctx, "k", "from-l2", 0))

	v, err := lc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "from-l2", v)

	v, err = l1.Get(ctx, "k")
	require.NoError(t, err, "命中下层后应回填上层")
	assert.Equal(t, "from-l2", v)

	stats := lc.GetLayeredStats()
	assert.Equal(t, int64(1), stats.PromoteCount)
	assert.Equal(t, int64(1), stats.TotalHits)
	assert.Len(t, stats.LayerStats, 2)
}

func TestLayeredCache_SetWritesAllLayers(t *testing.T) {
	ctx := context.Background()
	l1 := NewMemoryCache(MemoryCacheConfig{MaxSize: 10})
	l2 := NewMemoryCache(MemoryCacheConfig{MaxSize: 10})
	lc, err := NewLayeredCache(l1, l2)
	require.NoError(t, err)

	require.NoError(t, lc.Set(ctx, "k", "v", time.Minute))
	_, err = l1.Get(ctx, "k")
	assert.NoError(t, err)
	_, err = l2.Get(ctx, "k")
	assert.NoError(t, err)

	require.NoError(t, lc.Delete(ctx, "k"))
	_, err = lc.Get(ctx, "k")
	assert.True(t, IsMiss(err))
}

func TestLayeredCache_BrokenLowerLayerIsTolerated(t *testing.T) {
	ctx := context.Background()
	l1 := NewMemoryCache(MemoryCacheConfig{MaxSize: 10})
	lc, err := NewLayeredCache(l1, brokenCache{})
	require.NoError(t, err)

	assert.NoError(t, lc.Set(ctx, "k", "v", 0))
	v, err := lc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = lc.Get(ctx, "absent")
	assert.True(t, IsMiss(err))
}

func TestLayeredCache_RequiresLayer(t *testing.T) {
	_, err := NewLayeredCache()
	assert.Error(t, err)
}

func TestLayeredCache_PromotionKeepsLowerLayerExpiry(t *testing.T) {
	ctx := context.Background()
	clock := timing.NewManualClock(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	shared := NewMemoryCache(MemoryCacheConfig{MaxSize: 10, Clock: clock})

	// 两个进程各有自己的 L1，共享同一个 L2
	procA, err := NewLayeredCache(NewMemoryCache(MemoryCacheConfig{MaxSize: 10, Clock: clock}), shared)
	require.NoError(t, err)
	l1B := NewMemoryCache(MemoryCacheConfig{MaxSize: 10, Clock: clock})
	procB, err := NewLayeredCache(l1B, shared)
	require.NoError(t, err)

	require.NoError(t, procA.Set(ctx, "k", "v", time.Hour))

	clock.Advance(50 * time.Minute)
	v, remaining, err := procB.GetWithTTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, 10*time.Minute, remaining)

	_, l1Remaining, err := l1B.GetWithTTL(ctx, "k")
	require.NoError(t, err, "命中下层后应回填上层")
	assert.Equal(t, 10*time.Minute, l1Remaining, "回填条目沿用下层剩余时间")

	clock.Advance(20 * time.Minute)
	_, err = procB.Get(ctx, "k")
	assert.True(t, IsMiss(err), "超过原始TTL后两层都应过期")
}

func TestLayeredCache_PromotionWithoutTTLUsesDefault(t *testing.T) {
	ctx := context.Background()
	clock := timing.NewManualClock(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	l1 := NewMemoryCache(MemoryCacheConfig{MaxSize: 10, DefaultTTL: time.Minute, Clock: clock})
	lc, err := NewLayeredCache(l1, plainCache{value: "x"})
	require.NoError(t, err)

	v, err := lc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	_, remaining, err := l1.GetWithTTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, remaining)
}

// plainCache 总是命中、不报告剩余时间的缓存层
type plainCache struct{ value interface{} }

func (p plainCache) Get(context.Context, string) (interface{}, error) { return p.value, nil }
func (plainCache) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}
func (plainCache) Delete(context.Context, string) error { return nil }
func (plainCache) Clear(context.Context) error          { return nil }
func (plainCache) Stats() CacheStats                    { return CacheStats{} }
