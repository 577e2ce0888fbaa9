package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"marketroute/pkg/logger"

	"github.com/sirupsen/logrus"
)

// LayeredCache 分层缓存：按顺序查找各层，命中下层时回填上层；写入所有层
// 下层（通常是 Redis）的故障只记录日志，不影响上层的结果
type LayeredCache struct {
	layers       []Cache
	promoteCount int64
	totalHits    int64
	totalMisses  int64
	log          *logrus.Entry
}

// LayeredCacheStats 分层缓存统计
type LayeredCacheStats struct {
	LayerStats   []CacheStats `json:"layer_stats"`
	TotalHits    int64        `json:"total_hits"`
	TotalMisses  int64        `json:"total_misses"`
	PromoteCount int64        `json:"promote_count"`
}

// NewLayeredCache 创建分层缓存，layers[0] 为最快的一层
func NewLayeredCache(layers ...Cache) (*LayeredCache, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("至少需要一个缓存层")
	}
	return &LayeredCache{
		layers: layers,
		log:    logger.WithComponent("LayeredCache"),
	}, nil
}

// Get 从分层缓存获取数据
func (lc *LayeredCache) Get(ctx context.Context, key string) (interface{}, error) {
	value, _, err := lc.GetWithTTL(ctx, key)
	return value, err
}

// readLayer 读取一层缓存，不支持 TTLReader 的层剩余时间记为 0（未知）
func readLayer(ctx context.Context, layer Cache, key string) (interface{}, time.Duration, error) {
	if r, ok := layer.(TTLReader); ok {
		return r.GetWithTTL(ctx, key)
	}
	value, err := layer.Get(ctx, key)
	return value, 0, err
}

// promote 将下层命中的数据回填到上层
// 上层条目的过期时间不晚于下层条目；下层未报告剩余时间时使用上层默认 TTL
func (lc *LayeredCache) promote(ctx context.Context, key string, value interface{}, remaining time.Duration, hitLayer int) {
	ttl := time.Duration(0)
	if remaining > 0 {
		ttl = remaining
	}
	for i := 0; i < hitLayer; i++ {
		if err := lc.layers[i].Set(ctx, key, value, ttl); err != nil {
			lc.log.WithError(err).WithField("layer", i).Debug("缓存回填失败")
		}
	}
	atomic.AddInt64(&lc.promoteCount, 1)
}

// GetWithTTL 实现 TTLReader，返回命中层报告的剩余时间
func (lc *LayeredCache) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, error) {
	for i, layer := range lc.layers {
		value, remaining, err := readLayer(ctx, layer, key)
		if err == nil {
			if i > 0 {
				lc.promote(ctx, key, value, remaining, i)
			}
			atomic.AddInt64(&lc.totalHits, 1)
			return value, remaining, nil
		}
		if !IsMiss(err) {
			lc.log.WithError(err).WithField("layer", i).Warn("缓存层读取失败，继续查找下一层")
		}
	}

	atomic.AddInt64(&lc.totalMisses, 1)
	return nil, 0, ErrCacheMissNotFound
}

// Set 写入所有层，第一层失败时返回错误
func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	for i, layer := range lc.layers {
		if err := layer.Set(ctx, key, value, ttl); err != nil {
			if i == 0 {
				return fmt.Errorf("缓存层 %d 写入失败: %w", i, err)
			}
			lc.log.WithError(err).WithField("layer", i).Warn("缓存层写入失败")
		}
	}
	return nil
}

// Delete 从所有层删除数据
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	var lastErr error
	for i, layer := range lc.layers {
		if err := layer.Delete(ctx, key); err != nil {
			lastErr = fmt.Errorf("缓存层 %d 删除失败: %w", i, err)
		}
	}
	return lastErr
}

// Clear 清空所有缓存层
func (lc *LayeredCache) Clear(ctx context.Context) error {
	var lastErr error
	for i, layer := range lc.layers {
		if err := layer.Clear(ctx); err != nil {
			lastErr = fmt.Errorf("缓存层 %d 清空失败: %w", i, err)
		}
	}
	atomic.StoreInt64(&lc.totalHits, 0)
	atomic.StoreInt64(&lc.totalMisses, 0)
	atomic.StoreInt64(&lc.promoteCount, 0)
	return lastErr
}

// PurgeExpired 清理支持主动清理的各层
func (lc *LayeredCache) PurgeExpired() int {
	removed := 0
	for _, layer := range lc.layers {
		if p, ok := layer.(Purger); ok {
			removed += p.PurgeExpired()
		}
	}
	return removed
}

// Stats 返回第一层的规模与整体命中率
func (lc *LayeredCache) Stats() CacheStats {
	first := lc.layers[0].Stats()
	hits := atomic.LoadInt64(&lc.totalHits)
	misses := atomic.LoadInt64(&lc.totalMisses)
	first.HitCount = hits
	first.MissCount = misses
	first.HitRate = hitRate(hits, misses)
	return first
}

// GetLayeredStats 返回各层的详细统计
func (lc *LayeredCache) GetLayeredStats() LayeredCacheStats {
	stats := LayeredCacheStats{
		LayerStats:   make([]CacheStats, len(lc.layers)),
		TotalHits:    atomic.LoadInt64(&lc.totalHits),
		TotalMisses:  atomic.LoadInt64(&lc.totalMisses),
		PromoteCount: atomic.LoadInt64(&lc.promoteCount),
	}
	for i, layer := range lc.layers {
		stats.LayerStats[i] = layer.Stats()
	}
	return stats
}

var (
	_ Cache     = (*LayeredCache)(nil)
	_ Purger    = (*LayeredCache)(nil)
	_ TTLReader = (*LayeredCache)(nil)
)
