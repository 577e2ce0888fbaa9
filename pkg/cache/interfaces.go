// Package cache 提供限流器使用的结果缓存：进程内存缓存、Redis 远程缓存以及二者组合的分层缓存。
package cache

import (
	"context"
	"time"
)

// Cache 定义了缓存行为的接口。
type Cache interface {
	// Get 从缓存中获取一个值，未命中时返回 ErrCacheMissNotFound。
	Get(ctx context.Context, key string) (interface{}, error)
	// Set 向缓存中设置一个值，ttl 不大于 0 时使用实现的默认 TTL。
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete 从缓存中删除一个值。
	Delete(ctx context.Context, key string) error
	// Clear 清空所有缓存条目。
	Clear(ctx context.Context) error
	// Stats 获取缓存的统计信息。
	Stats() CacheStats
}

// TTLReader 由能报告条目剩余生存时间的缓存实现，分层缓存回填时用它限制上层的 TTL
// 剩余时间为负表示条目没有过期时间
type TTLReader interface {
	GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, error)
}

// Purger 由支持主动清理过期条目的缓存实现
type Purger interface {
	// PurgeExpired 删除所有已过期条目，返回删除数量
	PurgeExpired() int
}

// CacheEntry 代表缓存中的一个条目。
type CacheEntry struct {
	Value      interface{} // 缓存的值
	ExpireTime time.Time   // 过期时间
	CreateTime time.Time   // 创建时间
	HitCount   int64       // 命中次数
}

// CacheStats 包含了缓存的详细统计信息。
type CacheStats struct {
	Size        int64         `json:"size"`         // 当前缓存中的条目数
	MaxSize     int64         `json:"max_size"`     // 缓存最大容量
	HitCount    int64         `json:"hit_count"`    // 命中次数
	MissCount   int64         `json:"miss_count"`   // 未命中次数
	HitRate     float64       `json:"hit_rate"`     // 命中率
	TTL         time.Duration `json:"ttl"`          // 默认的生存时间
	LastCleanup time.Time     `json:"last_cleanup"` // 最后一次清理过期条目的时间
}

func hitRate(hits, misses int64) float64 {
	if total := hits + misses; total > 0 {
		return float64(hits) / float64(total)
	}
	return 0
}
