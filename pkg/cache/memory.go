package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"marketroute/pkg/timing"
)

// MemoryCacheConfig 内存缓存配置
type MemoryCacheConfig struct {
	MaxSize         int64         // 最大条目数量
	DefaultTTL      time.Duration // 默认TTL
	CleanupInterval time.Duration // 后台清理间隔，0 表示只在访问时惰性清理
	Clock           timing.TimeService
}

// MemoryCache 线程安全的内存缓存实现
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*CacheEntry
	maxSize    int64
	defaultTTL time.Duration
	hitCount   int64
	missCount  int64

	now func() time.Time

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
	lastCleanup   time.Time
}

// NewMemoryCache 创建新的内存缓存
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	if config.MaxSize <= 0 {
		config.MaxSize = 1000
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}

	now := time.Now
	if config.Clock != nil {
		now = config.Clock.Now
	}

	mc := &MemoryCache{
		entries:     make(map[string]*CacheEntry),
		maxSize:     config.MaxSize,
		defaultTTL:  config.DefaultTTL,
		now:         now,
		stopCleanup: make(chan struct{}),
		lastCleanup: now(),
	}

	if config.CleanupInterval > 0 {
		mc.cleanupTicker = time.NewTicker(config.CleanupInterval)
		go mc.startCleanup()
	}

	return mc
}

// Get 获取缓存值，过期条目视为未命中并被删除
func (mc *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	value, _, err := mc.GetWithTTL(ctx, key)
	return value, err
}

// GetWithTTL 获取缓存值及其剩余生存时间
func (mc *MemoryCache) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, error) {
	mc.mu.RLock()
	entry, exists := mc.entries[key]
	mc.mu.RUnlock()

	if !exists {
		atomic.AddInt64(&mc.missCount, 1)
		return nil, 0, ErrCacheMissNotFound
	}

	remaining := entry.ExpireTime.Sub(mc.now())
	if remaining <= 0 {
		mc.mu.Lock()
		if current, ok := mc.entries[key]; ok && current == entry {
			delete(mc.entries, key)
		}
		mc.mu.Unlock()
		atomic.AddInt64(&mc.missCount, 1)
		return nil, 0, ErrCacheMissNotFound
	}

	atomic.AddInt64(&entry.HitCount, 1)
	atomic.AddInt64(&mc.hitCount, 1)
	return entry.Value, remaining, nil
}

// Set 设置缓存值
func (mc *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}

	now := mc.now()
	entry := &CacheEntry{
		Value:      value,
		ExpireTime: now.Add(ttl),
		CreateTime: now,
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.entries[key]; !exists && int64(len(mc.entries)) >= mc.maxSize {
		mc.purgeLocked(now)
		if int64(len(mc.entries)) >= mc.maxSize {
			mc.evictOldest()
		}
	}

	mc.entries[key] = entry
	return nil
}

// Delete 删除缓存值
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.entries, key)
	return nil
}

// Clear 清空缓存
func (mc *MemoryCache) Clear(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.entries = make(map[string]*CacheEntry)
	atomic.StoreInt64(&mc.hitCount, 0)
	atomic.StoreInt64(&mc.missCount, 0)
	return nil
}

// PurgeExpired 删除所有过期条目
func (mc *MemoryCache) PurgeExpired() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.purgeLocked(mc.now())
}

func (mc *MemoryCache) purgeLocked(now time.Time) int {
	removed := 0
	for key, entry := range mc.entries {
		if !now.Before(entry.ExpireTime) {
			delete(mc.entries, key)
			removed++
		}
	}
	mc.lastCleanup = now
	return removed
}

// Stats 获取缓存统计信息
func (mc *MemoryCache) Stats() CacheStats {
	mc.mu.RLock()
	size := int64(len(mc.entries))
	lastCleanup := mc.lastCleanup
	mc.mu.RUnlock()

	hits := atomic.LoadInt64(&mc.hitCount)
	misses := atomic.LoadInt64(&mc.missCount)

	return CacheStats{
		Size:        size,
		MaxSize:     mc.maxSize,
		HitCount:    hits,
		MissCount:   misses,
		HitRate:     hitRate(hits, misses),
		TTL:         mc.defaultTTL,
		LastCleanup: lastCleanup,
	}
}

// Close 停止后台清理协程
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() {
		if mc.cleanupTicker != nil {
			mc.cleanupTicker.Stop()
		}
		close(mc.stopCleanup)
	})
	return nil
}

func (mc *MemoryCache) startCleanup() {
	for {
		select {
		case <-mc.cleanupTicker.C:
			mc.PurgeExpired()
		case <-mc.stopCleanup:
			return
		}
	}
}

// evictOldest 淘汰创建时间最早的条目
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range mc.entries {
		if oldestKey == "" || entry.CreateTime.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreateTime
		}
	}

	if oldestKey != "" {
		delete(mc.entries, oldestKey)
	}
}

var (
	_ TTLReader = (*MemoryCache)(nil)
	_ Cache     = (*MemoryCache)(nil)
	_ Purger    = (*MemoryCache)(nil)
)
