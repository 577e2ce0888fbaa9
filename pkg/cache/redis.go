package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	apperr "marketroute/pkg/error"

	"github.com/go-redis/redis/v8"
)

// RedisCacheConfig Redis 缓存配置
type RedisCacheConfig struct {
	Prefix     string        // 键前缀
	DefaultTTL time.Duration // 默认TTL
}

// RedisCache 基于 Redis 的远程缓存，值以 JSON 编码存储
// 读取时解码为通用类型：字符串仍为 string，对象为 map[string]interface{}
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	hitCount   int64
	missCount  int64
}

// NewRedisCache 创建 Redis 缓存
func NewRedisCache(client redis.UniversalClient, config RedisCacheConfig) *RedisCache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	return &RedisCache{
		client:     client,
		prefix:     config.Prefix,
		defaultTTL: config.DefaultTTL,
	}
}

func (rc *RedisCache) key(k string) string {
	return rc.prefix + k
}

// Get 获取缓存值
func (rc *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	raw, err := rc.client.Get(ctx, rc.key(key)).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&rc.missCount, 1)
		return nil, ErrCacheMissNotFound
	}
	if err != nil {
		return nil, apperr.WrapError(ErrCacheUnavailable, "redis get failed", err)
	}
	return rc.decode(key, raw)
}

// GetWithTTL 在同一个 pipeline 中读取值与 PTTL
func (rc *RedisCache) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, error) {
	pipe := rc.client.Pipeline()
	getCmd := pipe.Get(ctx, rc.key(key))
	ttlCmd := pipe.PTTL(ctx, rc.key(key))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, 0, apperr.WrapError(ErrCacheUnavailable, "redis get failed", err)
	}

	raw, err := getCmd.Bytes()
	// PTTL 为 -2 表示键在两条命令之间过期
	if err == redis.Nil || ttlCmd.Val() == -2 {
		atomic.AddInt64(&rc.missCount, 1)
		return nil, 0, ErrCacheMissNotFound
	}
	if err != nil {
		return nil, 0, apperr.WrapError(ErrCacheUnavailable, "redis get failed", err)
	}

	value, err := rc.decode(key, raw)
	if err != nil {
		return nil, 0, err
	}
	return value, ttlCmd.Val(), nil
}

func (rc *RedisCache) decode(key string, raw []byte) (interface{}, error) {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, apperr.WrapError(ErrCacheCorrupted, "cannot decode cached value", err).WithContext("key", key)
	}
	atomic.AddInt64(&rc.hitCount, 1)
	return value, nil
}

// Set 设置缓存值
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return apperr.WrapError(ErrCacheCorrupted, "cannot encode value", err).WithContext("key", key)
	}
	if err := rc.client.Set(ctx, rc.key(key), raw, ttl).Err(); err != nil {
		return apperr.WrapError(ErrCacheUnavailable, "redis set failed", err)
	}
	return nil
}

// Delete 删除缓存值
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	if err := rc.client.Del(ctx, rc.key(key)).Err(); err != nil {
		return apperr.WrapError(ErrCacheUnavailable, "redis del failed", err)
	}
	return nil
}

// Clear 删除该前缀下的所有键
func (rc *RedisCache) Clear(ctx context.Context) error {
	iter := rc.client.Scan(ctx, 0, rc.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := rc.client.Del(ctx, iter.Val()).Err(); err != nil {
			return apperr.WrapError(ErrCacheUnavailable, "redis del failed", err)
		}
	}
	if err := iter.Err(); err != nil {
		return apperr.WrapError(ErrCacheUnavailable, "redis scan failed", err)
	}
	atomic.StoreInt64(&rc.hitCount, 0)
	atomic.StoreInt64(&rc.missCount, 0)
	return nil
}

// Stats 返回命中统计，Size 不统计远程键数量
func (rc *RedisCache) Stats() CacheStats {
	hits := atomic.LoadInt64(&rc.hitCount)
	misses := atomic.LoadInt64(&rc.missCount)
	return CacheStats{
		HitCount:  hits,
		MissCount: misses,
		HitRate:   hitRate(hits, misses),
		TTL:       rc.defaultTTL,
	}
}

var (
	_ Cache     = (*RedisCache)(nil)
	_ TTLReader = (*RedisCache)(nil)
)
