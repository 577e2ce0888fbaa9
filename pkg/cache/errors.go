package cache

import (
	"errors"

	apperr "marketroute/pkg/error"
)

const (
	// ErrCacheMiss 表示在缓存中未找到请求的条目。
	ErrCacheMiss = apperr.CodeCacheMiss
	// ErrCacheCorrupted 表示远程缓存中的数据无法解码。
	ErrCacheCorrupted apperr.ErrorCode = "CACHE_CORRUPTED"
	// ErrCacheUnavailable 表示远程缓存不可用。
	ErrCacheUnavailable apperr.ErrorCode = "CACHE_UNAVAILABLE"
)

var (
	ErrCacheMissNotFound = apperr.NewError(ErrCacheMiss, "cache entry not found")
)

// IsMiss 判断错误是否为缓存未命中
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMissNotFound)
}
