package limiter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"marketroute/pkg/cache"
	"marketroute/pkg/logger"
	"marketroute/pkg/timing"

	"github.com/sirupsen/logrus"
)

// Config 限流器配置
type Config struct {
	TokensPerMinute int           // 窗口内的 token 预算
	Window          time.Duration // 预算窗口长度
	WaitBuffer      time.Duration // 等待窗口结束时额外的缓冲
	BaseDelay       time.Duration // 退避基础时长
	MaxJitter       time.Duration // 退避随机抖动上限（不含）
	MaxRetries      int           // 限流时的最大尝试次数
	CacheTTL        time.Duration // 结果缓存时间
	ThrottleMarkers []string      // 额外的限流错误标记
	Clock           timing.Clock  // 为空时使用系统时钟
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		TokensPerMinute: 500000,
		Window:          time.Minute,
		WaitBuffer:      500 * time.Millisecond,
		BaseDelay:       500 * time.Millisecond,
		MaxJitter:       100 * time.Millisecond,
		MaxRetries:      10,
		CacheTTL:        time.Hour,
	}
}

// Limiter Token 预算限流器
// 预算计数由 mu 保护，缓存自身并发安全；等待均在锁外进行并可被 ctx 取消
type Limiter struct {
	config     Config
	cache      cache.Cache
	classifier *ErrorClassifier
	clock      timing.Clock
	jitter     func() time.Duration
	log        *logrus.Entry

	mu          sync.Mutex
	tokensUsed  int
	windowStart time.Time

	totalCalls      int64
	cacheHits       int64
	budgetWaits     int64
	throttleRetries int64
	exhausted       int64
}

// New 创建限流器，config 为空时使用默认配置，store 为空时使用内存缓存
// config 中的零值字段取默认值；WaitBuffer 与 MaxJitter 取负数表示关闭
func New(config *Config, store cache.Cache) *Limiter {
	cfg := *DefaultConfig()
	if config != nil {
		cfg = mergeConfig(cfg, *config)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timing.SystemClock{}
	}
	if store == nil {
		store = cache.NewMemoryCache(cache.MemoryCacheConfig{
			MaxSize:    10000,
			DefaultTTL: cfg.CacheTTL,
			Clock:      clock,
		})
	}

	l := &Limiter{
		config:      cfg,
		cache:       store,
		classifier:  NewErrorClassifier(cfg.ThrottleMarkers...),
		clock:       clock,
		log:         logger.WithComponent("RateLimiter"),
		windowStart: clock.Now(),
	}
	l.jitter = l.randomJitter
	return l
}

func mergeConfig(base, override Config) Config {
	if override.TokensPerMinute > 0 {
		base.TokensPerMinute = override.TokensPerMinute
	}
	if override.Window > 0 {
		base.Window = override.Window
	}
	if override.WaitBuffer != 0 {
		base.WaitBuffer = max(override.WaitBuffer, 0)
	}
	if override.BaseDelay > 0 {
		base.BaseDelay = override.BaseDelay
	}
	if override.MaxJitter != 0 {
		base.MaxJitter = max(override.MaxJitter, 0)
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.CacheTTL > 0 {
		base.CacheTTL = override.CacheTTL
	}
	base.ThrottleMarkers = override.ThrottleMarkers
	base.Clock = override.Clock
	return base
}

func (l *Limiter) randomJitter() time.Duration {
	if l.config.MaxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(l.config.MaxJitter)))
}

// Guard 在预算与退避保护下执行调用
// 缓存命中时直接返回，不消耗预算也不执行调用
func (l *Limiter) Guard(ctx context.Context, call Call, opts ...Option) (any, error) {
	o := defaultCallOptions()
	for _, opt := range opts {
		opt(&o)
	}
	atomic.AddInt64(&l.totalCalls, 1)

	log := l.log.WithField("call", call.Name)

	var key string
	if o.cacheEnabled {
		if p, ok := l.cache.(cache.Purger); ok {
			p.PurgeExpired()
		}
		key = Fingerprint(call)
		if value, err := l.cache.Get(ctx, key); err == nil {
			atomic.AddInt64(&l.cacheHits, 1)
			log.Debug("缓存命中")
			return value, nil
		} else if !cache.IsMiss(err) {
			log.WithError(err).Warn("读取缓存失败，继续执行调用")
		}
	}

	tokens := o.estimatedTokens
	if tokens <= 0 {
		tokens = EstimateTokens(call.Args)
	}
	if err := l.reserve(ctx, tokens, log); err != nil {
		return nil, err
	}

	attempts := l.config.MaxRetries
	if o.maxRetries > 0 {
		attempts = o.maxRetries
	}
	result, err := l.executeWithBackoff(ctx, call, attempts, log)
	if err != nil {
		return nil, err
	}

	if o.cacheEnabled {
		if err := l.cache.Set(ctx, key, result, l.config.CacheTTL); err != nil {
			log.WithError(err).Warn("写入缓存失败")
		}
	}
	return result, nil
}

// reserve 预留 tokens，预算不足时等待当前窗口结束后重新检查
// 等待期间不持有任何预留，取消等待不会改变计数
func (l *Limiter) reserve(ctx context.Context, tokens int, log *logrus.Entry) error {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		elapsed := now.Sub(l.windowStart)
		if elapsed >= l.config.Window {
			l.windowStart = now
			l.tokensUsed = 0
			elapsed = 0
		}
		// 空窗口总是放行，避免单次超大调用永远等待
		if l.tokensUsed == 0 || l.tokensUsed+tokens <= l.config.TokensPerMinute {
			l.tokensUsed += tokens
			l.mu.Unlock()
			return nil
		}
		wait := l.config.Window - elapsed + l.config.WaitBuffer
		used := l.tokensUsed
		l.mu.Unlock()

		atomic.AddInt64(&l.budgetWaits, 1)
		log.WithFields(logrus.Fields{
			"tokens_used":     used,
			"tokens_required": tokens,
			"wait":            wait.String(),
		}).Warn("token 预算不足，等待窗口重置")

		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// executeWithBackoff 执行调用，限流错误按指数退避重试
func (l *Limiter) executeWithBackoff(ctx context.Context, call Call, attempts int, log *logrus.Entry) (any, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := call.Fn(ctx)
		if err == nil {
			return result, nil
		}

		level := l.classifier.Classify(err)
		if level != LevelThrottled {
			log.WithError(err).WithField("level", level.String()).Debug("调用失败，不重试")
			return nil, err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		delay := l.Backoff(attempt)
		atomic.AddInt64(&l.throttleRetries, 1)
		log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).WithError(err).Warn("被限流，退避后重试")

		if err := l.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	atomic.AddInt64(&l.exhausted, 1)
	if lastErr == nil {
		return nil, ErrRetriesExhausted
	}
	return nil, retriesExhausted(call.Name, attempts, lastErr)
}

// Backoff 返回第 attempt 次重试前的等待时长：base*2^attempt 加上随机抖动
func (l *Limiter) Backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	return l.config.BaseDelay*time.Duration(1<<uint(attempt)) + l.jitter()
}

// IsThrottled 判断错误是否会被当作限流处理
func (l *Limiter) IsThrottled(err error) bool {
	return l.classifier.IsThrottled(err)
}

// GuardValue 执行调用并把结果转换为 T
// 远程缓存命中时结果为通用 JSON 类型，会经由 JSON 重新解码为 T
func GuardValue[T any](ctx context.Context, l *Limiter, call Call, opts ...Option) (T, error) {
	var zero T
	v, err := l.Guard(ctx, call, opts...)
	if err != nil {
		return zero, err
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("无法转换 %s 的结果: %w", call.Name, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("无法转换 %s 的结果: %w", call.Name, err)
	}
	return out, nil
}

// TokensUsed 返回当前窗口已用 token 数
func (l *Limiter) TokensUsed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokensUsed
}

// Reset 清空预算窗口与缓存
func (l *Limiter) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.tokensUsed = 0
	l.windowStart = l.clock.Now()
	l.mu.Unlock()
	return l.cache.Clear(ctx)
}

// GetStatus 获取限流器状态信息
func (l *Limiter) GetStatus() map[string]interface{} {
	l.mu.Lock()
	used := l.tokensUsed
	windowStart := l.windowStart
	remaining := l.config.Window - l.clock.Now().Sub(windowStart)
	l.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}

	stats := l.cache.Stats()
	return map[string]interface{}{
		"tokens_used":       used,
		"tokens_per_minute": l.config.TokensPerMinute,
		"window_start":      windowStart,
		"window_remaining":  remaining.String(),
		"total_calls":       atomic.LoadInt64(&l.totalCalls),
		"cache_hits":        atomic.LoadInt64(&l.cacheHits),
		"budget_waits":      atomic.LoadInt64(&l.budgetWaits),
		"throttle_retries":  atomic.LoadInt64(&l.throttleRetries),
		"retries_exhausted": atomic.LoadInt64(&l.exhausted),
		"cache": map[string]interface{}{
			"size":      stats.Size,
			"hit_count": stats.HitCount,
			"hit_rate":  stats.HitRate,
			"ttl":       l.config.CacheTTL.String(),
		},
	}
}
