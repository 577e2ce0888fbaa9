package decorators

import (
	"context"
	"sync"
	"time"

	"marketroute/pkg/routing"

	"golang.org/x/time/rate"
)

// FrequencyControlConfig 频率控制配置
type FrequencyControlConfig struct {
	MinInterval time.Duration                        `yaml:"min_interval" mapstructure:"min_interval"` // 同一供应商两次请求的最小间隔
	Burst       int                                  `yaml:"burst" mapstructure:"burst"`               // 允许的突发请求数
	Overrides   map[routing.ProviderID]time.Duration `yaml:"overrides" mapstructure:"overrides"`       // 按供应商覆盖最小间隔
	Enabled     bool                                 `yaml:"enabled" mapstructure:"enabled"`
}

// DefaultFrequencyControlConfig 默认频率控制配置
func DefaultFrequencyControlConfig() *FrequencyControlConfig {
	return &FrequencyControlConfig{
		MinInterval: 200 * time.Millisecond,
		Burst:       1,
		Enabled:     true,
	}
}

// FrequencyControl 按供应商限制请求频率，等待可被 ctx 取消
type FrequencyControl struct {
	config *FrequencyControlConfig

	mu       sync.Mutex
	limiters map[routing.ProviderID]*rate.Limiter
	waits    map[routing.ProviderID]int64
}

// NewFrequencyControl 创建频率控制装饰器
func NewFrequencyControl(config *FrequencyControlConfig) *FrequencyControl {
	if config == nil {
		config = DefaultFrequencyControlConfig()
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &FrequencyControl{
		config:   config,
		limiters: make(map[routing.ProviderID]*rate.Limiter),
		waits:    make(map[routing.ProviderID]int64),
	}
}

// interval 返回供应商的最小请求间隔
func (f *FrequencyControl) interval(provider routing.ProviderID) time.Duration {
	if d, ok := f.config.Overrides[provider]; ok {
		return d
	}
	return f.config.MinInterval
}

func (f *FrequencyControl) limiter(provider routing.ProviderID) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[provider]
	if !ok {
		limit := rate.Inf
		if d := f.interval(provider); d > 0 {
			limit = rate.Every(d)
		}
		l = rate.NewLimiter(limit, f.config.Burst)
		f.limiters[provider] = l
	}
	return l
}

// Decorate 实现 Decorator
func (f *FrequencyControl) Decorate(provider routing.ProviderID, callable routing.Callable) routing.Callable {
	if !f.config.Enabled {
		return callable
	}
	next := callable.Fn
	return routing.Callable{
		Name: callable.Name,
		Fn: func(ctx context.Context, args routing.Args) (any, error) {
			if err := f.wait(ctx, provider); err != nil {
				return nil, err
			}
			return next(ctx, args)
		},
	}
}

func (f *FrequencyControl) wait(ctx context.Context, provider routing.ProviderID) error {
	l := f.limiter(provider)
	if l.Allow() {
		return nil
	}
	f.mu.Lock()
	f.waits[provider]++
	f.mu.Unlock()
	return l.Wait(ctx)
}

// GetStatus 获取频率控制状态
func (f *FrequencyControl) GetStatus() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	providers := make(map[string]interface{}, len(f.limiters))
	for p := range f.limiters {
		providers[string(p)] = map[string]interface{}{
			"min_interval": f.interval(p).String(),
			"waits":        f.waits[p],
		}
	}
	return map[string]interface{}{
		"decorator_type": "FrequencyControl",
		"enabled":        f.config.Enabled,
		"min_interval":   f.config.MinInterval.String(),
		"burst":          f.config.Burst,
		"providers":      providers,
	}
}
