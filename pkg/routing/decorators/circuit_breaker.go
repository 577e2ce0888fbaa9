package decorators

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketroute/pkg/logger"
	"marketroute/pkg/routing"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	Name        string        `yaml:"name" mapstructure:"name"`                   // 熔断器名称前缀
	MaxRequests uint32        `yaml:"max_requests" mapstructure:"max_requests"`   // 半开状态下的最大请求数
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`           // 统计窗口时间
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`             // 熔断器打开后的超时时间
	ReadyToTrip uint32        `yaml:"ready_to_trip" mapstructure:"ready_to_trip"` // 触发熔断的连续失败次数
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`             // 是否启用熔断器
}

// CircuitBreakerStats 单个供应商的熔断统计
type CircuitBreakerStats struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	RejectedRequests   int64     `json:"rejected_requests"`
	RateLimited        int64     `json:"rate_limited"`
	LastFailure        time.Time `json:"last_failure"`
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:        "provider",
		MaxRequests: 5,                // 半开状态允许5个请求
		Interval:    60 * time.Second, // 60秒统计窗口
		Timeout:     30 * time.Second, // 熔断30秒
		ReadyToTrip: 5,                // 连续5次失败触发熔断
		Enabled:     true,
	}
}

// CircuitBreaker 按供应商熔断，同一供应商的所有方法共享一个熔断器
type CircuitBreaker struct {
	config *CircuitBreakerConfig
	log    *logrus.Entry

	mu       sync.RWMutex
	breakers map[routing.ProviderID]*gobreaker.CircuitBreaker
	stats    map[routing.ProviderID]*CircuitBreakerStats
}

// NewCircuitBreaker 创建熔断装饰器
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{
		config:   config,
		log:      logger.WithComponent("CircuitBreaker"),
		breakers: make(map[routing.ProviderID]*gobreaker.CircuitBreaker),
		stats:    make(map[routing.ProviderID]*CircuitBreakerStats),
	}
}

// breaker 返回供应商对应的熔断器，不存在时创建
func (c *CircuitBreaker) breaker(provider routing.ProviderID) *gobreaker.CircuitBreaker {
	c.mu.RLock()
	cb, ok := c.breakers[provider]
	c.mu.RUnlock()
	if ok {
		return cb
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[provider]; ok {
		return cb
	}

	threshold := c.config.ReadyToTrip
	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("%s:%s", c.config.Name, provider),
		MaxRequests: c.config.MaxRequests,
		Interval:    c.config.Interval,
		Timeout:     c.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("熔断器状态变更")
		},
	}
	cb = gobreaker.NewCircuitBreaker(settings)
	c.breakers[provider] = cb
	c.stats[provider] = &CircuitBreakerStats{}
	return cb
}

// isBreakerSuccess 调用方取消与供应商限流都不计为失败，限流信号需原样交给执行器
func isBreakerSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || routing.IsRateLimited(err)
}

// Decorate 实现 Decorator
func (c *CircuitBreaker) Decorate(provider routing.ProviderID, callable routing.Callable) routing.Callable {
	if !c.config.Enabled {
		return callable
	}
	next := callable.Fn
	return routing.Callable{
		Name: callable.Name,
		Fn: func(ctx context.Context, args routing.Args) (any, error) {
			cb := c.breaker(provider)
			result, err := cb.Execute(func() (interface{}, error) {
				return next(ctx, args)
			})
			c.handleResult(provider, err)
			return result, err
		},
	}
}

// handleResult 更新统计信息
func (c *CircuitBreaker) handleResult(provider routing.ProviderID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats[provider]
	s.TotalRequests++
	switch {
	case err == nil:
		s.SuccessfulRequests++
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.RejectedRequests++
	case routing.IsRateLimited(err):
		s.RateLimited++
	default:
		s.FailedRequests++
		s.LastFailure = time.Now()
	}
}

// State 获取供应商熔断器当前状态，未调用过的供应商视为关闭
func (c *CircuitBreaker) State(provider routing.ProviderID) gobreaker.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cb, ok := c.breakers[provider]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// IsOpen 检查供应商熔断器是否处于打开状态
func (c *CircuitBreaker) IsOpen(provider routing.ProviderID) bool {
	return c.State(provider) == gobreaker.StateOpen
}

// Stats 返回供应商的统计信息副本
func (c *CircuitBreaker) Stats(provider routing.ProviderID) CircuitBreakerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.stats[provider]; ok {
		return *s
	}
	return CircuitBreakerStats{}
}

// GetStatus 获取熔断器状态信息
func (c *CircuitBreaker) GetStatus() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	providers := make(map[string]interface{}, len(c.breakers))
	for p, cb := range c.breakers {
		counts := cb.Counts()
		s := c.stats[p]
		providers[string(p)] = map[string]interface{}{
			"state":                cb.State().String(),
			"consecutive_failures": counts.ConsecutiveFailures,
			"total_requests":       s.TotalRequests,
			"successful_requests":  s.SuccessfulRequests,
			"failed_requests":      s.FailedRequests,
			"rejected_requests":    s.RejectedRequests,
			"rate_limited":         s.RateLimited,
			"last_failure":         s.LastFailure,
		}
	}

	return map[string]interface{}{
		"decorator_type": "CircuitBreaker",
		"enabled":        c.config.Enabled,
		"providers":      providers,
		"config": map[string]interface{}{
			"name":          c.config.Name,
			"max_requests":  c.config.MaxRequests,
			"interval":      c.config.Interval.String(),
			"timeout":       c.config.Timeout.String(),
			"ready_to_trip": c.config.ReadyToTrip,
		},
	}
}
