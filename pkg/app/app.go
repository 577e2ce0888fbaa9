// Package app 根据配置组装路由执行所需的全部组件，供各个命令共用。
package app

import (
	"context"
	"time"

	"marketroute/pkg/cache"
	"marketroute/pkg/config"
	"marketroute/pkg/limiter"
	"marketroute/pkg/logger"
	"marketroute/pkg/provider/httpsource"
	"marketroute/pkg/provider/local"
	"marketroute/pkg/routing"
	"marketroute/pkg/routing/decorators"
	"marketroute/pkg/routing/tracesink"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// DecoratorsKey 装饰器链在配置文件中的键
const DecoratorsKey = "decorators"

// App 组装完成的路由组件
type App struct {
	Config   *config.Config
	Cache    cache.Cache
	Limiter  *limiter.Limiter
	Chain    *decorators.DecoratorChain
	Registry *routing.Registry
	Resolver *routing.Resolver
	Executor *routing.Executor
	Redis    *redis.Client
	Influx   *tracesink.InfluxSink

	closers []func() error
	log     *logrus.Entry
}

type options struct {
	redis   *redis.Client
	sources []routing.BindingSource
	sinks   []routing.TraceSink
	chain   *decorators.ChainConfig
}

// Option 组装选项
type Option func(*options)

// WithRedisClient 使用已有的 Redis 客户端，不再按配置创建
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) { o.redis = client }
}

// WithSources 追加额外的数据源
func WithSources(sources ...routing.BindingSource) Option {
	return func(o *options) { o.sources = append(o.sources, sources...) }
}

// WithTraceSink 追加尝试记录接收方
func WithTraceSink(sink routing.TraceSink) Option {
	return func(o *options) {
		if sink != nil {
			o.sinks = append(o.sinks, sink)
		}
	}
}

// WithChainConfig 指定装饰器链配置，忽略配置文件中的设置
func WithChainConfig(chain decorators.ChainConfig) Option {
	return func(o *options) { o.chain = &chain }
}

// New 按配置组装执行器
// Redis 与 InfluxDB 不可用时降级运行并记录警告，数据源与装饰器配置错误则返回错误
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{
		Config: cfg,
		log:    logger.WithComponent("App"),
	}

	a.Cache = a.buildCache(ctx, o.redis)
	a.Limiter = limiter.New(&limiter.Config{
		TokensPerMinute: cfg.Limiter.TokensPerMinute,
		Window:          cfg.Limiter.Window,
		WaitBuffer:      cfg.Limiter.WaitBuffer,
		BaseDelay:       cfg.Limiter.BaseDelay,
		MaxRetries:      cfg.Limiter.MaxRetries,
		CacheTTL:        cfg.Limiter.CacheTTL,
	}, a.Cache)

	chain, err := a.buildChain(o.chain)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Chain = chain

	sources := make([]routing.BindingSource, 0, len(cfg.Sources)+1+len(o.sources))
	for _, src := range httpsource.FromConfig(cfg.Sources) {
		sources = append(sources, chain.Source(src))
	}
	if cfg.Vendors.LocalDataDir != "" {
		sources = append(sources, chain.Source(local.New(cfg.Vendors.LocalDataDir)))
	}
	for _, src := range o.sources {
		sources = append(sources, chain.Source(src))
	}

	registry, err := routing.BuildCatalog(sources...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = registry
	a.Resolver = routing.NewResolver(registry, routing.SettingsFromConfig(cfg))

	sinks := routing.MultiSink{routing.NewLogSink(nil)}
	if cfg.Influx.Enabled {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		influx, err := tracesink.Dial(dialCtx, cfg.Influx)
		cancel()
		if err != nil {
			a.log.WithError(err).Warn("InfluxDB 不可用，尝试记录只写入日志")
		} else {
			a.Influx = influx
			sinks = append(sinks, influx)
			a.closers = append(a.closers, func() error { influx.Close(); return nil })
		}
	}
	sinks = append(sinks, o.sinks...)

	a.Executor = routing.NewExecutor(registry, a.Resolver, sinks)

	a.log.WithFields(logrus.Fields{
		"methods":    len(registry.Methods()),
		"decorators": chain.Len(),
		"redis":      a.Redis != nil,
		"influx":     a.Influx != nil,
	}).Info("路由组件初始化完成")
	return a, nil
}

func (a *App) buildCache(ctx context.Context, client *redis.Client) cache.Cache {
	cfg := a.Config
	memory := cache.NewMemoryCache(cache.MemoryCacheConfig{
		MaxSize:         cfg.Cache.MaxSize,
		DefaultTTL:      cfg.Limiter.CacheTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
	})
	a.closers = append(a.closers, memory.Close)

	if client == nil && !cfg.Cache.RedisEnabled {
		return memory
	}
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.log.WithError(err).Warnf("无法连接到 Redis %s，仅使用内存缓存", cfg.Redis.Addr)
			_ = client.Close()
			return memory
		}
		a.closers = append(a.closers, client.Close)
	}
	a.Redis = client

	layered, err := cache.NewLayeredCache(memory, cache.NewRedisCache(client, cache.RedisCacheConfig{
		Prefix:     cfg.Cache.RedisPrefix,
		DefaultTTL: cfg.Limiter.CacheTTL,
	}))
	if err != nil {
		a.log.WithError(err).Warn("创建分层缓存失败，仅使用内存缓存")
		return memory
	}
	return layered
}

func (a *App) buildChain(override *decorators.ChainConfig) (*decorators.DecoratorChain, error) {
	if override != nil {
		chain := decorators.NewConfigurableDecoratorChain(decorators.NewDecoratorFactory(a.Limiter))
		chain.LoadFromConfig(*override)
		return chain.Build()
	}
	v := a.Config.Viper()
	if v.IsSet(DecoratorsKey) {
		return decorators.NewChainFromViper(v, DecoratorsKey, a.Limiter)
	}
	chain := decorators.NewConfigurableDecoratorChain(decorators.NewDecoratorFactory(a.Limiter))
	chain.LoadFromConfig(decorators.DefaultChainConfig())
	return chain.Build()
}

// Close 释放缓存、Redis 与 InfluxDB 连接
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("关闭组件失败")
		}
	}
	a.closers = nil
}

// Status 返回限流器、缓存与装饰器的运行状态
func (a *App) Status() map[string]interface{} {
	status := map[string]interface{}{
		"limiter": a.Limiter.GetStatus(),
		"cache":   a.Cache.Stats(),
	}
	if a.Chain != nil {
		status["decorators"] = a.Chain.Status()
	}
	return status
}
