package config

import (
	"fmt"
	"strings"
	"time"

	apperr "marketroute/pkg/error"
	"marketroute/pkg/logger"

	"github.com/spf13/viper"
)

// Config 主配置结构
type Config struct {
	// 供应商偏好与本地数据源开关
	Vendors VendorsConfig `mapstructure:"vendors"`

	// HTTP 数据源定义，键为提供商标识
	Sources map[string]SourceConfig `mapstructure:"sources"`

	// Token 预算限流配置
	Limiter LimiterConfig `mapstructure:"limiter"`

	// 限流器结果缓存配置
	Cache CacheConfig `mapstructure:"cache"`

	// 并行抓取配置
	Fetch FetchConfig `mapstructure:"fetch"`

	Redis  RedisConfig   `mapstructure:"redis"`
	Influx InfluxConfig  `mapstructure:"influxdb"`
	Server ServerConfig  `mapstructure:"server"`
	Logger logger.Config `mapstructure:"logger"`

	v *viper.Viper
}

// VendorsConfig 供应商偏好配置
type VendorsConfig struct {
	DataVendors         map[string]string `mapstructure:"data_vendors"`          // 类别 -> 逗号分隔的供应商列表
	ToolVendors         map[string]string `mapstructure:"tool_vendors"`          // 方法 -> 逗号分隔的供应商列表，优先于类别
	DisableLocalSources *bool             `mapstructure:"disable_local_sources"` // 为空时按禁用处理
	LocalDataDir        string            `mapstructure:"local_data_dir"`        // 本地数据源根目录
}

// SourceConfig HTTP 数据源配置
type SourceConfig struct {
	Enabled          bool              `mapstructure:"enabled"`
	Methods          map[string]string `mapstructure:"methods"`            // 方法 -> URL 模板
	Headers          map[string]string `mapstructure:"headers"`            // 附加请求头，值支持 ${ENV} 展开
	RateLimitMarkers []string          `mapstructure:"rate_limit_markers"` // 响应体中出现即视为被限流
	Timeout          time.Duration     `mapstructure:"timeout"`
}

// LimiterConfig Token 预算限流配置
type LimiterConfig struct {
	TokensPerMinute int           `mapstructure:"tokens_per_minute"`
	Window          time.Duration `mapstructure:"window"`
	WaitBuffer      time.Duration `mapstructure:"wait_buffer"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxRetries      int           `mapstructure:"max_retries"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	MaxSize         int64         `mapstructure:"max_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RedisEnabled    bool          `mapstructure:"redis_enabled"` // 启用 Redis 作为二级缓存
	RedisPrefix     string        `mapstructure:"redis_prefix"`
}

// FetchConfig 并行抓取配置
type FetchConfig struct {
	MaxWorkers int           `mapstructure:"max_workers"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// InfluxConfig InfluxDB 连接配置，用于写入尝试记录
type InfluxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// Default 返回默认配置
func Default() *Config {
	disableLocal := true
	return &Config{
		Vendors: VendorsConfig{
			DataVendors: map[string]string{
				"core_stock_apis":      "yfinance",
				"technical_indicators": "yfinance",
				"fundamental_data":     "yfinance",
				"news_data":            "alpha_vantage,google",
			},
			ToolVendors: map[string]string{
				"get_insider_sentiment":    "finnhub",
				"get_insider_transactions": "finnhub",
				"get_global_news":          "google",
				"get_company_news":         "alpha_vantage,google",
			},
			DisableLocalSources: &disableLocal,
			LocalDataDir:        "data/local",
		},
		Sources: map[string]SourceConfig{},
		Limiter: LimiterConfig{
			TokensPerMinute: 500000,
			Window:          time.Minute,
			WaitBuffer:      500 * time.Millisecond,
			BaseDelay:       500 * time.Millisecond,
			MaxRetries:      10,
			CacheTTL:        time.Hour,
		},
		Cache: CacheConfig{
			MaxSize:         1000,
			CleanupInterval: 0,
			RedisEnabled:    false,
			RedisPrefix:     "marketroute:cache:",
		},
		Fetch: FetchConfig{
			MaxWorkers: 5,
			Timeout:    2 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Influx: InfluxConfig{
			URL:    "http://localhost:8086",
			Org:    "marketroute",
			Bucket: "vendor_attempts",
		},
		Server: ServerConfig{
			Port: "8080",
			Mode: "release",
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 从 YAML 文件和环境变量加载配置
// path 为空时在 ./config 和当前目录下查找 marketroute.yaml，找不到文件时使用默认值
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("marketroute")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	setDefaults(v, Default())

	v.SetEnvPrefix("MARKETROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 沿用原有的环境变量名
	_ = v.BindEnv("vendors.disable_local_sources", "MARKETROUTE_VENDORS_DISABLE_LOCAL_SOURCES", "DISABLE_LOCAL_SOURCES")
	_ = v.BindEnv("limiter.tokens_per_minute", "MARKETROUTE_LIMITER_TOKENS_PER_MINUTE", "AZURE_OPENAI_TPM")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperr.WrapError(apperr.CodeConfigInvalid, "failed to read config file", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperr.WrapError(apperr.CodeConfigInvalid, "failed to unmarshal config", err)
	}
	cfg.v = v

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("vendors.data_vendors", d.Vendors.DataVendors)
	v.SetDefault("vendors.tool_vendors", d.Vendors.ToolVendors)
	v.SetDefault("vendors.disable_local_sources", *d.Vendors.DisableLocalSources)
	v.SetDefault("vendors.local_data_dir", d.Vendors.LocalDataDir)

	v.SetDefault("limiter.tokens_per_minute", d.Limiter.TokensPerMinute)
	v.SetDefault("limiter.window", d.Limiter.Window)
	v.SetDefault("limiter.wait_buffer", d.Limiter.WaitBuffer)
	v.SetDefault("limiter.base_delay", d.Limiter.BaseDelay)
	v.SetDefault("limiter.max_retries", d.Limiter.MaxRetries)
	v.SetDefault("limiter.cache_ttl", d.Limiter.CacheTTL)

	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("cache.redis_enabled", d.Cache.RedisEnabled)
	v.SetDefault("cache.redis_prefix", d.Cache.RedisPrefix)

	v.SetDefault("fetch.max_workers", d.Fetch.MaxWorkers)
	v.SetDefault("fetch.timeout", d.Fetch.Timeout)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("influxdb.enabled", d.Influx.Enabled)
	v.SetDefault("influxdb.url", d.Influx.URL)
	v.SetDefault("influxdb.token", d.Influx.Token)
	v.SetDefault("influxdb.org", d.Influx.Org)
	v.SetDefault("influxdb.bucket", d.Influx.Bucket)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
}

// Viper 返回加载该配置所用的 viper 实例，装饰器链和任务配置从中读取子树
// 对于 Default() 构造的配置返回一个空实例
func (c *Config) Viper() *viper.Viper {
	if c.v == nil {
		c.v = viper.New()
	}
	return c.v
}

// LocalDisabled 返回是否禁用本地数据源，未设置时默认禁用
func (c *Config) LocalDisabled() bool {
	if c.Vendors.DisableLocalSources == nil {
		return true
	}
	return *c.Vendors.DisableLocalSources
}

// Validate 验证配置
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...interface{}) error {
		return apperr.Newf(apperr.CodeConfigInvalid, format, args...).WithContext("field", field)
	}

	if c.Limiter.TokensPerMinute <= 0 {
		return invalid("limiter.tokens_per_minute", "tokens_per_minute must be positive")
	}
	if c.Limiter.Window <= 0 {
		return invalid("limiter.window", "limiter window must be positive")
	}
	if c.Limiter.WaitBuffer < 0 {
		return invalid("limiter.wait_buffer", "limiter wait_buffer cannot be negative")
	}
	if c.Limiter.BaseDelay < 0 {
		return invalid("limiter.base_delay", "limiter base_delay cannot be negative")
	}
	if c.Limiter.MaxRetries < 1 {
		return invalid("limiter.max_retries", "limiter max_retries must be at least 1")
	}
	if c.Limiter.CacheTTL <= 0 {
		return invalid("limiter.cache_ttl", "limiter cache_ttl must be positive")
	}
	if c.Cache.MaxSize <= 0 {
		return invalid("cache.max_size", "cache max_size must be positive")
	}
	if c.Fetch.MaxWorkers <= 0 {
		return invalid("fetch.max_workers", "fetch max_workers must be positive")
	}
	for name, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		if len(src.Methods) == 0 {
			return invalid("sources."+name, "source %s has no methods", name)
		}
	}
	for category, value := range c.Vendors.DataVendors {
		if strings.TrimSpace(value) == "" {
			return invalid("vendors.data_vendors."+category, "empty vendor list for category %s", category)
		}
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		return invalid("influxdb", "influxdb url and bucket are required when enabled")
	}
	return nil
}

// SetTokensPerMinute 设置每分钟 Token 预算
func (c *Config) SetTokensPerMinute(tpm int) *Config {
	c.Limiter.TokensPerMinute = tpm
	return c
}

// SetDisableLocalSources 设置是否禁用本地数据源
func (c *Config) SetDisableLocalSources(disable bool) *Config {
	c.Vendors.DisableLocalSources = &disable
	return c
}

// SetCategoryVendors 设置类别默认供应商
func (c *Config) SetCategoryVendors(category, vendors string) *Config {
	if c.Vendors.DataVendors == nil {
		c.Vendors.DataVendors = make(map[string]string)
	}
	c.Vendors.DataVendors[category] = vendors
	return c
}

// SetMethodVendors 设置方法级供应商覆盖
func (c *Config) SetMethodVendors(method, vendors string) *Config {
	if c.Vendors.ToolVendors == nil {
		c.Vendors.ToolVendors = make(map[string]string)
	}
	c.Vendors.ToolVendors[method] = vendors
	return c
}

// SetLogLevel 设置日志级别
func (c *Config) SetLogLevel(level string) *Config {
	c.Logger.Level = level
	return c
}

// String 返回配置摘要，用于启动日志
func (c *Config) String() string {
	return fmt.Sprintf("tpm=%d window=%s max_retries=%d disable_local=%t sources=%d",
		c.Limiter.TokensPerMinute, c.Limiter.Window, c.Limiter.MaxRetries, c.LocalDisabled(), len(c.Sources))
}
