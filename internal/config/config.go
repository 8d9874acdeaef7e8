package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Valuation ValuationConfig `yaml:"valuation" mapstructure:"valuation"`
	Market    MarketConfig    `yaml:"market" mapstructure:"market"`
	Explain   ExplainConfig   `yaml:"explain" mapstructure:"explain"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	NHTSA     NHTSAConfig     `yaml:"nhtsa" mapstructure:"nhtsa"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// ValuationConfig configures the adjustment engine and composer.
type ValuationConfig struct {
	RulesFile      string `yaml:"rules_file" mapstructure:"rules_file"`
	RuleTimeoutMs  int    `yaml:"rule_timeout_ms" mapstructure:"rule_timeout_ms"`
	MaxConcurrency int    `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// MarketConfig configures ZIP market multiplier lookups.
type MarketConfig struct {
	CacheDriver      string `yaml:"cache_driver" mapstructure:"cache_driver"`
	CacheTTLMins     int    `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	CacheMaxEntries  int    `yaml:"cache_max_entries" mapstructure:"cache_max_entries"`
	RedisURL         string `yaml:"redis_url" mapstructure:"redis_url"`
	RedisPrefix      string `yaml:"redis_prefix" mapstructure:"redis_prefix"`
	RetryAttempts    int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ExplainConfig configures the narrative explanation backend.
type ExplainConfig struct {
	Provider     string `yaml:"provider" mapstructure:"provider"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	APIKey       string `yaml:"api_key" mapstructure:"api_key"`
	FunctionName string `yaml:"function_name" mapstructure:"function_name"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// NHTSAConfig holds vPIC and recall API settings.
type NHTSAConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	RecallsBaseURL string  `yaml:"recalls_base_url" mapstructure:"recalls_base_url"`
	RatePerSec     float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
}

// BatchConfig configures batch valuation.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VALUATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "valuations.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.max_concurrent", 8)
	v.SetDefault("valuation.rule_timeout_ms", 2000)
	v.SetDefault("valuation.max_concurrency", 8)
	v.SetDefault("market.cache_driver", "memory")
	v.SetDefault("market.cache_ttl_mins", 30)
	v.SetDefault("market.cache_max_entries", 10000)
	v.SetDefault("market.redis_prefix", "valuation:market:")
	v.SetDefault("market.retry_attempts", 2)
	v.SetDefault("market.breaker_threshold", 5)
	v.SetDefault("market.breaker_reset_secs", 30)
	v.SetDefault("explain.provider", "template")
	v.SetDefault("explain.function_name", "generate-explanation")
	v.SetDefault("explain.timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("nhtsa.base_url", "https://vpic.nhtsa.dot.gov/api")
	v.SetDefault("nhtsa.recalls_base_url", "https://api.nhtsa.gov")
	v.SetDefault("nhtsa.rate_per_sec", 5.0)
	v.SetDefault("nhtsa.enabled", true)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "valuation")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the named command mode.
// Supported modes: "serve", "valuate", "batch", "market", "records", "migrate".
func (c *Config) Validate(mode string) error {
	switch mode {
	case "serve", "valuate", "batch", "market", "records", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}

	switch c.Market.CacheDriver {
	case "memory", "none":
	case "redis":
		if c.Market.RedisURL == "" {
			errs = append(errs, "market.redis_url is required for the redis cache")
		}
	default:
		errs = append(errs, "market.cache_driver must be memory, redis or none")
	}

	if mode == "serve" || mode == "valuate" || mode == "batch" {
		switch c.Explain.Provider {
		case "template":
		case "http":
			if c.Explain.BaseURL == "" {
				errs = append(errs, "explain.base_url is required for the http provider")
			}
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required for the anthropic provider")
			}
		default:
			errs = append(errs, "explain.provider must be template, http or anthropic")
		}
		if c.Valuation.MaxConcurrency < 1 || c.Valuation.MaxConcurrency > 64 {
			errs = append(errs, "valuation.max_concurrency must be between 1 and 64")
		}
	}

	if mode == "batch" && (c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 64) {
		errs = append(errs, "batch.max_concurrent must be between 1 and 64")
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
