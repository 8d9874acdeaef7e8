package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "valuations.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrent)
	assert.Equal(t, 2000, cfg.Valuation.RuleTimeoutMs)
	assert.Equal(t, 8, cfg.Valuation.MaxConcurrency)
	assert.Equal(t, "memory", cfg.Market.CacheDriver)
	assert.Equal(t, 30, cfg.Market.CacheTTLMins)
	assert.Equal(t, 10000, cfg.Market.CacheMaxEntries)
	assert.Equal(t, "valuation:market:", cfg.Market.RedisPrefix)
	assert.Equal(t, "template", cfg.Explain.Provider)
	assert.Equal(t, "generate-explanation", cfg.Explain.FunctionName)
	assert.Equal(t, 30, cfg.Explain.TimeoutSecs)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "https://vpic.nhtsa.dot.gov/api", cfg.NHTSA.BaseURL)
	assert.InDelta(t, 5.0, cfg.NHTSA.RatePerSec, 0.001)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "valuation", cfg.Metrics.Namespace)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/valuations
log:
  level: debug
  format: console
server:
  port: 9090
explain:
  provider: http
  base_url: https://fn.example.com
market:
  cache_ttl_mins: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/valuations", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http", cfg.Explain.Provider)
	assert.Equal(t, 5, cfg.Market.CacheTTLMins)
	// Defaults still apply for unset values
	assert.Equal(t, "generate-explanation", cfg.Explain.FunctionName)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("VALUATION_STORE_DRIVER", "postgres")
	t.Setenv("VALUATION_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("VALUATION_SERVER_PORT", "3000")
	t.Setenv("VALUATION_EXPLAIN_PROVIDER", "anthropic")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.Explain.Provider)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "valuations.db"
	cfg.Market.CacheDriver = "memory"
	cfg.Explain.Provider = "template"
	cfg.Valuation.MaxConcurrency = 8
	cfg.Batch.MaxConcurrent = 8
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be between 1 and 65535")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required for postgres")

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateExplainProviders(t *testing.T) {
	cfg := validDefaults()

	cfg.Explain.Provider = "http"
	err := cfg.Validate("valuate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explain.base_url is required")

	cfg.Explain.BaseURL = "https://fn.example.com"
	assert.NoError(t, cfg.Validate("valuate"))

	cfg.Explain.Provider = "anthropic"
	err = cfg.Validate("valuate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("valuate"))

	cfg.Explain.Provider = "oracle"
	err = cfg.Validate("valuate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explain.provider must be")

	// Explanation settings are irrelevant for the market mode.
	assert.NoError(t, cfg.Validate("market"))
}

func TestValidateRedisCache(t *testing.T) {
	cfg := validDefaults()
	cfg.Market.CacheDriver = "redis"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market.redis_url is required")

	cfg.Market.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrent = 0
	err := cfg.Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.max_concurrent must be between 1 and 64")

	cfg.Batch.MaxConcurrent = 64
	cfg.Valuation.MaxConcurrency = 65
	err = cfg.Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valuation.max_concurrency must be between 1 and 64")

	cfg.Valuation.MaxConcurrency = 4
	assert.NoError(t, cfg.Validate("batch"))
}

func TestValidateJoinsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Market.CacheDriver = "memcached"

	err := cfg.Validate("records")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres; market.cache_driver must be")
}
