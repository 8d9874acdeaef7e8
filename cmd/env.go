package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-cli/internal/config"
	"github.com/sells-group/valuation-cli/internal/engine"
	"github.com/sells-group/valuation-cli/internal/explain"
	"github.com/sells-group/valuation-cli/internal/market"
	"github.com/sells-group/valuation-cli/internal/monitoring"
	"github.com/sells-group/valuation-cli/internal/resilience"
	"github.com/sells-group/valuation-cli/internal/rules"
	"github.com/sells-group/valuation-cli/internal/store"
	"github.com/sells-group/valuation-cli/internal/valuation"
	anthropicpkg "github.com/sells-group/valuation-cli/pkg/anthropic"
	"github.com/sells-group/valuation-cli/pkg/nhtsa"
)

// appEnv holds the store, market service and valuation stack shared by the
// valuate, batch and serve commands.
type appEnv struct {
	Store     store.Store
	Market    *market.Service
	Composer  *valuation.Composer
	Explainer *explain.Generator
	Enricher  *valuation.Enricher
	Metrics   *monitoring.Metrics

	redis    *redis.Client
	memCache *market.MemoryCache
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv validates cfg for mode and wires the valuation stack. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	tables, err := rules.LoadTables(cfg.Valuation.RulesFile)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if cfg.Metrics.Enabled {
		env.Metrics = monitoring.NewMetrics(cfg.Metrics.Namespace)
	}

	cache, rc, err := initMarketCache(ctx, cfg.Market)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.redis = rc
	if mc, ok := cache.(*market.MemoryCache); ok {
		env.memCache = mc
	}

	env.Market = market.NewService(st, cache,
		market.WithPolicy(resilience.NewPolicy("market",
			cfg.Market.RetryAttempts, cfg.Market.BreakerThreshold, cfg.Market.BreakerResetSecs)),
		market.WithRecorder(env.Metrics),
	)

	engineOpts := []engine.Option{
		engine.WithTimeout(time.Duration(cfg.Valuation.RuleTimeoutMs) * time.Millisecond),
		engine.WithConcurrency(cfg.Valuation.MaxConcurrency),
		engine.WithFailureRecorder(env.Metrics),
	}
	env.Composer = valuation.NewStandard(tables, env.Market, nil, engineOpts, valuation.WithObserver(env.Metrics))

	invoker, err := initInvoker(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Explainer = explain.NewGenerator(env.Composer, invoker,
		explain.WithFunction(cfg.Explain.FunctionName),
		explain.WithTimeout(time.Duration(cfg.Explain.TimeoutSecs)*time.Second),
		explain.WithRecorder(env.Metrics, cfg.Explain.Provider),
	)

	if cfg.NHTSA.Enabled {
		env.Enricher = valuation.NewEnricher(nhtsa.NewClient(
			nhtsa.WithBaseURL(cfg.NHTSA.BaseURL),
			nhtsa.WithRecallsBaseURL(cfg.NHTSA.RecallsBaseURL),
			nhtsa.WithRateLimit(cfg.NHTSA.RatePerSec),
		))
	}

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("market_cache", cfg.Market.CacheDriver),
		zap.String("explain_provider", cfg.Explain.Provider),
		zap.Bool("nhtsa", cfg.NHTSA.Enabled),
	)
	return env, nil
}

// initMarketCache returns the configured cache, or nil for "none". The
// redis client is returned so the caller can close it.
func initMarketCache(ctx context.Context, mc config.MarketConfig) (market.Cache, *redis.Client, error) {
	ttl := time.Duration(mc.CacheTTLMins) * time.Minute
	if ttl <= 0 {
		ttl = market.DefaultTTL
	}

	switch mc.CacheDriver {
	case "none":
		return nil, nil, nil
	case "redis":
		client, err := market.NewRedisClient(ctx, mc.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return market.NewRedisCache(client, mc.RedisPrefix, ttl), client, nil
	default:
		return market.NewMemoryCache(ttl, market.WithMaxEntries(mc.CacheMaxEntries)), nil, nil
	}
}

// initInvoker selects the explanation backend.
func initInvoker(c *config.Config) (explain.Invoker, error) {
	switch c.Explain.Provider {
	case "", "template":
		return explain.NewTemplateInvoker(nil), nil
	case "http":
		return explain.NewHTTPInvoker(c.Explain.BaseURL, c.Explain.APIKey), nil
	case "anthropic":
		client := anthropicpkg.NewClient(c.Anthropic.Key)
		return explain.NewAnthropicInvoker(client, c.Anthropic.Model, int64(c.Anthropic.MaxTokens)), nil
	default:
		return nil, eris.Errorf("unknown explain provider %q", c.Explain.Provider)
	}
}
