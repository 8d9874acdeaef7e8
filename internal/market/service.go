package market

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/resilience"
	"github.com/sells-group/valuation-cli/internal/store"
)

// Source looks up the stored multiplier for a ZIP. Missing rows return an
// error matching store.ErrNotFound.
type Source interface {
	GetMarketMultiplier(ctx context.Context, zip string) (float64, error)
}

// Recorder counts cache outcomes: hit, miss or error.
type Recorder interface {
	MarketCacheLookup(result string)
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy guards source calls with p.
func WithPolicy(p *resilience.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithRecorder reports cache outcomes.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// Service resolves market multipliers. It never fails: anything it cannot
// resolve is neutral.
type Service struct {
	source   Source
	cache    Cache
	policy   *resilience.Policy
	recorder Recorder
}

// NewService creates a Service. cache may be nil to disable caching.
func NewService(source Source, cache Cache, opts ...Option) *Service {
	s := &Service{
		source: source,
		cache:  cache,
		policy: resilience.NewPolicy("market", 2, 5, 30),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type lookup struct {
	value float64
	found bool
}

// Multiplier returns the signed percent adjustment stored for zip and
// whether one is on record. Empty, unknown or failed lookups return
// (0, false).
func (s *Service) Multiplier(ctx context.Context, zip string) (float64, bool) {
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return 0, false
	}

	if s.cache != nil {
		v, ok, err := s.cache.Get(ctx, zip)
		switch {
		case err != nil:
			s.record("error")
			zap.L().Warn("market: cache read failed", zap.String("zip", zip), zap.Error(err))
		case ok:
			s.record("hit")
			if math.IsNaN(v) {
				return 0, false
			}
			return v, true
		default:
			s.record("miss")
		}
	}

	res, err := resilience.Do(ctx, s.policy, func(ctx context.Context) (lookup, error) {
		v, err := s.source.GetMarketMultiplier(ctx, zip)
		if errors.Is(err, store.ErrNotFound) {
			return lookup{}, nil
		}
		if err != nil {
			return lookup{}, err
		}
		return lookup{value: v, found: true}, nil
	})
	if err != nil {
		zap.L().Warn("market: lookup failed, using neutral", zap.String("zip", zip), zap.Error(err))
		return 0, false
	}

	cached := res.value
	if !res.found {
		cached = math.NaN()
		zap.L().Debug("market: no adjustment on record", zap.String("zip", zip))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, zip, cached); err != nil {
			zap.L().Warn("market: cache write failed", zap.String("zip", zip), zap.Error(err))
		}
	}
	return res.value, res.found
}

// Prime writes freshly imported adjustments into the cache.
func (s *Service) Prime(ctx context.Context, adjustments []model.MarketAdjustment) error {
	if s.cache == nil {
		return nil
	}
	for _, a := range adjustments {
		if err := s.cache.Set(ctx, strings.TrimSpace(a.ZipCode), a.MarketMultiplier); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) record(result string) {
	if s.recorder != nil {
		s.recorder.MarketCacheLookup(result)
	}
}
