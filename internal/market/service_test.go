package market

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/resilience"
	"github.com/sells-group/valuation-cli/internal/store"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) GetMarketMultiplier(ctx context.Context, zip string) (float64, error) {
	args := m.Called(ctx, zip)
	return args.Get(0).(float64), args.Error(1)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) MarketCacheLookup(result string) {
	m.Called(result)
}

func fastPolicy(attempts, threshold int) *resilience.Policy {
	p := resilience.NewPolicy("market", attempts, threshold, 60)
	p.Retry.InitialBackoff = time.Millisecond
	p.Retry.MaxBackoff = time.Millisecond
	return p
}

func TestMultiplier_CachesSourceValue(t *testing.T) {
	src := &mockSource{}
	src.On("GetMarketMultiplier", mock.Anything, "90210").Return(3.5, nil).Once()
	rec := &mockRecorder{}
	rec.On("MarketCacheLookup", "miss").Once()
	rec.On("MarketCacheLookup", "hit").Once()

	s := NewService(src, NewMemoryCache(time.Minute), WithRecorder(rec))
	v, ok := s.Multiplier(context.Background(), " 90210 ")
	assert.True(t, ok)
	assert.InDelta(t, 3.5, v, 0.0001)
	v, ok = s.Multiplier(context.Background(), "90210")
	assert.True(t, ok)
	assert.InDelta(t, 3.5, v, 0.0001)

	src.AssertExpectations(t)
	rec.AssertExpectations(t)
}

func TestMultiplier_EmptyZipSkipsLookup(t *testing.T) {
	src := &mockSource{}
	s := NewService(src, NewMemoryCache(time.Minute))
	v, ok := s.Multiplier(context.Background(), "  ")
	assert.Zero(t, v)
	assert.False(t, ok)
	src.AssertNotCalled(t, "GetMarketMultiplier", mock.Anything, mock.Anything)
}

func TestMultiplier_NotFoundIsNeutralAndCached(t *testing.T) {
	src := &mockSource{}
	src.On("GetMarketMultiplier", mock.Anything, "00000").
		Return(0.0, eris.Wrap(store.ErrNotFound, "sqlite: market adjustment 00000")).Once()

	cache := NewMemoryCache(time.Minute)
	s := NewService(src, cache)
	for range 2 {
		v, ok := s.Multiplier(context.Background(), "00000")
		assert.Zero(t, v)
		assert.False(t, ok)
	}
	assert.Len(t, cache.entries, 1)
	src.AssertExpectations(t)
}

func TestMultiplier_StoredZeroIsFound(t *testing.T) {
	src := &mockSource{}
	src.On("GetMarketMultiplier", mock.Anything, "90210").Return(0.0, nil).Once()

	s := NewService(src, NewMemoryCache(time.Minute))
	for range 2 {
		v, ok := s.Multiplier(context.Background(), "90210")
		assert.Zero(t, v)
		assert.True(t, ok)
	}
	src.AssertExpectations(t)
}

func TestMultiplier_ExpiredEntriesAreEvicted(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(time.Minute, WithMaxEntries(500))
	cache.nowFunc = func() time.Time { return now }

	src := &mockSource{}
	src.On("GetMarketMultiplier", mock.Anything, mock.Anything).Return(0.0, store.ErrNotFound)
	s := NewService(src, cache)

	ctx := context.Background()
	for i := range 2000 {
		s.Multiplier(ctx, fmt.Sprintf("Z%05d", i))
	}
	assert.Len(t, cache.entries, 500)

	now = now.Add(time.Hour)
	s.Multiplier(ctx, "fresh")
	assert.Len(t, cache.entries, 1, "reaching the cap drops every expired entry")

	now = now.Add(time.Hour)
	_, ok, _ := cache.Get(ctx, "fresh")
	assert.False(t, ok)
	assert.Empty(t, cache.entries, "an expired entry is dropped when read")
}

func TestMultiplier_SourceErrorIsNeutralAndNotCached(t *testing.T) {
	src := &mockSource{}
	src.On("GetMarketMultiplier", mock.Anything, "90210").Return(0.0, errors.New("syntax error")).Twice()

	cache := NewMemoryCache(time.Minute)
	s := NewService(src, cache, WithPolicy(fastPolicy(3, 10)))
	for range 2 {
		v, ok := s.Multiplier(context.Background(), "90210")
		assert.Zero(t, v)
		assert.False(t, ok)
	}
	assert.Empty(t, cache.entries)
	src.AssertExpectations(t)
}

func TestMultiplier_RetriesTransient(t *testing.T) {
	src := &mockSource{}
	src.On("GetMarketMultiplier", mock.Anything, "90210").
		Return(0.0, errors.New("database is locked")).Once()
	src.On("GetMarketMultiplier", mock.Anything, "90210").Return(2.0, nil).Once()

	s := NewService(src, nil, WithPolicy(fastPolicy(2, 5)))
	v, ok := s.Multiplier(context.Background(), "90210")
	assert.True(t, ok)
	assert.InDelta(t, 2.0, v, 0.0001)
	src.AssertExpectations(t)
}

func TestMultiplier_BreakerOpens(t *testing.T) {
	src := &mockSource{}
	src.On("GetMarketMultiplier", mock.Anything, mock.Anything).Return(0.0, errors.New("connection reset by peer")).Twice()

	p := fastPolicy(1, 2)
	s := NewService(src, nil, WithPolicy(p))
	for _, zip := range []string{"10001", "10002", "10003", "10004"} {
		_, ok := s.Multiplier(context.Background(), zip)
		assert.False(t, ok)
	}
	assert.Equal(t, resilience.Open, p.Breaker.State())
	src.AssertNumberOfCalls(t, "GetMarketMultiplier", 2)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (float64, bool, error) {
	return 0, false, errors.New("redis down")
}

func (failingCache) Set(context.Context, string, float64) error { return errors.New("redis down") }

func TestMultiplier_CacheFailureFallsThrough(t *testing.T) {
	src := &mockSource{}
	src.On("GetMarketMultiplier", mock.Anything, "90210").Return(1.5, nil).Once()
	rec := &mockRecorder{}
	rec.On("MarketCacheLookup", "error").Once()

	s := NewService(src, failingCache{}, WithRecorder(rec))
	v, ok := s.Multiplier(context.Background(), "90210")
	assert.True(t, ok)
	assert.InDelta(t, 1.5, v, 0.0001)
	rec.AssertExpectations(t)
}

func TestPrime(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	s := NewService(&mockSource{}, cache)
	require.NoError(t, s.Prime(context.Background(), []model.MarketAdjustment{
		{ZipCode: "90210", MarketMultiplier: 3},
		{ZipCode: "33101", MarketMultiplier: -1},
	}))

	v, ok, _ := cache.Get(context.Background(), "33101")
	assert.True(t, ok)
	assert.InDelta(t, -1, v, 0.0001)

	assert.NoError(t, NewService(&mockSource{}, nil).Prime(context.Background(), nil))
	assert.Error(t, NewService(&mockSource{}, failingCache{}).Prime(context.Background(),
		[]model.MarketAdjustment{{ZipCode: "1", MarketMultiplier: 1}}))
}
