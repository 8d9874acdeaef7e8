package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-cli/internal/adjust"
	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/rules"
)

func june2025() time.Time { return time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC) }

type staticMarket map[string]float64

func (m staticMarket) Multiplier(_ context.Context, zip string) (float64, bool) {
	v, ok := m[zip]
	return v, ok
}

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) ObserveValuation(d time.Duration, estimated int64) {
	m.Called(d, estimated)
}

func newComposer(market staticMarket, opts ...Option) *Composer {
	var lookup adjust.MarketLookup
	if market != nil {
		lookup = market
	}
	return NewStandard(rules.DefaultTables(), lookup, june2025, nil, opts...)
}

func camry() model.ValuationInput {
	return model.ValuationInput{
		Make:      "Toyota",
		Model:     "Camry",
		Year:      2018,
		Mileage:   45000,
		Condition: "Good",
		ZipCode:   "90210",
	}
}

func TestCalculateFinalValuation_Camry(t *testing.T) {
	t.Parallel()
	c := newComposer(nil)

	got, err := c.CalculateFinalValuation(context.Background(), camry())
	require.NoError(t, err)

	// 30000 - 7 years * 1500 - 4 * 500
	assert.Equal(t, int64(17500), got.BasePrice)
	require.Len(t, got.Adjustments, 15)

	mileage, ok := got.Adjustment(model.FactorMileage)
	require.True(t, ok)
	assert.Equal(t, int64(875), mileage.Impact)

	location, ok := got.Adjustment(model.FactorLocation)
	require.True(t, ok)
	assert.Equal(t, int64(1400), location.Impact)

	assert.Equal(t, int64(2275), got.TotalAdjustment)
	assert.Equal(t, int64(19775), got.EstimatedValue)
	assert.GreaterOrEqual(t, got.ConfidenceScore, 93)
	assert.Equal(t, 93, got.ConfidenceScore)
}

func TestCalculateFinalValuation_Idempotent(t *testing.T) {
	t.Parallel()
	c := newComposer(nil)

	in := camry()
	in.Features = []string{"leather seats", "navigation"}
	in.PhotoScore = model.Float64(0.92)

	first, err := c.CalculateFinalValuation(context.Background(), in)
	require.NoError(t, err)
	second, err := c.CalculateFinalValuation(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCalculateFinalValuation_FloorsAtZero(t *testing.T) {
	t.Parallel()
	c := newComposer(nil)

	in := camry()
	in.BasePrice = 1000
	in.Condition = "Poor"
	in.AccidentCount = 5
	in.TitleStatus = "salvage"
	in.HasOpenRecall = model.Bool(true)
	in.PhotoScore = model.Float64(0.1)
	in.ZipCode = "29401"

	got, err := c.CalculateFinalValuation(context.Background(), in)
	require.NoError(t, err)
	assert.Less(t, got.TotalAdjustment, int64(-1000))
	assert.Zero(t, got.EstimatedValue)

	accident, ok := got.Adjustment(model.FactorAccident)
	require.True(t, ok)
	assert.Equal(t, int64(-350), accident.Impact)
}

func TestCalculateFinalValuation_UsesMarketMultiplier(t *testing.T) {
	t.Parallel()
	c := newComposer(staticMarket{"90210": 3.5})

	got, err := c.CalculateFinalValuation(context.Background(), camry())
	require.NoError(t, err)

	location, ok := got.Adjustment(model.FactorLocation)
	require.True(t, ok)
	assert.Equal(t, int64(613), location.Impact) // 3.5% of 17500 = 612.5
	assert.InDelta(t, 3.5, location.PercentAdjustment, 0.0001)
}

func TestCalculateFinalValuation_InvalidInput(t *testing.T) {
	t.Parallel()
	c := newComposer(nil)

	in := camry()
	in.Make = ""
	in.Mileage = -10

	got, err := c.CalculateFinalValuation(context.Background(), in)
	require.Error(t, err)
	assert.Nil(t, got)

	var invalid *model.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Problems, "make is required")
	assert.Contains(t, invalid.Problems, "mileage must be non-negative")
}

func TestCalculateFinalValuation_Observer(t *testing.T) {
	t.Parallel()
	obs := &mockObserver{}
	obs.On("ObserveValuation", mock.AnythingOfType("time.Duration"), int64(19775)).Once()

	c := newComposer(nil, WithObserver(obs))
	_, err := c.CalculateFinalValuation(context.Background(), camry())
	require.NoError(t, err)
	obs.AssertExpectations(t)
}

func TestBasePrice(t *testing.T) {
	t.Parallel()
	c := newComposer(nil)

	tests := []struct {
		name string
		in   model.ValuationInput
		want int64
	}{
		{"explicit", model.ValuationInput{Make: "Toyota", BasePrice: 31000}, 31000},
		{"known make new", model.ValuationInput{Make: "toyota", Year: 2025}, 30000},
		{"unknown make", model.ValuationInput{Make: "Rivian", Year: 2025}, 25000},
		{"age and mileage", model.ValuationInput{Make: "Honda", Year: 2021, Mileage: 52000}, 28000 - 4*1500 - 5*500},
		{"missing year", model.ValuationInput{Make: "Honda", Mileage: 9999}, 28000},
		{"floored", model.ValuationInput{Make: "Toyota", Year: 1995, Mileage: 300000}, 5000},
		{"next model year", model.ValuationInput{Make: "Toyota", Year: 2026}, 30000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, c.BasePrice(tt.in))
		})
	}
}

func TestConfidence(t *testing.T) {
	t.Parallel()

	complete := camry()
	withPhoto := complete
	withPhoto.PhotoScore = model.Float64(0.9)
	withFeatures := withPhoto
	withFeatures.Features = []string{"sunroof"}
	everything := withFeatures
	everything.DrivingScore = model.Int(80)
	everything.Trim = "XLE"
	withAccident := complete
	withAccident.AccidentCount = 2
	lowPhoto := complete
	lowPhoto.PhotoScore = model.Float64(0.7)

	tests := []struct {
		name string
		in   model.ValuationInput
		want int
	}{
		{"baseline", model.ValuationInput{}, 85},
		{"complete data", complete, 93},
		{"good photo", withPhoto, 98},
		{"features reach cap", withFeatures, 100},
		{"clamped", everything, 100},
		{"accident history", withAccident, 92},
		{"photo at threshold", lowPhoto, 93},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Confidence(tt.in))
		})
	}
}

func TestEngineExposed(t *testing.T) {
	t.Parallel()
	assert.Len(t, newComposer(nil).Engine().Rules(), 15)
}
