package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "valuations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func record(mk, zip string, estimated int64, created time.Time) *model.ValuationRecord {
	return &model.ValuationRecord{
		Input: model.ValuationInput{Make: mk, Model: "Camry", Year: 2018, Mileage: 45000, ZipCode: zip, Features: []string{"sunroof"}},
		Result: model.ValuationResult{
			EstimatedValue:  estimated,
			ConfidenceScore: 93,
			BasePrice:       17500,
			TotalAdjustment: estimated - 17500,
			Adjustments: []model.AdjustmentBreakdown{
				{Factor: model.FactorMileage, Impact: 875, Description: "Low mileage", PercentAdjustment: 5},
			},
		},
		CreatedAt: created,
	}
}

func TestSQLite_CreateAndGetValuation(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := record("Toyota", "90210", 19775, time.Time{})
	require.NoError(t, st.CreateValuation(ctx, rec))
	require.NotEmpty(t, rec.ID)
	require.False(t, rec.CreatedAt.IsZero())

	got, err := st.GetValuation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Input, got.Input)
	assert.Equal(t, rec.Result, got.Result)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Empty(t, got.Explanation)
}

func TestSQLite_GetValuation_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetValuation(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_SetExplanation(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := record("Toyota", "90210", 19775, time.Time{})
	require.NoError(t, st.CreateValuation(ctx, rec))
	require.NoError(t, st.SetExplanation(ctx, rec.ID, "Your Camry is worth $19,775."))

	got, err := st.GetValuation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Your Camry is worth $19,775.", got.Explanation)

	assert.ErrorIs(t, st.SetExplanation(ctx, "missing", "x"), ErrNotFound)
}

func TestSQLite_ListValuations(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.CreateValuation(ctx, record("Toyota", "90210", 19000, base)))
	require.NoError(t, st.CreateValuation(ctx, record("Honda", "10001", 15000, base.Add(time.Hour))))
	require.NoError(t, st.CreateValuation(ctx, record("toyota", "10001", 21000, base.Add(2*time.Hour))))

	all, err := st.ListValuations(ctx, ValuationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(21000), all[0].Result.EstimatedValue, "newest first")

	toyotas, err := st.ListValuations(ctx, ValuationFilter{Make: "TOYOTA"})
	require.NoError(t, err)
	assert.Len(t, toyotas, 2)

	byZip, err := st.ListValuations(ctx, ValuationFilter{ZipCode: "10001"})
	require.NoError(t, err)
	assert.Len(t, byZip, 2)

	recent, err := st.ListValuations(ctx, ValuationFilter{Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	page, err := st.ListValuations(ctx, ValuationFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(15000), page[0].Result.EstimatedValue)

	none, err := st.ListValuations(ctx, ValuationFilter{Make: "Tesla"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSQLite_MarketAdjustments(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetMarketMultiplier(ctx, "90210")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := st.UpsertMarketAdjustments(ctx, []model.MarketAdjustment{
		{ZipCode: "90210", MarketMultiplier: 3.5},
		{ZipCode: " 33101 ", MarketMultiplier: -2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	m, err := st.GetMarketMultiplier(ctx, "90210")
	require.NoError(t, err)
	assert.InDelta(t, 3.5, m, 0.0001)

	updated := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err = st.UpsertMarketAdjustments(ctx, []model.MarketAdjustment{{ZipCode: "90210", MarketMultiplier: 4.25, UpdatedAt: updated}})
	require.NoError(t, err)

	list, err := st.ListMarketAdjustments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "33101", list[0].ZipCode)
	assert.InDelta(t, -2, list[0].MarketMultiplier, 0.0001)
	assert.Equal(t, "90210", list[1].ZipCode)
	assert.InDelta(t, 4.25, list[1].MarketMultiplier, 0.0001)
	assert.True(t, updated.Equal(list[1].UpdatedAt))

	n, err = st.UpsertMarketAdjustments(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_Stats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := record("Ford", "60601", 9000, now.Add(-48*time.Hour))
	require.NoError(t, st.CreateValuation(ctx, old))
	a := record("Toyota", "90210", 20000, now.Add(-time.Hour))
	require.NoError(t, st.CreateValuation(ctx, a))
	require.NoError(t, st.CreateValuation(ctx, record("Honda", "10001", 10000, now.Add(-30*time.Minute))))
	require.NoError(t, st.SetExplanation(ctx, a.ID, "explained"))
	_, err := st.UpsertMarketAdjustments(ctx, []model.MarketAdjustment{{ZipCode: "90210", MarketMultiplier: 1}})
	require.NoError(t, err)

	stats, err := st.Stats(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Valuations)
	assert.Equal(t, 1, stats.Explained)
	assert.InDelta(t, 15000, stats.AvgEstimatedValue, 0.01)
	assert.InDelta(t, 93, stats.AvgConfidence, 0.01)
	assert.Equal(t, 1, stats.MarketAdjustedZips)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestOpen(t *testing.T) {
	st, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "open.db"), 0)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = Open(context.Background(), "mongo", "", 0)
	assert.ErrorContains(t, err, `store: unknown driver "mongo"`)
}
