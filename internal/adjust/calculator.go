// Package adjust implements the per-factor valuation calculators. Each
// calculator reads a shared ValuationInput (with BasePrice already resolved)
// and returns one AdjustmentBreakdown.
package adjust

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/rules"
)

// Calculator computes one adjustment factor.
type Calculator interface {
	Name() string
	Calculate(ctx context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error)
}

// Clock returns the current time. Calculators that depend on the date take
// one so results are reproducible in tests.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// MarketLookup resolves the ZIP market multiplier as a signed percent.
// ok is false when no multiplier is on record or the lookup fails.
type MarketLookup interface {
	Multiplier(ctx context.Context, zip string) (pct float64, ok bool)
}

// percentOfBase builds a breakdown whose impact is pct of the base price.
func percentOfBase(factor string, base int64, pct float64, description string) model.AdjustmentBreakdown {
	return model.AdjustmentBreakdown{
		Factor:            factor,
		Impact:            model.PercentOf(base, pct),
		Description:       description,
		PercentAdjustment: percentPoints(pct),
	}
}

// percentPoints converts a fraction (0.075) to percentage points (7.5).
func percentPoints(pct float64) float64 {
	return decimal.NewFromFloat(pct).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Standard returns the full calculator set in reporting order.
func Standard(t *rules.Tables, now Clock, market MarketLookup) []Calculator {
	return []Calculator{
		NewMileage(t, now),
		NewCondition(t),
		NewAccident(t),
		NewTrim(t),
		NewFeatures(t),
		NewFuelType(t),
		NewTransmission(t),
		NewColor(t),
		NewTitleStatus(t),
		NewWarranty(t),
		NewRecall(t),
		NewSeasonal(t, now),
		NewDrivingBehavior(t),
		NewLocation(t, market),
		NewPhotoScore(t),
	}
}
