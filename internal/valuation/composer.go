// Package valuation composes calculator output into a final estimated value
// and confidence score.
package valuation

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/valuation-cli/internal/adjust"
	"github.com/sells-group/valuation-cli/internal/engine"
	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/rules"
)

const (
	baselineConfidence = 85
	maxConfidence      = 100
)

// Observer receives timing for completed valuations.
type Observer interface {
	ObserveValuation(d time.Duration, estimatedValue int64)
}

// Option configures a Composer.
type Option func(*Composer)

// WithClock overrides the clock used for age-based rules.
func WithClock(now adjust.Clock) Option {
	return func(c *Composer) {
		if now != nil {
			c.now = now
		}
	}
}

// WithObserver records valuation timings.
func WithObserver(o Observer) Option {
	return func(c *Composer) { c.observer = o }
}

// Composer resolves base price, runs the engine and scores confidence.
type Composer struct {
	tables   *rules.Tables
	engine   *engine.Engine
	now      adjust.Clock
	observer Observer
}

// New creates a Composer over an already-populated engine.
func New(tables *rules.Tables, eng *engine.Engine, opts ...Option) *Composer {
	c := &Composer{
		tables: tables,
		engine: eng,
		now:    adjust.SystemClock,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewStandard builds a Composer whose engine carries the full calculator
// set. market may be nil.
func NewStandard(tables *rules.Tables, market adjust.MarketLookup, now adjust.Clock, engineOpts []engine.Option, opts ...Option) *Composer {
	if now == nil {
		now = adjust.SystemClock
	}
	eng := engine.New(engineOpts...)
	for _, calc := range adjust.Standard(tables, now, market) {
		eng.AddRule(calc)
	}
	return New(tables, eng, append([]Option{WithClock(now)}, opts...)...)
}

// Engine returns the underlying rules engine.
func (c *Composer) Engine() *engine.Engine { return c.engine }

// CalculateFinalValuation validates in, resolves its base price, runs every
// calculator and composes the result. The only error is invalid input.
func (c *Composer) CalculateFinalValuation(ctx context.Context, in model.ValuationInput) (*model.ValuationResult, error) {
	start := time.Now()
	if err := in.Validate(c.now()); err != nil {
		return nil, err
	}

	base := c.BasePrice(in)
	in.BasePrice = base

	adjustments := c.engine.Evaluate(ctx, in)
	total := engine.TotalAdjustment(adjustments)

	estimated := base + total
	if estimated < 0 {
		estimated = 0
	}

	result := &model.ValuationResult{
		EstimatedValue:  estimated,
		ConfidenceScore: Confidence(in),
		BasePrice:       base,
		TotalAdjustment: total,
		Adjustments:     adjustments,
	}

	elapsed := time.Since(start)
	if c.observer != nil {
		c.observer.ObserveValuation(elapsed, estimated)
	}
	zap.L().Debug("valuation: composed",
		zap.String("make", in.Make),
		zap.String("model", in.Model),
		zap.Int("year", in.Year),
		zap.Int64("base_price", base),
		zap.Int64("total_adjustment", total),
		zap.Int64("estimated_value", estimated),
		zap.Int("confidence", result.ConfidenceScore),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// BasePrice returns in.BasePrice when positive; otherwise the make's
// reference price less age and mileage depreciation, floored at the
// configured minimum.
func (c *Composer) BasePrice(in model.ValuationInput) int64 {
	if in.BasePrice > 0 {
		return in.BasePrice
	}
	r := c.tables.BasePrice

	price, ok := r.Makes[rules.Key(in.Make)]
	if !ok {
		price = r.Default
	}

	age := 0
	if in.Year > 0 {
		age = c.now().Year() - in.Year
	}
	if age < 0 {
		age = 0
	}
	price -= int64(age) * r.PerYear
	price -= int64(in.Mileage/10_000) * r.Per10kMiles

	if price < r.Minimum {
		price = r.Minimum
	}
	return price
}

// Confidence scores how complete the input is, from 0 to 100.
func Confidence(in model.ValuationInput) int {
	score := baselineConfidence
	if in.HasCoreFields() {
		score += 5
	}
	if strings.TrimSpace(in.Condition) != "" {
		score += 3
	}
	if in.PhotoScore != nil && *in.PhotoScore > 0.7 {
		score += 5
	}
	if len(in.Features) > 0 {
		score += 2
	}
	if in.DrivingScore != nil {
		score += 4
	}
	if strings.TrimSpace(in.Trim) != "" {
		score += 3
	}
	if in.AccidentCount > 0 {
		score--
	}

	if score < 0 {
		return 0
	}
	if score > maxConfidence {
		return maxConfidence
	}
	return score
}
