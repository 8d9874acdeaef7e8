// Package engine runs an ordered set of adjustment calculators against one
// valuation input and collects their breakdowns.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/valuation-cli/internal/adjust"
	"github.com/sells-group/valuation-cli/internal/model"
)

const (
	defaultTimeout     = 2 * time.Second
	defaultConcurrency = 8
)

// FailureRecorder is notified when a calculator fails and is neutralized.
type FailureRecorder interface {
	AdjustmentFailed(factor string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds each calculator run.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithConcurrency bounds how many calculators run at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithFailureRecorder reports neutralized calculator failures.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// Engine holds calculators in registration order.
type Engine struct {
	mu          sync.RWMutex
	rules       []adjust.Calculator
	timeout     time.Duration
	concurrency int
	recorder    FailureRecorder
}

// New creates an empty Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		timeout:     defaultTimeout,
		concurrency: defaultConcurrency,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// AddRule appends a calculator. Evaluation order follows registration order.
func (e *Engine) AddRule(c adjust.Calculator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, c)
}

// Rules returns a copy of the registered calculators.
func (e *Engine) Rules() []adjust.Calculator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]adjust.Calculator, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every registered calculator against in. The result has one
// entry per rule, in registration order. A calculator that errors, panics
// or exceeds its timeout contributes a neutral adjustment.
func (e *Engine) Evaluate(ctx context.Context, in model.ValuationInput) []model.AdjustmentBreakdown {
	rules := e.Rules()
	results := make([]model.AdjustmentBreakdown, len(rules))

	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i, rule := range rules {
		g.Go(func() error {
			adj, err := e.run(ctx, rule, in)
			if err != nil {
				zap.L().Warn("engine: adjustment failed, using neutral",
					zap.String("factor", rule.Name()),
					zap.Error(err),
				)
				if e.recorder != nil {
					e.recorder.AdjustmentFailed(rule.Name())
				}
				adj = model.Neutral(rule.Name(), "Adjustment unavailable; no impact applied")
			}
			if adj.Factor == "" {
				adj.Factor = rule.Name()
			}
			results[i] = adj
			return nil
		})
	}
	_ = g.Wait()

	return results
}

type outcome struct {
	adj model.AdjustmentBreakdown
	err error
}

func (e *Engine) run(ctx context.Context, rule adjust.Calculator, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: eris.Errorf("engine: rule %s panicked: %v", rule.Name(), r)}
			}
		}()
		adj, err := rule.Calculate(ctx, in)
		done <- outcome{adj: adj, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return model.AdjustmentBreakdown{}, eris.Wrapf(o.err, "engine: rule %s", rule.Name())
		}
		return o.adj, nil
	case <-ctx.Done():
		return model.AdjustmentBreakdown{}, eris.Wrapf(ctx.Err(), "engine: rule %s", rule.Name())
	}
}

// TotalAdjustment sums the impacts of adjustments.
func TotalAdjustment(adjustments []model.AdjustmentBreakdown) int64 {
	var total int64
	for _, a := range adjustments {
		total += a.Impact
	}
	return total
}
