// Package monitoring exposes Prometheus metrics for valuations and a
// store-backed activity snapshot.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	valuations         prometheus.Counter
	valuationDuration  prometheus.Histogram
	estimatedValue     prometheus.Histogram
	adjustmentFailures *prometheus.CounterVec
	marketCache        *prometheus.CounterVec
	explanations       *prometheus.CounterVec
}

// NewMetrics registers collectors under namespace, plus Go runtime and
// process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "valuation"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		valuations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "valuations_total",
			Help:      "Valuations composed.",
		}),
		valuationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "valuation_duration_seconds",
			Help:      "Time to compose one valuation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		estimatedValue: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimated_value_dollars",
			Help:      "Distribution of estimated vehicle values.",
			Buckets:   []float64{2500, 5000, 10000, 15000, 20000, 30000, 45000, 60000, 80000, 120000},
		}),
		adjustmentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adjustment_failures_total",
			Help:      "Calculator failures replaced by a neutral adjustment.",
		}, []string{"factor"}),
		marketCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_cache_total",
			Help:      "Market multiplier cache lookups by result.",
		}, []string{"result"}),
		explanations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "explanation_requests_total",
			Help:      "Explanation requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
	reg.MustRegister(
		m.valuations,
		m.valuationDuration,
		m.estimatedValue,
		m.adjustmentFailures,
		m.marketCache,
		m.explanations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveValuation records one composed valuation.
func (m *Metrics) ObserveValuation(d time.Duration, estimatedValue int64) {
	if m == nil {
		return
	}
	m.valuations.Inc()
	m.valuationDuration.Observe(d.Seconds())
	m.estimatedValue.Observe(float64(estimatedValue))
}

// AdjustmentFailed counts a neutralized calculator.
func (m *Metrics) AdjustmentFailed(factor string) {
	if m == nil {
		return
	}
	m.adjustmentFailures.WithLabelValues(factor).Inc()
}

// MarketCacheLookup counts a cache hit, miss or error.
func (m *Metrics) MarketCacheLookup(result string) {
	if m == nil {
		return
	}
	m.marketCache.WithLabelValues(result).Inc()
}

// ExplanationRequested counts an explanation outcome.
func (m *Metrics) ExplanationRequested(provider, outcome string) {
	if m == nil {
		return
	}
	m.explanations.WithLabelValues(provider, outcome).Inc()
}
