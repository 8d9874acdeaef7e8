package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-cli/internal/store"
)

// Snapshot is a point-in-time view of valuation activity.
type Snapshot struct {
	Valuations         int       `json:"valuations"`
	Explained          int       `json:"explained"`
	ExplanationRate    float64   `json:"explanation_rate"`
	AvgEstimatedValue  float64   `json:"avg_estimated_value"`
	AvgConfidence      float64   `json:"avg_confidence"`
	MarketAdjustedZips int       `json:"market_adjusted_zips"`
	LookbackHours      int       `json:"lookback_hours"`
	CollectedAt        time.Time `json:"collected_at"`
}

// StatsSource is the store subset the collector reads.
type StatsSource interface {
	Stats(ctx context.Context, since time.Time) (*store.Stats, error)
}

// Collector builds snapshots from the store.
type Collector struct {
	source  StatsSource
	nowFunc func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(source StatsSource) *Collector {
	return &Collector{source: source, nowFunc: time.Now}
}

// Collect summarizes the last lookbackHours of valuations. Non-positive
// lookbacks default to 24 hours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.nowFunc().UTC()

	st, err := c.source.Stats(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect stats")
	}

	snap := &Snapshot{
		Valuations:         st.Valuations,
		Explained:          st.Explained,
		AvgEstimatedValue:  st.AvgEstimatedValue,
		AvgConfidence:      st.AvgConfidence,
		MarketAdjustedZips: st.MarketAdjustedZips,
		LookbackHours:      lookbackHours,
		CollectedAt:        now,
	}
	if st.Valuations > 0 {
		snap.ExplanationRate = float64(st.Explained) / float64(st.Valuations)
	}
	return snap, nil
}
