// Package store persists valuation records and ZIP-level market adjustments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// ValuationFilter narrows ListValuations.
type ValuationFilter struct {
	Make    string    `json:"make,omitempty"`
	ZipCode string    `json:"zip_code,omitempty"`
	Since   time.Time `json:"since,omitempty"`
	Limit   int       `json:"limit,omitempty"`
	Offset  int       `json:"offset,omitempty"`
}

// Stats aggregates valuations created since a point in time.
type Stats struct {
	Since              time.Time `json:"since"`
	Valuations         int       `json:"valuations"`
	Explained          int       `json:"explained"`
	AvgEstimatedValue  float64   `json:"avg_estimated_value"`
	AvgConfidence      float64   `json:"avg_confidence"`
	MarketAdjustedZips int       `json:"market_adjusted_zips"`
}

// Store is the persistence boundary for the valuation service.
type Store interface {
	// Valuations
	CreateValuation(ctx context.Context, rec *model.ValuationRecord) error
	GetValuation(ctx context.Context, id string) (*model.ValuationRecord, error)
	ListValuations(ctx context.Context, filter ValuationFilter) ([]model.ValuationRecord, error)
	SetExplanation(ctx context.Context, id, explanation string) error
	Stats(ctx context.Context, since time.Time) (*Stats, error)

	// Market adjustments
	GetMarketMultiplier(ctx context.Context, zip string) (float64, error)
	UpsertMarketAdjustments(ctx context.Context, adjustments []model.MarketAdjustment) (int64, error)
	ListMarketAdjustments(ctx context.Context) ([]model.MarketAdjustment, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}

// Open returns the Store for driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string, maxConns int) (Store, error) {
	switch driver {
	case "", "sqlite":
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, dsn, int32(maxConns)) //nolint:gosec
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
