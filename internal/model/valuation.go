package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Factor names reported on adjustment breakdowns.
const (
	FactorMileage      = "Mileage"
	FactorCondition    = "Condition"
	FactorAccident     = "Accident History"
	FactorTrim         = "Trim Level"
	FactorFeatures     = "Premium Features"
	FactorFuelType     = "Fuel Type"
	FactorTransmission = "Transmission"
	FactorColor        = "Exterior Color"
	FactorTitle        = "Title Status"
	FactorWarranty     = "Warranty"
	FactorRecall       = "Open Recall"
	FactorSeasonal     = "Seasonal Demand"
	FactorDriving      = "Driving Behavior"
	FactorLocation     = "Location Impact"
	FactorPhoto        = "Photo Condition"
)

// AdjustmentBreakdown is the outcome of a single calculator. All fields are
// always populated; a neutral adjustment carries zero impact and a reason.
type AdjustmentBreakdown struct {
	Factor            string  `json:"factor"`
	Impact            int64   `json:"impact"`
	Description       string  `json:"description"`
	PercentAdjustment float64 `json:"percent_adjustment"`
}

// Neutral builds a zero-impact adjustment for factor.
func Neutral(factor, description string) AdjustmentBreakdown {
	return AdjustmentBreakdown{Factor: factor, Description: description}
}

// ValuationResult is the composed valuation for one vehicle.
type ValuationResult struct {
	EstimatedValue  int64                 `json:"estimated_value"`
	ConfidenceScore int                   `json:"confidence_score"`
	BasePrice       int64                 `json:"base_price"`
	TotalAdjustment int64                 `json:"total_adjustment"`
	Adjustments     []AdjustmentBreakdown `json:"adjustments"`
}

// Adjustment returns the breakdown for factor, if present.
func (r *ValuationResult) Adjustment(factor string) (AdjustmentBreakdown, bool) {
	for _, a := range r.Adjustments {
		if a.Factor == factor {
			return a, true
		}
	}
	return AdjustmentBreakdown{}, false
}

// ValuationRecord is a persisted valuation.
type ValuationRecord struct {
	ID          string          `json:"id"`
	Input       ValuationInput  `json:"input"`
	Result      ValuationResult `json:"result"`
	Explanation string          `json:"explanation,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MarketAdjustment is the regional demand multiplier for a ZIP code,
// expressed as a signed percent (3.5 means +3.5%).
type MarketAdjustment struct {
	ZipCode          string    `json:"zip_code"`
	MarketMultiplier float64   `json:"market_multiplier"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PercentOf returns pct of base rounded half away from zero to whole dollars.
func PercentOf(base int64, pct float64) int64 {
	return decimal.NewFromInt(base).
		Mul(decimal.NewFromFloat(pct)).
		Round(0).
		IntPart()
}
