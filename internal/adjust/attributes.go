package adjust

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/rules"
)

// categorical maps one string attribute to a percent via a lookup table.
type categorical struct {
	factor string
	label  string
	table  map[string]float64
	field  func(model.ValuationInput) string
}

func (c *categorical) Name() string { return c.factor }

func (c *categorical) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	value := strings.TrimSpace(c.field(in))
	if value == "" {
		return model.Neutral(c.factor, fmt.Sprintf("No %s provided", c.label)), nil
	}
	pct, ok := c.table[rules.Key(value)]
	if !ok {
		return model.Neutral(c.factor, fmt.Sprintf("No adjustment on record for %s %q", c.label, value)), nil
	}
	return percentOfBase(c.factor, in.BasePrice, pct, fmt.Sprintf("%s %s", value, c.label)), nil
}

// NewFuelType creates the fuel type calculator.
func NewFuelType(t *rules.Tables) Calculator {
	return &categorical{
		factor: model.FactorFuelType,
		label:  "fuel type",
		table:  t.FuelType,
		field:  func(in model.ValuationInput) string { return in.FuelType },
	}
}

// NewTransmission creates the transmission calculator.
func NewTransmission(t *rules.Tables) Calculator {
	return &categorical{
		factor: model.FactorTransmission,
		label:  "transmission",
		table:  t.Transmission,
		field:  func(in model.ValuationInput) string { return in.TransmissionType },
	}
}

// Color prices exterior color. An explicit color multiplier on the input
// takes precedence over the color table.
type Color struct {
	categorical
}

// NewColor creates the color calculator.
func NewColor(t *rules.Tables) *Color {
	return &Color{categorical{
		factor: model.FactorColor,
		label:  "exterior color",
		table:  t.Color,
		field:  func(in model.ValuationInput) string { return in.ExteriorColor },
	}}
}

func (c *Color) Calculate(ctx context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	if in.ColorMultiplier != nil && *in.ColorMultiplier > 0 {
		pct := decimal.NewFromFloat(*in.ColorMultiplier).Sub(decimal.NewFromInt(1)).InexactFloat64()
		color := in.ExteriorColor
		if color == "" {
			color = "exterior color"
		}
		return percentOfBase(model.FactorColor, in.BasePrice, pct,
			fmt.Sprintf("Color multiplier %.2f applied for %s", *in.ColorMultiplier, color)), nil
	}
	return c.categorical.Calculate(ctx, in)
}

// TitleStatus discounts branded titles.
type TitleStatus struct {
	rules rules.TitleRules
}

// NewTitleStatus creates the title status calculator.
func NewTitleStatus(t *rules.Tables) *TitleStatus {
	return &TitleStatus{rules: t.Title}
}

func (c *TitleStatus) Name() string { return model.FactorTitle }

func (c *TitleStatus) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	status := rules.Key(in.TitleStatus)
	switch status {
	case "":
		return model.Neutral(model.FactorTitle, "Title status not provided; assuming clean"), nil
	case "clean":
		return model.Neutral(model.FactorTitle, "Clean title"), nil
	}
	pct, ok := c.rules.Statuses[status]
	if !ok {
		pct = c.rules.OtherPercent
	}
	return percentOfBase(model.FactorTitle, in.BasePrice, pct,
		fmt.Sprintf("Branded title: %s", in.TitleStatus)), nil
}

// Warranty adds value for transferable warranty coverage.
type Warranty struct {
	table map[string]float64
}

// NewWarranty creates the warranty calculator.
func NewWarranty(t *rules.Tables) *Warranty {
	return &Warranty{table: t.Warranty}
}

func (c *Warranty) Name() string { return model.FactorWarranty }

func (c *Warranty) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	status := rules.Key(in.WarrantyStatus)
	if status == "" || status == "none" {
		return model.Neutral(model.FactorWarranty, "No active warranty coverage"), nil
	}
	pct, ok := c.table[status]
	if !ok {
		return model.Neutral(model.FactorWarranty,
			fmt.Sprintf("Warranty status %q not recognized", in.WarrantyStatus)), nil
	}
	return percentOfBase(model.FactorWarranty, in.BasePrice, pct,
		fmt.Sprintf("Active %s warranty coverage", status)), nil
}

// Recall discounts vehicles with an open safety recall.
type Recall struct {
	rules rules.RecallRules
}

// NewRecall creates the recall calculator.
func NewRecall(t *rules.Tables) *Recall {
	return &Recall{rules: t.Recall}
}

func (c *Recall) Name() string { return model.FactorRecall }

func (c *Recall) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	if in.HasOpenRecall == nil {
		return model.Neutral(model.FactorRecall, "Recall status unknown"), nil
	}
	if !*in.HasOpenRecall {
		return model.Neutral(model.FactorRecall, "No open recalls"), nil
	}
	return percentOfBase(model.FactorRecall, in.BasePrice, c.rules.OpenPercent,
		"Open safety recall reported"), nil
}

// DrivingBehavior bands a 0-100 driving score.
type DrivingBehavior struct {
	bands []rules.Band
}

// NewDrivingBehavior creates the driving behavior calculator.
func NewDrivingBehavior(t *rules.Tables) *DrivingBehavior {
	return &DrivingBehavior{bands: t.Driving}
}

func (c *DrivingBehavior) Name() string { return model.FactorDriving }

func (c *DrivingBehavior) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	if in.DrivingScore == nil {
		return model.Neutral(model.FactorDriving, "No driving behavior score provided"), nil
	}
	score := clamp(float64(*in.DrivingScore), 0, 100)
	band := rules.Lookup(c.bands, score)
	return percentOfBase(model.FactorDriving, in.BasePrice, band.Percent,
		fmt.Sprintf("Driving score %.0f rated %s", score, band.Label)), nil
}

// PhotoScore bands a 0-1 photo-derived condition score.
type PhotoScore struct {
	bands []rules.Band
}

// NewPhotoScore creates the photo score calculator.
func NewPhotoScore(t *rules.Tables) *PhotoScore {
	return &PhotoScore{bands: t.Photo}
}

func (c *PhotoScore) Name() string { return model.FactorPhoto }

func (c *PhotoScore) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	if in.PhotoScore == nil {
		return model.Neutral(model.FactorPhoto, "No photo condition score provided"), nil
	}
	score := clamp(*in.PhotoScore, 0, 1)
	band := rules.Lookup(c.bands, score)
	return percentOfBase(model.FactorPhoto, in.BasePrice, band.Percent,
		fmt.Sprintf("Photo condition score %.2f rated %s", score, band.Label)), nil
}
