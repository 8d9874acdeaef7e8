package adjust

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/rules"
)

// Mileage compares odometer reading against expected annual usage.
type Mileage struct {
	rules rules.MileageRules
	now   Clock
}

// NewMileage creates a Mileage calculator.
func NewMileage(t *rules.Tables, now Clock) *Mileage {
	if now == nil {
		now = SystemClock
	}
	return &Mileage{rules: t.Mileage, now: now}
}

func (c *Mileage) Name() string { return model.FactorMileage }

func (c *Mileage) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	currentYear := c.now().Year()
	year := in.Year
	if year == 0 {
		year = currentYear
	}

	age := currentYear - year
	if age <= 0 {
		return model.Neutral(model.FactorMileage,
			"Current model year vehicle; mileage not compared against annual usage"), nil
	}

	expected := age * c.rules.AnnualMiles
	ratio := float64(in.Mileage) / float64(expected)

	switch {
	case ratio < c.rules.LowRatio:
		return percentOfBase(model.FactorMileage, in.BasePrice, c.rules.LowPercent,
			fmt.Sprintf("Below-average mileage: %d miles vs %d expected", in.Mileage, expected)), nil
	case ratio > c.rules.HighRatio:
		return percentOfBase(model.FactorMileage, in.BasePrice, c.rules.HighPercent,
			fmt.Sprintf("Above-average mileage: %d miles vs %d expected", in.Mileage, expected)), nil
	}
	return model.Neutral(model.FactorMileage,
		fmt.Sprintf("Mileage within expected range for a %d-year-old vehicle", age)), nil
}

// Condition applies the owner-reported condition grade.
type Condition struct {
	table map[string]float64
}

// NewCondition creates a Condition calculator.
func NewCondition(t *rules.Tables) *Condition {
	return &Condition{table: t.Condition}
}

func (c *Condition) Name() string { return model.FactorCondition }

func (c *Condition) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	cond, ok := model.ParseCondition(in.Condition)
	if !ok {
		return model.Neutral(model.FactorCondition,
			"Condition not provided or not recognized; assuming Good"), nil
	}
	pct := c.table[rules.Key(string(cond))]
	return percentOfBase(model.FactorCondition, in.BasePrice, pct,
		fmt.Sprintf("Vehicle reported in %s condition", cond)), nil
}

// Accident discounts reported accidents by severity.
type Accident struct {
	rules rules.AccidentRules
}

// NewAccident creates an Accident calculator.
func NewAccident(t *rules.Tables) *Accident {
	return &Accident{rules: t.Accident}
}

func (c *Accident) Name() string { return model.FactorAccident }

func (c *Accident) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	if in.AccidentCount <= 0 {
		return model.Neutral(model.FactorAccident, "No reported accidents"), nil
	}

	severity := in.AccidentSeverity
	if severity == "" {
		severity = inferSeverity(in.Condition)
	}
	per, ok := c.rules.PerAccident[rules.Key(string(severity))]
	if !ok {
		severity = model.SeverityMinor
		per = c.rules.PerAccident[string(model.SeverityMinor)]
	}

	counted := in.AccidentCount
	if counted > c.rules.MaxCount {
		counted = c.rules.MaxCount
	}

	total := decimal.NewFromFloat(per).Mul(decimal.NewFromInt(int64(counted)))
	maxPct := decimal.NewFromFloat(c.rules.MaxPercent)
	capped := total.GreaterThan(maxPct)
	if capped {
		total = maxPct
	}

	desc := fmt.Sprintf("%d reported accident(s) of %s severity", in.AccidentCount, severity)
	if capped {
		desc += fmt.Sprintf("; discount capped at %s%%", maxPct.Mul(decimal.NewFromInt(100)).String())
	}
	return percentOfBase(model.FactorAccident, in.BasePrice, total.Neg().InexactFloat64(), desc), nil
}

// inferSeverity guesses accident severity from overall condition when the
// caller did not report one.
func inferSeverity(condition string) model.AccidentSeverity {
	cond, _ := model.ParseCondition(condition)
	switch cond {
	case model.ConditionPoor:
		return model.SeveritySevere
	case model.ConditionFair:
		return model.SeverityModerate
	}
	return model.SeverityMinor
}

// Trim applies the make/model/trim premium table.
type Trim struct {
	table map[string]map[string]map[string]float64
}

// NewTrim creates a Trim calculator.
func NewTrim(t *rules.Tables) *Trim {
	return &Trim{table: t.Trim}
}

func (c *Trim) Name() string { return model.FactorTrim }

func (c *Trim) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	if strings.TrimSpace(in.Trim) == "" {
		return model.Neutral(model.FactorTrim, "No trim level provided"), nil
	}
	pct, ok := c.table[rules.Key(in.Make)][rules.Key(in.Model)][rules.Key(in.Trim)]
	if !ok {
		return model.Neutral(model.FactorTrim,
			fmt.Sprintf("No trim premium on record for %s %s %s", in.Make, in.Model, in.Trim)), nil
	}
	return percentOfBase(model.FactorTrim, in.BasePrice, pct,
		fmt.Sprintf("%s trim level", in.Trim)), nil
}

// Features prices optional equipment, capped at a share of base price.
type Features struct {
	rules rules.FeatureRules
}

// NewFeatures creates a Features calculator.
func NewFeatures(t *rules.Tables) *Features {
	return &Features{rules: t.Features}
}

func (c *Features) Name() string { return model.FactorFeatures }

func (c *Features) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	if len(in.Features) == 0 {
		return model.Neutral(model.FactorFeatures, "No premium features reported"), nil
	}

	seen := make(map[string]bool, len(in.Features))
	var total int64
	for _, raw := range in.Features {
		key := rules.Key(raw)
		if alias, ok := c.rules.Aliases[key]; ok {
			key = alias
		}
		v, ok := c.rules.Values[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		total += model.PercentOf(in.BasePrice, v.Percent) + v.Fixed
	}

	if len(seen) == 0 {
		return model.Neutral(model.FactorFeatures, "No recognized premium features"), nil
	}

	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	desc := fmt.Sprintf("%d premium feature(s): %s", len(names), strings.Join(names, ", "))

	limit := model.PercentOf(in.BasePrice, c.rules.CapPercent)
	if total > limit {
		total = limit
		desc += fmt.Sprintf("; capped at %s%% of base value", decimal.NewFromFloat(percentPoints(c.rules.CapPercent)).String())
	}

	var pct float64
	if in.BasePrice > 0 {
		pct = decimal.NewFromInt(total).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(in.BasePrice)).
			Round(2).
			InexactFloat64()
	}
	return model.AdjustmentBreakdown{
		Factor:            model.FactorFeatures,
		Impact:            total,
		Description:       desc,
		PercentAdjustment: pct,
	}, nil
}
