package adjust

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/rules"
)

var seasons = [12]string{
	"Winter", "Winter", "Spring", "Spring", "Spring", "Summer",
	"Summer", "Summer", "Fall", "Fall", "Fall", "Winter",
}

// Seasonal applies month-of-year demand for the vehicle's body style.
type Seasonal struct {
	rules rules.SeasonalRules
	now   Clock
}

// NewSeasonal creates the seasonal demand calculator.
func NewSeasonal(t *rules.Tables, now Clock) *Seasonal {
	if now == nil {
		now = SystemClock
	}
	return &Seasonal{rules: t.Seasonal, now: now}
}

func (c *Seasonal) Name() string { return model.FactorSeasonal }

func (c *Seasonal) Calculate(_ context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	body := c.BodyStyle(in)
	month := int(c.now().Month())

	months, ok := c.rules.Months[body]
	if !ok || len(months) != 12 {
		months = c.rules.Months["generic"]
	}
	pct := months[month-1]
	season := seasons[month-1]

	var desc string
	switch {
	case pct > 0:
		desc = fmt.Sprintf("%s is a high-demand season for %s vehicles", season, body)
	case pct < 0:
		desc = fmt.Sprintf("%s typically has lower demand for %s vehicles", season, body)
	default:
		desc = fmt.Sprintf("%s has no seasonal demand effect for %s vehicles", season, body)
	}
	return percentOfBase(model.FactorSeasonal, in.BasePrice, pct, desc), nil
}

// BodyStyle resolves the seasonal body style: an exact table match on
// BodyType, then keyword matches on BodyType and the model name, then
// "generic".
func (c *Seasonal) BodyStyle(in model.ValuationInput) string {
	body := rules.Key(in.BodyType)
	if _, ok := c.rules.Months[body]; ok && body != "" {
		return body
	}
	for _, text := range []string{body, rules.Key(in.Model)} {
		if text == "" {
			continue
		}
		for _, kw := range c.rules.Keywords {
			for _, w := range kw.Words {
				if strings.Contains(text, w) {
					return kw.Body
				}
			}
		}
	}
	return "generic"
}

// Location applies regional demand. A stored market multiplier for the
// ZIP wins, including an explicit 0; otherwise the exact-ZIP table, then
// the first-digit region.
type Location struct {
	rules  rules.RegionalRules
	market MarketLookup
}

// NewLocation creates the location calculator. market may be nil.
func NewLocation(t *rules.Tables, market MarketLookup) *Location {
	return &Location{rules: t.Regional, market: market}
}

func (c *Location) Name() string { return model.FactorLocation }

func (c *Location) Calculate(ctx context.Context, in model.ValuationInput) (model.AdjustmentBreakdown, error) {
	zip := strings.TrimSpace(in.ZipCode)
	if zip == "" {
		return model.Neutral(model.FactorLocation, "No ZIP code provided"), nil
	}

	if c.market != nil {
		if m, ok := c.market.Multiplier(ctx, zip); ok {
			if m == 0 {
				return model.Neutral(model.FactorLocation,
					fmt.Sprintf("Market demand in ZIP %s has no effect on value", zip)), nil
			}
			pct := decimal.NewFromFloat(m).Div(decimal.NewFromInt(100)).InexactFloat64()
			return percentOfBase(model.FactorLocation, in.BasePrice, pct,
				fmt.Sprintf("Market demand in ZIP %s adjusts value by %+.1f%%", zip, m)), nil
		}
	}

	region, hasRegion := c.rules.Regions[zip[:1]]
	name := c.rules.DefaultName
	if hasRegion {
		name = region.Name
	}

	if pct, ok := c.rules.Zips[zip]; ok {
		return percentOfBase(model.FactorLocation, in.BasePrice, pct,
			fmt.Sprintf("Local market demand in ZIP %s (%s)", zip, name)), nil
	}
	if !hasRegion || region.Percent == 0 {
		return model.Neutral(model.FactorLocation,
			fmt.Sprintf("Average market demand in %s (ZIP %s)", name, zip)), nil
	}
	return percentOfBase(model.FactorLocation, in.BasePrice, region.Percent,
		fmt.Sprintf("%s regional market demand (ZIP %s)", name, zip)), nil
}
