// Package rules holds the static lookup tables consulted by the valuation
// calculators. Tables are built once at startup and shared read-only.
package rules

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tables is the full set of rule tables. Map keys are lower-case.
type Tables struct {
	BasePrice    BasePriceRules                           `yaml:"base_price" mapstructure:"base_price"`
	Mileage      MileageRules                             `yaml:"mileage" mapstructure:"mileage"`
	Condition    map[string]float64                       `yaml:"condition" mapstructure:"condition"`
	Accident     AccidentRules                            `yaml:"accident" mapstructure:"accident"`
	Trim         map[string]map[string]map[string]float64 `yaml:"trim" mapstructure:"trim"`
	Features     FeatureRules                             `yaml:"features" mapstructure:"features"`
	FuelType     map[string]float64                       `yaml:"fuel_type" mapstructure:"fuel_type"`
	Transmission map[string]float64                       `yaml:"transmission" mapstructure:"transmission"`
	Color        map[string]float64                       `yaml:"color" mapstructure:"color"`
	Title        TitleRules                               `yaml:"title" mapstructure:"title"`
	Warranty     map[string]float64                       `yaml:"warranty" mapstructure:"warranty"`
	Recall       RecallRules                              `yaml:"recall" mapstructure:"recall"`
	Seasonal     SeasonalRules                            `yaml:"seasonal" mapstructure:"seasonal"`
	Driving      []Band                                   `yaml:"driving" mapstructure:"driving"`
	Photo        []Band                                   `yaml:"photo" mapstructure:"photo"`
	Regional     RegionalRules                            `yaml:"regional" mapstructure:"regional"`
}

// BasePriceRules derive a base price when the caller does not supply one.
type BasePriceRules struct {
	Makes       map[string]int64 `yaml:"makes" mapstructure:"makes"`
	Default     int64            `yaml:"default" mapstructure:"default"`
	PerYear     int64            `yaml:"per_year" mapstructure:"per_year"`
	Per10kMiles int64            `yaml:"per_10k_miles" mapstructure:"per_10k_miles"`
	Minimum     int64            `yaml:"minimum" mapstructure:"minimum"`
}

// MileageRules compare actual mileage against expected annual usage.
type MileageRules struct {
	AnnualMiles int     `yaml:"annual_miles" mapstructure:"annual_miles"`
	LowRatio    float64 `yaml:"low_ratio" mapstructure:"low_ratio"`
	HighRatio   float64 `yaml:"high_ratio" mapstructure:"high_ratio"`
	LowPercent  float64 `yaml:"low_percent" mapstructure:"low_percent"`
	HighPercent float64 `yaml:"high_percent" mapstructure:"high_percent"`
}

// AccidentRules price each reported accident by severity.
type AccidentRules struct {
	PerAccident map[string]float64 `yaml:"per_accident" mapstructure:"per_accident"`
	MaxCount    int                `yaml:"max_count" mapstructure:"max_count"`
	MaxPercent  float64            `yaml:"max_percent" mapstructure:"max_percent"`
}

// FeatureValue is the premium a single feature adds: a percent of base
// price plus a fixed dollar amount.
type FeatureValue struct {
	Percent float64 `yaml:"percent" mapstructure:"percent"`
	Fixed   int64   `yaml:"fixed" mapstructure:"fixed"`
}

// FeatureRules price optional equipment.
type FeatureRules struct {
	Values     map[string]FeatureValue `yaml:"values" mapstructure:"values"`
	Aliases    map[string]string       `yaml:"aliases" mapstructure:"aliases"`
	CapPercent float64                 `yaml:"cap_percent" mapstructure:"cap_percent"`
}

// TitleRules discount branded titles. Statuses missing from Statuses that
// are not "clean" receive OtherPercent.
type TitleRules struct {
	Statuses     map[string]float64 `yaml:"statuses" mapstructure:"statuses"`
	OtherPercent float64            `yaml:"other_percent" mapstructure:"other_percent"`
}

// RecallRules discount vehicles with an unresolved recall.
type RecallRules struct {
	OpenPercent float64 `yaml:"open_percent" mapstructure:"open_percent"`
}

// SeasonalRules hold month-of-year demand factors per body style.
// Months are indexed January = 0.
type SeasonalRules struct {
	Months   map[string][]float64 `yaml:"months" mapstructure:"months"`
	Keywords []BodyKeywords       `yaml:"keywords" mapstructure:"keywords"`
}

// BodyKeywords infers a body style from words in the model name. Earlier
// entries win.
type BodyKeywords struct {
	Body  string   `yaml:"body" mapstructure:"body"`
	Words []string `yaml:"words" mapstructure:"words"`
}

// Band maps scores at or above Min to Percent. Bands are ordered from the
// highest Min down.
type Band struct {
	Min     float64 `yaml:"min" mapstructure:"min"`
	Percent float64 `yaml:"percent" mapstructure:"percent"`
	Label   string  `yaml:"label" mapstructure:"label"`
}

// Region is a demand region keyed by the first ZIP digit.
type Region struct {
	Name    string  `yaml:"name" mapstructure:"name"`
	Percent float64 `yaml:"percent" mapstructure:"percent"`
}

// RegionalRules map a ZIP code to a demand percent. Exact ZIP entries win
// over the first-digit region.
type RegionalRules struct {
	Zips        map[string]float64 `yaml:"zips" mapstructure:"zips"`
	Regions     map[string]Region  `yaml:"regions" mapstructure:"regions"`
	DefaultName string             `yaml:"default_name" mapstructure:"default_name"`
}

// LoadTables reads a YAML overlay from path on top of DefaultTables.
// An empty path returns the defaults.
func LoadTables(path string) (*Tables, error) {
	t := DefaultTables()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, eris.Wrapf(err, "rules: parse %s", path)
	}
	t.normalize()

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// normalize lower-cases every lookup key so overlays may use any casing.
func (t *Tables) normalize() {
	t.Condition = lowerKeys(t.Condition)
	t.FuelType = lowerKeys(t.FuelType)
	t.Transmission = lowerKeys(t.Transmission)
	t.Color = lowerKeys(t.Color)
	t.Warranty = lowerKeys(t.Warranty)
	t.Title.Statuses = lowerKeys(t.Title.Statuses)
	t.Accident.PerAccident = lowerKeys(t.Accident.PerAccident)
	t.Seasonal.Months = lowerKeys(t.Seasonal.Months)
	t.Features.Values = lowerKeys(t.Features.Values)

	aliases := make(map[string]string, len(t.Features.Aliases))
	for k, v := range t.Features.Aliases {
		aliases[Key(k)] = Key(v)
	}
	t.Features.Aliases = aliases

	t.BasePrice.Makes = lowerKeys(t.BasePrice.Makes)
	t.Regional.Zips = lowerKeys(t.Regional.Zips)

	trim := make(map[string]map[string]map[string]float64, len(t.Trim))
	for mk, models := range t.Trim {
		m := make(map[string]map[string]float64, len(models))
		for md, trims := range models {
			m[Key(md)] = lowerKeys(trims)
		}
		trim[Key(mk)] = m
	}
	t.Trim = trim
}

// Key normalizes a lookup key.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func lowerKeys[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[Key(k)] = v
	}
	return out
}
