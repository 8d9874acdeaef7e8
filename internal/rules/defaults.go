package rules

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultTables returns the built-in rule tables.
func DefaultTables() *Tables {
	return &Tables{
		BasePrice: BasePriceRules{
			Makes: map[string]int64{
				"toyota":        30_000,
				"honda":         28_000,
				"ford":          27_000,
				"chevrolet":     26_000,
				"nissan":        24_000,
				"hyundai":       23_000,
				"kia":           22_000,
				"subaru":        27_000,
				"mazda":         25_000,
				"volkswagen":    25_000,
				"jeep":          30_000,
				"ram":           32_000,
				"gmc":           33_000,
				"dodge":         26_000,
				"bmw":           42_000,
				"mercedes-benz": 45_000,
				"audi":          40_000,
				"lexus":         40_000,
				"tesla":         45_000,
			},
			Default:     25_000,
			PerYear:     1_500,
			Per10kMiles: 500,
			Minimum:     5_000,
		},
		Mileage: MileageRules{
			AnnualMiles: 12_000,
			LowRatio:    0.7,
			HighRatio:   1.3,
			LowPercent:  0.05,
			HighPercent: -0.07,
		},
		Condition: map[string]float64{
			"excellent": 0.05,
			"very good": 0.025,
			"good":      0,
			"fair":      -0.075,
			"poor":      -0.15,
		},
		Accident: AccidentRules{
			PerAccident: map[string]float64{
				"minor":    0.05,
				"moderate": 0.10,
				"severe":   0.15,
			},
			MaxCount:   3,
			MaxPercent: 0.35,
		},
		Trim: map[string]map[string]map[string]float64{
			"toyota": {
				"camry":   {"le": 0, "se": 0.02, "xle": 0.04, "xse": 0.05, "trd": 0.06},
				"corolla": {"l": -0.01, "le": 0, "se": 0.02, "xse": 0.04},
				"rav4":    {"le": 0, "xle": 0.03, "adventure": 0.05, "limited": 0.07},
			},
			"honda": {
				"civic":  {"lx": 0, "sport": 0.02, "ex": 0.03, "si": 0.05, "touring": 0.06, "type r": 0.12},
				"accord": {"lx": 0, "sport": 0.02, "ex-l": 0.04, "touring": 0.07},
				"cr-v":   {"lx": 0, "ex": 0.03, "ex-l": 0.05, "touring": 0.07},
			},
			"ford": {
				"f-150":   {"xl": 0, "xlt": 0.04, "lariat": 0.08, "king ranch": 0.12, "platinum": 0.14, "raptor": 0.18},
				"mustang": {"ecoboost": 0, "gt": 0.10, "mach 1": 0.15},
			},
			"chevrolet": {
				"silverado": {"wt": 0, "lt": 0.04, "rst": 0.05, "ltz": 0.08, "high country": 0.12},
			},
			"tesla": {
				"model 3": {"standard": 0, "long range": 0.06, "performance": 0.10},
			},
		},
		Features: FeatureRules{
			Values: map[string]FeatureValue{
				"leather seats":         {Percent: 0.01, Fixed: 300},
				"heated seats":          {Percent: 0.005, Fixed: 250},
				"ventilated seats":      {Percent: 0.007, Fixed: 350},
				"heated steering wheel": {Percent: 0.003, Fixed: 150},
				"sunroof":               {Percent: 0.015, Fixed: 500},
				"panoramic roof":        {Percent: 0.02, Fixed: 800},
				"navigation system":     {Percent: 0.01, Fixed: 400},
				"premium audio":         {Percent: 0.015, Fixed: 600},
				"heads up display":      {Percent: 0.01, Fixed: 500},
				"adaptive cruise":       {Percent: 0.012, Fixed: 450},
				"lane keep assist":      {Percent: 0.008, Fixed: 300},
				"360 camera":            {Percent: 0.015, Fixed: 600},
				"blind spot":            {Percent: 0.008, Fixed: 350},
				"third row":             {Percent: 0.018, Fixed: 700},
				"power liftgate":        {Percent: 0.006, Fixed: 300},
				"remote start":          {Percent: 0.005, Fixed: 250},
				"wireless charging":     {Percent: 0.004, Fixed: 200},
			},
			Aliases: map[string]string{
				"leather":                 "leather seats",
				"cooled seats":            "ventilated seats",
				"moonroof":                "sunroof",
				"panoramic sunroof":       "panoramic roof",
				"navigation":              "navigation system",
				"nav":                     "navigation system",
				"gps":                     "navigation system",
				"premium sound":           "premium audio",
				"hud":                     "heads up display",
				"head-up display":         "heads up display",
				"adaptive cruise control": "adaptive cruise",
				"lane keeping assist":     "lane keep assist",
				"lane departure assist":   "lane keep assist",
				"surround view camera":    "360 camera",
				"blind spot monitoring":   "blind spot",
				"blind spot monitor":      "blind spot",
				"third row seating":       "third row",
				"3rd row":                 "third row",
				"wireless phone charging": "wireless charging",
			},
			CapPercent: 0.15,
		},
		FuelType: map[string]float64{
			"gasoline":       0,
			"gas":            0,
			"diesel":         0.02,
			"hybrid":         0.04,
			"plug-in hybrid": 0.03,
			"electric":       0.05,
			"flex fuel":      -0.01,
		},
		Transmission: map[string]float64{
			"automatic":   0,
			"cvt":         -0.01,
			"manual":      -0.02,
			"dual-clutch": 0.01,
		},
		Color: map[string]float64{
			"white":  0.01,
			"black":  0.01,
			"silver": 0,
			"gray":   0,
			"grey":   0,
			"blue":   0,
			"red":    0.02,
			"green":  -0.02,
			"yellow": -0.01,
			"orange": -0.01,
			"gold":   -0.02,
			"brown":  -0.03,
			"beige":  -0.03,
			"purple": -0.03,
		},
		Title: TitleRules{
			Statuses: map[string]float64{
				"clean":   0,
				"salvage": -0.50,
				"rebuilt": -0.25,
				"flood":   -0.35,
				"lemon":   -0.30,
			},
			OtherPercent: -0.15,
		},
		Warranty: map[string]float64{
			"none":      0,
			"factory":   0.02,
			"certified": 0.03,
			"extended":  0.04,
		},
		Recall: RecallRules{OpenPercent: -0.10},
		Seasonal: SeasonalRules{
			Months: map[string][]float64{
				"convertible": {0, -0.04, -0.02, 0.01, 0.02, 0.03, 0.04, 0.03, 0.01, -0.01, -0.02, -0.03},
				"suv":         {0, 0.02, 0.01, 0, -0.01, -0.01, -0.02, -0.01, 0, 0.01, 0.01, 0.02},
				"truck":       {0, 0.03, 0.02, 0.01, -0.01, -0.02, -0.02, -0.01, 0, 0.01, 0.02, 0.03},
				"sport":       {0, -0.02, -0.01, 0, 0.01, 0.02, 0.02, 0.02, 0.01, 0, -0.01, -0.02},
				"generic":     {0, 0, 0, 0.01, 0.01, 0, 0, 0, 0.01, 0, 0, 0},
			},
			Keywords: []BodyKeywords{
				{Body: "convertible", Words: []string{"convertible", "spyder", "spider", "roadster", "cabriolet"}},
				{Body: "suv", Words: []string{"suv", "crossover", "explorer", "highlander", "4runner", "pilot", "rav4", "equinox", "cherokee", "tahoe", "yukon"}},
				{Body: "truck", Words: []string{"truck", "pickup", "silverado", "sierra", "f-150", "ram", "tacoma", "tundra", "frontier", "ridgeline"}},
				{Body: "sport", Words: []string{"sport", "coupe", "mustang", "camaro", "corvette", "911", "boxster", "miata", "supra", "challenger", "charger"}},
			},
		},
		Driving: []Band{
			{Min: 85, Percent: 0.02, Label: "excellent"},
			{Min: 70, Percent: 0, Label: "average"},
			{Min: 50, Percent: -0.02, Label: "below average"},
			{Min: 0, Percent: -0.04, Label: "poor"},
		},
		Photo: []Band{
			{Min: 0.9, Percent: 0.03, Label: "excellent"},
			{Min: 0.7, Percent: 0, Label: "good"},
			{Min: 0.5, Percent: -0.05, Label: "fair"},
			{Min: 0, Percent: -0.10, Label: "poor"},
		},
		Regional: RegionalRules{
			Zips: map[string]float64{
				"90210": 0.08,
				"94027": 0.07,
				"10007": 0.06,
				"33109": 0.05,
				"60611": 0.03,
				"98101": 0.02,
				"80202": 0.01,
				"19901": -0.02,
				"59901": -0.03,
				"87501": -0.03,
			},
			Regions: map[string]Region{
				"9": {Name: "California", Percent: 0.05},
				"8": {Name: "Mountain West", Percent: 0.02},
				"7": {Name: "Central Plains", Percent: 0.01},
				"6": {Name: "South Central", Percent: 0},
				"5": {Name: "Midwest", Percent: 0},
				"4": {Name: "Northeast", Percent: 0.03},
				"3": {Name: "Mid-Atlantic", Percent: 0.02},
				"2": {Name: "Southeast", Percent: -0.01},
				"1": {Name: "New England", Percent: 0.04},
				"0": {Name: "Northeast", Percent: 0.03},
			},
			DefaultName: "United States",
		},
	}
}

// Validate checks that the tables are internally consistent.
func (t *Tables) Validate() error {
	var errs []string

	if t.BasePrice.Minimum <= 0 {
		errs = append(errs, "base_price.minimum must be > 0")
	}
	if t.BasePrice.Default < t.BasePrice.Minimum {
		errs = append(errs, "base_price.default must be >= minimum")
	}
	if t.BasePrice.PerYear < 0 || t.BasePrice.Per10kMiles < 0 {
		errs = append(errs, "base_price depreciation steps must be >= 0")
	}
	if t.Mileage.AnnualMiles <= 0 {
		errs = append(errs, "mileage.annual_miles must be > 0")
	}
	if t.Mileage.LowRatio >= t.Mileage.HighRatio {
		errs = append(errs, "mileage.low_ratio must be < high_ratio")
	}
	if t.Accident.MaxCount < 0 {
		errs = append(errs, "accident.max_count must be >= 0")
	}
	if t.Accident.MaxPercent < 0 || t.Accident.MaxPercent > 1 {
		errs = append(errs, "accident.max_percent must be between 0 and 1")
	}
	for sev, pct := range t.Accident.PerAccident {
		if pct < 0 {
			errs = append(errs, fmt.Sprintf("accident.per_accident.%s must be >= 0", sev))
		}
	}
	if t.Features.CapPercent < 0 {
		errs = append(errs, "features.cap_percent must be >= 0")
	}
	for alias, target := range t.Features.Aliases {
		if _, ok := t.Features.Values[target]; !ok {
			errs = append(errs, fmt.Sprintf("features.aliases.%s points at unknown feature %q", alias, target))
		}
	}
	for body, months := range t.Seasonal.Months {
		if len(months) != 12 {
			errs = append(errs, fmt.Sprintf("seasonal.months.%s must have 12 entries, got %d", body, len(months)))
		}
	}
	if _, ok := t.Seasonal.Months["generic"]; !ok {
		errs = append(errs, "seasonal.months.generic is required")
	}
	errs = append(errs, validateBands("driving", t.Driving)...)
	errs = append(errs, validateBands("photo", t.Photo)...)

	if len(errs) > 0 {
		return eris.Errorf("rules: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBands(name string, bands []Band) []string {
	if len(bands) == 0 {
		return []string{name + " bands are required"}
	}
	var errs []string
	for i := 1; i < len(bands); i++ {
		if bands[i].Min >= bands[i-1].Min {
			errs = append(errs, fmt.Sprintf("%s bands must be ordered by descending min", name))
			break
		}
	}
	return errs
}

// Lookup returns the band a score falls into. Scores below every band
// use the last one.
func Lookup(bands []Band, score float64) Band {
	for _, b := range bands {
		if score >= b.Min {
			return b
		}
	}
	return bands[len(bands)-1]
}
