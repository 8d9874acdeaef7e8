package model

import (
	"fmt"
	"strings"
	"time"
)

// Condition is the owner-reported overall condition of a vehicle.
type Condition string

const (
	ConditionExcellent Condition = "Excellent"
	ConditionVeryGood  Condition = "Very Good"
	ConditionGood      Condition = "Good"
	ConditionFair      Condition = "Fair"
	ConditionPoor      Condition = "Poor"
)

// ParseCondition maps free-form condition text onto a known Condition.
// Unrecognized or empty input yields ("", false).
func ParseCondition(s string) (Condition, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	switch key {
	case "excellent":
		return ConditionExcellent, true
	case "very good", "verygood":
		return ConditionVeryGood, true
	case "good":
		return ConditionGood, true
	case "fair":
		return ConditionFair, true
	case "poor":
		return ConditionPoor, true
	}
	return "", false
}

// AccidentSeverity grades the worst reported accident.
type AccidentSeverity string

const (
	SeverityMinor    AccidentSeverity = "minor"
	SeverityModerate AccidentSeverity = "moderate"
	SeveritySevere   AccidentSeverity = "severe"
)

// ValuationInput is the shared record every calculator reads from.
// Make, Model, Year, Mileage, Condition and ZipCode are required; everything
// else is optional. Optional scores are pointers so absence differs from zero.
type ValuationInput struct {
	Make             string           `json:"make"`
	Model            string           `json:"model"`
	Year             int              `json:"year"`
	Mileage          int              `json:"mileage"`
	Condition        string           `json:"condition"`
	ZipCode          string           `json:"zip_code"`
	VIN              string           `json:"vin,omitempty"`
	Trim             string           `json:"trim,omitempty"`
	BodyType         string           `json:"body_type,omitempty"`
	FuelType         string           `json:"fuel_type,omitempty"`
	TransmissionType string           `json:"transmission_type,omitempty"`
	ExteriorColor    string           `json:"exterior_color,omitempty"`
	ColorMultiplier  *float64         `json:"color_multiplier,omitempty"`
	Features         []string         `json:"features,omitempty"`
	AccidentCount    int              `json:"accident_count,omitempty"`
	AccidentSeverity AccidentSeverity `json:"accident_severity,omitempty"`
	TitleStatus      string           `json:"title_status,omitempty"`
	WarrantyStatus   string           `json:"warranty_status,omitempty"`
	HasOpenRecall    *bool            `json:"has_open_recall,omitempty"`
	DrivingScore     *int             `json:"driving_score,omitempty"`
	PhotoScore       *float64         `json:"photo_score,omitempty"`
	BasePrice        int64            `json:"base_price,omitempty"`
}

// InvalidInputError lists every problem found in a ValuationInput.
type InvalidInputError struct {
	Problems []string
}

func (e *InvalidInputError) Error() string {
	return "invalid valuation input: " + strings.Join(e.Problems, "; ")
}

// Validate checks required fields and non-negative counters. Years run from
// 1900 through next model year relative to now.
func (in ValuationInput) Validate(now time.Time) error {
	var problems []string
	if strings.TrimSpace(in.Make) == "" {
		problems = append(problems, "make is required")
	}
	if strings.TrimSpace(in.Model) == "" {
		problems = append(problems, "model is required")
	}
	if in.Year != 0 && (in.Year < 1900 || in.Year > now.Year()+1) {
		problems = append(problems, fmt.Sprintf("year %d out of range 1900..%d", in.Year, now.Year()+1))
	}
	if in.Mileage < 0 {
		problems = append(problems, "mileage must be non-negative")
	}
	if in.AccidentCount < 0 {
		problems = append(problems, "accident_count must be non-negative")
	}
	if in.BasePrice < 0 {
		problems = append(problems, "base_price must be non-negative")
	}
	if len(problems) > 0 {
		return &InvalidInputError{Problems: problems}
	}
	return nil
}

// HasCoreFields reports whether make, model, year and mileage are all present.
func (in ValuationInput) HasCoreFields() bool {
	return in.Make != "" && in.Model != "" && in.Year > 0 && in.Mileage > 0
}

// Float64 returns a pointer to v. Handy for optional score fields.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
