package explain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const annualMiles = 12_000

// TemplateInvoker writes a fixed three-paragraph explanation without any
// remote call. It never fails.
type TemplateInvoker struct {
	now     func() time.Time
	printer *message.Printer // dollar and mileage grouping
}

// NewTemplateInvoker creates a TemplateInvoker. now may be nil.
func NewTemplateInvoker(now func() time.Time) *TemplateInvoker {
	if now == nil {
		now = time.Now
	}
	return &TemplateInvoker{now: now, printer: message.NewPrinter(language.AmericanEnglish)}
}

// Invoke renders the explanation for req.
func (t *TemplateInvoker) Invoke(_ context.Context, _ string, req Request) (*InvokeResult, error) {
	return &InvokeResult{Explanation: t.Render(req)}, nil
}

// Render returns the explanation text for req.
func (t *TemplateInvoker) Render(req Request) string {
	vehicle := fmt.Sprintf("%d %s %s", req.Year, req.Make, req.Model)

	intro := fmt.Sprintf("Your %s has a base market value of approximately %s. "+
		"This baseline value is derived from recent sales data for similar vehicles in the national market, "+
		"considering the make, model, year, and current market trends.",
		vehicle, t.money(req.BaseMarketValue))

	var factors strings.Builder
	factors.WriteString(fmt.Sprintf("The valuation has been adjusted based on several factors specific to your vehicle. "+
		"It has %s and is in %s.", t.mileageText(req), conditionText(req.Condition)))
	switch {
	case req.ZipAdj > 100:
		factors.WriteString(fmt.Sprintf(" The vehicle market in your location (%s) typically commands higher prices, adding %s to your valuation.",
			req.Location, t.money(req.ZipAdj)))
	case req.ZipAdj < -100:
		factors.WriteString(fmt.Sprintf(" The vehicle market in your location (%s) typically sees lower prices, reducing your valuation by %s.",
			req.Location, t.money(-req.ZipAdj)))
	}
	if req.FeatureAdjTotal > 0 {
		factors.WriteString(fmt.Sprintf(" Your vehicle's special features and options add %s to its overall value.",
			t.money(req.FeatureAdjTotal)))
	}

	final := req.FinalValuation
	if final == 0 {
		final = req.Valuation
	}
	closing := fmt.Sprintf("Based on all these factors, the estimated value of your %s is %s. "+
		"This valuation reflects current market conditions and the specific details you've provided about your vehicle. "+
		"It represents a fair market value that could be expected in a private party sale under typical circumstances.",
		vehicle, t.money(final))

	return strings.Join([]string{intro, factors.String(), closing}, "\n\n")
}

func (t *TemplateInvoker) money(v int64) string {
	if v < 0 {
		return t.printer.Sprintf("-$%d", -v)
	}
	return t.printer.Sprintf("$%d", v)
}

func (t *TemplateInvoker) mileageText(req Request) string {
	expected := 5 * annualMiles
	if req.Year > 0 {
		expected = (t.now().Year() - req.Year) * annualMiles
	}
	miles := float64(req.Mileage)
	switch {
	case miles < 0.7*float64(expected):
		return t.printer.Sprintf("lower than average mileage (%d miles), which increases its value", req.Mileage)
	case miles > 1.3*float64(expected):
		return t.printer.Sprintf("higher than average mileage (%d miles), which decreases its value", req.Mileage)
	default:
		return t.printer.Sprintf("average mileage (%d miles) for a vehicle of this age", req.Mileage)
	}
}

func conditionText(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "excellent":
		return "excellent condition, which positively affects its value"
	case "good":
		return "good condition, which is typical for a vehicle of this age"
	case "fair":
		return "fair condition, which slightly reduces its value"
	case "poor":
		return "poor condition, which significantly affects its value"
	default:
		return c + " condition"
	}
}
