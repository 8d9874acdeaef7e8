package valuation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/resilience"
	"github.com/sells-group/valuation-cli/pkg/nhtsa"
)

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithLookupPolicy guards NHTSA calls with p.
func WithLookupPolicy(p *resilience.Policy) EnricherOption {
	return func(e *Enricher) { e.policy = p }
}

// Enricher fills missing vehicle attributes from NHTSA lookups. Lookup
// failures are logged and leave the input as provided.
type Enricher struct {
	client nhtsa.Client
	policy *resilience.Policy
}

// NewEnricher creates an Enricher. A nil client disables enrichment.
func NewEnricher(client nhtsa.Client, opts ...EnricherOption) *Enricher {
	e := &Enricher{client: client, policy: NewLookupPolicy(3, 5, 30)}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewLookupPolicy retries and trips only on outages: throttling, 5xx
// replies and transient network errors. Undecodable VINs and 4xx replies
// fail immediately without opening the circuit.
func NewLookupPolicy(attempts, threshold, resetSecs int) *resilience.Policy {
	return &resilience.Policy{
		Breaker: resilience.NewBreaker("nhtsa", resilience.BreakerConfig{
			Threshold:    threshold,
			ResetTimeout: time.Duration(resetSecs) * time.Second,
			ShouldTrip:   lookupOutage,
		}),
		Retry: resilience.RetryConfig{
			Attempts:       attempts,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Jitter:         0.2,
			ShouldRetry:    lookupOutage,
			OnRetry:        resilience.LogRetry("nhtsa"),
		},
	}
}

func lookupOutage(err error) bool {
	var se *nhtsa.StatusError
	if errors.As(err, &se) {
		return resilience.IsTransientHTTPStatus(se.StatusCode)
	}
	return resilience.IsTransient(err)
}

// Enrich decodes in.VIN (when present) into any empty identity fields and
// sets HasOpenRecall from the recalls API when the caller left it unset.
func (e *Enricher) Enrich(ctx context.Context, in model.ValuationInput) model.ValuationInput {
	if e == nil || e.client == nil {
		return in
	}

	if vin := strings.TrimSpace(in.VIN); vin != "" {
		v, err := resilience.Do(ctx, e.policy, func(ctx context.Context) (*nhtsa.Vehicle, error) {
			return e.client.DecodeVIN(ctx, vin)
		})
		if err != nil {
			zap.L().Warn("valuation: vin decode failed", zap.String("vin", vin), zap.Error(err))
		} else {
			in = applyDecoded(in, v)
		}
	}

	if in.HasOpenRecall == nil && in.Make != "" && in.Model != "" && in.Year > 0 {
		recalls, err := resilience.Do(ctx, e.policy, func(ctx context.Context) ([]nhtsa.Recall, error) {
			return e.client.Recalls(ctx, in.Make, in.Model, in.Year)
		})
		if err != nil {
			zap.L().Warn("valuation: recall lookup failed",
				zap.String("make", in.Make),
				zap.String("model", in.Model),
				zap.Int("year", in.Year),
				zap.Error(err),
			)
		} else {
			in.HasOpenRecall = model.Bool(len(recalls) > 0)
		}
	}
	return in
}

func applyDecoded(in model.ValuationInput, v *nhtsa.Vehicle) model.ValuationInput {
	in.VIN = v.VIN
	if in.Make == "" {
		in.Make = titleCase(v.Make)
	}
	if in.Model == "" {
		in.Model = v.Model
	}
	if in.Year == 0 {
		in.Year = v.Year
	}
	if in.Trim == "" {
		in.Trim = v.Trim
	}
	if in.BodyType == "" {
		in.BodyType = nhtsa.BodyStyle(v.BodyClass)
	}
	if in.FuelType == "" {
		in.FuelType = nhtsa.FuelType(v.FuelType)
	}
	if in.TransmissionType == "" {
		in.TransmissionType = nhtsa.Transmission(v.Transmission)
	}
	return in
}

// titleCase turns vPIC's upper-case makes ("MERCEDES-BENZ") into display
// form ("Mercedes-Benz").
func titleCase(s string) string {
	b := []byte(strings.ToLower(s))
	up := true
	for i, c := range b {
		if up && c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
		up = c == ' ' || c == '-'
	}
	return string(b)
}
