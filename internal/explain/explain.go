// Package explain produces the natural-language narrative for a valuation by
// calling an explanation function with the composed adjustment breakdown.
package explain

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-cli/internal/model"
)

const (
	// DefaultFunction is the remote function that writes explanations.
	DefaultFunction = "generate-explanation"

	defaultTimeout = 30 * time.Second

	failedPrefix  = "Failed to generate explanation: "
	noExplanation = "No explanation received from server"
)

// Kind classifies explanation failures.
type Kind int

const (
	// KindService means the function answered with an error object.
	KindService Kind = iota + 1
	// KindTransport means the call itself failed, was cancelled or timed out.
	KindTransport
	// KindMalformed means the call succeeded but carried no explanation.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindService:
		return "service_error"
	case KindTransport:
		return "transport_error"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by Generate. Message is safe to show to end users.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Params identifies the vehicle to explain. Input, when set, supplies the
// optional attributes; the named fields take precedence over it.
type Params struct {
	Make      string
	Model     string
	Year      int
	Mileage   int
	Condition string
	Location  string
	Valuation int64
	Input     *model.ValuationInput
}

// Request is the JSON body sent to the explanation function.
type Request struct {
	Make            string              `json:"make"`
	Model           string              `json:"model"`
	Year            int                 `json:"year"`
	Mileage         int                 `json:"mileage"`
	Condition       string              `json:"condition"`
	Location        string              `json:"location"`
	ZipCode         string              `json:"zipCode"`
	Valuation       int64               `json:"valuation"`
	FinalValuation  int64               `json:"finalValuation"`
	BaseMarketValue int64               `json:"baseMarketValue"`
	MileageAdj      int64               `json:"mileageAdj"`
	ConditionAdj    int64               `json:"conditionAdj"`
	ZipAdj          int64               `json:"zipAdj"`
	FeatureAdjTotal int64               `json:"featureAdjTotal"`
	Adjustments     []RequestAdjustment `json:"adjustments"`
}

// RequestAdjustment is one factor of the breakdown as the function sees it.
type RequestAdjustment struct {
	Factor      string `json:"factor"`
	Impact      int64  `json:"impact"`
	Description string `json:"description"`
}

// FunctionError is the error object a function returns.
type FunctionError struct {
	Message string `json:"message"`
}

// InvokeResult is a completed invocation. Exactly one of Explanation or Error
// is meaningful; both empty means the response carried nothing usable.
type InvokeResult struct {
	Explanation string
	Error       *FunctionError
}

// Invoker calls a named explanation function.
type Invoker interface {
	Invoke(ctx context.Context, function string, req Request) (*InvokeResult, error)
}

// Valuer composes a valuation for the narrative.
type Valuer interface {
	CalculateFinalValuation(ctx context.Context, in model.ValuationInput) (*model.ValuationResult, error)
}

// Recorder counts explanation outcomes.
type Recorder interface {
	ExplanationRequested(provider, outcome string)
}

// Option configures a Generator.
type Option func(*Generator)

// WithFunction overrides the function name.
func WithFunction(name string) Option {
	return func(g *Generator) {
		if name != "" {
			g.function = name
		}
	}
}

// WithTimeout bounds each invocation.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRecorder reports outcomes under the given provider label.
func WithRecorder(r Recorder, provider string) Option {
	return func(g *Generator) {
		g.recorder = r
		g.provider = provider
	}
}

// Generator turns a valuation into an explanation.
type Generator struct {
	valuer   Valuer
	invoker  Invoker
	function string
	timeout  time.Duration
	recorder Recorder
	provider string
}

// NewGenerator creates a Generator.
func NewGenerator(valuer Valuer, invoker Invoker, opts ...Option) *Generator {
	g := &Generator{
		valuer:   valuer,
		invoker:  invoker,
		function: DefaultFunction,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate composes the valuation for p and asks the invoker to narrate it.
// Invalid vehicle input is returned as *model.InvalidInputError; every
// invocation failure is an *Error.
func (g *Generator) Generate(ctx context.Context, p Params) (string, error) {
	in := p.input()
	result, err := g.valuer.CalculateFinalValuation(ctx, in)
	if err != nil {
		return "", err
	}

	req := BuildRequest(p, in, result)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.invoker.Invoke(ctx, g.function, req)
	switch {
	case err != nil:
		return "", g.fail(&Error{Kind: KindTransport, Message: failedPrefix + transportMessage(err), Err: err})
	case res == nil:
		return "", g.fail(&Error{Kind: KindMalformed, Message: noExplanation})
	case res.Error != nil:
		return "", g.fail(&Error{Kind: KindService, Message: failedPrefix + res.Error.Message})
	}

	text := strings.TrimSpace(res.Explanation)
	if text == "" {
		return "", g.fail(&Error{Kind: KindMalformed, Message: noExplanation})
	}
	g.record("success")
	return text, nil
}

// transportMessage describes a failed call without the wrapping context
// added on the way up.
func transportMessage(err error) string {
	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		return "Network error"
	default:
		return eris.Cause(err).Error()
	}
}

func (g *Generator) fail(e *Error) error {
	zap.L().Warn("explain: generation failed",
		zap.String("function", g.function),
		zap.String("kind", e.Kind.String()),
		zap.String("message", e.Message),
	)
	g.record(e.Kind.String())
	return e
}

func (g *Generator) record(outcome string) {
	if g.recorder != nil {
		g.recorder.ExplanationRequested(g.provider, outcome)
	}
}

func (p Params) input() model.ValuationInput {
	var in model.ValuationInput
	if p.Input != nil {
		in = *p.Input
	}
	if p.Make != "" {
		in.Make = p.Make
	}
	if p.Model != "" {
		in.Model = p.Model
	}
	if p.Year != 0 {
		in.Year = p.Year
	}
	if p.Mileage != 0 {
		in.Mileage = p.Mileage
	}
	if p.Condition != "" {
		in.Condition = p.Condition
	}
	if p.Location != "" {
		in.ZipCode = p.Location
	}
	return in
}

// BuildRequest flattens a composed valuation into the function body. The
// caller's quoted valuation is kept when set; otherwise the composed
// estimate is used.
func BuildRequest(p Params, in model.ValuationInput, result *model.ValuationResult) Request {
	req := Request{
		Make:            in.Make,
		Model:           in.Model,
		Year:            in.Year,
		Mileage:         in.Mileage,
		Condition:       in.Condition,
		Location:        in.ZipCode,
		ZipCode:         in.ZipCode,
		Valuation:       p.Valuation,
		FinalValuation:  result.EstimatedValue,
		BaseMarketValue: result.BasePrice,
		Adjustments:     make([]RequestAdjustment, 0, len(result.Adjustments)),
	}
	if req.Valuation == 0 {
		req.Valuation = result.EstimatedValue
	}
	for _, a := range result.Adjustments {
		req.Adjustments = append(req.Adjustments, RequestAdjustment{
			Factor:      a.Factor,
			Impact:      a.Impact,
			Description: a.Description,
		})
		switch a.Factor {
		case model.FactorMileage:
			req.MileageAdj = a.Impact
		case model.FactorCondition:
			req.ConditionAdj = a.Impact
		case model.FactorLocation:
			req.ZipAdj = a.Impact
		case model.FactorFeatures:
			req.FeatureAdjTotal = a.Impact
		}
	}
	return req
}
