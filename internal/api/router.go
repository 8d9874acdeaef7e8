// Package api serves valuations, explanations and market data over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-cli/internal/explain"
	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/monitoring"
	"github.com/sells-group/valuation-cli/internal/store"
)

// Valuer composes valuations.
type Valuer interface {
	CalculateFinalValuation(ctx context.Context, in model.ValuationInput) (*model.ValuationResult, error)
}

// Explainer generates narrative explanations.
type Explainer interface {
	Generate(ctx context.Context, p explain.Params) (string, error)
}

// Enricher fills vehicle attributes from external lookups.
type Enricher interface {
	Enrich(ctx context.Context, in model.ValuationInput) model.ValuationInput
}

// MarketLookup resolves a ZIP market multiplier.
type MarketLookup interface {
	Multiplier(ctx context.Context, zip string) (float64, bool)
}

// SnapshotCollector summarizes recent activity.
type SnapshotCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.Snapshot, error)
}

// Deps are the collaborators behind the routes. Enricher, Market,
// Collector and Metrics are optional.
type Deps struct {
	Valuer      Valuer
	Explainer   Explainer
	Enricher    Enricher
	Store       store.Store
	Market      MarketLookup
	Collector   SnapshotCollector
	Metrics     http.Handler
	CORSOrigins []string
}

type handlers struct {
	Deps
}

// NewRouter builds the HTTP route tree.
func NewRouter(d Deps) http.Handler {
	h := &handlers{Deps: d}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/valuations", func(vr chi.Router) {
			vr.Post("/", h.createValuation)
			vr.Get("/", h.listValuations)
			vr.Get("/{id}", h.getValuation)
		})
		v1.Post("/explanations", h.createExplanation)
		v1.Get("/markets/{zip}", h.getMarket)
		v1.Get("/stats", h.stats)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
