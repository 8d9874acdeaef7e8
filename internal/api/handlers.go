package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-cli/internal/explain"
	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/store"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type valuationResponse struct {
	model.ValuationRecord
	ExplanationError string `json:"explanation_error,omitempty"`
}

// createValuation composes and stores a valuation. ?explain=true also
// generates an explanation; explanation failures are reported alongside
// the stored record.
func (h *handlers) createValuation(w http.ResponseWriter, r *http.Request) {
	var in model.ValuationInput
	if !decodeBody(w, r, &in) {
		return
	}
	ctx := r.Context()

	if h.Enricher != nil {
		in = h.Enricher.Enrich(ctx, in)
	}

	result, err := h.Valuer.CalculateFinalValuation(ctx, in)
	if err != nil {
		var invalid *model.InvalidInputError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		zap.L().Error("api: valuation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "valuation failed")
		return
	}

	resp := valuationResponse{ValuationRecord: model.ValuationRecord{Input: in, Result: *result}}
	if wantExplanation(r) && h.Explainer != nil {
		text, err := h.Explainer.Generate(ctx, explain.Params{Input: &in, Valuation: result.EstimatedValue})
		if err != nil {
			resp.ExplanationError = err.Error()
		} else {
			resp.Explanation = text
		}
	}

	if err := h.Store.CreateValuation(ctx, &resp.ValuationRecord); err != nil {
		zap.L().Error("api: store valuation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store valuation")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func wantExplanation(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("explain"))
	return v
}

func (h *handlers) getValuation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetValuation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "valuation not found")
			return
		}
		zap.L().Error("api: get valuation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load valuation")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) listValuations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ValuationFilter{
		Make:    q.Get("make"),
		ZipCode: q.Get("zip"),
	}
	var ok bool
	if filter.Limit, ok = queryInt(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(w, q.Get("offset"), "offset"); !ok {
		return
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = since
	}

	recs, err := h.Store.ListValuations(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list valuations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list valuations")
		return
	}
	if recs == nil {
		recs = []model.ValuationRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func queryInt(w http.ResponseWriter, s, name string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

type explanationRequest struct {
	Make        string                `json:"make"`
	Model       string                `json:"model"`
	Year        int                   `json:"year"`
	Mileage     int                   `json:"mileage"`
	Condition   string                `json:"condition"`
	Location    string                `json:"location"`
	Valuation   int64                 `json:"valuation"`
	Input       *model.ValuationInput `json:"input,omitempty"`
	ValuationID string                `json:"valuation_id,omitempty"`
}

// createExplanation explains either a stored valuation (valuation_id) or
// the vehicle described in the body.
func (h *handlers) createExplanation(w http.ResponseWriter, r *http.Request) {
	var req explanationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if h.Explainer == nil {
		writeError(w, http.StatusServiceUnavailable, "explanations are not configured")
		return
	}
	ctx := r.Context()

	p := explain.Params{
		Make:      req.Make,
		Model:     req.Model,
		Year:      req.Year,
		Mileage:   req.Mileage,
		Condition: req.Condition,
		Location:  req.Location,
		Valuation: req.Valuation,
		Input:     req.Input,
	}
	if req.ValuationID != "" {
		rec, err := h.Store.GetValuation(ctx, req.ValuationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "valuation not found")
				return
			}
			zap.L().Error("api: get valuation", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load valuation")
			return
		}
		p.Input = &rec.Input
		if p.Valuation == 0 {
			p.Valuation = rec.Result.EstimatedValue
		}
	}

	text, err := h.Explainer.Generate(ctx, p)
	if err != nil {
		var invalid *model.InvalidInputError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if req.ValuationID != "" {
		if err := h.Store.SetExplanation(ctx, req.ValuationID, text); err != nil {
			zap.L().Warn("api: store explanation", zap.String("id", req.ValuationID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": text})
}

type marketResponse struct {
	ZipCode          string  `json:"zip_code"`
	MarketMultiplier float64 `json:"market_multiplier"`
	OnRecord         bool    `json:"on_record"`
}

func (h *handlers) getMarket(w http.ResponseWriter, r *http.Request) {
	zip := strings.TrimSpace(chi.URLParam(r, "zip"))
	if len(zip) < 3 {
		writeError(w, http.StatusBadRequest, "invalid zip code")
		return
	}
	resp := marketResponse{ZipCode: zip}
	if h.Market != nil {
		resp.MarketMultiplier, resp.OnRecord = h.Market.Multiplier(r.Context(), zip)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	if h.Collector == nil {
		writeError(w, http.StatusServiceUnavailable, "stats are not configured")
		return
	}
	hours, ok := queryInt(w, r.URL.Query().Get("hours"), "hours")
	if !ok {
		return
	}
	snap, err := h.Collector.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("api: collect stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
