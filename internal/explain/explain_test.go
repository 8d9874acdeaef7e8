package explain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/rules"
	"github.com/sells-group/valuation-cli/internal/valuation"
)

func june2025() time.Time { return time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC) }

func composer() *valuation.Composer {
	return valuation.NewStandard(rules.DefaultTables(), nil, june2025, nil)
}

func camryParams() Params {
	return Params{
		Make:      "Toyota",
		Model:     "Camry",
		Year:      2018,
		Mileage:   45000,
		Condition: "Good",
		Location:  "90210",
		Valuation: 19775,
	}
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) ExplanationRequested(provider, outcome string) {
	m.Called(provider, outcome)
}

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) Invoke(ctx context.Context, function string, req Request) (*InvokeResult, error) {
	args := m.Called(ctx, function, req)
	res, _ := args.Get(0).(*InvokeResult)
	return res, args.Error(1)
}

func functionServer(t *testing.T, status int, reply string, inspect func(r *http.Request, body Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body Request
		require.NoError(t, json.Unmarshal(raw, &body))
		if inspect != nil {
			inspect(r, body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(reply)) //nolint:errcheck
	}))
}

func TestGenerate_Success(t *testing.T) {
	ts := functionServer(t, http.StatusOK, `{"explanation":"  Your Camry is worth $19,775. "}`, func(r *http.Request, body Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/functions/v1/generate-explanation", r.URL.Path)
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		assert.Equal(t, "Toyota", body.Make)
		assert.Equal(t, "Camry", body.Model)
		assert.Equal(t, 2018, body.Year)
		assert.Equal(t, 45000, body.Mileage)
		assert.Equal(t, "Good", body.Condition)
		assert.Equal(t, "90210", body.Location)
		assert.Equal(t, int64(19775), body.Valuation)
		assert.Equal(t, int64(17500), body.BaseMarketValue)
		assert.Equal(t, int64(875), body.MileageAdj)
		assert.Equal(t, int64(0), body.ConditionAdj)
		assert.Equal(t, int64(1400), body.ZipAdj)
		assert.Len(t, body.Adjustments, 15)
		assert.Equal(t, model.FactorMileage, body.Adjustments[0].Factor)
		assert.NotEmpty(t, body.Adjustments[0].Description)
	})
	defer ts.Close()

	rec := &mockRecorder{}
	rec.On("ExplanationRequested", "http", "success").Once()

	g := NewGenerator(composer(), NewHTTPInvoker(ts.URL+"/", "anon-key"), WithRecorder(rec, "http"))
	got, err := g.Generate(context.Background(), camryParams())
	require.NoError(t, err)
	assert.Equal(t, "Your Camry is worth $19,775.", got)
	rec.AssertExpectations(t)
}

func TestGenerate_ServiceError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		want   string
	}{
		{"error object", http.StatusBadRequest, `{"error":{"message":"quota exceeded"}}`, "Failed to generate explanation: quota exceeded"},
		{"error string", http.StatusInternalServerError, `{"error":"model unavailable"}`, "Failed to generate explanation: model unavailable"},
		{"message only", http.StatusUnauthorized, `{"message":"Invalid JWT"}`, "Failed to generate explanation: Invalid JWT"},
		{"no body", http.StatusBadGateway, `not json`, "Failed to generate explanation: Bad Gateway"},
		{"error with 200", http.StatusOK, `{"error":{"message":"upstream refused"}}`, "Failed to generate explanation: upstream refused"},
		{"generic failure message", http.StatusInternalServerError, `{"error":{"message":"Failed to generate explanation"}}`, "Failed to generate explanation: Failed to generate explanation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := functionServer(t, tt.status, tt.reply, nil)
			defer ts.Close()

			g := NewGenerator(composer(), NewHTTPInvoker(ts.URL, ""))
			got, err := g.Generate(context.Background(), camryParams())
			require.Error(t, err)
			assert.Empty(t, got)
			assert.Equal(t, tt.want, err.Error())

			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, KindService, e.Kind)
		})
	}
}

func TestGenerate_MissingExplanation(t *testing.T) {
	for _, reply := range []string{`{}`, `{"explanation":"   "}`, `garbage`} {
		ts := functionServer(t, http.StatusOK, reply, nil)

		rec := &mockRecorder{}
		rec.On("ExplanationRequested", "http", "malformed").Once()

		g := NewGenerator(composer(), NewHTTPInvoker(ts.URL, ""), WithRecorder(rec, "http"))
		_, err := g.Generate(context.Background(), camryParams())
		ts.Close()

		require.Error(t, err, reply)
		assert.Equal(t, "No explanation received from server", err.Error())
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, KindMalformed, e.Kind)
		rec.AssertExpectations(t)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	g := NewGenerator(composer(), NewHTTPInvoker(ts.URL, ""), WithTimeout(30*time.Millisecond))
	_, err := g.Generate(context.Background(), camryParams())
	require.Error(t, err)
	assert.Equal(t, "Failed to generate explanation: Request timed out", err.Error())

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindTransport, e.Kind)
}

func TestGenerate_TransportError(t *testing.T) {
	inv := &mockInvoker{}
	inv.On("Invoke", mock.Anything, "explain-v2", mock.AnythingOfType("explain.Request")).
		Return(nil, errors.New("connection refused")).Once()

	g := NewGenerator(composer(), inv, WithFunction("explain-v2"))
	_, err := g.Generate(context.Background(), camryParams())
	require.Error(t, err)
	assert.Equal(t, "Failed to generate explanation: connection refused", err.Error())
	inv.AssertExpectations(t)
}

func TestGenerate_TransportMessageHidesWrapping(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	_, err := NewGenerator(composer(), NewHTTPInvoker(addr, "")).Generate(context.Background(), camryParams())
	require.Error(t, err)
	assert.Equal(t, "Failed to generate explanation: Network error", err.Error())

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindTransport, e.Kind)
	assert.Contains(t, e.Err.Error(), "explain: send request")

	inv := &mockInvoker{}
	inv.On("Invoke", mock.Anything, DefaultFunction, mock.Anything).
		Return(nil, eris.Wrap(errors.New("stream reset"), "explain: read response")).Once()
	_, err = NewGenerator(composer(), inv).Generate(context.Background(), camryParams())
	require.Error(t, err)
	assert.Equal(t, "Failed to generate explanation: stream reset", err.Error())
}

func TestGenerate_NilResult(t *testing.T) {
	inv := &mockInvoker{}
	inv.On("Invoke", mock.Anything, DefaultFunction, mock.Anything).Return(nil, nil).Once()

	_, err := NewGenerator(composer(), inv).Generate(context.Background(), camryParams())
	require.Error(t, err)
	assert.Equal(t, "No explanation received from server", err.Error())
}

func TestGenerate_InvalidInput(t *testing.T) {
	inv := &mockInvoker{}
	p := camryParams()
	p.Make = ""

	_, err := NewGenerator(composer(), inv).Generate(context.Background(), p)
	require.Error(t, err)
	var invalid *model.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	inv.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything)
}

func TestParamsInputPrecedence(t *testing.T) {
	base := &model.ValuationInput{
		Make:     "Honda",
		Model:    "Civic",
		Year:     2020,
		ZipCode:  "10001",
		Features: []string{"sunroof"},
	}
	in := Params{Make: "Toyota", Location: "90210", Input: base}.input()
	assert.Equal(t, "Toyota", in.Make)
	assert.Equal(t, "Civic", in.Model)
	assert.Equal(t, 2020, in.Year)
	assert.Equal(t, "90210", in.ZipCode)
	assert.Equal(t, []string{"sunroof"}, in.Features)
	assert.Equal(t, "Honda", base.Make)
}

func TestBuildRequestDefaultsValuation(t *testing.T) {
	result := &model.ValuationResult{
		EstimatedValue: 21000,
		BasePrice:      20000,
		Adjustments: []model.AdjustmentBreakdown{
			{Factor: model.FactorFeatures, Impact: 700, Description: "2 premium features"},
			{Factor: model.FactorCondition, Impact: 300, Description: "Good"},
		},
	}
	req := BuildRequest(Params{}, model.ValuationInput{Make: "Ford", ZipCode: "60601"}, result)
	assert.Equal(t, int64(21000), req.Valuation)
	assert.Equal(t, int64(21000), req.FinalValuation)
	assert.Equal(t, int64(700), req.FeatureAdjTotal)
	assert.Equal(t, int64(300), req.ConditionAdj)
	assert.Equal(t, "60601", req.ZipCode)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "service_error", KindService.String())
	assert.Equal(t, "transport_error", KindTransport.String())
	assert.Equal(t, "malformed", KindMalformed.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
