package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// HTTPOption configures an HTTPInvoker.
type HTTPOption func(*HTTPInvoker)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(h *HTTPInvoker) { h.http = hc }
}

// HTTPInvoker calls functions hosted at {base}/functions/v1/{name}.
type HTTPInvoker struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPInvoker creates an invoker for the functions host at baseURL.
func NewHTTPInvoker(baseURL, apiKey string, opts ...HTTPOption) *HTTPInvoker {
	h := &HTTPInvoker{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

type functionResponse struct {
	Explanation string          `json:"explanation"`
	Error       json.RawMessage `json:"error"`
	Message     string          `json:"message"`
}

// Invoke posts req to the named function. Non-2xx replies and replies with
// an error field become a FunctionError rather than a Go error.
func (h *HTTPInvoker) Invoke(ctx context.Context, function string, req Request) (*InvokeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "explain: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/functions/v1/"+function, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "explain: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
		httpReq.Header.Set("apikey", h.apiKey)
	}

	resp, err := h.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "explain: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "explain: read response")
	}

	var fr functionResponse
	decodeErr := json.Unmarshal(raw, &fr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(fr.Error)
		if msg == "" {
			msg = fr.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &InvokeResult{Error: &FunctionError{Message: msg}}, nil
	}
	if decodeErr != nil {
		return &InvokeResult{}, nil
	}
	if msg := errorMessage(fr.Error); msg != "" {
		return &InvokeResult{Error: &FunctionError{Message: msg}}, nil
	}
	return &InvokeResult{Explanation: fr.Explanation}, nil
}

// errorMessage reads an error field that is either a string or an object
// with a message.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var fe FunctionError
	if err := json.Unmarshal(raw, &fe); err == nil {
		return fe.Message
	}
	return ""
}
