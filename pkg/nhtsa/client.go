// Package nhtsa provides a client for the NHTSA vPIC VIN decoder and the
// recalls-by-vehicle API.
package nhtsa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the NHTSA lookups.
type Client interface {
	// DecodeVIN decodes a 17-character VIN into vehicle attributes.
	DecodeVIN(ctx context.Context, vin string) (*Vehicle, error)
	// Recalls lists recall campaigns for a make, model and model year.
	Recalls(ctx context.Context, vehicleMake, model string, year int) ([]Recall, error)
}

// Vehicle holds the decoded vPIC attributes used for valuation.
type Vehicle struct {
	VIN          string `json:"vin"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
	Trim         string `json:"trim,omitempty"`
	BodyClass    string `json:"body_class,omitempty"`
	FuelType     string `json:"fuel_type,omitempty"`
	Transmission string `json:"transmission,omitempty"`
}

// Recall is a single recall campaign.
type Recall struct {
	Campaign    string `json:"NHTSACampaignNumber"`
	Component   string `json:"Component"`
	Summary     string `json:"Summary"`
	Consequence string `json:"Consequence"`
	Remedy      string `json:"Remedy"`
	ReportDate  string `json:"ReportReceivedDate"`
}

// ErrInvalidVIN is returned for VINs that are not 17 characters or that
// vPIC cannot decode.
var ErrInvalidVIN = eris.New("nhtsa: invalid vin")

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the vPIC base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithRecallsBaseURL sets the recalls API base URL (for testing).
func WithRecallsBaseURL(u string) Option {
	return func(c *httpClient) {
		c.recallsBaseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit shared by both APIs.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	baseURL        string
	recallsBaseURL string
	http           *http.Client
	limiter        *rate.Limiter
}

// NewClient creates an NHTSA client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:        "https://vpic.nhtsa.dot.gov/api",
		recallsBaseURL: "https://api.nhtsa.gov",
		http:           &http.Client{Timeout: 15 * time.Second},
		limiter:        rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type decodeResponse struct {
	Count   int               `json:"Count"`
	Message string            `json:"Message"`
	Results []decodeVinValues `json:"Results"`
}

type decodeVinValues struct {
	Make              string `json:"Make"`
	Model             string `json:"Model"`
	ModelYear         string `json:"ModelYear"`
	Trim              string `json:"Trim"`
	BodyClass         string `json:"BodyClass"`
	FuelTypePrimary   string `json:"FuelTypePrimary"`
	TransmissionStyle string `json:"TransmissionStyle"`
	ErrorCode         string `json:"ErrorCode"`
	ErrorText         string `json:"ErrorText"`
}

// DecodeVIN calls vPIC DecodeVinValues.
func (c *httpClient) DecodeVIN(ctx context.Context, vin string) (*Vehicle, error) {
	vin = strings.ToUpper(strings.TrimSpace(vin))
	if len(vin) != 17 {
		return nil, eris.Wrapf(ErrInvalidVIN, "length %d", len(vin))
	}

	endpoint := fmt.Sprintf("%s/vehicles/DecodeVinValues/%s?format=json", c.baseURL, url.PathEscape(vin))
	var resp decodeResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, eris.Wrap(err, "nhtsa: decode vin")
	}
	if len(resp.Results) == 0 {
		return nil, eris.Wrap(ErrInvalidVIN, "no results")
	}

	r := resp.Results[0]
	if r.Make == "" || !decodeOK(r.ErrorCode) {
		return nil, eris.Wrapf(ErrInvalidVIN, "vpic error %s: %s", r.ErrorCode, r.ErrorText)
	}

	year, _ := strconv.Atoi(strings.TrimSpace(r.ModelYear))
	return &Vehicle{
		VIN:          vin,
		Make:         r.Make,
		Model:        r.Model,
		Year:         year,
		Trim:         r.Trim,
		BodyClass:    r.BodyClass,
		FuelType:     r.FuelTypePrimary,
		Transmission: r.TransmissionStyle,
	}, nil
}

// decodeOK reports whether the vPIC error codes indicate a usable decode.
// Code 0 is clean; codes 1 (check digit) and 14 leave attributes populated.
func decodeOK(codes string) bool {
	if codes == "" {
		return true
	}
	for _, code := range strings.Split(codes, ",") {
		switch strings.TrimSpace(code) {
		case "0", "1", "14":
		default:
			return false
		}
	}
	return true
}

type recallsResponse struct {
	Count   int      `json:"Count"`
	Message string   `json:"Message"`
	Results []Recall `json:"results"`
}

// Recalls calls recallsByVehicle.
func (c *httpClient) Recalls(ctx context.Context, vehicleMake, model string, year int) ([]Recall, error) {
	if vehicleMake == "" || model == "" || year <= 0 {
		return nil, eris.New("nhtsa: recalls requires make, model and year")
	}

	q := url.Values{}
	q.Set("make", vehicleMake)
	q.Set("model", model)
	q.Set("modelYear", strconv.Itoa(year))
	endpoint := c.recallsBaseURL + "/recalls/recallsByVehicle?" + q.Encode()

	var resp recallsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, eris.Wrap(err, "nhtsa: recalls")
	}
	return resp.Results, nil
}

func (c *httpClient) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return eris.Wrap(err, "read body")
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
