package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-cli/internal/ingest"
	"github.com/sells-group/valuation-cli/internal/model"
)

func vehicleRows(n int) []ingest.VehicleRow {
	rows := make([]ingest.VehicleRow, n)
	for i := range rows {
		rows[i] = ingest.VehicleRow{
			Line:  i + 2,
			Input: model.ValuationInput{Make: "Toyota", Model: "Camry", Year: 2010 + i, Mileage: 1000 * i},
		}
	}
	return rows
}

func TestProcessBatch_PreservesOrder(t *testing.T) {
	results, err := processBatch(context.Background(), vehicleRows(6), 0, 3, func(_ context.Context, in model.ValuationInput) (*valuationOutcome, error) {
		if in.Year == 2012 {
			return nil, errors.New("boom")
		}
		return &valuationOutcome{Record: &model.ValuationRecord{Input: in, Result: model.ValuationResult{EstimatedValue: int64(in.Year)}}}, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 6)

	for i, r := range results {
		assert.Equal(t, i+2, r.Line)
	}
	assert.Equal(t, "boom", results[2].Error)
	assert.Nil(t, results[2].Record)
	assert.Equal(t, int64(2015), results[5].Record.Result.EstimatedValue)
}

func TestProcessBatch_Limit(t *testing.T) {
	var calls atomic.Int64
	results, err := processBatch(context.Background(), vehicleRows(10), 4, 2, func(_ context.Context, in model.ValuationInput) (*valuationOutcome, error) {
		calls.Add(1)
		return &valuationOutcome{Record: &model.ValuationRecord{Input: in}}, nil
	})
	require.NoError(t, err)
	assert.Len(t, results, 4)
	assert.Equal(t, int64(4), calls.Load())
}

func TestProcessBatch_ExplanationErrorRecorded(t *testing.T) {
	results, err := processBatch(context.Background(), vehicleRows(1), 0, 0, func(_ context.Context, in model.ValuationInput) (*valuationOutcome, error) {
		return &valuationOutcome{
			Record:         &model.ValuationRecord{Input: in},
			ExplanationErr: errors.New("Failed to generate explanation: quota"),
		}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, results[0].Record)
	assert.Equal(t, "Failed to generate explanation: quota", results[0].Error)
}

func TestProcessBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := processBatch(ctx, vehicleRows(2), 0, 1, func(context.Context, model.ValuationInput) (*valuationOutcome, error) {
		return &valuationOutcome{Record: &model.ValuationRecord{}}, nil
	})
	assert.ErrorContains(t, err, "batch cancelled")
}

func sampleResults() []batchResult {
	return []batchResult{
		{Line: 2, Record: &model.ValuationRecord{
			Input:  model.ValuationInput{Make: "Toyota", Model: "Camry", Year: 2018, Mileage: 45000, ZipCode: "90210"},
			Result: model.ValuationResult{BasePrice: 17500, TotalAdjustment: 2275, EstimatedValue: 19775, ConfidenceScore: 93},
		}},
		{Line: 3, Error: "invalid valuation input: make is required"},
	}
}

func TestWriteBatchCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBatchCSV(&buf, sampleResults()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, batchCSVHeader, records[0])
	assert.Equal(t, []string{"2", "Toyota", "Camry", "2018", "45000", "90210", "17500", "2275", "19775", "93", "", ""}, records[1])
	assert.Equal(t, "3", records[2][0])
	assert.Equal(t, "invalid valuation input: make is required", records[2][11])
}

func TestWriteBatchJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBatchJSON(&buf, sampleResults()))

	var got []batchResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(19775), got[0].Record.Result.EstimatedValue)
	assert.Nil(t, got[1].Record)
}
