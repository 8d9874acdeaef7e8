package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/valuation-cli/internal/ingest"
	"github.com/sells-group/valuation-cli/internal/model"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Value every vehicle in a CSV or XLSX file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		inputPath, _ := cmd.Flags().GetString("input")
		sheet, _ := cmd.Flags().GetString("sheet")
		outputPath, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		limit, _ := cmd.Flags().GetInt("limit")
		withExplanation, _ := cmd.Flags().GetBool("explain")
		save, _ := cmd.Flags().GetBool("save")

		if format != "csv" && format != "json" {
			return eris.Errorf("unknown format %q (csv or json)", format)
		}

		tbl, err := ingest.ReadFile(ctx, inputPath, ingest.XLSXOptions{SheetName: sheet})
		if err != nil {
			return err
		}
		rows, rejected, err := ingest.Vehicles(tbl)
		if err != nil {
			return err
		}
		for _, r := range rejected {
			zap.L().Warn("skipping row", zap.Int("line", r.Line), zap.String("reason", r.Reason))
		}

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := processBatch(ctx, rows, limit, cfg.Batch.MaxConcurrent, func(ctx context.Context, in model.ValuationInput) (*valuationOutcome, error) {
			out, err := valuate(ctx, env, in, withExplanation)
			if err != nil {
				return nil, err
			}
			if save {
				if err := env.Store.CreateValuation(ctx, out.Record); err != nil {
					return nil, eris.Wrap(err, "save valuation")
				}
			}
			return out, nil
		})
		if err != nil {
			return err
		}

		w := io.Writer(os.Stdout)
		if outputPath != "" && outputPath != "-" {
			f, err := os.Create(outputPath)
			if err != nil {
				return eris.Wrap(err, "create output")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		if format == "json" {
			return writeBatchJSON(w, results)
		}
		return writeBatchCSV(w, results)
	},
}

// batchResult is the outcome for one input row.
type batchResult struct {
	Line   int                    `json:"line"`
	Record *model.ValuationRecord `json:"record,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

type valuateFunc func(ctx context.Context, in model.ValuationInput) (*valuationOutcome, error)

// processBatch applies limit, then values rows concurrently. Results keep
// input order; a failed row is recorded and does not abort the batch.
func processBatch(ctx context.Context, rows []ingest.VehicleRow, limit, concurrency int, fn valuateFunc) ([]batchResult, error) {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("vehicles", len(rows)),
		zap.Int("concurrency", concurrency),
	)

	results := make([]batchResult, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64
	for i, row := range rows {
		g.Go(func() error {
			results[i].Line = row.Line
			out, err := fn(gctx, row.Input)
			if err != nil {
				failed.Add(1)
				results[i].Error = err.Error()
				zap.L().Warn("valuation failed", zap.Int("line", row.Line), zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			results[i].Record = out.Record
			if out.ExplanationErr != nil {
				results[i].Error = out.ExplanationErr.Error()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "batch cancelled")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results, nil
}

var batchCSVHeader = []string{
	"line", "make", "model", "year", "mileage", "zip_code",
	"base_price", "total_adjustment", "estimated_value", "confidence_score", "explanation", "error",
}

func writeBatchCSV(w io.Writer, results []batchResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(batchCSVHeader); err != nil {
		return eris.Wrap(err, "write csv header")
	}
	for _, r := range results {
		row := make([]string, len(batchCSVHeader))
		row[0] = strconv.Itoa(r.Line)
		if rec := r.Record; rec != nil {
			row[1] = rec.Input.Make
			row[2] = rec.Input.Model
			row[3] = strconv.Itoa(rec.Input.Year)
			row[4] = strconv.Itoa(rec.Input.Mileage)
			row[5] = rec.Input.ZipCode
			row[6] = strconv.FormatInt(rec.Result.BasePrice, 10)
			row[7] = strconv.FormatInt(rec.Result.TotalAdjustment, 10)
			row[8] = strconv.FormatInt(rec.Result.EstimatedValue, 10)
			row[9] = strconv.Itoa(rec.Result.ConfidenceScore)
			row[10] = rec.Explanation
		}
		row[11] = r.Error
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "flush csv")
}

func writeBatchJSON(w io.Writer, results []batchResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(results), "write json")
}

func init() {
	batchCmd.Flags().String("input", "", "CSV or XLSX file of vehicles (required)")
	batchCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	batchCmd.Flags().String("output", "-", "output file (- for stdout)")
	batchCmd.Flags().String("format", "csv", "output format: csv or json")
	batchCmd.Flags().Int("limit", 0, "max vehicles to value (0 for all)")
	batchCmd.Flags().Bool("explain", false, "generate explanations")
	batchCmd.Flags().Bool("save", false, "persist valuations to the store")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}
