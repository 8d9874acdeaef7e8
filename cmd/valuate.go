package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/valuation-cli/internal/explain"
	"github.com/sells-group/valuation-cli/internal/model"
)

var valuateCmd = &cobra.Command{
	Use:   "valuate",
	Short: "Value a single vehicle",
	Example: `  valuation-cli valuate --make Toyota --model Camry --year 2018 --mileage 45000 --condition Good --zip 90210
  valuation-cli valuate --vin 4T1B11HK5JU123456 --mileage 45000 --zip 90210 --explain --save`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		in, err := inputFromFlags(cmd.Flags())
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format != "table" && format != "json" {
			return eris.Errorf("unknown format %q (table or json)", format)
		}
		withExplanation, _ := cmd.Flags().GetBool("explain")
		save, _ := cmd.Flags().GetBool("save")

		env, err := initEnv(ctx, "valuate")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := valuate(ctx, env, in, withExplanation)
		if err != nil {
			return err
		}
		rec := out.Record
		if out.ExplanationErr != nil {
			zap.L().Warn("explanation failed", zap.Error(out.ExplanationErr))
			fmt.Fprintln(os.Stderr, out.ExplanationErr.Error())
		}

		if save {
			if err := env.Store.CreateValuation(ctx, rec); err != nil {
				return eris.Wrap(err, "save valuation")
			}
			zap.L().Info("valuation saved", zap.String("id", rec.ID))
		}

		if format == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		formatValuation(os.Stdout, rec)
		return nil
	},
}

// valuationOutcome is a composed record plus any explanation failure,
// which does not invalidate the valuation.
type valuationOutcome struct {
	Record         *model.ValuationRecord
	ExplanationErr error
}

// valuate enriches, values and optionally explains in.
func valuate(ctx context.Context, env *appEnv, in model.ValuationInput, withExplanation bool) (*valuationOutcome, error) {
	if env.Enricher != nil {
		in = env.Enricher.Enrich(ctx, in)
	}

	result, err := env.Composer.CalculateFinalValuation(ctx, in)
	if err != nil {
		return nil, err
	}
	out := &valuationOutcome{Record: &model.ValuationRecord{Input: in, Result: *result}}

	if withExplanation && env.Explainer != nil {
		out.Record.Explanation, out.ExplanationErr = env.Explainer.Generate(ctx,
			explain.Params{Input: &in, Valuation: result.EstimatedValue})
	}
	return out, nil
}

// inputFromFlags builds a ValuationInput. Optional scores are set only when
// their flags were given.
func inputFromFlags(fs *pflag.FlagSet) (model.ValuationInput, error) {
	str := func(name string) string { v, _ := fs.GetString(name); return strings.TrimSpace(v) }
	num := func(name string) int { v, _ := fs.GetInt(name); return v }

	in := model.ValuationInput{
		Make:             str("make"),
		Model:            str("model"),
		Year:             num("year"),
		Mileage:          num("mileage"),
		Condition:        str("condition"),
		ZipCode:          str("zip"),
		VIN:              strings.ToUpper(str("vin")),
		Trim:             str("trim"),
		BodyType:         str("body"),
		FuelType:         str("fuel"),
		TransmissionType: str("transmission"),
		ExteriorColor:    str("color"),
		AccidentCount:    num("accidents"),
		AccidentSeverity: model.AccidentSeverity(strings.ToLower(str("accident-severity"))),
		TitleStatus:      str("title"),
		WarrantyStatus:   str("warranty"),
	}
	in.Features, _ = fs.GetStringSlice("features")
	price, _ := fs.GetInt64("base-price")
	in.BasePrice = price

	if fs.Changed("color-multiplier") {
		v, _ := fs.GetFloat64("color-multiplier")
		in.ColorMultiplier = model.Float64(v)
	}
	if fs.Changed("photo-score") {
		v, _ := fs.GetFloat64("photo-score")
		in.PhotoScore = model.Float64(v)
	}
	if fs.Changed("driving-score") {
		in.DrivingScore = model.Int(num("driving-score"))
	}
	if fs.Changed("open-recall") {
		v, _ := fs.GetBool("open-recall")
		in.HasOpenRecall = model.Bool(v)
	}

	if in.VIN == "" && (in.Make == "" || in.Model == "") {
		return in, eris.New("either --vin or both --make and --model are required")
	}
	return in, nil
}

func addInputFlags(fs *pflag.FlagSet) {
	fs.String("make", "", "vehicle make")
	fs.String("model", "", "vehicle model")
	fs.Int("year", 0, "model year")
	fs.Int("mileage", 0, "odometer reading")
	fs.String("condition", "", "Excellent, Very Good, Good, Fair or Poor")
	fs.String("zip", "", "ZIP code for regional market adjustments")
	fs.String("vin", "", "VIN to decode via NHTSA (fills missing fields)")
	fs.String("trim", "", "trim level")
	fs.String("body", "", "body style (convertible, suv, truck, sport)")
	fs.String("fuel", "", "fuel type")
	fs.String("transmission", "", "transmission type")
	fs.String("color", "", "exterior color")
	fs.Float64("color-multiplier", 0, "explicit color multiplier (e.g. 1.03)")
	fs.StringSlice("features", nil, "premium features (repeat or comma-separate)")
	fs.Int("accidents", 0, "number of reported accidents")
	fs.String("accident-severity", "", "minor, moderate or severe")
	fs.String("title", "", "title status (clean, salvage, rebuilt, ...)")
	fs.String("warranty", "", "warranty status (none, factory, certified, extended)")
	fs.Bool("open-recall", false, "vehicle has an open recall")
	fs.Int("driving-score", 0, "telematics driving score 0-100")
	fs.Float64("photo-score", 0, "photo condition score 0-1")
	fs.Int64("base-price", 0, "override base price in dollars")
}

// formatValuation prints the result and adjustment breakdown.
func formatValuation(w io.Writer, rec *model.ValuationRecord) {
	p := message.NewPrinter(language.AmericanEnglish)
	in, res := rec.Input, rec.Result

	fmt.Fprintf(w, "%d %s %s", in.Year, in.Make, in.Model)
	if in.Trim != "" {
		fmt.Fprintf(w, " %s", in.Trim)
	}
	fmt.Fprintln(w)
	if rec.ID != "" {
		fmt.Fprintf(w, "ID:         %s\n", rec.ID)
	}
	fmt.Fprintf(w, "Base price: %s\n", dollars(p, res.BasePrice))
	fmt.Fprintf(w, "Estimated:  %s\n", dollars(p, res.EstimatedValue))
	fmt.Fprintf(w, "Confidence: %d%%\n\n", res.ConfidenceScore)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FACTOR\tIMPACT\tPCT\tDESCRIPTION")
	for _, a := range res.Adjustments {
		fmt.Fprintf(tw, "%s\t%s\t%+.1f%%\t%s\n", a.Factor, dollars(p, a.Impact), a.PercentAdjustment, a.Description)
	}
	fmt.Fprintf(tw, "TOTAL\t%s\t\t\n", dollars(p, res.TotalAdjustment))
	_ = tw.Flush()

	if rec.Explanation != "" {
		fmt.Fprintf(w, "\n%s\n", rec.Explanation)
	}
}

func dollars(p *message.Printer, v int64) string {
	if v < 0 {
		return p.Sprintf("-$%d", -v)
	}
	return p.Sprintf("$%d", v)
}

func init() {
	addInputFlags(valuateCmd.Flags())
	valuateCmd.Flags().Bool("explain", false, "generate a narrative explanation")
	valuateCmd.Flags().Bool("save", false, "persist the valuation to the store")
	valuateCmd.Flags().String("format", "table", "output format: table or json")
	rootCmd.AddCommand(valuateCmd)
}
