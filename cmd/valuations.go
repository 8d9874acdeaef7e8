package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/valuation-cli/internal/model"
	"github.com/sells-group/valuation-cli/internal/monitoring"
	"github.com/sells-group/valuation-cli/internal/store"
)

var valuationsCmd = &cobra.Command{
	Use:   "valuations",
	Short: "Inspect stored valuations",
}

// -- valuations list --

var valuationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored valuations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("records"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mk, _ := cmd.Flags().GetString("make")
		zip, _ := cmd.Flags().GetString("zip")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ValuationFilter{Make: mk, ZipCode: zip, Limit: limit}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		recs, err := st.ListValuations(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "valuations list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No valuations found.")
			return nil
		}
		formatValuationsList(os.Stdout, recs)
		return nil
	},
}

// -- valuations get --

var valuationsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a stored valuation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetValuation(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "valuations get")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		formatValuation(os.Stdout, rec)
		return nil
	},
}

// -- valuations stats --

var valuationsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent valuation activity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("hours")
		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return err
		}
		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func formatValuationsList(w io.Writer, recs []model.ValuationRecord) {
	p := message.NewPrinter(language.AmericanEnglish)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVEHICLE\tZIP\tESTIMATED\tCONF\tEXPLAINED\tCREATED")
	for _, r := range recs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		explained := "no"
		if r.Explanation != "" {
			explained = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d %s %s\t%s\t%s\t%d\t%s\t%s\n",
			id, r.Input.Year, r.Input.Make, r.Input.Model, r.Input.ZipCode,
			dollars(p, r.Result.EstimatedValue), r.Result.ConfidenceScore, explained,
			r.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func formatSnapshot(w io.Writer, s *monitoring.Snapshot) {
	p := message.NewPrinter(language.AmericanEnglish)
	fmt.Fprintf(w, "Last %d hours\n", s.LookbackHours)
	fmt.Fprintf(w, "  Valuations:        %d\n", s.Valuations)
	fmt.Fprintf(w, "  Explained:         %d (%.0f%%)\n", s.Explained, s.ExplanationRate*100)
	fmt.Fprintf(w, "  Avg estimate:      %s\n", dollars(p, int64(s.AvgEstimatedValue+0.5)))
	fmt.Fprintf(w, "  Avg confidence:    %.1f\n", s.AvgConfidence)
	fmt.Fprintf(w, "  Market ZIPs:       %d\n", s.MarketAdjustedZips)
}

func init() {
	valuationsListCmd.Flags().String("make", "", "filter by make (case-insensitive)")
	valuationsListCmd.Flags().String("zip", "", "filter by ZIP code")
	valuationsListCmd.Flags().Duration("since", 0, "only valuations newer than this (e.g. 24h)")
	valuationsListCmd.Flags().Int("limit", 50, "max number of valuations to display")

	valuationsGetCmd.Flags().Bool("json", false, "print the raw record as JSON")

	valuationsStatsCmd.Flags().Int("hours", 24, "lookback window in hours")

	valuationsCmd.AddCommand(valuationsListCmd)
	valuationsCmd.AddCommand(valuationsGetCmd)
	valuationsCmd.AddCommand(valuationsStatsCmd)
	rootCmd.AddCommand(valuationsCmd)
}
