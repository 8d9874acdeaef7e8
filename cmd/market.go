package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-cli/internal/ingest"
	"github.com/sells-group/valuation-cli/internal/market"
	"github.com/sells-group/valuation-cli/internal/model"
)

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Manage ZIP market multipliers",
}

// -- market import --

var marketImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import ZIP market multipliers from CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("market"); err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("file")
		sheet, _ := cmd.Flags().GetString("sheet")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		tbl, err := ingest.ReadFile(ctx, path, ingest.XLSXOptions{SheetName: sheet})
		if err != nil {
			return err
		}
		adjustments, rejected, err := ingest.MarketAdjustments(tbl, time.Now())
		if err != nil {
			return err
		}
		for _, r := range rejected {
			zap.L().Warn("skipping row", zap.Int("line", r.Line), zap.String("reason", r.Reason))
		}

		if dryRun {
			zap.L().Info("dry run, nothing written",
				zap.Int("valid", len(adjustments)),
				zap.Int("rejected", len(rejected)),
			)
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertMarketAdjustments(ctx, adjustments)
		if err != nil {
			return eris.Wrap(err, "market import")
		}

		if cfg.Market.CacheDriver == "redis" {
			cache, rc, err := initMarketCache(ctx, cfg.Market)
			if err != nil {
				zap.L().Warn("redis unavailable, cache not primed", zap.Error(err))
			} else {
				defer rc.Close() //nolint:errcheck
				if err := market.NewService(st, cache).Prime(ctx, adjustments); err != nil {
					zap.L().Warn("prime market cache", zap.Error(err))
				}
			}
		}

		zap.L().Info("market import complete",
			zap.Int64("upserted", n),
			zap.Int("rejected", len(rejected)),
			zap.String("file", path),
		)
		return nil
	},
}

// -- market get --

var marketGetCmd = &cobra.Command{
	Use:   "get <zip>",
	Short: "Show the stored multiplier for a ZIP code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		v, err := st.GetMarketMultiplier(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "market get %s", args[0])
		}
		fmt.Fprintf(os.Stdout, "%s\t%+.2f%%\n", args[0], v)
		return nil
	},
}

// -- market list --

var marketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored ZIP multipliers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		adjustments, err := st.ListMarketAdjustments(ctx)
		if err != nil {
			return eris.Wrap(err, "market list")
		}
		if len(adjustments) == 0 {
			fmt.Fprintln(os.Stderr, "No market adjustments found.")
			return nil
		}
		formatMarketList(os.Stdout, adjustments)
		return nil
	},
}

func formatMarketList(w io.Writer, adjustments []model.MarketAdjustment) {
	sorted := make([]model.MarketAdjustment, len(adjustments))
	copy(sorted, adjustments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ZipCode < sorted[j].ZipCode })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ZIP\tMULTIPLIER\tUPDATED")
	for _, a := range sorted {
		fmt.Fprintf(tw, "%s\t%+.2f%%\t%s\n", a.ZipCode, a.MarketMultiplier, a.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func init() {
	marketImportCmd.Flags().String("file", "", "CSV or XLSX with zip_code and market_multiplier columns (required)")
	marketImportCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	marketImportCmd.Flags().Bool("dry-run", false, "validate the file without writing")
	_ = marketImportCmd.MarkFlagRequired("file")

	marketCmd.AddCommand(marketImportCmd)
	marketCmd.AddCommand(marketGetCmd)
	marketCmd.AddCommand(marketListCmd)
	rootCmd.AddCommand(marketCmd)
}
