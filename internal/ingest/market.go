package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-cli/internal/model"
)

var (
	zipAliases        = []string{"zipcode", "zip", "postalcode", "location"}
	multiplierAliases = []string{"marketmultiplier", "multiplier", "adjustment", "percent"}
)

// RowError describes a rejected input row. Line is 1-based and counts the
// header.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// MarketAdjustments converts a table into market adjustments stamped with
// now. Rows that fail to parse are reported and skipped.
func MarketAdjustments(t *Table, now time.Time) ([]model.MarketAdjustment, []RowError, error) {
	cols := indexHeader(t.Header)
	if !cols.has(zipAliases...) {
		return nil, nil, eris.New("ingest: market file has no zip_code column")
	}
	if !cols.has(multiplierAliases...) {
		return nil, nil, eris.New("ingest: market file has no market_multiplier column")
	}

	out := make([]model.MarketAdjustment, 0, len(t.Rows))
	var rejected []RowError
	for i, row := range t.Rows {
		line := i + 2
		zip := normalizeZip(cols.lookup(row, zipAliases...))
		if zip == "" {
			rejected = append(rejected, RowError{Line: line, Reason: "missing zip code"})
			continue
		}
		raw := strings.TrimSuffix(cols.lookup(row, multiplierAliases...), "%")
		mult, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			rejected = append(rejected, RowError{Line: line, Reason: fmt.Sprintf("invalid multiplier %q", raw)})
			continue
		}
		out = append(out, model.MarketAdjustment{
			ZipCode:          zip,
			MarketMultiplier: mult,
			UpdatedAt:        now.UTC(),
		})
	}
	return out, rejected, nil
}

// normalizeZip keeps the 5-digit prefix of ZIP+4 codes and restores
// leading zeros spreadsheets drop.
func normalizeZip(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '-'); i > 0 {
		s = s[:i]
	}
	if s == "" {
		return ""
	}
	if _, err := strconv.Atoi(s); err == nil && len(s) < 5 {
		s = strings.Repeat("0", 5-len(s)) + s
	}
	return s
}
