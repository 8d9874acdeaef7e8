package ingest

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-cli/internal/model"
)

// VehicleRow is one parsed vehicle with its source line.
type VehicleRow struct {
	Line  int
	Input model.ValuationInput
}

// Vehicles converts a table into valuation inputs. Numeric fields that fail
// to parse reject the row; required-field validation is left to the
// composer.
func Vehicles(t *Table) ([]VehicleRow, []RowError, error) {
	cols := indexHeader(t.Header)
	for _, required := range [][]string{{"make"}, {"model"}, {"year"}} {
		if !cols.has(required...) {
			return nil, nil, eris.Errorf("ingest: vehicle file has no %s column", required[0])
		}
	}

	out := make([]VehicleRow, 0, len(t.Rows))
	var rejected []RowError
	for i, row := range t.Rows {
		line := i + 2
		in, reason := parseVehicle(cols, row)
		if reason != "" {
			rejected = append(rejected, RowError{Line: line, Reason: reason})
			continue
		}
		out = append(out, VehicleRow{Line: line, Input: in})
	}
	return out, rejected, nil
}

func parseVehicle(cols columns, row []string) (model.ValuationInput, string) {
	get := func(aliases ...string) string { return cols.lookup(row, aliases...) }

	in := model.ValuationInput{
		Make:             get("make"),
		Model:            get("model"),
		Condition:        get("condition"),
		ZipCode:          normalizeZip(get(zipAliases...)),
		VIN:              strings.ToUpper(get("vin")),
		Trim:             get("trim"),
		BodyType:         get("bodytype", "body"),
		FuelType:         get("fueltype", "fuel"),
		TransmissionType: get("transmissiontype", "transmission"),
		ExteriorColor:    get("exteriorcolor", "color"),
		Features:         splitList(get("features")),
		AccidentSeverity: model.AccidentSeverity(strings.ToLower(get("accidentseverity"))),
		TitleStatus:      get("titlestatus", "title"),
		WarrantyStatus:   get("warrantystatus", "warranty"),
	}

	var err error
	if in.Year, err = optInt(get("year")); err != nil {
		return in, "invalid year"
	}
	if in.Mileage, err = optInt(strings.ReplaceAll(get("mileage", "miles", "odometer"), ",", "")); err != nil {
		return in, "invalid mileage"
	}
	if in.AccidentCount, err = optInt(get("accidentcount", "accidents")); err != nil {
		return in, "invalid accident count"
	}
	price, err := optInt(strings.TrimPrefix(strings.ReplaceAll(get("baseprice", "price"), ",", ""), "$"))
	if err != nil {
		return in, "invalid base price"
	}
	in.BasePrice = int64(price)

	if s := get("colormultiplier"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return in, "invalid color multiplier"
		}
		in.ColorMultiplier = model.Float64(v)
	}
	if s := get("photoscore"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return in, "invalid photo score"
		}
		in.PhotoScore = model.Float64(v)
	}
	if s := get("drivingscore"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return in, "invalid driving score"
		}
		in.DrivingScore = model.Int(v)
	}
	if s := get("hasopenrecall", "openrecall", "recall"); s != "" {
		v, err := strconv.ParseBool(strings.ToLower(s))
		if err != nil {
			switch strings.ToLower(s) {
			case "yes", "y":
				v = true
			case "no", "n":
				v = false
			default:
				return in, "invalid open recall flag"
			}
		}
		in.HasOpenRecall = model.Bool(v)
	}
	return in, ""
}

func optInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// splitList splits on semicolons or pipes; commas are left alone because
// they appear inside feature names.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
