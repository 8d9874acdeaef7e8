package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/valuation-cli/internal/model"
)

// Fixed-width so stored timestamps sort lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS valuations (
	id               TEXT PRIMARY KEY,
	make             TEXT NOT NULL,
	model            TEXT NOT NULL,
	year             INTEGER NOT NULL DEFAULT 0,
	zip_code         TEXT NOT NULL DEFAULT '',
	input            TEXT NOT NULL,
	result           TEXT NOT NULL,
	estimated_value  INTEGER NOT NULL,
	confidence_score INTEGER NOT NULL,
	explanation      TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS market_adjustments (
	zip_code          TEXT PRIMARY KEY,
	market_multiplier REAL NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_valuations_created_at ON valuations(created_at);
CREATE INDEX IF NOT EXISTS idx_valuations_make ON valuations(make COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_valuations_zip ON valuations(zip_code);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateValuation(ctx context.Context, rec *model.ValuationRecord) error {
	prepareRecord(rec)

	input, result, err := marshalRecord(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal valuation")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO valuations (id, make, model, year, zip_code, input, result, estimated_value, confidence_score, explanation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Input.Make, rec.Input.Model, rec.Input.Year, rec.Input.ZipCode,
		string(input), string(result), rec.Result.EstimatedValue, rec.Result.ConfidenceScore,
		rec.Explanation, rec.CreatedAt.Format(sqliteTime),
	)
	return eris.Wrap(err, "sqlite: insert valuation")
}

func (s *SQLiteStore) GetValuation(ctx context.Context, id string) (*model.ValuationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input, result, explanation, created_at FROM valuations WHERE id = ?`, id)
	rec, err := scanValuation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: valuation %s", id)
	}
	return rec, err
}

func (s *SQLiteStore) ListValuations(ctx context.Context, filter ValuationFilter) ([]model.ValuationRecord, error) {
	query := `SELECT id, input, result, explanation, created_at FROM valuations WHERE 1=1`
	var args []any

	if filter.Make != "" {
		query += ` AND make = ? COLLATE NOCASE`
		args = append(args, filter.Make)
	}
	if filter.ZipCode != "" {
		query += ` AND zip_code = ?`
		args = append(args, filter.ZipCode)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC().Format(sqliteTime))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list valuations")
	}
	defer rows.Close() //nolint:errcheck

	recs := []model.ValuationRecord{}
	for rows.Next() {
		rec, err := scanValuation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list valuations iterate")
}

func (s *SQLiteStore) SetExplanation(ctx context.Context, id, explanation string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE valuations SET explanation = ? WHERE id = ?`, explanation, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set explanation %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: valuation %s", id)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	st := &Stats{Since: since.UTC()}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(NULLIF(explanation, '')),
		        COALESCE(AVG(estimated_value), 0), COALESCE(AVG(confidence_score), 0)
		 FROM valuations WHERE created_at >= ?`,
		since.UTC().Format(sqliteTime),
	).Scan(&st.Valuations, &st.Explained, &st.AvgEstimatedValue, &st.AvgConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: valuation stats")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM market_adjustments`).Scan(&st.MarketAdjustedZips); err != nil {
		return nil, eris.Wrap(err, "sqlite: market stats")
	}
	return st, nil
}

func (s *SQLiteStore) GetMarketMultiplier(ctx context.Context, zip string) (float64, error) {
	var m float64
	err := s.db.QueryRowContext(ctx,
		`SELECT market_multiplier FROM market_adjustments WHERE zip_code = ?`, zip).Scan(&m)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "sqlite: market adjustment %s", zip)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: get market multiplier %s", zip)
	}
	return m, nil
}

func (s *SQLiteStore) UpsertMarketAdjustments(ctx context.Context, adjustments []model.MarketAdjustment) (int64, error) {
	if len(adjustments) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin market upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO market_adjustments (zip_code, market_multiplier, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(zip_code) DO UPDATE SET market_multiplier = excluded.market_multiplier, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare market upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, a := range adjustments {
		updated := a.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		if _, err := stmt.ExecContext(ctx, strings.TrimSpace(a.ZipCode), a.MarketMultiplier, updated.UTC().Format(sqliteTime)); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert market adjustment %s", a.ZipCode)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit market upsert")
	}
	return n, nil
}

func (s *SQLiteStore) ListMarketAdjustments(ctx context.Context) ([]model.MarketAdjustment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT zip_code, market_multiplier, updated_at FROM market_adjustments ORDER BY zip_code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list market adjustments")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.MarketAdjustment{}
	for rows.Next() {
		var a model.MarketAdjustment
		var updated string
		if err := rows.Scan(&a.ZipCode, &a.MarketMultiplier, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan market adjustment")
		}
		if a.UpdatedAt, err = time.Parse(sqliteTime, updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse updated_at")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list market adjustments iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanValuation(row scannable) (*model.ValuationRecord, error) {
	var rec model.ValuationRecord
	var input, result, created string
	if err := row.Scan(&rec.ID, &input, &result, &rec.Explanation, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan valuation")
	}
	if err := unmarshalRecord(&rec, []byte(input), []byte(result)); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal valuation")
	}
	t, err := time.Parse(sqliteTime, created)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	rec.CreatedAt = t
	return &rec, nil
}

// prepareRecord assigns an ID and creation time when missing.
func prepareRecord(rec *model.ValuationRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
}

func marshalRecord(rec *model.ValuationRecord) (input, result []byte, err error) {
	if input, err = json.Marshal(rec.Input); err != nil {
		return nil, nil, err
	}
	if result, err = json.Marshal(rec.Result); err != nil {
		return nil, nil, err
	}
	return input, result, nil
}

func unmarshalRecord(rec *model.ValuationRecord, input, result []byte) error {
	if err := json.Unmarshal(input, &rec.Input); err != nil {
		return err
	}
	return json.Unmarshal(result, &rec.Result)
}
