package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-cli/internal/db"
	"github.com/sells-group/valuation-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// Statements prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_valuation":      `INSERT INTO valuations (id, make, model, year, zip_code, input, result, estimated_value, confidence_score, explanation, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"get_valuation":         `SELECT id, input, result, explanation, created_at FROM valuations WHERE id = $1`,
	"set_explanation":       `UPDATE valuations SET explanation = $1 WHERE id = $2`,
	"get_market_multiplier": `SELECT market_multiplier FROM market_adjustments WHERE zip_code = $1`,
}

var marketUpsert = db.UpsertConfig{
	Table:        "market_adjustments",
	Columns:      []string{"zip_code", "market_multiplier", "updated_at"},
	ConflictKeys: []string{"zip_code"},
}

// NewPostgres connects a pool of at most maxConns connections.
func NewPostgres(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close does not close it.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS valuations (
	id               TEXT PRIMARY KEY,
	make             TEXT NOT NULL,
	model            TEXT NOT NULL,
	year             INTEGER NOT NULL DEFAULT 0,
	zip_code         TEXT NOT NULL DEFAULT '',
	input            JSONB NOT NULL,
	result           JSONB NOT NULL,
	estimated_value  BIGINT NOT NULL,
	confidence_score INTEGER NOT NULL,
	explanation      TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS market_adjustments (
	zip_code          TEXT PRIMARY KEY,
	market_multiplier DOUBLE PRECISION NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_valuations_created_at ON valuations(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_valuations_make ON valuations(lower(make));
CREATE INDEX IF NOT EXISTS idx_valuations_zip ON valuations(zip_code);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateValuation(ctx context.Context, rec *model.ValuationRecord) error {
	prepareRecord(rec)

	input, result, err := marshalRecord(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal valuation")
	}

	_, err = s.pool.Exec(ctx, preparedStatements["insert_valuation"],
		rec.ID, rec.Input.Make, rec.Input.Model, rec.Input.Year, rec.Input.ZipCode,
		input, result, rec.Result.EstimatedValue, rec.Result.ConfidenceScore,
		rec.Explanation, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert valuation")
}

func (s *PostgresStore) GetValuation(ctx context.Context, id string) (*model.ValuationRecord, error) {
	rec, err := scanPostgresValuation(s.pool.QueryRow(ctx, preparedStatements["get_valuation"], id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: valuation %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get valuation %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListValuations(ctx context.Context, filter ValuationFilter) ([]model.ValuationRecord, error) {
	query := `SELECT id, input, result, explanation, created_at FROM valuations WHERE true`
	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Make != "" {
		query += ` AND lower(make) = ` + next(strings.ToLower(filter.Make))
	}
	if filter.ZipCode != "" {
		query += ` AND zip_code = ` + next(filter.ZipCode)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ` + next(filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ` + next(listLimit(filter.Limit))
	query += ` OFFSET ` + next(max(filter.Offset, 0))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list valuations")
	}
	defer rows.Close()

	recs := []model.ValuationRecord{}
	for rows.Next() {
		rec, err := scanPostgresValuation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan valuation")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list valuations iterate")
}

func (s *PostgresStore) SetExplanation(ctx context.Context, id, explanation string) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["set_explanation"], explanation, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set explanation %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: valuation %s", id)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	st := &Stats{Since: since.UTC()}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(NULLIF(explanation, '')),
		        COALESCE(AVG(estimated_value), 0)::float8, COALESCE(AVG(confidence_score), 0)::float8,
		        (SELECT COUNT(*) FROM market_adjustments)
		 FROM valuations WHERE created_at >= $1`,
		since.UTC(),
	).Scan(&st.Valuations, &st.Explained, &st.AvgEstimatedValue, &st.AvgConfidence, &st.MarketAdjustedZips)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: valuation stats")
	}
	return st, nil
}

func (s *PostgresStore) GetMarketMultiplier(ctx context.Context, zip string) (float64, error) {
	var m float64
	err := s.pool.QueryRow(ctx, preparedStatements["get_market_multiplier"], zip).Scan(&m)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "postgres: market adjustment %s", zip)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: get market multiplier %s", zip)
	}
	return m, nil
}

// UpsertMarketAdjustments stages rows with COPY and merges them in one
// transaction. Duplicate ZIPs keep the last row.
func (s *PostgresStore) UpsertMarketAdjustments(ctx context.Context, adjustments []model.MarketAdjustment) (int64, error) {
	now := time.Now().UTC()
	byZip := make(map[string]int, len(adjustments))
	rows := make([][]any, 0, len(adjustments))
	for _, a := range adjustments {
		zip := strings.TrimSpace(a.ZipCode)
		updated := a.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		row := []any{zip, a.MarketMultiplier, updated.UTC()}
		if i, ok := byZip[zip]; ok {
			rows[i] = row
			continue
		}
		byZip[zip] = len(rows)
		rows = append(rows, row)
	}

	n, err := db.BulkUpsert(ctx, s.pool, marketUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert market adjustments")
}

func (s *PostgresStore) ListMarketAdjustments(ctx context.Context) ([]model.MarketAdjustment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT zip_code, market_multiplier, updated_at FROM market_adjustments ORDER BY zip_code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list market adjustments")
	}
	defer rows.Close()

	out := []model.MarketAdjustment{}
	for rows.Next() {
		var a model.MarketAdjustment
		if err := rows.Scan(&a.ZipCode, &a.MarketMultiplier, &a.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan market adjustment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list market adjustments iterate")
}

func scanPostgresValuation(row pgx.Row) (*model.ValuationRecord, error) {
	var rec model.ValuationRecord
	var input, result []byte
	if err := row.Scan(&rec.ID, &input, &result, &rec.Explanation, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalRecord(&rec, input, result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal valuation")
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
