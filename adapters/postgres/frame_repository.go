// Package postgres persists accepted frames to PostgreSQL for downstream
// quantile aggregation, one row per (trial, node, date).
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver registration

	"github.com/lshin-apl/bucky/ports"
)

// FrameRepository implements the frame sink over one connection pool.
type FrameRepository struct {
	db *sqlx.DB
}

// Connect opens and pings the pool.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// NewFrameRepository wraps an open pool.
func NewFrameRepository(db *sqlx.DB) *FrameRepository {
	return &FrameRepository{db: db}
}

// EnsureSchema creates the output table if it does not exist.
func (r *FrameRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS forecast_outputs (
			run_id                    TEXT        NOT NULL,
			spawn                     INTEGER     NOT NULL,
			seed                      NUMERIC     NOT NULL,
			date                      DATE        NOT NULL,
			adm2                      INTEGER     NOT NULL,
			total_population          DOUBLE PRECISION NOT NULL,
			daily_reported_cases      DOUBLE PRECISION,
			daily_cases               DOUBLE PRECISION,
			daily_deaths              DOUBLE PRECISION,
			daily_hospitalizations    DOUBLE PRECISION,
			cumulative_reported_cases DOUBLE PRECISION,
			cumulative_cases          DOUBLE PRECISION,
			cumulative_deaths         DOUBLE PRECISION,
			current_hospitalizations  DOUBLE PRECISION,
			current_icu_usage         DOUBLE PRECISION,
			current_vent_usage        DOUBLE PRECISION,
			active_asymptomatic_cases DOUBLE PRECISION,
			case_reporting_rate       DOUBLE PRECISION,
			r_eff                     DOUBLE PRECISION,
			doubling_t                DOUBLE PRECISION,
			PRIMARY KEY (run_id, spawn, date, adm2)
		)`)
	if err != nil {
		return fmt.Errorf("ensure forecast_outputs: %w", err)
	}
	return nil
}

// Write inserts every (day, node) row of the frame in one transaction.
func (r *FrameRepository) Write(ctx context.Context, f *ports.Frame) error {
	cols := f.Columns()
	names := []string{"run_id", "spawn", "seed", "date", "adm2", "total_population"}
	for _, c := range cols {
		names = append(names, c.Name)
	}
	placeholders := make([]string, len(names))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO forecast_outputs (%s) VALUES (%s)",
		strings.Join(names, ", "), strings.Join(placeholders, ", "))

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin frame tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare frame insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(names))
	for d := 0; d < f.Days(); d++ {
		date := f.Date(d)
		for j, id := range f.Nodes {
			args = args[:0]
			args = append(args, string(f.RunID), f.Spawn, f.Seed, date, id, f.TotalPopulation[j])
			for _, c := range cols {
				args = append(args, finiteOrNull(c.Series.At(d, j)))
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert frame row: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Close releases the pool.
func (r *FrameRepository) Close() error { return r.db.Close() }

// finiteOrNull maps the infinities a flat history legitimately produces
// (doubling time) to NULL, which postgres floats cannot hold.
func finiteOrNull(v float64) interface{} {
	if v != v || v > 1.7e308 || v < -1.7e308 {
		return nil
	}
	return v
}

var _ ports.FrameSink = (*FrameRepository)(nil)
