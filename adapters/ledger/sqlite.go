// Package ledger records every attempted trial in a local SQLite file so a
// run can be audited after the fact: which seeds were rejected, why, and
// how long each trial took.
package ledger

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // cgo-free sqlite driver registration

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/ports"
)

// SQLite implements the run ledger over one database file.
type SQLite struct {
	db *sqlx.DB
}

// Open creates or opens the ledger database and ensures its schema.
func Open(path string) (*SQLite, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// One writer at a time; the ensemble loop records sequentially.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id     TEXT PRIMARY KEY,
			base_seed  TEXT NOT NULL,
			trials     INTEGER NOT NULL,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS trials (
			run_id      TEXT    NOT NULL,
			spawn       INTEGER NOT NULL,
			seed        TEXT    NOT NULL,
			accepted    INTEGER NOT NULL,
			reason      TEXT    NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, spawn)
		);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Begin registers a run before its first trial.
func (l *SQLite) Begin(ctx context.Context, runID core.RunID, baseSeed uint64, trials int) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, base_seed, trials) VALUES (?, ?, ?)`,
		string(runID), fmt.Sprintf("%d", baseSeed), trials)
	if err != nil {
		return fmt.Errorf("ledger begin: %w", err)
	}
	return nil
}

// Record appends one trial outcome.
func (l *SQLite) Record(ctx context.Context, rec ports.TrialRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO trials (run_id, spawn, seed, accepted, reason, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.RunID), rec.Spawn, fmt.Sprintf("%d", rec.Seed),
		boolInt(rec.Accepted), rec.Reason, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("ledger record: %w", err)
	}
	return nil
}

// Close releases the database.
func (l *SQLite) Close() error { return l.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ ports.RunLedger = (*SQLite)(nil)
