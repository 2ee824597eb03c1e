package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"palisade/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var _ Recorder = (*SQLite)(nil)

// SQLite implements Recorder backed by a SQLite database.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (or creates) the database at path and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so ad-hoc reads don't block the run in progress.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLite{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			started  INTEGER NOT NULL,
			finished INTEGER NOT NULL,
			mode     TEXT NOT NULL,
			created  INTEGER NOT NULL,
			replaced INTEGER NOT NULL,
			skipped  INTEGER NOT NULL,
			failed   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started)`,

		`CREATE TABLE IF NOT EXISTS run_outcomes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     INTEGER NOT NULL REFERENCES runs(id),
			symbol     TEXT NOT NULL,
			status     TEXT NOT NULL,
			action     TEXT,
			order_id   TEXT,
			stop_price REAL,
			reason     TEXT,
			error      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_run ON run_outcomes(run_id)`,

		`CREATE TABLE IF NOT EXISTS export_runs (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			started   INTEGER NOT NULL,
			finished  INTEGER NOT NULL,
			row_count INTEGER NOT NULL,
			cutoff    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exports_cutoff ON export_runs(cutoff)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:30], err)
		}
	}
	return nil
}

// RecordRun stores the report and its outcomes in one transaction.
func (r *SQLite) RecordRun(ctx context.Context, report domain.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO runs
		(started, finished, mode, created, replaced, skipped, failed)
		VALUES (?,?,?,?,?,?,?)`,
		report.Started.Unix(), report.Finished.Unix(), report.Mode,
		report.Created, report.Replaced, report.Skipped, report.Failed,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}

	for _, o := range report.Outcomes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_outcomes
			(run_id, symbol, status, action, order_id, stop_price, reason, error)
			VALUES (?,?,?,?,?,?,?,?)`,
			runID, o.Symbol, o.Status, string(o.Action), o.OrderID, o.StopPrice, o.Reason, o.Error,
		); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Symbol, err)
		}
	}

	return tx.Commit()
}

// LastRun returns the start time of the most recent recorded run.
func (r *SQLite) LastRun(ctx context.Context) (time.Time, bool, error) {
	var started int64
	err := r.db.QueryRowContext(ctx,
		`SELECT started FROM runs ORDER BY started DESC LIMIT 1`,
	).Scan(&started)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last run: %w", err)
	}
	return time.Unix(started, 0).UTC(), true, nil
}

// ExportCutoff returns the later of fallback and the newest recorded cutoff.
func (r *SQLite) ExportCutoff(ctx context.Context, fallback time.Time) (time.Time, error) {
	var cutoff sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(cutoff) FROM export_runs`).Scan(&cutoff)
	if err != nil {
		return time.Time{}, fmt.Errorf("query export cutoff: %w", err)
	}
	if !cutoff.Valid {
		return fallback, nil
	}
	recorded := time.Unix(0, cutoff.Int64).UTC()
	if fallback.After(recorded) {
		return fallback, nil
	}
	return recorded, nil
}

// RecordExport stores one export run. The cutoff keeps nanosecond precision
// so the strict greater-than filter never re-exports boundary rows.
func (r *SQLite) RecordExport(ctx context.Context, rec ExportRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO export_runs
		(started, finished, row_count, cutoff)
		VALUES (?,?,?,?)`,
		rec.Started.Unix(), rec.Finished.Unix(), rec.Rows, rec.Cutoff.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert export run: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *SQLite) Close() error {
	return r.db.Close()
}
