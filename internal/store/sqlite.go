package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kmsend/internal/delivery"
	"kmsend/internal/progress"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: not found")

// Store represents the SQLite run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs
// migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; the delivery worker and the web handlers share it
	db.SetMaxOpenConns(1)

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// MarkStaleRuns marks every run still recorded as running as aborted and
// returns how many were changed. Only the process holding the instance lock
// may call it; any other reader would abort a live run.
func (s *Store) MarkStaleRuns(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE runs SET status = ? WHERE status = ?", RunAborted, RunRunning)
	if err != nil {
		return 0, fmt.Errorf("mark stale runs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the connection for migration tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, runID, source string, total int, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, source, status, started_at, total)
		VALUES (?, ?, ?, ?, ?)`,
		runID, source, RunRunning, startedAt.UnixNano(), total,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordOutcome stores one recipient result.
func (s *Store) RecordOutcome(ctx context.Context, runID string, seq int, o delivery.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO outcomes (run_id, seq, name, delivered, category, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, o.Name, o.Delivered, string(o.Category), o.FailureReason, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// FinishRun stores the final counts of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, sum progress.Summary, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, total = ?, delivered = ?
		WHERE id = ?`,
		RunCompleted, finishedAt.UnixNano(), sum.Total, sum.Delivered, runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, source, status, started_at, finished_at, total, delivered`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var (
		r          Run
		startedAt  int64
		finishedAt sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Source, &r.Status, &startedAt, &finishedAt, &r.Total, &r.Delivered); err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, startedAt)
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64)
		r.FinishedAt = &t
	}
	if r.Status == RunCompleted {
		r.Failed = r.Total - r.Delivered
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its outcomes in recipient order.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	outcomes, err := s.queryOutcomes(ctx, "WHERE run_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, err
	}
	r.Outcomes = outcomes
	if r.Status != RunCompleted {
		r.Failed = 0
		for _, o := range outcomes {
			if !o.Delivered {
				r.Failed++
			}
		}
	}
	return r, nil
}

// RecipientHistory returns the latest outcomes for a member, newest first.
func (s *Store) RecipientHistory(ctx context.Context, name string, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryOutcomes(ctx, "WHERE name = ? ORDER BY recorded_at DESC LIMIT ?", name, limit)
}

func (s *Store) queryOutcomes(ctx context.Context, where string, args ...any) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, seq, name, delivered, category, reason, recorded_at FROM outcomes "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	out := make([]Outcome, 0)
	for rows.Next() {
		var (
			o  Outcome
			at int64
		)
		if err := rows.Scan(&o.RunID, &o.Seq, &o.Name, &o.Delivered, &o.Category, &o.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.RecordedAt = time.Unix(0, at)
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteRunsBefore removes runs started before t and returns how many were
// removed.
func (s *Store) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ? AND status != ?", t.UnixNano(), RunRunning)
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	return res.RowsAffected()
}
