package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stratus-tools/paceline/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    status        TEXT NOT NULL,
    workload_type TEXT NOT NULL,
    ci_mode       INTEGER NOT NULL DEFAULT 0,
    threads       INTEGER,
    max_threads   INTEGER,
    source        TEXT,
    total_count   INTEGER NOT NULL DEFAULT 0,
    passed_count  INTEGER NOT NULL DEFAULT 0,
    failed_count  INTEGER NOT NULL DEFAULT 0,
    skipped_count INTEGER NOT NULL DEFAULT 0,
    error_count   INTEGER NOT NULL DEFAULT 0,
    error         TEXT,
    duration_ms   INTEGER,
    created_at    DATETIME NOT NULL,
    started_at    DATETIME,
    finished_at   DATETIME
)`

const createResultsTable = `
CREATE TABLE IF NOT EXISTS run_results (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    work_item_id TEXT NOT NULL,
    status       TEXT NOT NULL,
    duration_ms  INTEGER NOT NULL,
    message      TEXT,
    UNIQUE (run_id, seq)
)`

const createBaselinesTable = `
CREATE TABLE IF NOT EXISTS baselines (
    workload_type            TEXT NOT NULL,
    host_fingerprint         TEXT NOT NULL,
    recommended_threads      INTEGER NOT NULL,
    throughput_items_per_sec REAL NOT NULL,
    improvement_percent      REAL NOT NULL,
    sample_size              INTEGER NOT NULL,
    created_at               DATETIME NOT NULL,
    validated                INTEGER NOT NULL,
    PRIMARY KEY (workload_type, host_fingerprint)
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createRunsTable, createResultsTable, createBaselinesTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (
			id, status, workload_type, ci_mode, threads, max_threads, source,
			total_count, passed_count, failed_count, skipped_count, error_count,
			error, duration_ms, created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, r.WorkloadType, r.CIMode, r.Threads, r.MaxThreads, r.Source,
		r.TotalCount, r.PassedCount, r.FailedCount, r.SkippedCount, r.ErrorCount,
		r.Error, r.DurationMS, r.CreatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r := &model.Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, workload_type, ci_mode, threads, max_threads, source,
			total_count, passed_count, failed_count, skipped_count, error_count,
			error, duration_ms, created_at, started_at, finished_at
		FROM runs WHERE id = ?`, id,
	).Scan(
		&r.ID, &r.Status, &r.WorkloadType, &r.CIMode, &r.Threads, &r.MaxThreads, &r.Source,
		&r.TotalCount, &r.PassedCount, &r.FailedCount, &r.SkippedCount, &r.ErrorCount,
		&r.Error, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC, along
// with the total count of all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, status, workload_type, ci_mode, threads, max_threads, source,
			total_count, passed_count, failed_count, skipped_count, error_count,
			error, duration_ms, created_at, started_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r := &model.Run{}
		if err := rows.Scan(
			&r.ID, &r.Status, &r.WorkloadType, &r.CIMode, &r.Threads, &r.MaxThreads, &r.Source,
			&r.TotalCount, &r.PassedCount, &r.FailedCount, &r.SkippedCount, &r.ErrorCount,
			&r.Error, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// UpdateRunStatus updates the status of a run. For terminal statuses it also
// sets finished_at.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id, status string) error {
	var result sql.Result
	var err error

	if status == model.RunCompleted || status == model.RunFailed {
		result, err = s.db.ExecContext(ctx,
			"UPDATE runs SET status = ?, finished_at = ? WHERE id = ?",
			status, time.Now().UTC(), id,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			"UPDATE runs SET status = ? WHERE id = ?",
			status, id,
		)
	}

	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateRun writes the final fields of a run after execution.
func (s *SQLiteStore) UpdateRun(ctx context.Context, r *model.Run) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET
			status = ?, threads = ?, max_threads = ?, source = ?,
			total_count = ?, passed_count = ?, failed_count = ?,
			skipped_count = ?, error_count = ?, error = ?, duration_ms = ?,
			started_at = ?, finished_at = ?
		WHERE id = ?`,
		r.Status, r.Threads, r.MaxThreads, r.Source,
		r.TotalCount, r.PassedCount, r.FailedCount,
		r.SkippedCount, r.ErrorCount, r.Error, r.DurationMS,
		r.StartedAt, r.FinishedAt,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetRunStats computes aggregate statistics across all runs.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		CountByStatus:   make(map[string]int),
		CountByWorkload: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	wrows, err := s.db.QueryContext(ctx,
		"SELECT workload_type, COUNT(*) FROM runs GROUP BY workload_type")
	if err != nil {
		return nil, fmt.Errorf("count by workload: %w", err)
	}
	defer wrows.Close()
	for wrows.Next() {
		var wt string
		var n int
		if err := wrows.Scan(&wt, &n); err != nil {
			return nil, fmt.Errorf("scan workload count: %w", err)
		}
		stats.CountByWorkload[wt] = n
	}
	if err := wrows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workload counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM runs WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// InsertResult persists one per-item result for a run. seq reflects
// completion order.
func (s *SQLiteStore) InsertResult(ctx context.Context, runID string, seq int, res model.WorkerResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_results (run_id, seq, work_item_id, status, duration_ms, message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, seq, res.WorkItemID, res.Status, res.DurationMS, res.Message,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResults returns all per-item results for a run in completion order.
func (s *SQLiteStore) GetResults(ctx context.Context, runID string) ([]model.WorkerResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT work_item_id, status, duration_ms, message
		FROM run_results WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	var results []model.WorkerResult
	for rows.Next() {
		var r model.WorkerResult
		if err := rows.Scan(&r.WorkItemID, &r.Status, &r.DurationMS, &r.Message); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	return results, nil
}

// PutBaseline writes a baseline, superseding any previous record for the same
// (workload type, host fingerprint) key.
func (s *SQLiteStore) PutBaseline(ctx context.Context, b *model.Baseline) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO baselines (
			workload_type, host_fingerprint, recommended_threads,
			throughput_items_per_sec, improvement_percent, sample_size,
			created_at, validated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.WorkloadType, b.HostFingerprint, b.RecommendedThreads,
		b.ThroughputItemsPerSecond, b.ImprovementPercent, b.SampleSize,
		b.CreatedAt, b.Validated,
	)
	if err != nil {
		return fmt.Errorf("put baseline: %w", err)
	}
	return nil
}

// GetBaseline retrieves the baseline for a (workload type, host fingerprint)
// key, or ErrNotFound.
func (s *SQLiteStore) GetBaseline(ctx context.Context, workloadType, fingerprint string) (*model.Baseline, error) {
	b := &model.Baseline{}
	err := s.db.QueryRowContext(ctx,
		`SELECT workload_type, host_fingerprint, recommended_threads,
			throughput_items_per_sec, improvement_percent, sample_size,
			created_at, validated
		FROM baselines WHERE workload_type = ? AND host_fingerprint = ?`,
		workloadType, fingerprint,
	).Scan(
		&b.WorkloadType, &b.HostFingerprint, &b.RecommendedThreads,
		&b.ThroughputItemsPerSecond, &b.ImprovementPercent, &b.SampleSize,
		&b.CreatedAt, &b.Validated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	return b, nil
}

// ListBaselines returns all persisted baselines, newest first.
func (s *SQLiteStore) ListBaselines(ctx context.Context) ([]*model.Baseline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workload_type, host_fingerprint, recommended_threads,
			throughput_items_per_sec, improvement_percent, sample_size,
			created_at, validated
		FROM baselines ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	var baselines []*model.Baseline
	for rows.Next() {
		b := &model.Baseline{}
		if err := rows.Scan(
			&b.WorkloadType, &b.HostFingerprint, &b.RecommendedThreads,
			&b.ThroughputItemsPerSecond, &b.ImprovementPercent, &b.SampleSize,
			&b.CreatedAt, &b.Validated,
		); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		baselines = append(baselines, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate baselines: %w", err)
	}

	return baselines, nil
}
