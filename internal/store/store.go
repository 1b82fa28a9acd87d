package store

import (
	"context"
	"errors"

	"github.com/stratus-tools/paceline/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStats holds aggregate execution statistics across all persisted runs.
type RunStats struct {
	Total           int            `json:"total"`
	CountByStatus   map[string]int `json:"count_by_status"`
	CountByWorkload map[string]int `json:"count_by_workload"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for runs, per-item results, and
// calibration baselines.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	UpdateRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)

	InsertResult(ctx context.Context, runID string, seq int, res model.WorkerResult) error
	GetResults(ctx context.Context, runID string) ([]model.WorkerResult, error)

	PutBaseline(ctx context.Context, b *model.Baseline) error
	GetBaseline(ctx context.Context, workloadType, fingerprint string) (*model.Baseline, error)
	ListBaselines(ctx context.Context) ([]*model.Baseline, error)

	Close() error
}
