package model

import (
	"context"
	"errors"
	"time"
)

// Run status constants.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Work item outcome constants.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Workload type constants.
const (
	WorkloadTest     = "test"
	WorkloadBuild    = "build"
	WorkloadAnalysis = "analysis"
	WorkloadGeneral  = "general"
)

// Execution settings source constants.
const (
	SourceHeuristic = "heuristic"
	SourceBaseline  = "baseline"
	SourceOverride  = "override"
)

// Resource pressure level constants.
const (
	PressureLow    = "low"
	PressureMedium = "medium"
	PressureHigh   = "high"
)

// ErrWorkFailed marks an action error as an ordinary work failure (e.g. a
// failing test) rather than an infrastructure error. Actions wrap it with %w.
var ErrWorkFailed = errors.New("work item failed")

// validTransitions maps each run status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	RunPending: {
		RunRunning: true,
		RunFailed:  true,
	},
	RunRunning: {
		RunCompleted: true,
		RunFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one run status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ValidWorkloadType reports whether t is a recognized workload type tag.
func ValidWorkloadType(t string) bool {
	switch t {
	case WorkloadTest, WorkloadBuild, WorkloadAnalysis, WorkloadGeneral:
		return true
	}
	return false
}

// Action is the invocable body of a work item. The context carries the run
// deadline; an action that observes cancellation should return ctx.Err().
type Action func(ctx context.Context) error

// WorkItem is an independently executable unit of work. Immutable once submitted.
type WorkItem struct {
	ID     string
	Action Action
	Weight int
}

// WorkerResult is the outcome of exactly one work item.
type WorkerResult struct {
	WorkItemID string `json:"work_item_id"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Message    string `json:"message,omitempty"`
}

// Failure identifies one failed or errored work item within an aggregate.
type Failure struct {
	WorkItemID string `json:"work_item_id"`
	Message    string `json:"message"`
}

// AggregateResult is the merged outcome of a run. The four status counts
// always partition TotalCount, and TotalCount equals the number of submitted
// work items.
type AggregateResult struct {
	TotalCount   int            `json:"total_count"`
	PassedCount  int            `json:"passed_count"`
	FailedCount  int            `json:"failed_count"`
	SkippedCount int            `json:"skipped_count"`
	ErrorCount   int            `json:"error_count"`
	DurationMS   int64          `json:"duration_ms"`
	Failures     []Failure      `json:"failures"`
	PerItem      []WorkerResult `json:"per_item"`
}

// PassRate returns the percentage of passed items, 0 for an empty run.
func (a *AggregateResult) PassRate() float64 {
	if a.TotalCount == 0 {
		return 0
	}
	return float64(a.PassedCount) / float64(a.TotalCount) * 100
}

// ExecutionSettings is the concurrency configuration computed once per run.
// The snapshot is immutable; the live limit evolves separately inside the pool.
type ExecutionSettings struct {
	OptimalThreads    int    `json:"optimal_threads"`
	MaxSafeThreads    int    `json:"max_safe_threads"`
	RecommendParallel bool   `json:"recommend_parallel"`
	Source            string `json:"source"`
	WorkloadType      string `json:"workload_type"`
}

// ResourceSnapshot is a point-in-time view of host load. Produced every poll
// interval by the sampler; never persisted.
type ResourceSnapshot struct {
	Timestamp             time.Time `json:"timestamp"`
	CPUUtilizationPercent float64   `json:"cpu_utilization_percent"`
	AvailableMemoryGB     float64   `json:"available_memory_gb"`
	TotalMemoryGB         float64   `json:"total_memory_gb"`
	ProcessorCount        int       `json:"processor_count"`
	Pressure              string    `json:"pressure"`
}

// Baseline is an empirically measured optimal concurrency level for a workload
// type on a given host profile. A new calibration supersedes the old record
// for the same (workload type, fingerprint) key.
type Baseline struct {
	WorkloadType             string    `json:"workload_type"`
	HostFingerprint          string    `json:"host_fingerprint"`
	RecommendedThreads       int       `json:"recommended_threads"`
	ThroughputItemsPerSecond float64   `json:"throughput_items_per_sec"`
	ImprovementPercent       float64   `json:"improvement_percent"`
	SampleSize               int       `json:"sample_size"`
	CreatedAt                time.Time `json:"created_at"`
	Validated                bool      `json:"validated"`
}

// Run represents one execution of a batch of work items submitted to the engine.
type Run struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	WorkloadType string     `json:"workload_type"`
	CIMode       bool       `json:"ci_mode"`
	Threads      int        `json:"threads,omitempty"`
	MaxThreads   int        `json:"max_threads,omitempty"`
	Source       string     `json:"source,omitempty"`
	TotalCount   int        `json:"total_count"`
	PassedCount  int        `json:"passed_count"`
	FailedCount  int        `json:"failed_count"`
	SkippedCount int        `json:"skipped_count"`
	ErrorCount   int        `json:"error_count"`
	Error        string     `json:"error,omitempty"`
	DurationMS   *int64     `json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
