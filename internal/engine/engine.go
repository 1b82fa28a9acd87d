package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stratus-tools/paceline/internal/model"
	"github.com/stratus-tools/paceline/internal/pool"
	"github.com/stratus-tools/paceline/internal/profile"
	"github.com/stratus-tools/paceline/internal/store"
	"github.com/stratus-tools/paceline/internal/throttle"
)

// Engine orchestrates asynchronous run execution.
type Engine struct {
	store    store.Store
	profiler *profile.Profiler
	sampler  profile.Sampler
	logger   *slog.Logger
	broker   *ResultBroker
	wg       sync.WaitGroup

	pollInterval time.Duration
	grace        time.Duration
	ciCap        int
}

// NewEngine creates a new execution engine. sampler may be nil, in which
// case adaptive throttling is disabled and the limit stays at its starting
// value.
func NewEngine(s store.Store, profiler *profile.Profiler, sampler profile.Sampler, logger *slog.Logger) *Engine {
	return &Engine{
		store:        s,
		profiler:     profiler,
		sampler:      sampler,
		logger:       logger,
		broker:       NewResultBroker(),
		pollInterval: throttle.DefaultInterval,
		grace:        pool.DefaultGrace,
		ciCap:        profile.DefaultHeuristics().CICap,
	}
}

// Broker returns the engine's result broker for SSE subscription.
func (e *Engine) Broker() *ResultBroker {
	return e.broker
}

// SetPollInterval overrides the throttle sampling interval.
func (e *Engine) SetPollInterval(d time.Duration) {
	if d > 0 {
		e.pollInterval = d
	}
}

// SetGrace overrides the post-deadline grace period for workers.
func (e *Engine) SetGrace(d time.Duration) {
	if d > 0 {
		e.grace = d
	}
}

// RunRequest carries everything the engine needs to execute one run.
type RunRequest struct {
	Run   *model.Run
	Items []model.WorkItem

	CIMode          bool
	ForceSequential bool

	// ThreadOverride pins the thread count explicitly, bypassing detection.
	// Zero means detect.
	ThreadOverride int

	// TimeoutS is the overall run deadline in seconds. Zero means none.
	TimeoutS int
}

// Submit persists a pending run record and launches asynchronous execution
// in a goroutine. The goroutine operates on a copy of the run to avoid data
// races with the caller.
func (e *Engine) Submit(ctx context.Context, req RunRequest) error {
	if req.Run == nil || len(req.Items) == 0 {
		return fmt.Errorf("run and items are required")
	}
	if req.ThreadOverride < 0 {
		return fmt.Errorf("%w: thread override %d", pool.ErrInvalidSettings, req.ThreadOverride)
	}

	if err := e.store.CreateRun(ctx, req.Run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	runCopy := *req.Run
	req.Run = &runCopy
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(req)
	}()

	return nil
}

// Wait blocks until all in-flight run goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// execute runs the lifecycle in a goroutine: pending -> running -> completed/failed.
func (e *Engine) execute(req RunRequest) {
	run := req.Run

	// Close the result stream when execution finishes, regardless of outcome.
	defer e.broker.Close(run.ID)

	if err := e.store.UpdateRunStatus(context.Background(), run.ID, model.RunRunning); err != nil {
		e.logger.Error("failed to transition to running", "run_id", run.ID, "error", err)
		e.finishFailed(run.ID, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}

	start := time.Now().UTC()

	settings := e.settingsFor(req)
	run.Threads = settings.OptimalThreads
	run.MaxThreads = settings.MaxSafeThreads
	run.Source = settings.Source

	p, err := pool.New(settings, e.logger)
	if err != nil {
		// Configuration errors abort before any item runs.
		e.finishFailed(run.ID, &start, err.Error())
		return
	}
	p.SetGrace(e.grace)
	if req.ForceSequential {
		p.Gate().Pin()
	}

	// Persist each result in completion order and publish it for live
	// subscribers. The hook runs on the dispatch goroutine only.
	var seq atomic.Int32
	p.OnResult(func(r model.WorkerResult) {
		n := int(seq.Add(1) - 1)
		if err := e.store.InsertResult(context.Background(), run.ID, n, r); err != nil {
			e.logger.Error("failed to persist result", "run_id", run.ID, "seq", n, "error", err)
		}
		e.broker.Publish(run.ID, r)
	})

	ctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if req.TimeoutS > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutS)*time.Second)
	}
	defer cancel()

	if e.sampler != nil && !req.ForceSequential {
		tc := throttle.Start(p.Gate(), e.sampler, e.pollInterval, e.logger)
		defer tc.Stop()
	}

	e.logger.Info("run started",
		"run_id", run.ID,
		"workload_type", run.WorkloadType,
		"items", len(req.Items),
		"threads", settings.OptimalThreads,
		"max_threads", settings.MaxSafeThreads,
		"source", settings.Source,
	)

	agg := p.Execute(ctx, req.Items)

	now := time.Now().UTC()
	dur := agg.DurationMS

	run.Status = model.RunCompleted
	run.TotalCount = agg.TotalCount
	run.PassedCount = agg.PassedCount
	run.FailedCount = agg.FailedCount
	run.SkippedCount = agg.SkippedCount
	run.ErrorCount = agg.ErrorCount
	run.DurationMS = &dur
	run.StartedAt = &start
	run.FinishedAt = &now

	if err := e.store.UpdateRun(context.Background(), run); err != nil {
		e.logger.Error("failed to update completed run", "run_id", run.ID, "error", err)
	}

	e.logger.Info("run finished",
		"run_id", run.ID,
		"passed", agg.PassedCount,
		"failed", agg.FailedCount,
		"skipped", agg.SkippedCount,
		"errors", agg.ErrorCount,
		"duration_ms", dur,
	)
}

// settingsFor resolves the execution settings for one request.
func (e *Engine) settingsFor(req RunRequest) model.ExecutionSettings {
	var override *model.ExecutionSettings
	if req.ThreadOverride > 0 {
		override = &model.ExecutionSettings{
			OptimalThreads: req.ThreadOverride,
			MaxSafeThreads: req.ThreadOverride,
		}
	}

	settings := e.profiler.DetectSettings(context.Background(), req.Run.WorkloadType, req.CIMode, override)

	if req.ForceSequential {
		settings.OptimalThreads = 1
	}
	if req.CIMode && settings.MaxSafeThreads > e.ciCap {
		// CI mode also caps how far the throttle controller may raise the limit.
		settings.MaxSafeThreads = e.ciCap
		if settings.OptimalThreads > e.ciCap {
			settings.OptimalThreads = e.ciCap
		}
	}

	return settings
}

// finishFailed marks a run as failed with the given error message.
// startedAt may be nil if execution never started.
func (e *Engine) finishFailed(id string, startedAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	var durationMS int64
	if startedAt != nil {
		durationMS = time.Since(*startedAt).Milliseconds()
	}

	r := &model.Run{
		ID:         id,
		Status:     model.RunFailed,
		Error:      errMsg,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}

	if err := e.store.UpdateRun(context.Background(), r); err != nil {
		e.logger.Error("failed to update failed run", "run_id", id, "error", err)
	}
}
