// Package pool implements the bounded worker pool at the center of the
// engine. It dispatches work items FIFO to a set of goroutine workers whose
// size is governed by a live, externally adjustable concurrency limit, and
// folds per-item outcomes into a single aggregate result. Item failures are
// isolated: every submitted item yields exactly one result, and the pool
// always returns a complete aggregate, even under a deadline.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stratus-tools/paceline/internal/model"
)

// DefaultGrace is how long the pool waits for in-flight workers to honor
// cancellation after the run deadline expires.
const DefaultGrace = 5 * time.Second

// ErrInvalidSettings is returned when execution settings cannot drive a pool.
var ErrInvalidSettings = errors.New("invalid execution settings")

const (
	reasonTimeout  = "skipped: run deadline exceeded"
	reasonTimedOut = "timed out: worker did not respond to cancellation"
)

// Pool executes batches of work items with bounded concurrency.
type Pool struct {
	gate     *Gate
	logger   *slog.Logger
	grace    time.Duration
	onResult func(model.WorkerResult)
}

// New creates a pool from the given settings. It fails fast, before any item
// could run, if the optimal thread count is below 1.
func New(settings model.ExecutionSettings, logger *slog.Logger) (*Pool, error) {
	if settings.OptimalThreads < 1 {
		return nil, fmt.Errorf("%w: optimal threads %d, need >= 1", ErrInvalidSettings, settings.OptimalThreads)
	}
	max := settings.MaxSafeThreads
	if max < settings.OptimalThreads {
		max = settings.OptimalThreads
	}
	return &Pool{
		gate:   NewGate(settings.OptimalThreads, max),
		logger: logger,
		grace:  DefaultGrace,
	}, nil
}

// Gate exposes the shared concurrency accessor for the throttle controller.
func (p *Pool) Gate() *Gate {
	return p.gate
}

// SetGrace overrides the post-deadline grace period.
func (p *Pool) SetGrace(d time.Duration) {
	if d > 0 {
		p.grace = d
	}
}

// OnResult registers a hook invoked for each result as it is recorded. The
// hook runs on the dispatch goroutine, never concurrently with itself.
func (p *Pool) OnResult(fn func(model.WorkerResult)) {
	p.onResult = fn
}

// Execute runs all items and returns the aggregate outcome. Dispatch order is
// FIFO; completion order is unspecified. The context deadline, if any, causes
// still-pending items to be skipped and in-flight items to be cancelled with
// a bounded grace period. Execute always returns a complete result covering
// every submitted item.
func (p *Pool) Execute(ctx context.Context, items []model.WorkItem) *model.AggregateResult {
	start := time.Now()

	// Buffered to the item count so abandoned workers can still send their
	// result without leaking a goroutine.
	done := make(chan model.WorkerResult, len(items))
	inflight := make(map[string]struct{}, p.gate.Limit())
	results := make([]model.WorkerResult, 0, len(items))
	next := 0

	record := func(r model.WorkerResult) {
		results = append(results, r)
		itemsTotal.WithLabelValues(r.Status).Inc()
		if p.onResult != nil {
			p.onResult(r)
		}
	}

loop:
	for len(results)+len(inflight) < len(items) || len(inflight) > 0 {
		for next < len(items) && ctx.Err() == nil && p.gate.TryAcquire() {
			item := items[next]
			next++
			inflight[item.ID] = struct{}{}
			go p.run(ctx, item, done)
		}

		select {
		case r := <-done:
			p.gate.Release()
			delete(inflight, r.WorkItemID)
			record(r)
		case <-p.gate.Changed():
			// Limit moved; loop to fill any newly opened slots.
		case <-ctx.Done():
			break loop
		}
	}

	if ctx.Err() != nil && len(results) < len(items) {
		// Deadline: whatever never started is skipped immediately, then
		// in-flight workers get the grace period to honor cancellation.
		for ; next < len(items); next++ {
			record(model.WorkerResult{
				WorkItemID: items[next].ID,
				Status:     model.StatusSkipped,
				Message:    reasonTimeout,
			})
		}
		p.drain(done, inflight, record)
	}

	elapsed := time.Since(start)
	runDuration.Observe(elapsed.Seconds())
	return Merge(results, elapsed)
}

// drain collects results from in-flight workers after the deadline, marking
// any worker that outlives the grace period as abandoned.
func (p *Pool) drain(done <-chan model.WorkerResult, inflight map[string]struct{}, record func(model.WorkerResult)) {
	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	for len(inflight) > 0 {
		select {
		case r := <-done:
			p.gate.Release()
			delete(inflight, r.WorkItemID)
			record(r)
		case <-timer.C:
			abandoned := make([]string, 0, len(inflight))
			for id := range inflight {
				abandoned = append(abandoned, id)
			}
			for _, id := range abandoned {
				if p.logger != nil {
					p.logger.Warn("abandoning unresponsive worker", "work_item_id", id, "grace", p.grace)
				}
				delete(inflight, id)
				record(model.WorkerResult{
					WorkItemID: id,
					Status:     model.StatusError,
					Message:    reasonTimedOut,
				})
			}
		}
	}
}

// run executes a single work item in isolation. Panics and errors are
// captured into the result; nothing propagates to sibling items.
func (p *Pool) run(ctx context.Context, item model.WorkItem, done chan<- model.WorkerResult) {
	start := time.Now()
	res := model.WorkerResult{WorkItemID: item.ID, Status: model.StatusPassed}

	defer func() {
		if r := recover(); r != nil {
			res.Status = model.StatusError
			res.Message = fmt.Sprintf("panic: %v", r)
		}
		res.DurationMS = time.Since(start).Milliseconds()
		done <- res
	}()

	err := item.Action(ctx)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrWorkFailed):
		res.Status = model.StatusFailed
		res.Message = err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		res.Status = model.StatusSkipped
		res.Message = reasonTimeout
	default:
		res.Status = model.StatusError
		res.Message = err.Error()
	}
}
