// Package baseline calibrates the optimal concurrency level for a workload
// type by running a sample workload through the pool at several thread counts
// and persisting the winner. Calibration is an explicit, offline operation;
// the profiler only ever consumes validated baselines.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/stratus-tools/paceline/internal/model"
	"github.com/stratus-tools/paceline/internal/pool"
	"github.com/stratus-tools/paceline/internal/profile"
)

// ErrInvalidCalibration is returned for unusable calibration parameters.
var ErrInvalidCalibration = errors.New("invalid calibration parameters")

// WorkloadFactory produces a fresh batch of work items for one calibration
// pass. It is called once per iteration so passes never share item state.
type WorkloadFactory func() []model.WorkItem

// Writer is the subset of the store the recorder needs.
type Writer interface {
	PutBaseline(ctx context.Context, b *model.Baseline) error
}

// Recorder drives calibration runs and records the resulting baseline.
type Recorder struct {
	writer Writer
	logger *slog.Logger
	heur   profile.Heuristics
}

// NewRecorder creates a recorder. writer may be nil to measure without
// persisting.
func NewRecorder(writer Writer, logger *slog.Logger) *Recorder {
	return &Recorder{
		writer: writer,
		logger: logger,
		heur:   profile.DefaultHeuristics(),
	}
}

// CreateBaseline measures throughput for each candidate thread count and
// persists the best as the baseline for (workloadType, host fingerprint).
//
// Candidates must include 1 so improvement can be computed against sequential
// execution. Throughput per candidate is the median across iterations; an
// iteration only counts when every item passes. If no candidate produces a
// clean measurement, the heuristic default is recorded with validated=false
// rather than failing.
func (r *Recorder) CreateBaseline(ctx context.Context, workloadType string, candidates []int, iterations int, factory WorkloadFactory) (*model.Baseline, error) {
	if len(candidates) == 0 || iterations < 1 || factory == nil {
		return nil, fmt.Errorf("%w: need candidates, iterations >= 1 and a workload factory", ErrInvalidCalibration)
	}
	hasSequential := false
	maxThreads := 1
	for _, c := range candidates {
		if c < 1 {
			return nil, fmt.Errorf("%w: candidate thread count %d", ErrInvalidCalibration, c)
		}
		if c == 1 {
			hasSequential = true
		}
		if c > maxThreads {
			maxThreads = c
		}
	}
	if !hasSequential {
		return nil, fmt.Errorf("%w: candidates must include 1", ErrInvalidCalibration)
	}

	medians := make(map[int]float64, len(candidates))
	for _, c := range candidates {
		rates := r.measure(ctx, workloadType, c, maxThreads, iterations, factory)
		if len(rates) > 0 {
			medians[c] = median(rates)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("calibration interrupted: %w", err)
		}
	}

	host := profile.DetectHost(r.heur, r.logger)
	b := &model.Baseline{
		WorkloadType:    workloadType,
		HostFingerprint: profile.Fingerprint(host),
		SampleSize:      len(candidates) * iterations,
		CreatedAt:       time.Now().UTC(),
	}

	if len(medians) == 0 {
		// Every candidate failed; fall back to the heuristic default and mark
		// the record unusable for detection.
		b.RecommendedThreads = profile.HeuristicSettings(r.heur, host, workloadType, false).OptimalThreads
		b.Validated = false
		if r.logger != nil {
			r.logger.Warn("calibration workload failed for every candidate",
				"workload_type", workloadType, "fallback_threads", b.RecommendedThreads)
		}
	} else {
		best := candidates[0]
		for _, c := range candidates {
			if m, ok := medians[c]; ok && m > medians[best] {
				best = c
			}
		}
		b.RecommendedThreads = best
		b.ThroughputItemsPerSecond = medians[best]
		b.Validated = true
		if seq, ok := medians[1]; ok && seq > 0 {
			b.ImprovementPercent = (medians[best] - seq) / seq * 100
		}
		if r.logger != nil {
			r.logger.Info("calibration complete",
				"workload_type", workloadType,
				"recommended_threads", b.RecommendedThreads,
				"throughput_items_per_sec", b.ThroughputItemsPerSecond,
				"improvement_percent", b.ImprovementPercent)
		}
	}

	if r.writer != nil {
		if err := r.writer.PutBaseline(ctx, b); err != nil {
			return nil, fmt.Errorf("persist baseline: %w", err)
		}
	}
	return b, nil
}

// measure runs the sample workload at one thread count and returns the
// throughput of each clean iteration, in items per second.
func (r *Recorder) measure(ctx context.Context, workloadType string, threads, maxThreads, iterations int, factory WorkloadFactory) []float64 {
	rates := make([]float64, 0, iterations)

	for i := 0; i < iterations; i++ {
		if ctx.Err() != nil {
			return rates
		}

		items := factory()
		if len(items) == 0 {
			return rates
		}

		p, err := pool.New(model.ExecutionSettings{
			OptimalThreads: threads,
			MaxSafeThreads: maxThreads,
			WorkloadType:   workloadType,
			Source:         model.SourceHeuristic,
		}, r.logger)
		if err != nil {
			return rates
		}

		start := time.Now()
		agg := p.Execute(ctx, items)
		elapsed := time.Since(start)

		if agg.PassedCount != agg.TotalCount || elapsed <= 0 {
			continue
		}
		rates = append(rates, float64(agg.TotalCount)/elapsed.Seconds())
	}

	return rates
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
