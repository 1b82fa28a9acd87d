// Package profile detects host capacity and computes concurrency settings for
// a run. Detection never fails hard: platform query errors fall back to
// conservative defaults, and baseline lookups that error are treated as
// "no baseline" so heuristics apply.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/stratus-tools/paceline/internal/model"
)

// Heuristics holds the tunable constants behind settings detection. The
// memory tiers and CI cap are empirically chosen defaults, not invariants.
type Heuristics struct {
	CICap             int
	LowMemoryGB       float64
	MidMemoryGB       float64
	MaxDefaultThreads int
	MinThreads        int
	FallbackMemoryGB  float64
	ParallelMinCores  int
}

// DefaultHeuristics returns the stock detection constants.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		CICap:             3,
		LowMemoryGB:       4,
		MidMemoryGB:       8,
		MaxDefaultThreads: 6,
		MinThreads:        2,
		FallbackMemoryGB:  8,
		ParallelMinCores:  4,
	}
}

// HostInfo is the detected capacity of the machine running the engine.
type HostInfo struct {
	ProcessorCount int
	TotalMemoryGB  float64
}

// BaselineLookup is the subset of the store consulted during detection.
type BaselineLookup interface {
	GetBaseline(ctx context.Context, workloadType, fingerprint string) (*model.Baseline, error)
}

// Profiler computes ExecutionSettings for a run, consulting the baseline
// store when one is available.
type Profiler struct {
	lookup BaselineLookup
	logger *slog.Logger
	heur   Heuristics

	// hostFn is swapped in tests to simulate hosts of different sizes.
	hostFn func() HostInfo
}

// NewProfiler creates a profiler. lookup may be nil, in which case detection
// is purely heuristic.
func NewProfiler(lookup BaselineLookup, logger *slog.Logger) *Profiler {
	h := DefaultHeuristics()
	return &Profiler{
		lookup: lookup,
		logger: logger,
		heur:   h,
		hostFn: func() HostInfo { return DetectHost(h, logger) },
	}
}

// DetectHost queries processor count and total memory, falling back to
// conservative defaults when the memory query fails.
func DetectHost(h Heuristics, logger *slog.Logger) HostInfo {
	host := HostInfo{
		ProcessorCount: runtime.NumCPU(),
		TotalMemoryGB:  h.FallbackMemoryGB,
	}

	totalGB, err := totalMemoryGB()
	if err != nil {
		if logger != nil {
			logger.Warn("memory detection failed, using fallback",
				"fallback_gb", h.FallbackMemoryGB, "error", err)
		}
		return host
	}
	host.TotalMemoryGB = totalGB
	return host
}

// Fingerprint derives the baseline cache key component for a host. Baselines
// only transfer between machines with the same platform and core count.
func Fingerprint(host HostInfo) string {
	return fmt.Sprintf("%s-%s-%dcpu", runtime.GOOS, runtime.GOARCH, host.ProcessorCount)
}

// DetectSettings computes the concurrency settings for one run.
//
// An explicit override is returned verbatim apart from the source marker.
// Otherwise a validated baseline for (workloadType, host fingerprint) wins,
// and heuristics are the fallback.
func (p *Profiler) DetectSettings(ctx context.Context, workloadType string, ciMode bool, override *model.ExecutionSettings) model.ExecutionSettings {
	if override != nil {
		s := *override
		s.Source = model.SourceOverride
		if s.WorkloadType == "" {
			s.WorkloadType = workloadType
		}
		return s
	}

	host := p.hostFn()

	if p.lookup != nil {
		fp := Fingerprint(host)
		b, err := p.lookup.GetBaseline(ctx, workloadType, fp)
		if err == nil && b != nil && b.Validated {
			return model.ExecutionSettings{
				OptimalThreads:    clamp(b.RecommendedThreads, 1, host.ProcessorCount),
				MaxSafeThreads:    host.ProcessorCount,
				RecommendParallel: host.ProcessorCount >= p.heur.ParallelMinCores && !ciMode,
				Source:            model.SourceBaseline,
				WorkloadType:      workloadType,
			}
		}
		if err != nil && p.logger != nil {
			p.logger.Debug("baseline lookup failed, using heuristics",
				"workload_type", workloadType, "fingerprint", fp, "error", err)
		}
	}

	return HeuristicSettings(p.heur, host, workloadType, ciMode)
}

// HeuristicSettings computes settings from host capacity alone.
func HeuristicSettings(h Heuristics, host HostInfo, workloadType string, ciMode bool) model.ExecutionSettings {
	cores := host.ProcessorCount
	if cores < 1 {
		cores = 1
	}

	var optimal int
	switch {
	case ciMode:
		optimal = min(cores, h.CICap)
	case host.TotalMemoryGB < h.LowMemoryGB:
		optimal = max(cores/2, h.MinThreads)
	case host.TotalMemoryGB < h.MidMemoryGB:
		optimal = max(cores*3/4, h.MinThreads)
	default:
		optimal = min(cores, h.MaxDefaultThreads)
	}

	return model.ExecutionSettings{
		OptimalThreads:    clamp(optimal, 1, cores),
		MaxSafeThreads:    cores,
		RecommendParallel: cores >= h.ParallelMinCores && !ciMode,
		Source:            model.SourceHeuristic,
		WorkloadType:      workloadType,
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
