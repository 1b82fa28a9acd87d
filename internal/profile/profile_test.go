package profile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stratus-tools/paceline/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestHeuristicSettings(t *testing.T) {
	h := DefaultHeuristics()

	tests := []struct {
		name        string
		host        HostInfo
		ciMode      bool
		wantOptimal int
		wantMax     int
		wantRec     bool
	}{
		{"ci mode caps at 3", HostInfo{ProcessorCount: 16, TotalMemoryGB: 32}, true, 3, 16, false},
		{"ci mode small host", HostInfo{ProcessorCount: 2, TotalMemoryGB: 8}, true, 2, 2, false},
		{"low memory halves cores", HostInfo{ProcessorCount: 8, TotalMemoryGB: 3.5}, false, 4, 8, true},
		{"low memory floor of 2", HostInfo{ProcessorCount: 2, TotalMemoryGB: 2}, false, 2, 2, false},
		{"mid memory three quarters", HostInfo{ProcessorCount: 8, TotalMemoryGB: 6}, false, 6, 8, true},
		{"ample memory caps at 6", HostInfo{ProcessorCount: 16, TotalMemoryGB: 64}, false, 6, 16, true},
		{"ample memory small host", HostInfo{ProcessorCount: 4, TotalMemoryGB: 16}, false, 4, 4, true},
		{"single core never exceeds max safe", HostInfo{ProcessorCount: 1, TotalMemoryGB: 2}, false, 1, 1, false},
		{"zero cores treated as one", HostInfo{ProcessorCount: 0, TotalMemoryGB: 16}, false, 1, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HeuristicSettings(h, tt.host, model.WorkloadTest, tt.ciMode)

			if got.OptimalThreads != tt.wantOptimal {
				t.Errorf("OptimalThreads = %d, want %d", got.OptimalThreads, tt.wantOptimal)
			}
			if got.MaxSafeThreads != tt.wantMax {
				t.Errorf("MaxSafeThreads = %d, want %d", got.MaxSafeThreads, tt.wantMax)
			}
			if got.RecommendParallel != tt.wantRec {
				t.Errorf("RecommendParallel = %v, want %v", got.RecommendParallel, tt.wantRec)
			}
			if got.OptimalThreads > got.MaxSafeThreads {
				t.Errorf("OptimalThreads %d exceeds MaxSafeThreads %d", got.OptimalThreads, got.MaxSafeThreads)
			}
			if got.Source != model.SourceHeuristic {
				t.Errorf("Source = %q, want heuristic", got.Source)
			}
		})
	}
}

// fakeLookup returns a canned baseline or error.
type fakeLookup struct {
	baseline *model.Baseline
	err      error
}

func (f *fakeLookup) GetBaseline(_ context.Context, _, _ string) (*model.Baseline, error) {
	return f.baseline, f.err
}

func newTestProfiler(lookup BaselineLookup, host HostInfo) *Profiler {
	p := NewProfiler(lookup, discardLogger())
	p.hostFn = func() HostInfo { return host }
	return p
}

func TestDetectSettingsOverride(t *testing.T) {
	p := newTestProfiler(nil, HostInfo{ProcessorCount: 8, TotalMemoryGB: 16})

	override := &model.ExecutionSettings{OptimalThreads: 12, MaxSafeThreads: 12}
	got := p.DetectSettings(context.Background(), model.WorkloadBuild, false, override)

	if got.OptimalThreads != 12 {
		t.Errorf("OptimalThreads = %d, want 12 (override is verbatim)", got.OptimalThreads)
	}
	if got.Source != model.SourceOverride {
		t.Errorf("Source = %q, want override", got.Source)
	}
	if got.WorkloadType != model.WorkloadBuild {
		t.Errorf("WorkloadType = %q, want build", got.WorkloadType)
	}
}

func TestDetectSettingsValidatedBaseline(t *testing.T) {
	lookup := &fakeLookup{baseline: &model.Baseline{
		WorkloadType:       model.WorkloadTest,
		RecommendedThreads: 5,
		Validated:          true,
	}}
	p := newTestProfiler(lookup, HostInfo{ProcessorCount: 8, TotalMemoryGB: 16})

	got := p.DetectSettings(context.Background(), model.WorkloadTest, false, nil)

	if got.Source != model.SourceBaseline {
		t.Fatalf("Source = %q, want baseline", got.Source)
	}
	if got.OptimalThreads != 5 {
		t.Errorf("OptimalThreads = %d, want 5", got.OptimalThreads)
	}
	if got.MaxSafeThreads != 8 {
		t.Errorf("MaxSafeThreads = %d, want 8", got.MaxSafeThreads)
	}
}

func TestDetectSettingsBaselineClampedToCores(t *testing.T) {
	lookup := &fakeLookup{baseline: &model.Baseline{
		RecommendedThreads: 32,
		Validated:          true,
	}}
	p := newTestProfiler(lookup, HostInfo{ProcessorCount: 4, TotalMemoryGB: 16})

	got := p.DetectSettings(context.Background(), model.WorkloadTest, false, nil)

	if got.OptimalThreads != 4 {
		t.Errorf("OptimalThreads = %d, want 4 (clamped to core count)", got.OptimalThreads)
	}
}

func TestDetectSettingsIgnoresUnvalidatedBaseline(t *testing.T) {
	lookup := &fakeLookup{baseline: &model.Baseline{
		RecommendedThreads: 7,
		Validated:          false,
	}}
	p := newTestProfiler(lookup, HostInfo{ProcessorCount: 8, TotalMemoryGB: 16})

	got := p.DetectSettings(context.Background(), model.WorkloadTest, false, nil)

	if got.Source != model.SourceHeuristic {
		t.Errorf("Source = %q, want heuristic (unvalidated baseline ignored)", got.Source)
	}
}

func TestDetectSettingsLookupErrorFallsBack(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("store corrupt")}
	p := newTestProfiler(lookup, HostInfo{ProcessorCount: 8, TotalMemoryGB: 16})

	got := p.DetectSettings(context.Background(), model.WorkloadTest, false, nil)

	if got.Source != model.SourceHeuristic {
		t.Errorf("Source = %q, want heuristic after lookup error", got.Source)
	}
	if got.OptimalThreads < 1 {
		t.Errorf("OptimalThreads = %d, want >= 1", got.OptimalThreads)
	}
}

func TestDetectSettingsCIMode(t *testing.T) {
	// Scenario: CI on a 16-core host must stay at or under the CI cap and
	// not recommend parallel expansion.
	p := newTestProfiler(nil, HostInfo{ProcessorCount: 16, TotalMemoryGB: 64})

	got := p.DetectSettings(context.Background(), model.WorkloadTest, true, nil)

	if got.OptimalThreads > 3 {
		t.Errorf("OptimalThreads = %d, want <= 3 in CI mode", got.OptimalThreads)
	}
	if got.RecommendParallel {
		t.Error("RecommendParallel = true, want false in CI mode")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(HostInfo{ProcessorCount: 8})
	b := Fingerprint(HostInfo{ProcessorCount: 8})
	c := Fingerprint(HostInfo{ProcessorCount: 4})

	if a != b {
		t.Errorf("fingerprints for identical hosts differ: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("fingerprints for different core counts collide: %q", a)
	}
	if !strings.Contains(a, "8cpu") {
		t.Errorf("fingerprint %q does not encode core count", a)
	}
}

func TestDetectHostFallback(t *testing.T) {
	h := DefaultHeuristics()
	host := DetectHost(h, discardLogger())

	if host.ProcessorCount < 1 {
		t.Errorf("ProcessorCount = %d, want >= 1", host.ProcessorCount)
	}
	if host.TotalMemoryGB <= 0 {
		t.Errorf("TotalMemoryGB = %v, want > 0 (fallback applies on detection failure)", host.TotalMemoryGB)
	}
}
