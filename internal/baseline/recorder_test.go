package baseline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stratus-tools/paceline/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// memWriter records baselines in memory.
type memWriter struct {
	mu        sync.Mutex
	baselines []*model.Baseline
}

func (m *memWriter) PutBaseline(_ context.Context, b *model.Baseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines = append(m.baselines, b)
	return nil
}

// sleepWorkload yields n items that each sleep for d. Genuinely faster in
// parallel, since the items block rather than compete for CPU.
func sleepWorkload(n int, d time.Duration) WorkloadFactory {
	return func() []model.WorkItem {
		items := make([]model.WorkItem, n)
		for i := range items {
			items[i] = model.WorkItem{
				ID: fmt.Sprintf("cal-%d", i),
				Action: func(ctx context.Context) error {
					select {
					case <-time.After(d):
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				},
			}
		}
		return items
	}
}

func TestCreateBaselinePrefersParallel(t *testing.T) {
	w := &memWriter{}
	r := NewRecorder(w, testLogger())

	b, err := r.CreateBaseline(context.Background(), model.WorkloadTest,
		[]int{1, 4}, 3, sleepWorkload(8, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("CreateBaseline: %v", err)
	}

	if !b.Validated {
		t.Fatal("Validated = false, want true for a clean calibration")
	}
	if b.RecommendedThreads != 4 {
		t.Errorf("RecommendedThreads = %d, want 4 (parallel is genuinely faster)", b.RecommendedThreads)
	}
	if b.ImprovementPercent <= 0 {
		t.Errorf("ImprovementPercent = %v, want > 0", b.ImprovementPercent)
	}
	if b.ThroughputItemsPerSecond <= 0 {
		t.Errorf("ThroughputItemsPerSecond = %v, want > 0", b.ThroughputItemsPerSecond)
	}
	if b.SampleSize != 6 {
		t.Errorf("SampleSize = %d, want 6 (2 candidates x 3 iterations)", b.SampleSize)
	}
	if b.HostFingerprint == "" {
		t.Error("HostFingerprint is empty")
	}
	if len(w.baselines) != 1 {
		t.Errorf("persisted %d baselines, want 1", len(w.baselines))
	}
}

func TestCreateBaselineAllCandidatesFail(t *testing.T) {
	w := &memWriter{}
	r := NewRecorder(w, testLogger())

	broken := func() []model.WorkItem {
		return []model.WorkItem{{ID: "bad", Action: func(context.Context) error {
			return errors.New("sample workload broken")
		}}}
	}

	b, err := r.CreateBaseline(context.Background(), model.WorkloadBuild, []int{1, 2}, 2, broken)
	if err != nil {
		t.Fatalf("CreateBaseline: %v (total failure is data, not an error)", err)
	}

	if b.Validated {
		t.Error("Validated = true, want false when every candidate fails")
	}
	if b.RecommendedThreads < 1 {
		t.Errorf("RecommendedThreads = %d, want heuristic default >= 1", b.RecommendedThreads)
	}
	if len(w.baselines) != 1 {
		t.Errorf("persisted %d baselines, want 1 (unvalidated records are still stored)", len(w.baselines))
	}
}

func TestCreateBaselineParameterValidation(t *testing.T) {
	r := NewRecorder(nil, testLogger())
	factory := sleepWorkload(2, time.Millisecond)

	tests := []struct {
		name       string
		candidates []int
		iterations int
		factory    WorkloadFactory
	}{
		{"no candidates", nil, 3, factory},
		{"missing sequential", []int{2, 4}, 3, factory},
		{"zero iterations", []int{1, 2}, 0, factory},
		{"bad candidate", []int{1, 0}, 3, factory},
		{"nil factory", []int{1, 2}, 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.CreateBaseline(context.Background(), model.WorkloadTest, tt.candidates, tt.iterations, tt.factory)
			if !errors.Is(err, ErrInvalidCalibration) {
				t.Errorf("err = %v, want ErrInvalidCalibration", err)
			}
		})
	}
}

func TestCreateBaselineWithoutWriter(t *testing.T) {
	r := NewRecorder(nil, testLogger())

	b, err := r.CreateBaseline(context.Background(), model.WorkloadTest,
		[]int{1, 2}, 1, sleepWorkload(4, 5*time.Millisecond))
	if err != nil {
		t.Fatalf("CreateBaseline: %v", err)
	}
	if b == nil || !b.Validated {
		t.Fatalf("baseline = %+v, want validated measurement without persistence", b)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"single", []float64{3}, 3},
		{"odd", []float64{9, 1, 5}, 5},
		{"even", []float64{4, 1, 3, 2}, 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := median(tt.values); got != tt.want {
				t.Errorf("median(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}
