package profile

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/stratus-tools/paceline/internal/model"
)

const kibPerGiB = 1 << 20

// Thresholds classify a resource snapshot into a pressure level.
type Thresholds struct {
	CPUHighPercent  float64
	CPULowPercent   float64
	MemLowFraction  float64
	MemHighFraction float64
}

// DefaultThresholds returns the stock pressure classification bounds:
// High at >=85% CPU or <10% free memory, Low below 60% CPU with >20% free.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUHighPercent:  85,
		CPULowPercent:   60,
		MemLowFraction:  0.10,
		MemHighFraction: 0.20,
	}
}

// ClassifyPressure maps a snapshot to a pressure level. A snapshot without
// memory information (total of zero) classifies on CPU alone.
func ClassifyPressure(snap model.ResourceSnapshot, t Thresholds) string {
	freeFrac := -1.0
	if snap.TotalMemoryGB > 0 {
		freeFrac = snap.AvailableMemoryGB / snap.TotalMemoryGB
	}

	if snap.CPUUtilizationPercent >= t.CPUHighPercent || (freeFrac >= 0 && freeFrac < t.MemLowFraction) {
		return model.PressureHigh
	}
	if snap.CPUUtilizationPercent < t.CPULowPercent && (freeFrac < 0 || freeFrac > t.MemHighFraction) {
		return model.PressureLow
	}
	return model.PressureMedium
}

// Sampler produces point-in-time resource snapshots.
type Sampler interface {
	Sample() (model.ResourceSnapshot, error)
}

// ProcSampler reads CPU and memory state from /proc. CPU utilization is
// computed from the tick delta between consecutive samples; the first sample
// reports utilization since boot.
type ProcSampler struct {
	fs         procfs.FS
	thresholds Thresholds

	mu        sync.Mutex
	lastTotal float64
	lastIdle  float64
}

// NewProcSampler creates a sampler over the default /proc mount.
func NewProcSampler() (*ProcSampler, error) {
	fs, err := procfs.NewFS(procfs.DefaultMountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcSampler{fs: fs, thresholds: DefaultThresholds()}, nil
}

// Sample reads one snapshot. Callers treat an error as a transient no-op
// (medium pressure); it is never fatal to a run.
func (s *ProcSampler) Sample() (model.ResourceSnapshot, error) {
	stat, err := s.fs.Stat()
	if err != nil {
		return model.ResourceSnapshot{}, fmt.Errorf("read cpu stat: %w", err)
	}

	c := stat.CPUTotal
	idle := c.Idle + c.Iowait
	total := idle + c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal

	s.mu.Lock()
	dTotal := total - s.lastTotal
	dIdle := idle - s.lastIdle
	s.lastTotal, s.lastIdle = total, idle
	s.mu.Unlock()

	var util float64
	if dTotal > 0 {
		util = (dTotal - dIdle) / dTotal * 100
	}

	mi, err := s.fs.Meminfo()
	if err != nil {
		return model.ResourceSnapshot{}, fmt.Errorf("read meminfo: %w", err)
	}

	snap := model.ResourceSnapshot{
		Timestamp:             time.Now().UTC(),
		CPUUtilizationPercent: util,
		ProcessorCount:        runtime.NumCPU(),
	}
	if mi.MemAvailable != nil {
		snap.AvailableMemoryGB = float64(*mi.MemAvailable) / kibPerGiB
	}
	if mi.MemTotal != nil {
		snap.TotalMemoryGB = float64(*mi.MemTotal) / kibPerGiB
	}
	snap.Pressure = ClassifyPressure(snap, s.thresholds)

	return snap, nil
}

// totalMemoryGB reads MemTotal from /proc/meminfo.
func totalMemoryGB() (float64, error) {
	fs, err := procfs.NewFS(procfs.DefaultMountPoint)
	if err != nil {
		return 0, fmt.Errorf("open procfs: %w", err)
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	if mi.MemTotal == nil {
		return 0, fmt.Errorf("meminfo missing MemTotal")
	}
	return float64(*mi.MemTotal) / kibPerGiB, nil
}
