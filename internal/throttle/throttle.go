// Package throttle adjusts the pool's live concurrency limit in response to
// host pressure. It is a bounded proportional controller with hysteresis:
// sustained high pressure steps the limit down by one, sustained low pressure
// steps it up by one, and anything ambiguous leaves it alone. It only gates
// new dispatches; in-flight work is never preempted.
package throttle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/stratus-tools/paceline/internal/model"
	"github.com/stratus-tools/paceline/internal/pool"
	"github.com/stratus-tools/paceline/internal/profile"
)

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = 2 * time.Second

const (
	highStreakTrigger = 2
	lowStreakTrigger  = 3
)

// Controller samples host pressure on a fixed interval and nudges the gate.
type Controller struct {
	gate       *pool.Gate
	sampler    profile.Sampler
	interval   time.Duration
	thresholds profile.Thresholds
	logger     *slog.Logger

	highStreak int
	lowStreak  int

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Start launches the sampling loop. Stop must be called to release it.
func Start(gate *pool.Gate, sampler profile.Sampler, interval time.Duration, logger *slog.Logger) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c := &Controller{
		gate:       gate,
		sampler:    sampler,
		interval:   interval,
		thresholds: profile.DefaultThresholds(),
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.loop()
	return c
}

// Stop halts sampling and blocks until the loop has exited. Safe to call
// more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Controller) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.step()
		}
	}
}

// step takes one sample and feeds it through the hysteresis rules. A sampling
// failure is a transient no-op, never an error.
func (c *Controller) step() {
	snap, err := c.sampler.Sample()
	pressure := model.PressureMedium
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("resource sample failed, holding limit", "error", err)
		}
	} else {
		pressure = profile.ClassifyPressure(snap, c.thresholds)
	}
	c.observe(pressure)
}

// observe applies one classified sample. Two consecutive highs step the limit
// down, three consecutive lows step it up; medium resets both streaks.
func (c *Controller) observe(pressure string) {
	switch pressure {
	case model.PressureHigh:
		c.highStreak++
		c.lowStreak = 0
		if c.highStreak >= highStreakTrigger {
			c.highStreak = 0
			limit := c.gate.Adjust(-1)
			if c.logger != nil {
				c.logger.Info("throttling down", "limit", limit, "active", c.gate.Active())
			}
		}
	case model.PressureLow:
		c.lowStreak++
		c.highStreak = 0
		if c.lowStreak >= lowStreakTrigger {
			c.lowStreak = 0
			if c.gate.Limit() < c.gate.Max() {
				limit := c.gate.Adjust(1)
				if c.logger != nil {
					c.logger.Info("throttling up", "limit", limit, "active", c.gate.Active())
				}
			}
		}
	default:
		c.highStreak = 0
		c.lowStreak = 0
	}
}
