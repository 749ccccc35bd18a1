package task

import (
	"time"

	"github.com/deepfocal/taskwatch/internal/config"
)

// Schedule is the poller's three-tier interval step function and iteration cap.
type Schedule struct {
	InitialInterval time.Duration
	MediumInterval  time.Duration
	SlowInterval    time.Duration
	// MediumAfter is the last iteration that waits InitialInterval.
	MediumAfter int
	// SlowAfter is the last iteration that waits MediumInterval.
	SlowAfter int
	// MaxIterations is the number of non-terminal polls after which the
	// task times out.
	MaxIterations int
}

// DefaultSchedule returns 2s for iterations 1-10, 3s up to 30, then 5s,
// with a cap of 150 iterations.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialInterval: 2 * time.Second,
		MediumInterval:  3 * time.Second,
		SlowInterval:    5 * time.Second,
		MediumAfter:     10,
		SlowAfter:       30,
		MaxIterations:   150,
	}
}

// ScheduleFromConfig builds a Schedule from the polling configuration.
func ScheduleFromConfig(cfg config.PollingConfig) Schedule {
	return Schedule{
		InitialInterval: cfg.InitialInterval,
		MediumInterval:  cfg.MediumInterval,
		SlowInterval:    cfg.SlowInterval,
		MediumAfter:     cfg.MediumAfter,
		SlowAfter:       cfg.SlowAfter,
		MaxIterations:   cfg.MaxIterations,
	}
}

// Interval returns the wait after the given 1-based iteration.
func (s Schedule) Interval(iteration int) time.Duration {
	switch {
	case iteration <= s.MediumAfter:
		return s.InitialInterval
	case iteration <= s.SlowAfter:
		return s.MediumInterval
	default:
		return s.SlowInterval
	}
}

// Exhausted reports whether a task still running after iteration must time out.
func (s Schedule) Exhausted(iteration int) bool {
	return iteration >= s.MaxIterations
}

// Budget is the total time waited before a task that never finishes times out.
func (s Schedule) Budget() time.Duration {
	var total time.Duration
	for i := 1; i < s.MaxIterations; i++ {
		total += s.Interval(i)
	}
	return total
}
