package task

import (
	"testing"
	"time"

	"github.com/deepfocal/taskwatch/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestSchedule_Interval(t *testing.T) {
	t.Parallel()
	s := DefaultSchedule()

	tests := []struct {
		iteration int
		want      time.Duration
	}{
		{1, 2 * time.Second},
		{10, 2 * time.Second},
		{11, 3 * time.Second},
		{30, 3 * time.Second},
		{31, 5 * time.Second},
		{149, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Interval(tt.iteration), "iteration %d", tt.iteration)
	}
}

func TestSchedule_Exhausted(t *testing.T) {
	t.Parallel()
	s := DefaultSchedule()

	assert.False(t, s.Exhausted(1))
	assert.False(t, s.Exhausted(149))
	assert.True(t, s.Exhausted(150))
}

func TestSchedule_Budget(t *testing.T) {
	t.Parallel()

	// 10 waits of 2s, 20 of 3s and 119 of 5s between 150 polls.
	assert.Equal(t, 675*time.Second, DefaultSchedule().Budget())
}

func TestScheduleFromConfig(t *testing.T) {
	t.Parallel()

	s := ScheduleFromConfig(config.PollingConfig{
		InitialInterval: time.Second,
		MediumInterval:  2 * time.Second,
		SlowInterval:    4 * time.Second,
		MediumAfter:     1,
		SlowAfter:       2,
		MaxIterations:   5,
	})

	assert.Equal(t, time.Second, s.Interval(1))
	assert.Equal(t, 2*time.Second, s.Interval(2))
	assert.Equal(t, 4*time.Second, s.Interval(3))
	assert.True(t, s.Exhausted(5))
}
