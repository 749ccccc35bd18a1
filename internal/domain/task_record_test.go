package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func ptr(v float64) *float64 { return &v }

func TestNewTaskRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	r, err := NewTaskRecord("app.demo", "t1", "42", KindFull, StatusProgress, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != StatusProgress {
		t.Errorf("status = %s, want progress", r.Status)
	}
	if r.EstimatedDurationMs != 300000 {
		t.Errorf("estimate = %d, want 300000", r.EstimatedDurationMs)
	}
	if r.StepDescription != "Analyzing reviews..." {
		t.Errorf("step = %q", r.StepDescription)
	}
	if !r.StartedAt.Equal(now) {
		t.Errorf("started at = %v", r.StartedAt)
	}

	r, err = NewTaskRecord("app.demo", "t1", "", KindQuick, StatusSuccess, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("terminal initial status should be recorded as pending, got %s", r.Status)
	}

	if _, err := NewTaskRecord("", "t1", "", KindQuick, StatusPending, now); !errors.Is(err, ErrSubjectRequired) {
		t.Errorf("expected ErrSubjectRequired, got %v", err)
	}
	if _, err := NewTaskRecord("app", "", "", KindQuick, StatusPending, now); !errors.Is(err, ErrEmptyTaskID) {
		t.Errorf("expected ErrEmptyTaskID, got %v", err)
	}
	if _, err := NewTaskRecord("app", "t1", "", Kind("deep"), StatusPending, now); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind, got %v", err)
	}
}

func TestMergeProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prev float64
		next *float64
		want float64
	}{
		{"absent keeps previous", 37, nil, 37},
		{"NaN keeps previous", 37, ptr(math.NaN()), 37},
		{"Inf keeps previous", 37, ptr(math.Inf(1)), 37},
		{"valid value replaces", 37, ptr(42), 42},
		{"clamped high", 37, ptr(140), 100},
		{"clamped low", 37, ptr(-5), 0},
		{"zero is a real value", 37, ptr(0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeProgress(tt.prev, tt.next); got != tt.want {
				t.Errorf("MergeProgress(%v) = %v, want %v", tt.prev, got, tt.want)
			}
		})
	}
}

func TestMergeCount(t *testing.T) {
	t.Parallel()

	if got := MergeCount(50, nil); got != 50 {
		t.Errorf("absent: got %d", got)
	}
	if got := MergeCount(50, ptr(math.NaN())); got != 50 {
		t.Errorf("NaN: got %d", got)
	}
	if got := MergeCount(50, ptr(-3)); got != 0 {
		t.Errorf("negative: got %d", got)
	}
	if got := MergeCount(50, ptr(119.6)); got != 120 {
		t.Errorf("rounding: got %d", got)
	}
}

func TestTaskRecordApply(t *testing.T) {
	t.Parallel()

	r, err := NewTaskRecord("app.demo", "t1", "", KindQuick, StatusPending, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	r.Apply(&TaskDetail{Status: StatusProgress, ProgressPercent: ptr(42), CurrentReviews: ptr(50), TargetReviews: ptr(120)})
	if r.Status != StatusProgress || r.ProgressPercent != 42 || r.ProcessedCount != 50 || r.TargetCount != 120 {
		t.Fatalf("unexpected record after progress: %+v", r)
	}
	if r.StepDescription != "Analyzing reviews..." {
		t.Errorf("step = %q", r.StepDescription)
	}

	// Malformed follow-up keeps numeric state.
	r.Apply(&TaskDetail{Status: StatusProgress, ResultMessage: "Fetched 60 reviews"})
	if r.ProgressPercent != 42 || r.ProcessedCount != 50 || r.TargetCount != 120 {
		t.Errorf("numeric fields reset: %+v", r)
	}
	if r.StepDescription != "Fetched 60 reviews" {
		t.Errorf("server message not preferred: %q", r.StepDescription)
	}

	// Pending after progress is a regression and is ignored.
	r.Apply(&TaskDetail{Status: StatusPending})
	if r.Status != StatusProgress {
		t.Errorf("status regressed to %s", r.Status)
	}

	// Unknown statuses leave the status alone.
	r.Apply(&TaskDetail{Status: Status("retry")})
	if r.Status != StatusProgress {
		t.Errorf("unknown status applied: %s", r.Status)
	}
	if r.StepDescription != "Processing..." {
		t.Errorf("step = %q", r.StepDescription)
	}
}

func TestTaskDetailFailureMessage(t *testing.T) {
	t.Parallel()

	d := &TaskDetail{Status: StatusFailure}
	if got := d.FailureMessage(); got != "Analysis failed" {
		t.Errorf("fallback = %q", got)
	}
	d.ResultMessage = "quota exceeded"
	if got := d.FailureMessage(); got != "quota exceeded" {
		t.Errorf("result message = %q", got)
	}
	d.ErrorMessage = "store unavailable"
	if got := d.FailureMessage(); got != "store unavailable" {
		t.Errorf("error message = %q", got)
	}
}
