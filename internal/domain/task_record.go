package domain

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// Validation errors for TaskRecord.
var (
	ErrEmptyTaskID = errors.New("task ID cannot be empty")
)

// TaskRecord is the local view of one outstanding backend analysis job,
// keyed by SubjectKey. At most one live record exists per subject.
type TaskRecord struct {
	SubjectKey          string    `json:"subject_key"`
	TaskID              string    `json:"task_id"`
	ContextID           string    `json:"context_id,omitempty"`
	Kind                Kind      `json:"kind"`
	Status              Status    `json:"status"`
	ProgressPercent     float64   `json:"progress_percent"`
	ProcessedCount      int       `json:"processed_count"`
	TargetCount         int       `json:"target_count"`
	StepDescription     string    `json:"step_description"`
	StartedAt           time.Time `json:"started_at"`
	EstimatedDurationMs int64     `json:"estimated_duration_ms"`
}

// NewTaskRecord creates a record for a freshly submitted or adopted task.
// An unknown or terminal initial status is recorded as pending.
func NewTaskRecord(subjectKey, taskID, contextID string, kind Kind, status Status, now time.Time) (*TaskRecord, error) {
	if !status.IsActive() {
		status = StatusPending
	}

	r := &TaskRecord{
		SubjectKey:          subjectKey,
		TaskID:              taskID,
		ContextID:           contextID,
		Kind:                kind,
		Status:              status,
		StepDescription:     StepMessage(status),
		StartedAt:           now.UTC(),
		EstimatedDurationMs: kind.EstimatedDuration().Milliseconds(),
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks if the TaskRecord has valid data.
func (r *TaskRecord) Validate() error {
	if r.SubjectKey == "" {
		return ErrSubjectRequired
	}
	if r.TaskID == "" {
		return ErrEmptyTaskID
	}
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

// Apply merges a poll response into the record. Missing or non-finite numeric
// fields keep their previous values; status never moves back to pending once
// the backend has started the task, and unknown statuses leave it unchanged.
func (r *TaskRecord) Apply(d *TaskDetail) {
	if d.Status.IsActive() || d.Status.IsTerminal() {
		if !(d.Status == StatusPending && r.Status != StatusPending) {
			r.Status = d.Status
		}
	}

	r.ProgressPercent = MergeProgress(r.ProgressPercent, d.ProgressPercent)
	r.ProcessedCount = MergeCount(r.ProcessedCount, d.CurrentReviews)
	r.TargetCount = MergeCount(r.TargetCount, d.TargetReviews)
	r.StepDescription = d.StepDescription()
}

// TaskDetail is a normalized task-status response from the analysis backend.
type TaskDetail struct {
	TaskID string `json:"task_id,omitempty"`
	Status Status `json:"status"`
	// RawStatus is the status string exactly as the backend sent it.
	RawStatus       string   `json:"-"`
	ResultMessage   string   `json:"result_message,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	ProgressPercent *float64 `json:"progress_percent,omitempty"`
	CurrentReviews  *float64 `json:"current_reviews,omitempty"`
	TargetReviews   *float64 `json:"target_reviews,omitempty"`
	TaskType        string   `json:"task_type,omitempty"`

	// Payload is the undecoded response body.
	Payload json.RawMessage `json:"-"`
}

// StepDescription prefers the backend's result message over the status table.
func (d *TaskDetail) StepDescription() string {
	if d.ResultMessage != "" {
		return d.ResultMessage
	}
	return StepMessage(d.Status)
}

// FailureMessage picks the most specific message describing a failed task.
func (d *TaskDetail) FailureMessage() string {
	switch {
	case d.ErrorMessage != "":
		return d.ErrorMessage
	case d.ResultMessage != "":
		return d.ResultMessage
	default:
		return StepMessage(d.Status)
	}
}

// TaskResult is the last terminal payload retained for a subject.
type TaskResult struct {
	SubjectKey  string          `json:"subject_key"`
	TaskID      string          `json:"task_id"`
	Kind        Kind            `json:"kind"`
	Message     string          `json:"message,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// MergeProgress returns next clamped to [0,100], or prev when next is absent
// or not a finite number.
func MergeProgress(prev float64, next *float64) float64 {
	if next == nil || !isFinite(*next) {
		return clamp(prev, 0, 100)
	}
	return clamp(*next, 0, 100)
}

// MergeCount returns next rounded and floored at zero, or prev when next is
// absent or not a finite number.
func MergeCount(prev int, next *float64) int {
	if next == nil || !isFinite(*next) {
		return max(prev, 0)
	}
	// Guard the float-to-int conversion against absurd values.
	v := clamp(math.Round(*next), 0, math.MaxInt32)
	return int(v)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if !isFinite(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
