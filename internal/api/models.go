package api

import (
	"encoding/json"
	"time"

	"github.com/deepfocal/taskwatch/internal/domain"
)

// SubmitAnalysisRequest is the body of POST /api/analyses.
type SubmitAnalysisRequest struct {
	SubjectKey string `json:"subject_key" validate:"required,max=255"`
	ContextID  string `json:"context_id"  validate:"max=255"`
	Kind       string `json:"kind"        validate:"required,max=32"`
}

// SubmitAnalysisResponse acknowledges an accepted submission.
type SubmitAnalysisResponse struct {
	TaskID     string      `json:"task_id"`
	SubjectKey string      `json:"subject_key"`
	Kind       domain.Kind `json:"kind"`
}

// ConflictResponse is returned when the subject already has a live task.
type ConflictResponse struct {
	Error          string `json:"error"`
	ExistingTaskID string `json:"existing_task_id,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

// TaskListResponse lists the live tasks.
type TaskListResponse struct {
	Tasks      []domain.TaskRecord `json:"tasks"`
	AnyRunning bool                `json:"any_running"`
}

// RunningResponse answers whether one subject is live.
type RunningResponse struct {
	SubjectKey string `json:"subject_key"`
	Running    bool   `json:"running"`
}

// ResultResponse is a stored Task Result.
type ResultResponse struct {
	SubjectKey  string          `json:"subject_key"`
	TaskID      string          `json:"task_id"`
	Kind        domain.Kind     `json:"kind"`
	Message     string          `json:"message,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// ResumeResponse lists the subjects adopted from the backend.
type ResumeResponse struct {
	ProjectID string   `json:"project_id"`
	Adopted   []string `json:"adopted"`
}

func resultToResponse(r *domain.TaskResult) ResultResponse {
	return ResultResponse{
		SubjectKey:  r.SubjectKey,
		TaskID:      r.TaskID,
		Kind:        r.Kind,
		Message:     r.Message,
		Payload:     r.Payload,
		CompletedAt: r.CompletedAt,
	}
}
