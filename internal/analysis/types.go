package analysis

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/deepfocal/taskwatch/internal/domain"
)

// Client is the analysis backend as seen by the coordinator.
type Client interface {
	// Submit starts an analysis. A 409 is returned as *domain.SubmissionConflictError.
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)

	// TaskDetail fetches the current status of one task.
	TaskDetail(ctx context.Context, taskID string) (*domain.TaskDetail, error)

	// ActiveTasks lists the live tasks of a project.
	ActiveTasks(ctx context.Context, projectID string) ([]ActiveTask, error)
}

// SubmitRequest asks the backend to analyze one subject.
type SubmitRequest struct {
	SubjectKey string
	ContextID  string
	Kind       domain.Kind
}

// SubmitResponse describes a newly created task.
type SubmitResponse struct {
	TaskID          string
	Status          domain.Status
	Kind            domain.Kind
	ProgressPercent *float64
	ProcessedCount  *float64
	TargetCount     *float64
}

// ActiveTask is one live task reported for a project.
type ActiveTask struct {
	TaskID          string
	SubjectKey      string
	Kind            domain.Kind
	Status          domain.Status
	ProgressPercent *float64
	CurrentReviews  *float64
	TargetReviews   *float64
}

// wire formats

type submitRequestBody struct {
	AppID        string `json:"app_id"`
	AnalysisType string `json:"analysis_type"`
	ProjectID    string `json:"project_id,omitempty"`
}

type submitResponseBody struct {
	TaskID          string     `json:"task_id"`
	Status          string     `json:"status"`
	AnalysisType    string     `json:"analysis_type"`
	ProgressPercent flexNumber `json:"progress_percent"`
	CurrentReviews  flexNumber `json:"current_reviews"`
	TargetReviews   flexNumber `json:"target_reviews"`
}

type conflictBody struct {
	Error          string `json:"error"`
	ExistingTaskID string `json:"existing_task_id"`
	TaskStatus     string `json:"task_status"`
	TaskType       string `json:"task_type"`
}

type taskDetailBody struct {
	TaskID          string     `json:"task_id"`
	Status          *string    `json:"status"`
	ResultMessage   string     `json:"result_message"`
	ErrorMessage    string     `json:"error_message"`
	ProgressPercent flexNumber `json:"progress_percent"`
	CurrentReviews  flexNumber `json:"current_reviews"`
	TargetReviews   flexNumber `json:"target_reviews"`
	TaskType        string     `json:"task_type"`
}

type projectStatusBody struct {
	ActiveTasks []struct {
		TaskID          string     `json:"task_id"`
		AppID           string     `json:"app_id"`
		TaskType        string     `json:"task_type"`
		Status          string     `json:"status"`
		ProgressPercent flexNumber `json:"progress_percent"`
		CurrentReviews  flexNumber `json:"current_reviews"`
		TargetReviews   flexNumber `json:"target_reviews"`
	} `json:"active_tasks"`
}

type errorBody struct {
	Error string `json:"error"`
}

// flexNumber decodes numbers sent as JSON numbers, numeric strings or null.
// Anything unparseable or non-finite decodes as absent rather than failing
// the whole response.
type flexNumber struct {
	v *float64
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	n.v = nil

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	var f float64
	switch x := raw.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n.v = &f
	return nil
}

// parseTaskType maps the backend's task_type onto a Kind. Values such as
// "full_analysis" are accepted. An unrecognized value yields "".
func parseTaskType(s string) domain.Kind {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_analysis")
	k, err := domain.ParseKind(s)
	if err != nil {
		return ""
	}
	return k
}
