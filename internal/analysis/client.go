package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/deepfocal/taskwatch/internal/redact"
)

// maxBodySize bounds how much of a backend response is read.
const maxBodySize = 1 << 20

// HTTPClient implements Client against the analysis backend's REST API.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

// NewHTTPClient creates a client for the backend rooted at baseURL.
// tokens may be nil for unauthenticated backends.
func NewHTTPClient(baseURL string, timeout time.Duration, tokens TokenSource, logger *slog.Logger) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid analysis base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid analysis base URL %q: scheme and host are required", baseURL)
	}
	if tokens == nil {
		tokens = StaticToken("")
	}

	return &HTTPClient{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     logger.With("component", "analysis_client"),
	}, nil
}

// Submit starts an analysis for req.SubjectKey.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	const op = "submit"

	body, err := json.Marshal(submitRequestBody{
		AppID:        req.SubjectKey,
		AnalysisType: string(req.Kind),
		ProjectID:    req.ContextID,
	})
	if err != nil {
		return nil, &domain.TransportError{Op: op, Err: err}
	}

	status, payload, err := c.do(ctx, op, http.MethodPost, body, "analysis", "start/")
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusConflict:
		return nil, decodeConflict(payload)
	case status < 200 || status > 299:
		return nil, statusError(op, status, payload)
	}

	var resp submitResponseBody
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &domain.TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.TaskID == "" {
		return nil, &domain.TransportError{Op: op, StatusCode: status, Err: errors.New("response has no task_id")}
	}

	st, ok := domain.ParseStatus(resp.Status)
	if !ok {
		st = domain.StatusPending
	}
	kind := parseTaskType(resp.AnalysisType)
	if kind == "" {
		kind = req.Kind
	}

	c.logger.Debug("analysis submitted",
		"subject_key", req.SubjectKey,
		"task_id", resp.TaskID,
		"kind", kind)

	return &SubmitResponse{
		TaskID:          resp.TaskID,
		Status:          st,
		Kind:            kind,
		ProgressPercent: resp.ProgressPercent.v,
		ProcessedCount:  resp.CurrentReviews.v,
		TargetCount:     resp.TargetReviews.v,
	}, nil
}

// TaskDetail fetches the status of taskID.
func (c *HTTPClient) TaskDetail(ctx context.Context, taskID string) (*domain.TaskDetail, error) {
	const op = "task_detail"

	status, payload, err := c.do(ctx, op, http.MethodGet, nil, "tasks", url.PathEscape(taskID)+"/")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(op, status, payload)
	}

	var body taskDetailBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &domain.TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	if body.Status == nil || *body.Status == "" {
		return nil, &domain.TransportError{Op: op, StatusCode: status, Err: errors.New("response has no status")}
	}

	st, _ := domain.ParseStatus(*body.Status)
	if body.TaskID == "" {
		body.TaskID = taskID
	}

	return &domain.TaskDetail{
		TaskID:          body.TaskID,
		Status:          st,
		RawStatus:       *body.Status,
		ResultMessage:   body.ResultMessage,
		ErrorMessage:    body.ErrorMessage,
		ProgressPercent: body.ProgressPercent.v,
		CurrentReviews:  body.CurrentReviews.v,
		TargetReviews:   body.TargetReviews.v,
		TaskType:        body.TaskType,
		Payload:         json.RawMessage(payload),
	}, nil
}

// ActiveTasks lists the live tasks of projectID.
func (c *HTTPClient) ActiveTasks(ctx context.Context, projectID string) ([]ActiveTask, error) {
	const op = "project_status"

	status, payload, err := c.do(ctx, op, http.MethodGet, nil, "projects", url.PathEscape(projectID), "analysis-status/")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(op, status, payload)
	}

	var body projectStatusBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &domain.TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}

	tasks := make([]ActiveTask, 0, len(body.ActiveTasks))
	for _, t := range body.ActiveTasks {
		st, ok := domain.ParseStatus(t.Status)
		if !ok || !st.IsActive() || t.TaskID == "" || t.AppID == "" {
			continue
		}
		tasks = append(tasks, ActiveTask{
			TaskID:          t.TaskID,
			SubjectKey:      t.AppID,
			Kind:            parseTaskType(t.TaskType),
			Status:          st,
			ProgressPercent: t.ProgressPercent.v,
			CurrentReviews:  t.CurrentReviews.v,
			TargetReviews:   t.TargetReviews.v,
		})
	}
	return tasks, nil
}

// do performs one request and returns the status code and a bounded body.
func (c *HTTPClient) do(ctx context.Context, op, method string, body []byte, elem ...string) (int, []byte, error) {
	endpoint := c.baseURL.JoinPath(elem...)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return 0, nil, &domain.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token()
	if err != nil {
		return 0, nil, &domain.TransportError{Op: op, Err: err}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("analysis request failed",
			"op", op,
			"method", method,
			"error", redact.Error(err))
		return 0, nil, &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("analysis request completed",
		"op", op,
		"method", method,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	return resp.StatusCode, payload, nil
}

func decodeConflict(payload []byte) error {
	var body conflictBody
	if err := json.Unmarshal(payload, &body); err != nil || body.ExistingTaskID == "" {
		return &domain.TransportError{
			Op:         "submit",
			StatusCode: http.StatusConflict,
			Err:        errors.New("conflict response has no existing_task_id"),
		}
	}

	st, ok := domain.ParseStatus(body.TaskStatus)
	if !ok {
		st = domain.StatusPending
	}

	return &domain.SubmissionConflictError{
		ExistingTaskID: body.ExistingTaskID,
		Status:         st,
		Kind:           parseTaskType(body.TaskType),
		Message:        body.Error,
	}
}

func statusError(op string, status int, payload []byte) error {
	var body errorBody
	msg := http.StatusText(status)
	if err := json.Unmarshal(payload, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &domain.TransportError{Op: op, StatusCode: status, Err: errors.New(msg)}
}

var _ Client = (*HTTPClient)(nil)
