package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deepfocal/taskwatch/internal/api"
	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/deepfocal/taskwatch/internal/events"
)

// errNotFound is returned when the server answers 404.
var errNotFound = errors.New("not found")

// serverClient is a thin JSON client for the taskwatch HTTP API.
type serverClient struct {
	baseURL *url.URL
	http    *http.Client
	// stream has no timeout; event streams stay open until cancelled.
	stream *http.Client
}

// apiError is a non-2xx response from the server.
type apiError struct {
	StatusCode     int
	Message        string
	ExistingTaskID string
}

func (e *apiError) Error() string {
	if e.ExistingTaskID != "" {
		return fmt.Sprintf("%s (existing task %s)", e.Message, e.ExistingTaskID)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Message)
}

func newServerClient(rawURL string, timeout time.Duration) (*serverClient, error) {
	u, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", rawURL)
	}
	return &serverClient{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}, nil
}

func (c *serverClient) submit(ctx context.Context, req api.SubmitAnalysisRequest) (*api.SubmitAnalysisResponse, error) {
	var resp api.SubmitAnalysisResponse
	if err := c.doJSON(ctx, http.MethodPost, req, &resp, "api", "analyses"); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *serverClient) list(ctx context.Context) (*api.TaskListResponse, error) {
	var resp api.TaskListResponse
	if err := c.doJSON(ctx, http.MethodGet, nil, &resp, "api", "analyses"); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *serverClient) status(ctx context.Context, subjectKey string) (*domain.TaskRecord, error) {
	var rec domain.TaskRecord
	if err := c.doJSON(ctx, http.MethodGet, nil, &rec, "api", "analyses", subjectKey); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *serverClient) result(ctx context.Context, subjectKey string) (*api.ResultResponse, error) {
	var resp api.ResultResponse
	if err := c.doJSON(ctx, http.MethodGet, nil, &resp, "api", "analyses", subjectKey, "result"); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *serverClient) clearResult(ctx context.Context, subjectKey string) error {
	return c.doJSON(ctx, http.MethodDelete, nil, nil, "api", "analyses", subjectKey, "result")
}

func (c *serverClient) resume(ctx context.Context, projectID string) (*api.ResumeResponse, error) {
	var resp api.ResumeResponse
	if err := c.doJSON(ctx, http.MethodPost, nil, &resp, "api", "projects", projectID, "resume"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// watch opens the event stream and delivers outcomes on the returned channel
// until ctx is cancelled or the server closes the stream. The stream is
// connected when watch returns.
func (c *serverClient) watch(ctx context.Context, subjectKey string) (<-chan *events.OutcomeEvent, <-chan error, error) {
	u := c.baseURL.JoinPath("api", "events")
	if subjectKey != "" {
		u.RawQuery = url.Values{"subject_key": {subjectKey}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, nil, decodeAPIError(resp)
	}

	out := make(chan *events.OutcomeEvent)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()
		errc <- readEvents(ctx, resp.Body, out)
	}()
	return out, errc, nil
}

// readEvents parses server-sent event frames. Only data lines are decoded;
// comments and the id and event fields are redundant with the JSON payload.
func readEvents(ctx context.Context, r io.Reader, out chan<- *events.OutcomeEvent) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var e events.OutcomeEvent
			if err := json.Unmarshal([]byte(data.String()), &e); err != nil {
				return fmt.Errorf("malformed event: %w", err)
			}
			data.Reset()
			select {
			case out <- &e:
			case <-ctx.Done():
				return ctx.Err()
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (c *serverClient) doJSON(ctx context.Context, method string, in, out any, elem ...string) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(elem...).String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var body api.ConflictResponse
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(payload, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(payload))
	}
	return &apiError{
		StatusCode:     resp.StatusCode,
		Message:        body.Error,
		ExistingTaskID: body.ExistingTaskID,
	}
}
