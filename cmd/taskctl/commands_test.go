package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deepfocal/taskwatch/internal/api"
	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/deepfocal/taskwatch/internal/events"
	"github.com/deepfocal/taskwatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTasks is a TaskService whose Submit publishes the outcome it was
// configured with.
type stubTasks struct {
	bus     *events.Bus
	outcome func(subjectKey, taskID string) *events.OutcomeEvent
	records []domain.TaskRecord
	results map[string]*domain.TaskResult
	adopted []string
}

func (s *stubTasks) Submit(_ context.Context, subjectKey, _ string, kind domain.Kind, _ ...events.Listener) (string, error) {
	if subjectKey == "busy" {
		return "", &domain.AlreadyRunningError{SubjectKey: subjectKey, TaskID: "t0"}
	}
	if s.outcome != nil {
		e := s.outcome(subjectKey, "t1")
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = s.bus.Publish(context.Background(), e)
		}()
	}
	return "t1", nil
}

func (s *stubTasks) GetStatus(subjectKey string) (domain.TaskRecord, bool) {
	for _, r := range s.records {
		if r.SubjectKey == subjectKey {
			return r, true
		}
	}
	return domain.TaskRecord{}, false
}

func (s *stubTasks) GetResult(_ context.Context, subjectKey string) (*domain.TaskResult, error) {
	if r, ok := s.results[subjectKey]; ok {
		return r, nil
	}
	return nil, store.ErrResultNotFound
}

func (s *stubTasks) ClearResult(_ context.Context, subjectKey string) error {
	delete(s.results, subjectKey)
	return nil
}

func (s *stubTasks) IsRunning(subjectKey string) bool {
	_, ok := s.GetStatus(subjectKey)
	return ok
}

func (s *stubTasks) IsAnyRunning() bool            { return len(s.records) > 0 }
func (s *stubTasks) Snapshot() []domain.TaskRecord { return s.records }

func (s *stubTasks) Resume(context.Context, string) ([]string, error) {
	return s.adopted, nil
}

func newStubServer(t *testing.T, tasks *stubTasks) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks.bus = events.NewBus(logger)

	router := api.NewRouter(
		api.NewAnalysisHandler(tasks),
		api.NewEventsHandler(tasks.bus, time.Second),
		logger,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL
}

func runCmd(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", serverURL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSubmit(t *testing.T) {
	url := newStubServer(t, &stubTasks{})

	out, err := runCmd(t, url, "submit", "app.demo", "--kind", "full")
	require.NoError(t, err)
	assert.Contains(t, out, "submitted full analysis of app.demo as task t1")
}

func TestSubmit_InvalidKind(t *testing.T) {
	url := newStubServer(t, &stubTasks{})

	_, err := runCmd(t, url, "submit", "app.demo", "--kind", "deep")
	assert.ErrorIs(t, err, domain.ErrInvalidKind)
}

func TestSubmit_Conflict(t *testing.T) {
	url := newStubServer(t, &stubTasks{})

	_, err := runCmd(t, url, "submit", "busy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "t0")
}

func TestSubmit_Wait(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		url := newStubServer(t, &stubTasks{outcome: func(subjectKey, taskID string) *events.OutcomeEvent {
			return events.NewCompletedEvent(domain.TaskResult{
				SubjectKey: subjectKey,
				TaskID:     taskID,
				Kind:       domain.KindQuick,
				Message:    "500 reviews analyzed",
			})
		}})

		out, err := runCmd(t, url, "submit", "app.demo", "--wait")
		require.NoError(t, err)
		assert.Contains(t, out, "task t1 completed: 500 reviews analyzed")
	})

	t.Run("failed", func(t *testing.T) {
		url := newStubServer(t, &stubTasks{outcome: func(subjectKey, taskID string) *events.OutcomeEvent {
			return events.NewFailedEvent(subjectKey, taskID, domain.KindQuick, "store unavailable")
		}})

		_, err := runCmd(t, url, "submit", "app.demo", "--wait")
		require.Error(t, err)
		assert.Equal(t, "task t1 failed: store unavailable", err.Error())
	})

	t.Run("timeout", func(t *testing.T) {
		url := newStubServer(t, &stubTasks{outcome: func(subjectKey, taskID string) *events.OutcomeEvent {
			return events.NewTimeoutEvent(subjectKey, taskID, domain.KindFull)
		}})

		_, err := runCmd(t, url, "submit", "app.demo", "--wait")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	})
}

func TestStatus(t *testing.T) {
	url := newStubServer(t, &stubTasks{records: []domain.TaskRecord{{
		SubjectKey:      "app.demo",
		TaskID:          "t1",
		Kind:            domain.KindQuick,
		Status:          domain.StatusProgress,
		ProgressPercent: 40,
		ProcessedCount:  200,
		TargetCount:     500,
		StepDescription: domain.StepMessage(domain.StatusProgress),
	}}})

	out, err := runCmd(t, url, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "app.demo")
	assert.Contains(t, out, "200/500")

	out, err = runCmd(t, url, "status", "other")
	require.NoError(t, err)
	assert.Contains(t, out, "no running analysis for other")
}

func TestResultAndClear(t *testing.T) {
	tasks := &stubTasks{results: map[string]*domain.TaskResult{
		"app.demo": {SubjectKey: "app.demo", TaskID: "t1", Kind: domain.KindQuick, Message: "done"},
	}}
	url := newStubServer(t, tasks)

	out, err := runCmd(t, url, "result", "app.demo")
	require.NoError(t, err)
	assert.Contains(t, out, `"task_id": "t1"`)

	_, err = runCmd(t, url, "clear", "app.demo")
	require.NoError(t, err)

	_, err = runCmd(t, url, "result", "app.demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stored result")
}

func TestResume(t *testing.T) {
	url := newStubServer(t, &stubTasks{adopted: []string{"app.a", "app.b"}})

	out, err := runCmd(t, url, "resume", "42")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "adopted "))
}

func TestReadEvents(t *testing.T) {
	frames := ": keep-alive\n\n" +
		"id: 1\nevent: timeout\ndata: {\"type\":\"timeout\",\"subject_key\":\"a\",\"task_id\":\"t1\"}\n\n"

	out := make(chan *events.OutcomeEvent, 1)
	err := readEvents(context.Background(), strings.NewReader(frames), out)
	assert.NoError(t, err)

	e := <-out
	assert.Equal(t, events.EventTimeout, e.Type)
	assert.Equal(t, "t1", e.TaskID)
}

func TestNewServerClient_InvalidURL(t *testing.T) {
	_, err := newServerClient("localhost", time.Second)
	assert.Error(t, err)
}
