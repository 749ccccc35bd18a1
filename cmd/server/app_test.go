package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepfocal/taskwatch/internal/api"
	"github.com/deepfocal/taskwatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend answers like the analysis backend: the task succeeds on the
// third status poll.
func fakeBackend(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/analysis/start/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"task_id":"t1","status":"pending","analysis_type":"quick"}`))
	})
	mux.HandleFunc("/api/tasks/t1/", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"task_id":"t1","status":"progress","progress_percent":40,"current_reviews":"200","target_reviews":500}`))
			return
		}
		_, _ = w.Write([]byte(`{"task_id":"t1","status":"success","result_message":"500 reviews analyzed"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "error"},
		Analysis: config.AnalysisConfig{
			BaseURL:        baseURL,
			AuthToken:      "svc-token",
			ServiceSubject: "taskwatch",
			RequestTimeout: time.Second,
		},
		Polling: config.PollingConfig{
			InitialInterval: 5 * time.Millisecond,
			MediumInterval:  5 * time.Millisecond,
			SlowInterval:    5 * time.Millisecond,
			MediumAfter:     10,
			SlowAfter:       30,
			MaxIterations:   150,
		},
	}
}

func TestApplication_SubmitUntilResult(t *testing.T) {
	backend, polls := fakeBackend(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	app, err := newApplication(context.Background(), testConfig(backend.URL+"/api"), logger)
	require.NoError(t, err)
	t.Cleanup(app.cleanup)

	srv := httptest.NewServer(app.handler)
	t.Cleanup(srv.Close)

	body, _ := json.Marshal(api.SubmitAnalysisRequest{SubjectKey: "app.demo", ContextID: "42", Kind: "quick"})
	resp, err := http.Post(srv.URL+"/api/analyses", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted api.SubmitAnalysisResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	assert.Equal(t, "t1", submitted.TaskID)

	var result api.ResultResponse
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/analyses/app.demo/result")
		if err != nil {
			return false
		}
		defer func() { _ = r.Body.Close() }()
		if r.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(r.Body).Decode(&result) == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "t1", result.TaskID)
	assert.Equal(t, "500 reviews analyzed", result.Message)
	assert.EqualValues(t, 3, polls.Load())

	r, err := http.Get(srv.URL + "/api/analyses/app.demo/running")
	require.NoError(t, err)
	defer func() { _ = r.Body.Close() }()

	var running api.RunningResponse
	require.NoError(t, json.NewDecoder(r.Body).Decode(&running))
	assert.False(t, running.Running)
}

func TestNewAnalysisClient_TokenSelection(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := newAnalysisClient(config.AnalysisConfig{
		BaseURL:        "http://backend.local/api",
		SigningSecret:  "secret",
		ServiceSubject: "taskwatch",
		RequestTimeout: time.Second,
	}, logger)
	assert.NoError(t, err)

	_, err = newAnalysisClient(config.AnalysisConfig{BaseURL: "", RequestTimeout: time.Second}, logger)
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	backend, _ := fakeBackend(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	app, err := newApplication(context.Background(), testConfig(backend.URL+"/api"), logger)
	require.NoError(t, err)
	t.Cleanup(app.cleanup)

	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
