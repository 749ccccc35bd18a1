package task

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/deepfocal/taskwatch/internal/analysis"
	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/deepfocal/taskwatch/internal/events"
	"github.com/deepfocal/taskwatch/internal/registry"
	"github.com/deepfocal/taskwatch/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeClock records every scheduled delay. In auto mode the returned channel
// has already fired; otherwise the channel is queued on waiting for the test
// to fire by hand.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	delays  []time.Duration
	auto    bool
	waiting chan chan time.Time
}

func newAutoClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), auto: true}
}

func newManualClock() *fakeClock {
	return &fakeClock{
		now:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		waiting: make(chan chan time.Time, 64),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if c.auto {
		ch <- now
		return ch
	}
	c.waiting <- ch
	return ch
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// nextWait blocks until the poller schedules its next poll and returns the
// channel that releases it.
func (c *fakeClock) nextWait(t *testing.T) chan time.Time {
	t.Helper()
	select {
	case ch := <-c.waiting:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("poller never scheduled a next poll")
		return nil
	}
}

// fakeClient is an analysis.Client scripted by the test.
type fakeClient struct {
	mu       sync.Mutex
	submitFn func(req analysis.SubmitRequest) (*analysis.SubmitResponse, error)
	detailFn func(taskID string, call int) (*domain.TaskDetail, error)
	activeFn func(projectID string) ([]analysis.ActiveTask, error)

	submits     []analysis.SubmitRequest
	detailCalls map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{detailCalls: make(map[string]int)}
}

func (f *fakeClient) Submit(_ context.Context, req analysis.SubmitRequest) (*analysis.SubmitResponse, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	fn := f.submitFn
	f.mu.Unlock()
	return fn(req)
}

func (f *fakeClient) TaskDetail(_ context.Context, taskID string) (*domain.TaskDetail, error) {
	f.mu.Lock()
	f.detailCalls[taskID]++
	call := f.detailCalls[taskID]
	fn := f.detailFn
	f.mu.Unlock()
	return fn(taskID, call)
}

func (f *fakeClient) ActiveTasks(_ context.Context, projectID string) ([]analysis.ActiveTask, error) {
	return f.activeFn(projectID)
}

func (f *fakeClient) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeClient) detailCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailCalls[taskID]
}

func accepted(taskID string, kind domain.Kind) func(analysis.SubmitRequest) (*analysis.SubmitResponse, error) {
	return func(analysis.SubmitRequest) (*analysis.SubmitResponse, error) {
		return &analysis.SubmitResponse{TaskID: taskID, Status: domain.StatusPending, Kind: kind}, nil
	}
}

func num(v float64) *float64 {
	return &v
}

func progressDetail(taskID string, pct *float64) *domain.TaskDetail {
	return &domain.TaskDetail{
		TaskID:          taskID,
		Status:          domain.StatusProgress,
		RawStatus:       "PROGRESS",
		ProgressPercent: pct,
	}
}

func successDetail(taskID string) *domain.TaskDetail {
	payload, _ := json.Marshal(map[string]interface{}{
		"status":         "SUCCESS",
		"result_message": "Analysis complete",
		"reviews":        120,
	})
	return &domain.TaskDetail{
		TaskID:        taskID,
		Status:        domain.StatusSuccess,
		RawStatus:     "SUCCESS",
		ResultMessage: "Analysis complete",
		Payload:       payload,
	}
}

// recorder collects every event published on the bus.
type recorder struct {
	mu     sync.Mutex
	events []*events.OutcomeEvent
}

func (r *recorder) HandleOutcome(_ context.Context, e *events.OutcomeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) all() []*events.OutcomeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.OutcomeEvent(nil), r.events...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type harness struct {
	client  *fakeClient
	clock   *fakeClock
	reg     *registry.Registry
	results *store.MemoryResultStore
	bus     *events.Bus
	rec     *recorder
	coord   *Coordinator
}

func newHarness(t *testing.T, client *fakeClient, clock *fakeClock) *harness {
	t.Helper()
	logger := testLogger()

	h := &harness{
		client:  client,
		clock:   clock,
		reg:     registry.New(logger),
		results: store.NewMemoryResultStore(),
		bus:     events.NewBus(logger),
		rec:     &recorder{},
	}
	h.bus.Subscribe(h.rec)
	h.coord = NewCoordinator(client, h.reg, h.results, h.bus, CoordinatorConfig{
		Schedule: DefaultSchedule(),
		Clock:    clock,
	}, logger)
	t.Cleanup(h.coord.Close)
	return h
}

func waitEvent(t *testing.T, ch <-chan *events.OutcomeEvent) *events.OutcomeEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome event")
		return nil
	}
}
