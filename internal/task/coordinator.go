package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/deepfocal/taskwatch/internal/analysis"
	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/deepfocal/taskwatch/internal/events"
	"github.com/deepfocal/taskwatch/internal/redact"
	"github.com/deepfocal/taskwatch/internal/registry"
	"github.com/deepfocal/taskwatch/internal/store"
)

// ErrCoordinatorClosed is returned by Submit and Resume after Close.
var ErrCoordinatorClosed = errors.New("coordinator is closed")

// transportFailureMessage is shown when a poll fails without a structured
// message from the backend.
const transportFailureMessage = "Unable to check analysis status"

// Bus is the notification bus as used by the coordinator.
type Bus interface {
	events.Publisher
	events.Subscriber
}

// CoordinatorConfig holds the coordinator's tunables.
type CoordinatorConfig struct {
	Schedule Schedule
	// Clock defaults to the real clock when nil.
	Clock Clock
}

// DefaultCoordinatorConfig returns the default schedule on the real clock.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Schedule: DefaultSchedule(),
		Clock:    RealClock(),
	}
}

// Coordinator owns the task registry and result store. It submits analyses,
// runs one poller per live task and turns every terminal state into exactly
// one bus event.
type Coordinator struct {
	client   analysis.Client
	registry *registry.Registry
	results  store.ResultStore
	bus      Bus
	clock    Clock
	schedule Schedule
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

// NewCoordinator creates a Coordinator. The registry must not be written to
// by anything else.
func NewCoordinator(
	client analysis.Client,
	reg *registry.Registry,
	results store.ResultStore,
	bus Bus,
	config CoordinatorConfig,
	logger *slog.Logger,
) *Coordinator {
	if config.Clock == nil {
		config.Clock = RealClock()
	}
	if config.Schedule.MaxIterations <= 0 {
		logger.Warn("invalid polling schedule, using default",
			"max_iterations", config.Schedule.MaxIterations)
		config.Schedule = DefaultSchedule()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		client:   client,
		registry: reg,
		results:  results,
		bus:      bus,
		clock:    config.Clock,
		schedule: config.Schedule,
		logger:   logger.With("component", "task_coordinator"),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// Submit starts an analysis of subjectKey and returns the backend task id.
//
// A subject that is already live locally is rejected with
// *domain.AlreadyRunningError. A subject the backend reports as already
// running is adopted: the existing remote task is tracked and its id
// returned. Only a failure to create the task is returned as an error; every
// later outcome is published on the bus.
//
// listeners are registered for this subject's next outcome only and are
// dropped if the submission fails.
func (c *Coordinator) Submit(
	ctx context.Context,
	subjectKey, contextID string,
	kind domain.Kind,
	listeners ...events.Listener,
) (string, error) {
	subjectKey = strings.TrimSpace(subjectKey)
	if subjectKey == "" {
		return "", domain.ErrSubjectRequired
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}

	if err := c.claim(subjectKey); err != nil {
		return "", err
	}
	defer c.release(subjectKey)

	cancels := make([]func(), 0, len(listeners))
	for _, l := range listeners {
		cancels = append(cancels, c.bus.SubscribeOnce(subjectKey, l))
	}
	dropListeners := func() {
		for _, cancel := range cancels {
			cancel()
		}
	}

	log := c.logger.With("subject_key", subjectKey, "kind", kind)

	resp, err := c.client.Submit(ctx, analysis.SubmitRequest{
		SubjectKey: subjectKey,
		ContextID:  contextID,
		Kind:       kind,
	})

	var rec *domain.TaskRecord
	var conflict *domain.SubmissionConflictError
	switch {
	case errors.As(err, &conflict):
		adoptKind := conflict.Kind
		if !adoptKind.Valid() {
			adoptKind = kind
		}
		log.Info("analysis already running remotely, adopting",
			"task_id", conflict.ExistingTaskID,
			"status", conflict.Status,
			"adopted_kind", adoptKind)

		rec, err = domain.NewTaskRecord(subjectKey, conflict.ExistingTaskID, contextID, adoptKind, conflict.Status, c.clock.Now())
		if err != nil {
			dropListeners()
			return "", err
		}
	case err != nil:
		dropListeners()
		log.Error("failed to submit analysis", "error", redact.Error(err))
		return "", fmt.Errorf("failed to submit analysis: %w", err)
	default:
		rec, err = domain.NewTaskRecord(subjectKey, resp.TaskID, contextID, resp.Kind, resp.Status, c.clock.Now())
		if err != nil {
			dropListeners()
			return "", err
		}
		rec.ProgressPercent = domain.MergeProgress(rec.ProgressPercent, resp.ProgressPercent)
		rec.ProcessedCount = domain.MergeCount(rec.ProcessedCount, resp.ProcessedCount)
		rec.TargetCount = domain.MergeCount(rec.TargetCount, resp.TargetCount)
		log.Info("analysis submitted", "task_id", rec.TaskID)
	}

	if err := c.track(rec); err != nil {
		dropListeners()
		return "", err
	}
	return rec.TaskID, nil
}

// Resume adopts every live task the backend reports for projectID whose
// subject is not already tracked. It returns the adopted subject keys.
func (c *Coordinator) Resume(ctx context.Context, projectID string) ([]string, error) {
	if c.isClosed() {
		return nil, ErrCoordinatorClosed
	}

	active, err := c.client.ActiveTasks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", err)
	}

	adopted := make([]string, 0, len(active))
	for _, t := range active {
		if err := c.claim(t.SubjectKey); err != nil {
			continue
		}

		kind := t.Kind
		if !kind.Valid() {
			kind = domain.KindFull
		}
		rec, err := domain.NewTaskRecord(t.SubjectKey, t.TaskID, projectID, kind, t.Status, c.clock.Now())
		if err == nil {
			rec.ProgressPercent = domain.MergeProgress(0, t.ProgressPercent)
			rec.ProcessedCount = domain.MergeCount(0, t.CurrentReviews)
			rec.TargetCount = domain.MergeCount(0, t.TargetReviews)
			err = c.track(rec)
		}
		c.release(t.SubjectKey)

		if err != nil {
			c.logger.Warn("could not resume task",
				"subject_key", t.SubjectKey,
				"task_id", t.TaskID,
				"error", err)
			continue
		}
		adopted = append(adopted, t.SubjectKey)
	}

	c.logger.Info("resumed project tasks",
		"project_id", projectID,
		"reported", len(active),
		"adopted", len(adopted))
	return adopted, nil
}

// GetStatus returns the live record for subjectKey.
func (c *Coordinator) GetStatus(subjectKey string) (domain.TaskRecord, bool) {
	return c.registry.Get(subjectKey)
}

// GetResult returns the last successful result for subjectKey.
// Returns store.ErrResultNotFound when there is none.
func (c *Coordinator) GetResult(ctx context.Context, subjectKey string) (*domain.TaskResult, error) {
	return c.results.Get(ctx, subjectKey)
}

// ClearResult forgets the result for subjectKey.
func (c *Coordinator) ClearResult(ctx context.Context, subjectKey string) error {
	return c.results.Delete(ctx, subjectKey)
}

// IsRunning reports whether subjectKey has a live task.
func (c *Coordinator) IsRunning(subjectKey string) bool {
	return c.registry.Has(subjectKey)
}

// IsAnyRunning reports whether any task is live.
func (c *Coordinator) IsAnyRunning() bool {
	return c.registry.Loading()
}

// Snapshot returns all live records, oldest first.
func (c *Coordinator) Snapshot() []domain.TaskRecord {
	return c.registry.Snapshot()
}

// WaitFor returns a channel that receives the next outcome for subjectKey.
// The returned cancel function drops the subscription if it has not fired.
func (c *Coordinator) WaitFor(subjectKey string) (<-chan *events.OutcomeEvent, func()) {
	ch := make(chan *events.OutcomeEvent, 1)
	cancel := c.bus.SubscribeOnce(subjectKey, events.ListenerFunc(func(_ context.Context, e *events.OutcomeEvent) error {
		ch <- e
		return nil
	}))
	return ch, cancel
}

// Close stops all pollers and waits for them to exit. Pollers stopped this
// way publish nothing and their records stay in the registry.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.logger.Debug("coordinator closed")
}

// claim reserves subjectKey for a submission. It fails when the subject is
// live or another submission for it is in flight.
func (c *Coordinator) claim(subjectKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCoordinatorClosed
	}
	if rec, ok := c.registry.Get(subjectKey); ok {
		return &domain.AlreadyRunningError{SubjectKey: subjectKey, TaskID: rec.TaskID}
	}
	if _, ok := c.inflight[subjectKey]; ok {
		return &domain.AlreadyRunningError{SubjectKey: subjectKey}
	}
	c.inflight[subjectKey] = struct{}{}
	return nil
}

func (c *Coordinator) release(subjectKey string) {
	c.mu.Lock()
	delete(c.inflight, subjectKey)
	c.mu.Unlock()
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// track inserts rec and starts its poller.
func (c *Coordinator) track(rec *domain.TaskRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCoordinatorClosed
	}
	if !c.registry.InsertIfAbsent(rec) {
		existing, _ := c.registry.Get(rec.SubjectKey)
		return &domain.AlreadyRunningError{SubjectKey: rec.SubjectKey, TaskID: existing.TaskID}
	}

	p := newPoller(c.client, c.registry, c.clock, c.schedule, *rec, c.logger)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finish(p.run(c.ctx))
	}()
	return nil
}

// finish removes the task from the registry and publishes its outcome.
// A task whose record is already gone publishes nothing, so every lifecycle
// yields at most one event.
func (c *Coordinator) finish(out pollOutcome) {
	log := c.logger.With(
		"subject_key", out.subjectKey,
		"task_id", out.taskID,
		"kind", out.kind,
		"iterations", out.iterations)

	if out.typ == outcomeAbandoned {
		return
	}
	if !c.registry.RemoveTask(out.subjectKey, out.taskID) {
		log.Debug("task already removed, dropping outcome")
		return
	}

	var event *events.OutcomeEvent
	switch out.typ {
	case outcomeSucceeded:
		result := domain.TaskResult{
			SubjectKey:  out.subjectKey,
			TaskID:      out.taskID,
			Kind:        out.kind,
			Message:     out.detail.ResultMessage,
			Payload:     out.detail.Payload,
			CompletedAt: c.clock.Now().UTC(),
		}
		if err := c.results.Save(c.ctx, result); err != nil {
			log.Error("failed to store analysis result", "error", err)
		}
		log.Info("analysis completed")
		event = events.NewCompletedEvent(result)

	case outcomeFailed:
		msg := failureMessage(out)
		log.Warn("analysis failed", "error", redact.Error(out.err))
		event = events.NewFailedEvent(out.subjectKey, out.taskID, out.kind, msg)

	case outcomeTimedOut:
		log.Warn("analysis timed out")
		event = events.NewTimeoutEvent(out.subjectKey, out.taskID, out.kind)
	}

	if err := c.bus.Publish(c.ctx, event); err != nil {
		log.Warn("outcome listener returned error", "event_type", event.Type, "error", err)
	}
}

// failureMessage picks the user-visible text for a failed outcome. Transport
// errors are only shown, redacted, when nothing better is available.
func failureMessage(out pollOutcome) string {
	var remote *domain.RemoteFailureError
	if errors.As(out.err, &remote) {
		return remote.Message
	}
	if out.isTransport() {
		var te *domain.TransportError
		if errors.As(out.err, &te) && te.StatusCode != 0 {
			return fmt.Sprintf("%s (HTTP %d)", transportFailureMessage, te.StatusCode)
		}
		return transportFailureMessage
	}
	if out.err != nil {
		return redact.Error(out.err)
	}
	return domain.StepMessage(domain.StatusFailure)
}
