package events

import (
	"context"
	"time"

	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/google/uuid"
)

// EventType identifies the kind of task outcome.
type EventType string

// Outcome event types.
const (
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventTimeout   EventType = "timeout"
)

// OutcomeEvent is published once when a task leaves the live registry.
type OutcomeEvent struct {
	ID         uuid.UUID   `json:"id"`
	Type       EventType   `json:"type"`
	SubjectKey string      `json:"subject_key"`
	TaskID     string      `json:"task_id"`
	Kind       domain.Kind `json:"kind"`

	// Result is set for completed events.
	Result *domain.TaskResult `json:"result,omitempty"`

	// Error is a human-readable failure message, set for failed events.
	Error string `json:"error,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// NewCompletedEvent creates a completed event carrying a copy of result.
func NewCompletedEvent(result domain.TaskResult) *OutcomeEvent {
	return &OutcomeEvent{
		ID:         uuid.New(),
		Type:       EventCompleted,
		SubjectKey: result.SubjectKey,
		TaskID:     result.TaskID,
		Kind:       result.Kind,
		Result:     &result,
		OccurredAt: time.Now().UTC(),
	}
}

// NewFailedEvent creates a failed event.
func NewFailedEvent(subjectKey, taskID string, kind domain.Kind, message string) *OutcomeEvent {
	return &OutcomeEvent{
		ID:         uuid.New(),
		Type:       EventFailed,
		SubjectKey: subjectKey,
		TaskID:     taskID,
		Kind:       kind,
		Error:      message,
		OccurredAt: time.Now().UTC(),
	}
}

// NewTimeoutEvent creates a timeout event.
func NewTimeoutEvent(subjectKey, taskID string, kind domain.Kind) *OutcomeEvent {
	return &OutcomeEvent{
		ID:         uuid.New(),
		Type:       EventTimeout,
		SubjectKey: subjectKey,
		TaskID:     taskID,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
}

// Listener defines an interface for components that react to task outcomes.
type Listener interface {
	// HandleOutcome processes the given event. Errors are logged by the bus
	// and do not stop delivery to other listeners.
	HandleOutcome(ctx context.Context, event *OutcomeEvent) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, event *OutcomeEvent) error

// HandleOutcome calls f.
func (f ListenerFunc) HandleOutcome(ctx context.Context, event *OutcomeEvent) error {
	return f(ctx, event)
}

// Publisher defines an interface for components that can publish outcomes.
type Publisher interface {
	Publish(ctx context.Context, event *OutcomeEvent) error
}

// Subscriber defines an interface for registering outcome listeners.
type Subscriber interface {
	// Subscribe registers l and returns a function that deregisters it.
	Subscribe(l Listener) (unsubscribe func())
	// SubscribeOnce registers l for the next event about subjectKey only.
	SubscribeOnce(subjectKey string, l Listener) (cancel func())
}

// ListenerSet groups per-outcome callbacks. Nil callbacks are skipped.
type ListenerSet struct {
	OnCompleted func(ctx context.Context, event *OutcomeEvent)
	OnFailed    func(ctx context.Context, event *OutcomeEvent)
	OnTimeout   func(ctx context.Context, event *OutcomeEvent)
}

// HandleOutcome dispatches to the callback matching the event type.
func (s ListenerSet) HandleOutcome(ctx context.Context, event *OutcomeEvent) error {
	var fn func(context.Context, *OutcomeEvent)
	switch event.Type {
	case EventCompleted:
		fn = s.OnCompleted
	case EventFailed:
		fn = s.OnFailed
	case EventTimeout:
		fn = s.OnTimeout
	}
	if fn != nil {
		fn(ctx, event)
	}
	return nil
}
