package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type subscription struct {
	id       uint64
	listener Listener
}

// Bus is an in-memory Publisher and Subscriber. Listeners are called
// synchronously, in registration order, on the publishing goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

// NewBus creates a new instance of Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With("component", "notification_bus"),
	}
}

// Subscribe adds a listener to receive every published event.
// The returned function deregisters it and is safe to call more than once.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: l})
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("registered listener", "listener_id", id, "listener_count", count)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// SubscribeOnce registers l for the first event published about subjectKey.
// The listener is deregistered before it runs, so it fires at most once even
// under concurrent publishes. The returned cancel function drops it unfired.
func (b *Bus) SubscribeOnce(subjectKey string, l Listener) func() {
	var (
		once        sync.Once
		unsubscribe func()
		ready       = make(chan struct{})
	)

	filter := ListenerFunc(func(ctx context.Context, event *OutcomeEvent) error {
		if event.SubjectKey != subjectKey {
			return nil
		}
		fired := false
		once.Do(func() { fired = true })
		if !fired {
			return nil
		}
		<-ready
		unsubscribe()
		return l.HandleOutcome(ctx, event)
	})

	unsubscribe = b.Subscribe(filter)
	close(ready)

	return func() {
		once.Do(func() {})
		unsubscribe()
	}
}

// ListenerCount returns the number of registered listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers event to all currently registered listeners.
// If any listener returns an error or panics, the event is still delivered to
// the others and the first error encountered is returned.
func (b *Bus) Publish(ctx context.Context, event *OutcomeEvent) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	b.logger.Debug("publishing outcome",
		"event_id", event.ID,
		"event_type", event.Type,
		"subject_key", event.SubjectKey,
		"listener_count", len(subs))

	var firstErr error
	for _, sub := range subs {
		if err := b.deliver(ctx, sub, event); err != nil {
			b.logger.Error("listener failed to process outcome",
				"error", err,
				"listener_id", sub.id,
				"event_id", event.ID,
				"event_type", event.Type,
				"subject_key", event.SubjectKey)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (b *Bus) deliver(ctx context.Context, sub subscription, event *OutcomeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return sub.listener.HandleOutcome(ctx, event)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			b.logger.Debug("removed listener", "listener_id", id, "listener_count", len(b.subs))
			return
		}
	}
}

// Ensure Bus implements both halves of the bus interface.
var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)
