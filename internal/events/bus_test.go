package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingListener captures every event it receives.
type recordingListener struct {
	mu     sync.Mutex
	events []*OutcomeEvent
	err    error
}

func (l *recordingListener) HandleOutcome(_ context.Context, event *OutcomeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return l.err
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("publish with no listeners", func(t *testing.T) {
		bus := NewBus(testLogger())
		err := bus.Publish(ctx, NewTimeoutEvent("app", "t1", domain.KindQuick))
		assert.NoError(t, err)
	})

	t.Run("publish reaches all listeners", func(t *testing.T) {
		bus := NewBus(testLogger())
		l1, l2 := &recordingListener{}, &recordingListener{}
		bus.Subscribe(l1)
		bus.Subscribe(l2)

		event := NewFailedEvent("app", "t1", domain.KindFull, "Analysis failed")
		require.NoError(t, bus.Publish(ctx, event))

		assert.Equal(t, 1, l1.count())
		assert.Equal(t, 1, l2.count())
		assert.Same(t, event, l1.events[0])
	})

	t.Run("failing listener does not stop delivery", func(t *testing.T) {
		bus := NewBus(testLogger())
		failing := &recordingListener{err: errors.New("listener error")}
		ok := &recordingListener{}
		bus.Subscribe(failing)
		bus.Subscribe(ok)

		err := bus.Publish(ctx, NewTimeoutEvent("app", "t1", domain.KindQuick))
		require.Error(t, err)
		assert.Equal(t, "listener error", err.Error())
		assert.Equal(t, 1, ok.count())
	})

	t.Run("panicking listener is contained", func(t *testing.T) {
		bus := NewBus(testLogger())
		bus.Subscribe(ListenerFunc(func(context.Context, *OutcomeEvent) error {
			panic("boom")
		}))
		ok := &recordingListener{}
		bus.Subscribe(ok)

		err := bus.Publish(ctx, NewTimeoutEvent("app", "t1", domain.KindQuick))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")
		assert.Equal(t, 1, ok.count())
	})
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	l := &recordingListener{}
	unsubscribe := bus.Subscribe(l)
	assert.Equal(t, 1, bus.ListenerCount())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, bus.ListenerCount())

	require.NoError(t, bus.Publish(context.Background(), NewTimeoutEvent("app", "t1", domain.KindQuick)))
	assert.Equal(t, 0, l.count())
}

func TestBus_SubscribeOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("fires once for matching subject then deregisters", func(t *testing.T) {
		bus := NewBus(testLogger())
		l := &recordingListener{}
		bus.SubscribeOnce("app.demo", l)

		require.NoError(t, bus.Publish(ctx, NewTimeoutEvent("other", "t0", domain.KindQuick)))
		assert.Equal(t, 0, l.count(), "other subjects are filtered")
		assert.Equal(t, 1, bus.ListenerCount())

		require.NoError(t, bus.Publish(ctx, NewTimeoutEvent("app.demo", "t1", domain.KindQuick)))
		require.NoError(t, bus.Publish(ctx, NewTimeoutEvent("app.demo", "t2", domain.KindQuick)))

		assert.Equal(t, 1, l.count())
		assert.Equal(t, 0, bus.ListenerCount(), "listener set must not accumulate")
	})

	t.Run("cancel drops the listener unfired", func(t *testing.T) {
		bus := NewBus(testLogger())
		l := &recordingListener{}
		cancel := bus.SubscribeOnce("app.demo", l)
		cancel()

		require.NoError(t, bus.Publish(ctx, NewTimeoutEvent("app.demo", "t1", domain.KindQuick)))
		assert.Equal(t, 0, l.count())
		assert.Equal(t, 0, bus.ListenerCount())
	})

	t.Run("concurrent publishes fire at most once", func(t *testing.T) {
		bus := NewBus(testLogger())
		var fired atomic.Int32
		bus.SubscribeOnce("app.demo", ListenerFunc(func(context.Context, *OutcomeEvent) error {
			fired.Add(1)
			return nil
		}))

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = bus.Publish(ctx, NewTimeoutEvent("app.demo", "t1", domain.KindQuick))
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), fired.Load())
	})
}

func TestListenerSet(t *testing.T) {
	var got []EventType
	set := ListenerSet{
		OnCompleted: func(_ context.Context, e *OutcomeEvent) { got = append(got, e.Type) },
		OnTimeout:   func(_ context.Context, e *OutcomeEvent) { got = append(got, e.Type) },
	}

	ctx := context.Background()
	result := domain.TaskResult{SubjectKey: "app", TaskID: "t1", Kind: domain.KindQuick}
	require.NoError(t, set.HandleOutcome(ctx, NewCompletedEvent(result)))
	require.NoError(t, set.HandleOutcome(ctx, NewFailedEvent("app", "t1", domain.KindQuick, "x")))
	require.NoError(t, set.HandleOutcome(ctx, NewTimeoutEvent("app", "t1", domain.KindQuick)))

	assert.Equal(t, []EventType{EventCompleted, EventTimeout}, got)
}

func TestNewCompletedEvent(t *testing.T) {
	result := domain.TaskResult{SubjectKey: "app.demo", TaskID: "t1", Kind: domain.KindQuick}
	event := NewCompletedEvent(result)

	assert.Equal(t, EventCompleted, event.Type)
	assert.Equal(t, "app.demo", event.SubjectKey)
	assert.Equal(t, domain.KindQuick, event.Kind)
	require.NotNil(t, event.Result)
	assert.Equal(t, "t1", event.Result.TaskID)
	assert.False(t, event.OccurredAt.IsZero())
}
