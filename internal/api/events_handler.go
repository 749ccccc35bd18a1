package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deepfocal/taskwatch/internal/api/shared"
	"github.com/deepfocal/taskwatch/internal/events"
	"github.com/deepfocal/taskwatch/internal/platform/logger"
)

// eventBuffer is how many outcomes a slow stream client may fall behind
// before events are dropped for it.
const eventBuffer = 32

// EventsHandler streams outcome events as Server-Sent Events.
type EventsHandler struct {
	bus       events.Subscriber
	keepAlive time.Duration
}

// NewEventsHandler creates an EventsHandler. keepAlive is the interval of
// comment frames sent to hold idle connections open.
func NewEventsHandler(bus events.Subscriber, keepAlive time.Duration) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &EventsHandler{bus: bus, keepAlive: keepAlive}
}

// Stream handles GET /api/events. An optional subject_key query parameter
// limits the stream to one subject. The connection's listener is removed
// when the client disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	log := logger.FromContext(r.Context())
	subjectKey := r.URL.Query().Get("subject_key")

	ch := make(chan *events.OutcomeEvent, eventBuffer)
	unsubscribe := h.bus.Subscribe(events.ListenerFunc(func(_ context.Context, e *events.OutcomeEvent) error {
		if subjectKey != "" && e.SubjectKey != subjectKey {
			return nil
		}
		select {
		case ch <- e:
		default:
			log.Warn("event stream client too slow, dropping event",
				"event_id", e.ID,
				"subject_key", e.SubjectKey)
		}
		return nil
	}))
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e := <-ch:
			if err := writeEvent(w, e); err != nil {
				log.Debug("event stream write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e *events.OutcomeEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
	return err
}
