package api

import (
	"log/slog"
	"net/http"

	"github.com/deepfocal/taskwatch/internal/api/middleware"
	"github.com/deepfocal/taskwatch/internal/api/shared"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the handlers onto a chi router.
func NewRouter(analyses *AnalysisHandler, stream *EventsHandler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Trace(logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", analyses.Submit)
			r.Get("/", analyses.List)
			r.Route("/{subjectKey}", func(r chi.Router) {
				r.Get("/", analyses.Get)
				r.Get("/running", analyses.Running)
				r.Get("/result", analyses.GetResult)
				r.Delete("/result", analyses.ClearResult)
			})
		})
		r.Post("/projects/{projectID}/resume", analyses.Resume)
		r.Get("/events", stream.Stream)
	})

	return r
}
