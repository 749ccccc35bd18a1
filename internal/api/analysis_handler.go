package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/deepfocal/taskwatch/internal/api/shared"
	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/deepfocal/taskwatch/internal/events"
	"github.com/go-chi/chi/v5"
)

// TaskService is the coordinator surface the handlers use.
type TaskService interface {
	Submit(ctx context.Context, subjectKey, contextID string, kind domain.Kind, listeners ...events.Listener) (string, error)
	GetStatus(subjectKey string) (domain.TaskRecord, bool)
	GetResult(ctx context.Context, subjectKey string) (*domain.TaskResult, error)
	ClearResult(ctx context.Context, subjectKey string) error
	IsRunning(subjectKey string) bool
	IsAnyRunning() bool
	Snapshot() []domain.TaskRecord
	Resume(ctx context.Context, projectID string) ([]string, error)
}

// AnalysisHandler serves the /api/analyses and /api/projects routes.
type AnalysisHandler struct {
	tasks TaskService
}

// NewAnalysisHandler creates an AnalysisHandler.
func NewAnalysisHandler(tasks TaskService) *AnalysisHandler {
	return &AnalysisHandler{tasks: tasks}
}

// Submit handles POST /api/analyses.
func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitAnalysisRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	taskID, err := h.tasks.Submit(r.Context(), req.SubjectKey, req.ContextID, kind)
	if err != nil {
		var running *domain.AlreadyRunningError
		if errors.As(err, &running) {
			shared.RespondWithJSON(w, r, http.StatusConflict, ConflictResponse{
				Error:          GetSafeErrorMessage(err),
				ExistingTaskID: running.TaskID,
				TraceID:        shared.GetTraceID(r.Context()),
			})
			return
		}
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitAnalysisResponse{
		TaskID:     taskID,
		SubjectKey: req.SubjectKey,
		Kind:       kind,
	})
}

// List handles GET /api/analyses.
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{
		Tasks:      h.tasks.Snapshot(),
		AnyRunning: h.tasks.IsAnyRunning(),
	})
}

// Get handles GET /api/analyses/{subjectKey}.
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	subjectKey := chi.URLParam(r, "subjectKey")

	rec, ok := h.tasks.GetStatus(subjectKey)
	if !ok {
		shared.RespondWithError(w, r, http.StatusNotFound, "No running analysis for this subject")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, rec)
}

// Running handles GET /api/analyses/{subjectKey}/running.
func (h *AnalysisHandler) Running(w http.ResponseWriter, r *http.Request) {
	subjectKey := chi.URLParam(r, "subjectKey")
	shared.RespondWithJSON(w, r, http.StatusOK, RunningResponse{
		SubjectKey: subjectKey,
		Running:    h.tasks.IsRunning(subjectKey),
	})
}

// GetResult handles GET /api/analyses/{subjectKey}/result.
func (h *AnalysisHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.tasks.GetResult(r.Context(), chi.URLParam(r, "subjectKey"))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resultToResponse(result))
}

// ClearResult handles DELETE /api/analyses/{subjectKey}/result.
func (h *AnalysisHandler) ClearResult(w http.ResponseWriter, r *http.Request) {
	if err := h.tasks.ClearResult(r.Context(), chi.URLParam(r, "subjectKey")); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles POST /api/projects/{projectID}/resume.
func (h *AnalysisHandler) Resume(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	adopted, err := h.tasks.Resume(r.Context(), projectID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ResumeResponse{ProjectID: projectID, Adopted: adopted})
}
