package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/deepfocal/taskwatch/internal/store"
	"github.com/deepfocal/taskwatch/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrSubjectRequired),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrTaskAlreadyRunning):
		return http.StatusConflict

	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway

	case errors.Is(err, task.ErrCoordinatorClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, domain.ErrSubjectRequired):
		return "Subject key is required"
	case errors.Is(err, domain.ErrInvalidKind):
		return "Kind must be quick or full"
	case errors.Is(err, store.ErrResultNotFound):
		return "No result for this subject"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, domain.ErrTaskAlreadyRunning):
		return "Analysis already running for this subject"
	case errors.Is(err, domain.ErrTransport):
		var te *domain.TransportError
		if errors.As(err, &te) && te.StatusCode != 0 {
			return fmt.Sprintf("Analysis service returned HTTP %d", te.StatusCode)
		}
		return "Analysis service unavailable"
	case errors.Is(err, task.ErrCoordinatorClosed):
		return "Service is shutting down"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns a validator error into a short message
// naming the offending field.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Example: "Key: 'SubmitAnalysisRequest.Kind' Error:Field validation for 'Kind' failed on the 'oneof' tag"
	if strings.Contains(errMsg, "Field validation") {
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				if len(fieldParts) >= 5 {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(fieldParts[3]))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
