// Package domain defines the core task lifecycle entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrSubjectRequired is returned when an operation is given an empty subject key.
	ErrSubjectRequired = errors.New("subject key is required")

	// ErrInvalidKind is returned when a task kind is neither quick nor full.
	ErrInvalidKind = errors.New("invalid analysis kind")

	// ErrTaskAlreadyRunning is returned when a submission targets a subject
	// that already has a live task in the local registry.
	ErrTaskAlreadyRunning = errors.New("analysis already running")

	// ErrSubmissionConflict marks a remote 409 response to a submit call.
	// It is consumed by the coordinator's adoption path and never reaches callers.
	ErrSubmissionConflict = errors.New("analysis already running remotely")

	// ErrTransport is returned for network, HTTP status and decode failures
	// while talking to the analysis backend.
	ErrTransport = errors.New("analysis transport error")

	// ErrRemoteFailure is returned when the backend reports failure or revocation.
	ErrRemoteFailure = errors.New("analysis failed remotely")

	// ErrPollTimeout is returned when a task is still running after the
	// poller exhausted its iteration budget.
	ErrPollTimeout = errors.New("analysis polling timed out")
)

// AlreadyRunningError carries the live task that blocked a submission.
type AlreadyRunningError struct {
	SubjectKey string
	TaskID     string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("%s: subject %q has live task %s", ErrTaskAlreadyRunning, e.SubjectKey, e.TaskID)
}

// Unwrap lets errors.Is match ErrTaskAlreadyRunning.
func (e *AlreadyRunningError) Unwrap() error {
	return ErrTaskAlreadyRunning
}

// SubmissionConflictError describes the task the backend reported as already
// running when a submit call was rejected with HTTP 409.
type SubmissionConflictError struct {
	ExistingTaskID string
	Status         Status
	// Kind is empty when the backend omitted the task type.
	Kind    Kind
	Message string
}

func (e *SubmissionConflictError) Error() string {
	return fmt.Sprintf("%s: existing task %s (%s)", ErrSubmissionConflict, e.ExistingTaskID, e.Status)
}

// Unwrap lets errors.Is match ErrSubmissionConflict.
func (e *SubmissionConflictError) Unwrap() error {
	return ErrSubmissionConflict
}

// TransportError wraps a failure to reach or understand the analysis backend.
type TransportError struct {
	// Op names the backend call, e.g. "submit" or "task_detail".
	Op string
	// StatusCode is the HTTP status when a response was received, zero otherwise.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s returned HTTP %d: %v", ErrTransport, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrTransport, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransport as a match in addition to the wrapped cause.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// RemoteFailureError is a server-reported failure or revocation.
type RemoteFailureError struct {
	TaskID  string
	Status  Status
	Message string
}

func (e *RemoteFailureError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: task %s %s", ErrRemoteFailure, e.TaskID, e.Status)
	}
	return fmt.Sprintf("%s: task %s %s: %s", ErrRemoteFailure, e.TaskID, e.Status, e.Message)
}

func (e *RemoteFailureError) Unwrap() error {
	return ErrRemoteFailure
}
