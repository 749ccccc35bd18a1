package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the analysis variant requested from the backend.
type Kind string

// Supported analysis kinds.
const (
	// KindQuick is a fast, shallow analysis over a small review sample.
	KindQuick Kind = "quick"
	// KindFull is a slow, comprehensive analysis.
	KindFull Kind = "full"
)

// Estimated run times used as progress hints only.
const (
	QuickEstimatedDuration = 60 * time.Second
	FullEstimatedDuration  = 300 * time.Second
)

// ParseKind converts a case-insensitive string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindQuick:
		return KindQuick, nil
	case KindFull:
		return KindFull, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindQuick || k == KindFull
}

// EstimatedDuration returns the expected run time for tasks of this kind.
func (k Kind) EstimatedDuration() time.Duration {
	if k == KindFull {
		return FullEstimatedDuration
	}
	return QuickEstimatedDuration
}

// Status is the lifecycle state reported by the analysis backend.
type Status string

// Task status values. The first three are live, the rest terminal.
const (
	StatusPending  Status = "pending"
	StatusStarted  Status = "started"
	StatusProgress Status = "progress"
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusRevoked  Status = "revoked"
)

// ParseStatus normalizes a backend status string. The boolean is false when
// the value is not one of the canonical statuses; the lowercased input is
// still returned so it can be logged.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusStarted, StatusProgress, StatusSuccess, StatusFailure, StatusRevoked:
		return st, true
	default:
		return st, false
	}
}

// IsTerminal reports whether the task will never change again.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRevoked
}

// IsActive reports whether the backend is still working on the task.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusStarted || s == StatusProgress
}

// IsFailed reports whether the task ended without a result.
func (s Status) IsFailed() bool {
	return s == StatusFailure || s == StatusRevoked
}

// StepMessage returns the default human-readable step description for a
// status, used when the backend does not supply its own message.
func StepMessage(s Status) string {
	switch s {
	case StatusPending, StatusStarted:
		return "Queued for processing..."
	case StatusProgress:
		return "Analyzing reviews..."
	case StatusSuccess:
		return "Analysis complete!"
	case StatusFailure, StatusRevoked:
		return "Analysis failed"
	default:
		return "Processing..."
	}
}
