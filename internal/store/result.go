package store

import (
	"context"
	"sync"

	"github.com/deepfocal/taskwatch/internal/domain"
)

// ResultStore retains the last terminal payload per subject.
type ResultStore interface {
	// Save stores result, overwriting any previous result for its subject.
	// Returns ErrInvalidEntity if the result has no subject or task id.
	Save(ctx context.Context, result domain.TaskResult) error

	// Get returns the result for subjectKey.
	// Returns ErrResultNotFound if none is retained.
	Get(ctx context.Context, subjectKey string) (*domain.TaskResult, error)

	// Delete removes the result for subjectKey. Deleting a missing result
	// is not an error.
	Delete(ctx context.Context, subjectKey string) error
}

// ValidateResult checks the fields every store relies on.
func ValidateResult(result domain.TaskResult) error {
	if result.SubjectKey == "" {
		return NewStoreError("analysis_result", "save", "subject key is empty", ErrInvalidEntity)
	}
	if result.TaskID == "" {
		return NewStoreError("analysis_result", "save", "task id is empty", ErrInvalidEntity)
	}
	return nil
}

// MemoryResultStore is a ResultStore backed by a map.
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]domain.TaskResult
}

// NewMemoryResultStore creates an empty in-memory store.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[string]domain.TaskResult)}
}

// Save implements ResultStore.
func (s *MemoryResultStore) Save(_ context.Context, result domain.TaskResult) error {
	if err := ValidateResult(result); err != nil {
		return err
	}
	result.Payload = append([]byte(nil), result.Payload...)

	s.mu.Lock()
	s.results[result.SubjectKey] = result
	s.mu.Unlock()
	return nil
}

// Get implements ResultStore.
func (s *MemoryResultStore) Get(_ context.Context, subjectKey string) (*domain.TaskResult, error) {
	s.mu.RLock()
	result, ok := s.results[subjectKey]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrResultNotFound
	}
	result.Payload = append([]byte(nil), result.Payload...)
	return &result, nil
}

// Delete implements ResultStore.
func (s *MemoryResultStore) Delete(_ context.Context, subjectKey string) error {
	s.mu.Lock()
	delete(s.results, subjectKey)
	s.mu.Unlock()
	return nil
}

var _ ResultStore = (*MemoryResultStore)(nil)
