package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidEntity means a value was rejected before or by the store.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrResultNotFound indicates that no result is retained for a subject.
	ErrResultNotFound = fmt.Errorf("%w: analysis result", ErrNotFound)
)

// IsNotFoundError reports whether err wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StoreError records which operation on which entity failed.
type StoreError struct {
	Entity    string
	Operation string
	Message   string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s operation on %s failed: %s: %v", e.Operation, e.Entity, e.Message, e.Err)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
