package persistence

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound indicates no value exists for the given key.
var ErrKeyNotFound = errors.New("key not found")

// StoreError wraps storage errors with operation context.
type StoreError struct {
	Op  string // Operation being performed (e.g., "Get", "Set")
	Key string // Key if applicable
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s operation failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

// IsKeyNotFound checks if an error indicates a missing key.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
