// Package storage holds admitted log records in memory and answers filtered
// queries and counter snapshots over them.
package storage

import (
	"errors"
	"fmt"
)

// ErrInvalidData indicates a nil or incomplete record was appended.
var ErrInvalidData = errors.New("storage: invalid data")

// StorageError wraps storage errors with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}
