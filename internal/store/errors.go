package store

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateTask is returned when enqueueing an ID that already exists.
	ErrDuplicateTask = errors.New("task id already exists")

	// ErrNotFound is returned when a task lookup finds no row.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a phase update is not the
	// immediate successor of the stored phase.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrNotRunning is returned when a terminal status is requested for a
	// task that is not currently RUNNING.
	ErrNotRunning = errors.New("task is not running")
)

// StorageError wraps an I/O failure that survived the retry budget.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
