package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable is returned when the ledger file is missing
	// (and first run is not allowed), unreadable, or corrupt.
	ErrStorageUnavailable = errors.New("ledger storage unavailable")

	// ErrFlagRegression is returned by Save when the snapshot would clear a
	// stage flag, re-target an excluded task, or drop a task that is on disk.
	ErrFlagRegression = errors.New("ledger flag regression")

	// ErrTaskNotFound is returned by Update for an unknown id.
	ErrTaskNotFound = errors.New("task not found")
)

// CorruptError describes why a ledger file could not be decoded.
type CorruptError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("corrupt ledger %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("corrupt ledger %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}
