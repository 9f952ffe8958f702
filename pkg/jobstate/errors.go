package jobstate

import (
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors for state store operations.
var (
	// ErrNotFound indicates no state file exists in the work dir, i.e. no
	// batch has been configured there yet.
	ErrNotFound = fmt.Errorf("no batch state found: %w", fs.ErrNotExist)

	// ErrCorrupt indicates the state file exists but could not be read back
	// completely (truncated, malformed, or violating record invariants).
	ErrCorrupt = errors.New("batch state is corrupt")

	// ErrUnknownIndex indicates a record index that the store does not hold.
	ErrUnknownIndex = errors.New("unknown job index")
)

// StoreError wraps state file errors with the path involved.
type StoreError struct {
	// Op is the operation that failed ("load", "save").
	Op string

	// Path is the state file path.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing state file.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCorrupt returns true if the error indicates an unreadable state file.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

func invariantError(index int, format string, args ...any) error {
	return corrupt("job %d: %s", index, fmt.Sprintf(format, args...))
}
