package cluster

import (
	"errors"
	"fmt"
)

// Sentinel errors for scheduler operations.
var (
	// ErrSubmit indicates the scheduler rejected a submission.
	ErrSubmit = errors.New("submit rejected")

	// ErrQuery indicates the scheduler could not report a handle's status.
	ErrQuery = errors.New("status query failed")

	// ErrKill indicates the scheduler did not confirm a kill.
	ErrKill = errors.New("kill failed")

	// ErrCommandTimeout indicates a scheduler command ran past its timeout.
	ErrCommandTimeout = errors.New("scheduler command timed out")

	// ErrUnsupportedBackend indicates no dialect matches the requested backend.
	ErrUnsupportedBackend = errors.New("unsupported cluster backend")
)

// Error wraps scheduler errors with context.
type Error struct {
	// Op is the operation that failed ("submit", "query", "kill").
	Op string

	// Backend is the dialect name (e.g., "htcondor").
	Backend string

	// Handle is the backend handle, if applicable.
	Handle string

	// Kind is one of ErrSubmit, ErrQuery, ErrKill.
	Kind error

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.Handle, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns both the kind sentinel and the underlying error for
// errors.Is/As support.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsSubmitError returns true if the error indicates a rejected submission.
func IsSubmitError(err error) bool {
	return errors.Is(err, ErrSubmit)
}

// IsQueryError returns true if the error indicates a failed status query.
func IsQueryError(err error) bool {
	return errors.Is(err, ErrQuery)
}

// IsKillError returns true if the error indicates an unconfirmed kill.
func IsKillError(err error) bool {
	return errors.Is(err, ErrKill)
}
