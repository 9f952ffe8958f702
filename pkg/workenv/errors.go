package workenv

import (
	"errors"
	"fmt"
)

// ErrConfig indicates a job's workspec could not be materialized because a
// flavor-specific input or setting is missing.
var ErrConfig = errors.New("job configuration failed")

// ConfigError wraps configuration failures with the flavor and the setting
// involved.
type ConfigError struct {
	// Flavor is the work environment flavor (e.g., "athena").
	Flavor string

	// Field names the missing or invalid input (a file, an environment
	// variable, a manifest field).
	Field string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s job: %v", e.Flavor, e.Err)
	}
	return fmt.Sprintf("%s job: %s: %v", e.Flavor, e.Field, e.Err)
}

// Unwrap returns ErrConfig and the underlying error for errors.Is/As support.
func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfig, e.Err}
}

// IsConfigError returns true if the error indicates a configuration failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}

func configErr(flavor, field, format string, args ...any) error {
	return &ConfigError{Flavor: flavor, Field: field, Err: fmt.Errorf(format, args...)}
}
