package inputs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Sentinel errors for input resolution.
var (
	// ErrNoMatch indicates a pattern matched no input file.
	ErrNoMatch = errors.New("no input files matched")

	// ErrInvalidPattern indicates a malformed glob or s3:// URI.
	ErrInvalidPattern = errors.New("invalid input pattern")

	// ErrAccessDenied indicates insufficient permissions on the bucket.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the object store could not be reached.
	ErrUnavailable = errors.New("object store unavailable")
)

// Error wraps input resolution errors with the offending pattern.
type Error struct {
	// Pattern is the input pattern being resolved.
	Pattern string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Pattern, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNoMatch returns true if the error indicates an empty pattern match.
func IsNoMatch(err error) bool {
	return errors.Is(err, ErrNoMatch)
}

// IsUnavailable returns true if the object store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// classifyS3Error maps SDK errors to the sentinels above, keeping the
// original error in the chain.
func classifyS3Error(err error) error {
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		case "SlowDown", "ServiceUnavailable", "InternalError":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchBucket"):
		return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "403"):
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "503"):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
