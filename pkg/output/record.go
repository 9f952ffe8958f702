// Package output writes the batch journal: a JSONL trail of what every
// lifecycle operation did to the jobs of a batch.
//
// Each line is a typed record envelope that can be parsed independently,
// so the journal can be appended to across invocations and read with
// line-oriented tools.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: jobsender.<type>.v<version>
const (
	// TypeOutcome identifies per-job outcome records.
	TypeOutcome = "jobsender.outcome.v1"

	// TypeSummary identifies the record closing an operation.
	TypeSummary = "jobsender.summary.v1"

	// TypeError identifies operation-level errors.
	TypeError = "jobsender.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "jobsender.outcome.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// BatchID correlates records of the same batch.
	BatchID string `json:"batch_id"`

	// Backend is the scheduler the batch runs on (e.g., "slurm").
	Backend string `json:"backend"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// OutcomeRecord is what one operation did to one job.
type OutcomeRecord struct {
	Op      string `json:"op"`
	Index   int    `json:"index"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Handle  string `json:"handle,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Note    string `json:"note,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SummaryRecord closes the records of one operation.
type SummaryRecord struct {
	Op        string `json:"op"`
	Selected  int    `json:"selected"`
	Changed   []int  `json:"changed"`
	Failed    []int  `json:"failed"`
	Skipped   int    `json:"skipped"`
	Cancelled bool   `json:"cancelled,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`

	// Duration is the wall time of the operation.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// ErrorRecord reports an operation that could not complete as a whole,
// e.g. because the state file could not be saved.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Op is the operation that failed.
	Op string `json:"op"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeStateWrite = "STATE_WRITE"
	ErrCodeCancelled  = "CANCELLED"
	ErrCodeInternal   = "INTERNAL"
)

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
