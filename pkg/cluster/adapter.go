// Package cluster talks to the batch scheduler that runs the jobs.
//
// Every backend is expressed as a Dialect (how to build the submit, query and
// kill commands and how to read their output) driven by a single
// CommandAdapter. Simulate mode swaps the process execution for the
// dialect's canned output, so output parsing and the caller's state
// transitions run exactly as they would against the real scheduler.
package cluster

import (
	"context"

	"github.com/3leaps/jobsender/pkg/jobstate"
)

// RemoteStatus is the scheduler's view of a submitted job.
type RemoteStatus string

const (
	RemotePending   RemoteStatus = "pending"
	RemoteRunning   RemoteStatus = "running"
	RemoteSucceeded RemoteStatus = "succeeded"
	RemoteFailed    RemoteStatus = "failed"
	RemoteAborted   RemoteStatus = "aborted"
	RemoteUnknown   RemoteStatus = "unknown"
)

// Adapter submits, queries and kills jobs on a batch system.
type Adapter interface {
	// Submit hands the job's script to the scheduler and returns the
	// backend handle. Rejections wrap ErrSubmit.
	Submit(ctx context.Context, spec jobstate.WorkSpec) (string, error)

	// Query returns the live status of a handle. When the backend cannot
	// report it, the status is RemoteUnknown and the error wraps ErrQuery.
	Query(ctx context.Context, handle string) (RemoteStatus, error)

	// Kill asks the scheduler to terminate a handle. Failures wrap ErrKill.
	Kill(ctx context.Context, handle string) error
}

// StdoutFile and StderrFile are the log names every backend writes in the
// job directory.
const (
	StdoutFile = "STDOUT"
	StderrFile = "STDERR"
)
