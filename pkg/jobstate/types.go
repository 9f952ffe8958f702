package jobstate

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a tracked job.
//
// NOTE: These values are persisted in .presentjobs and are part of the stable
// on-disk contract.
type State string

const (
	StateUnset      State = "unset"
	StateConfigured State = "configured"
	StateSubmitted  State = "submitted"
	StateRunning    State = "running"
	StateFinished   State = "finished"
	StateAborted    State = "aborted"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateUnset, StateConfigured, StateSubmitted, StateRunning, StateFinished, StateAborted:
		return true
	}
	return false
}

// HasHandle reports whether a record in this state must carry a backend handle.
func (s State) HasHandle() bool {
	switch s {
	case StateSubmitted, StateRunning, StateFinished, StateAborted:
		return true
	}
	return false
}

// Alive reports whether the job is queued or executing on the cluster.
func (s State) Alive() bool {
	return s == StateSubmitted || s == StateRunning
}

// Terminal reports whether no automatic transition leaves this state.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateAborted
}

// Status qualifies a finished job.
type Status string

const (
	StatusNone    Status = ""
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// WorkSpec references the artifacts produced for one job by its work
// environment.
type WorkSpec struct {
	// Dir is the job directory, relative to the batch work dir.
	Dir string `json:"dir"`

	// Script is the submittable script path, relative to Dir. It is empty
	// until the job has been materialized.
	Script string `json:"script,omitempty"`

	// Params holds the flavor-specific per-job parameters (event ranges,
	// input files, ...) decided when the batch was split.
	Params map[string]string `json:"params,omitempty"`
}

// Param returns a per-job parameter or "" when absent.
func (w WorkSpec) Param(key string) string {
	if w.Params == nil {
		return ""
	}
	return w.Params[key]
}

// JobRecord is one tracked unit of remote work.
type JobRecord struct {
	Index    int      `json:"index"`
	State    State    `json:"state"`
	Status   Status   `json:"status,omitempty"`
	Handle   string   `json:"handle,omitempty"`
	WorkSpec WorkSpec `json:"workspec"`

	SubmitCount int       `json:"submit_count,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the handle/status invariants of a single record.
func (r JobRecord) Validate() error {
	if r.Index < 0 {
		return invariantError(r.Index, "negative index")
	}
	if !r.State.Valid() {
		return invariantError(r.Index, "unknown state %q", r.State)
	}
	if r.State.HasHandle() != (r.Handle != "") {
		return invariantError(r.Index, "state %s with handle %q", r.State, r.Handle)
	}
	if (r.State == StateFinished) != (r.Status != StatusNone) {
		return invariantError(r.Index, "state %s with status %q", r.State, r.Status)
	}
	if r.Status != StatusNone && r.Status != StatusSuccess && r.Status != StatusFail {
		return invariantError(r.Index, "unknown status %q", r.Status)
	}
	return nil
}

// Label renders state and status the way operators read them, e.g.
// "finished/fail".
func (r JobRecord) Label() string {
	if r.Status != StatusNone {
		return string(r.State) + "/" + string(r.Status)
	}
	return string(r.State)
}

// Cluster records the scheduler settings a batch was created with.
type Cluster struct {
	Backend   string `json:"backend"`
	Queue     string `json:"queue,omitempty"`
	ExtraOpts string `json:"extra_opts,omitempty"`
}

// Batch describes the batch a store tracks.
type Batch struct {
	Name   string `json:"name"`
	Flavor string `json:"flavor"`

	// Manifest is a JSON copy of the batch manifest so that later
	// invocations (reconfigure, resubmit) can rebuild the work environment.
	Manifest json.RawMessage `json:"manifest,omitempty"`
	Cluster  Cluster         `json:"cluster"`
}
