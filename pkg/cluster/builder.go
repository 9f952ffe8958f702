package cluster

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Backend names accepted by New.
const (
	BackendAuto     = "auto"
	BackendHTCondor = "htcondor"
	BackendPBS      = "pbs"
	BackendSlurm    = "slurm"
)

// Options configures an adapter.
type Options struct {
	// Backend is one of the Backend* names. Empty means BackendAuto.
	Backend string

	// Queue is passed to the scheduler (HTCondor job flavour, PBS queue,
	// Slurm partition). Empty selects the backend default.
	Queue string

	// ExtraOpts are extra scheduler arguments, whitespace separated.
	ExtraOpts string

	// WorkDir is the batch work dir job directories are relative to.
	WorkDir string

	// Simulate enables dry-run mode.
	Simulate bool

	// CommandTimeout bounds each scheduler command. Ignored when Runner is set.
	CommandTimeout time.Duration

	// Runner overrides process execution (tests).
	Runner Runner

	Logger *zap.Logger

	// Hostname overrides os.Hostname for auto detection.
	Hostname string
}

// New builds the adapter for the configured backend.
func New(opts Options) (*CommandAdapter, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" || backend == BackendAuto {
		host := opts.Hostname
		if host == "" {
			h, err := os.Hostname()
			if err != nil {
				return nil, fmt.Errorf("detect backend: %w", err)
			}
			host = h
		}
		detected, err := Detect(host)
		if err != nil {
			return nil, err
		}
		backend = detected
	}

	extra := strings.Fields(opts.ExtraOpts)
	var d Dialect
	switch backend {
	case BackendHTCondor:
		if opts.Queue != "" && !slices.Contains(HTCondorQueues, opts.Queue) {
			return nil, fmt.Errorf("invalid htcondor queue %q (valid: %s)", opts.Queue, strings.Join(HTCondorQueues, ", "))
		}
		d = &HTCondor{Queue: opts.Queue, ExtraArgs: extra}
	case BackendPBS:
		d = &PBS{Queue: opts.Queue, ExtraArgs: extra}
	case BackendSlurm:
		d = &Slurm{Partition: opts.Queue, ExtraArgs: extra}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}

	r := opts.Runner
	if r == nil {
		r = ExecRunner{Timeout: opts.CommandTimeout}
	}
	return NewCommandAdapter(d, r, opts.WorkDir, opts.Simulate, opts.Logger), nil
}

// Detect picks a backend from the host name of a known cluster front end.
func Detect(hostname string) (string, error) {
	host := strings.ToLower(hostname)
	switch {
	case strings.HasPrefix(host, "lxplus"):
		return BackendHTCondor, nil
	case strings.HasSuffix(host, "tau.ac.il"):
		return BackendPBS, nil
	default:
		return "", fmt.Errorf("%w: cannot detect backend for host %q, set --backend", ErrUnsupportedBackend, hostname)
	}
}

// Backends lists the concrete backend names.
func Backends() []string {
	return []string{BackendHTCondor, BackendPBS, BackendSlurm}
}

// Binaries lists the scheduler commands a backend runs, in submit, query,
// kill order.
func Binaries(backend string) []string {
	switch backend {
	case BackendHTCondor:
		return []string{"condor_submit", "condor_q", "condor_rm"}
	case BackendPBS:
		return []string{"qsub", "qstat", "qdel"}
	case BackendSlurm:
		return []string{"sbatch", "squeue", "scancel"}
	}
	return nil
}
