package cluster

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/3leaps/jobsender/pkg/jobstate"
)

// Slurm drives sbatch / squeue / scancel.
type Slurm struct {
	Partition string
	ExtraArgs []string
}

var _ Dialect = (*Slurm)(nil)

func (s *Slurm) Name() string { return "slurm" }

func (s *Slurm) SubmitCommand(jobDir string, spec jobstate.WorkSpec) (Command, error) {
	args := []string{"--parsable", "-o", StdoutFile, "-e", StderrFile}
	if s.Partition != "" {
		args = append(args, "-p", s.Partition)
	}
	args = append(args, s.ExtraArgs...)
	args = append(args, spec.Script)
	return Command{Dir: jobDir, Name: "sbatch", Args: args}, nil
}

// ParseSubmit reads "<jobid>" or "<jobid>;<cluster>" as printed by
// sbatch --parsable.
func (s *Slurm) ParseSubmit(out Output) (string, error) {
	line := strings.TrimSpace(firstLine(out.Stdout))
	id, _, _ := strings.Cut(line, ";")
	if _, err := strconv.Atoi(id); err != nil {
		return "", fmt.Errorf("no job id in sbatch output: %q", strings.TrimSpace(out.Stdout))
	}
	return id, nil
}

func (s *Slurm) QueryCommand(handle string) Command {
	return Command{Name: "squeue", Args: []string{"-h", "-j", handle, "-o", "%T"}}
}

// ParseQuery reads the single state word printed by squeue -h -o %T. Jobs
// purged from the controller print nothing (or "Invalid job id") and are
// treated as having left the queue.
func (s *Slurm) ParseQuery(handle string, out Output) (RemoteStatus, error) {
	if strings.Contains(out.Stderr, "Invalid job id") {
		return RemoteSucceeded, nil
	}
	if out.ExitCode != 0 {
		return RemoteUnknown, fmt.Errorf("squeue exited with code %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	state := strings.TrimSpace(firstLine(out.Stdout))
	switch state {
	case "":
		return RemoteSucceeded, nil
	case "PENDING", "CONFIGURING", "REQUEUED", "RESV_DEL_HOLD", "REQUEUE_HOLD":
		return RemotePending, nil
	case "RUNNING", "COMPLETING", "SUSPENDED", "STAGE_OUT":
		return RemoteRunning, nil
	case "COMPLETED":
		return RemoteSucceeded, nil
	case "FAILED", "TIMEOUT", "NODE_FAIL", "OUT_OF_MEMORY", "BOOT_FAIL", "DEADLINE":
		return RemoteFailed, nil
	case "CANCELLED", "PREEMPTED", "REVOKED":
		return RemoteAborted, nil
	default:
		return RemoteUnknown, fmt.Errorf("unrecognized slurm state %q", state)
	}
}

func (s *Slurm) KillCommand(handle string) Command {
	return Command{Name: "scancel", Args: []string{handle}}
}

func (s *Slurm) Simulate(action Action, handle string) Output {
	switch action {
	case ActionSubmit:
		return Output{Stdout: fmt.Sprintf("%d\n", rand.IntN(9999999))}
	case ActionQuery:
		return Output{Stdout: "COMPLETED\n"}
	default:
		return Output{}
	}
}
