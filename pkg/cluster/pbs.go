package cluster

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/3leaps/jobsender/pkg/jobstate"
)

// DefaultPBSQueue is used when no queue is configured.
const DefaultPBSQueue = "N"

// PBS drives Torque/PBS qsub / qstat / qdel.
//
// Handles keep the server suffix qsub prints (e.g.
// "123456789.tau-cream.hep.tau.ac.il") so that qstat and qdel address the
// right server.
type PBS struct {
	Queue     string
	ExtraArgs []string
}

var _ Dialect = (*PBS)(nil)

func (p *PBS) Name() string { return "pbs" }

func (p *PBS) queue() string {
	if p.Queue == "" {
		return DefaultPBSQueue
	}
	return p.Queue
}

func (p *PBS) SubmitCommand(jobDir string, spec jobstate.WorkSpec) (Command, error) {
	args := []string{"-o", StdoutFile, "-e", StderrFile, "-q", p.queue(), "-V"}
	args = append(args, p.ExtraArgs...)
	args = append(args, spec.Script)
	return Command{Dir: jobDir, Name: "qsub", Args: args}, nil
}

func (p *PBS) ParseSubmit(out Output) (string, error) {
	line := strings.TrimSpace(firstLine(out.Stdout))
	id, _, _ := strings.Cut(line, ".")
	if _, err := strconv.Atoi(id); err != nil || line == "" {
		return "", fmt.Errorf("no job id in qsub output: %q", strings.TrimSpace(out.Stdout))
	}
	return line, nil
}

func (p *PBS) QueryCommand(handle string) Command {
	return Command{Name: "qstat", Args: []string{handle}}
}

// ParseQuery reads qstat output:
//
//	Job id          Name    User    Time Use  S  Queue
//	-----------------------------------------------------
//	JOBID_INT       blah     me      blah     R  bleah
//
// An "Unknown Job Id" answer means the server already forgot the job, i.e.
// it left the queue.
func (p *PBS) ParseQuery(handle string, out Output) (RemoteStatus, error) {
	if strings.Contains(out.Stdout, "Unknown Job Id") || strings.Contains(out.Stderr, "Unknown Job Id") {
		return RemoteSucceeded, nil
	}
	if out.ExitCode != 0 {
		return RemoteUnknown, fmt.Errorf("qstat exited with code %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	if !strings.HasPrefix(strings.TrimSpace(out.Stdout), "Job id") {
		return RemoteUnknown, fmt.Errorf("unrecognized qstat output: %q", strings.TrimSpace(out.Stdout))
	}

	lines := strings.Split(strings.TrimSpace(out.Stdout), "\n")
	if len(lines) < 3 {
		return RemoteUnknown, fmt.Errorf("qstat output has no job line")
	}
	fields := strings.Fields(lines[2])
	if len(fields) < 5 {
		return RemoteUnknown, fmt.Errorf("malformed qstat job line: %q", lines[2])
	}
	switch fields[4] {
	case "Q", "H", "W", "T":
		return RemotePending, nil
	case "R":
		return RemoteRunning, nil
	case "C":
		return RemoteSucceeded, nil
	case "E":
		return RemoteAborted, nil
	default:
		return RemoteUnknown, fmt.Errorf("unrecognized qstat state %q", fields[4])
	}
}

func (p *PBS) KillCommand(handle string) Command {
	return Command{Name: "qdel", Args: []string{handle}}
}

func (p *PBS) Simulate(action Action, handle string) Output {
	switch action {
	case ActionSubmit:
		return Output{Stdout: fmt.Sprintf("%d.simulated.pbs\n", rand.IntN(999999999))}
	case ActionQuery:
		return Output{Stdout: fmt.Sprintf("Job id  Name  User  Time Use S Queue\n----\n%s job.sh sim 00:10:00 C %s\n", handle, p.queue())}
	default:
		return Output{}
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimLeft(s, "\r\n"), "\n")
	return line
}
