package cluster

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/3leaps/jobsender/pkg/jobstate"
)

// HTCondorQueues are the job flavours accepted by the CERN HTCondor pool,
// from shortest to longest maximum runtime.
var HTCondorQueues = []string{"espresso", "microcentury", "longlunch", "workday", "tomorrow", "testmatch", "nextweek"}

// DefaultHTCondorQueue is used when no queue is configured.
const DefaultHTCondorQueue = "longlunch"

var condorSubmitRe = regexp.MustCompile(`submitted to cluster (\d+)`)

// HTCondor drives condor_submit / condor_q / condor_rm.
//
// Each job gets a submit description file next to its script:
//
//	<jobdir>/<script>.sub
type HTCondor struct {
	Queue     string
	ExtraArgs []string
}

var _ Dialect = (*HTCondor)(nil)

func (h *HTCondor) Name() string { return "htcondor" }

func (h *HTCondor) queue() string {
	if h.Queue == "" {
		return DefaultHTCondorQueue
	}
	return h.Queue
}

// SubmitFile renders the submit description for a script.
func (h *HTCondor) SubmitFile(script string) string {
	lines := []string{
		fmt.Sprintf("executable              = %s", script),
		"arguments               = $(ClusterId)$(ProcId)",
		fmt.Sprintf("output                  = %s", StdoutFile),
		fmt.Sprintf("error                   = %s", StderrFile),
		"log                     = log/$(ClusterId).log",
		fmt.Sprintf("+JobFlavour             = %q", h.queue()),
		"queue",
	}
	return strings.Join(lines, "\n") + "\n"
}

func (h *HTCondor) SubmitCommand(jobDir string, spec jobstate.WorkSpec) (Command, error) {
	base := strings.TrimSuffix(spec.Script, filepath.Ext(spec.Script))
	subName := base + ".sub"
	if err := os.WriteFile(filepath.Join(jobDir, subName), []byte(h.SubmitFile(spec.Script)), 0644); err != nil {
		return Command{}, fmt.Errorf("write submit file: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(jobDir, "log"), 0755); err != nil {
		return Command{}, fmt.Errorf("create log dir: %w", err)
	}

	args := append([]string{}, h.ExtraArgs...)
	args = append(args, subName)
	return Command{Dir: jobDir, Name: "condor_submit", Args: args}, nil
}

func (h *HTCondor) ParseSubmit(out Output) (string, error) {
	m := condorSubmitRe.FindStringSubmatch(out.Stdout)
	if m == nil {
		return "", fmt.Errorf("no cluster id in condor_submit output: %q", strings.TrimSpace(out.Stdout))
	}
	return m[1], nil
}

func (h *HTCondor) QueryCommand(handle string) Command {
	return Command{Name: "condor_q", Args: []string{"-nobatch", handle}}
}

// ParseQuery reads condor_q -nobatch output:
//
//	-- Schedd: xxxxxxx.cern.ch : <XXX.XXX.XXX.XXX:XXXX?... @ 10/01/19 12:09:38
//	 ID         OWNER            SUBMITTED     RUN_TIME ST PRI SIZE CMD
//	 3205766.0   duarte         10/1  12:09   0+00:00:00 I  0    0.0 digijobs.sh 3205766.0
//
// A job that is no longer listed has left the queue and is reported as
// succeeded; the work environment decides whether it really did.
func (h *HTCondor) ParseQuery(handle string, out Output) (RemoteStatus, error) {
	if out.ExitCode != 0 {
		return RemoteUnknown, fmt.Errorf("condor_q exited with code %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	for _, line := range strings.Split(out.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 || !strings.HasPrefix(fields[0], handle+".") {
			continue
		}
		switch fields[5] {
		case "I", "H":
			return RemotePending, nil
		case "R", "S", "<", ">":
			return RemoteRunning, nil
		case "C":
			return RemoteSucceeded, nil
		case "X":
			return RemoteAborted, nil
		default:
			return RemoteUnknown, fmt.Errorf("unrecognized condor state %q", fields[5])
		}
	}
	if strings.Contains(out.Stdout, "ID") || strings.Contains(out.Stdout, "Total for query") {
		return RemoteSucceeded, nil
	}
	return RemoteUnknown, fmt.Errorf("unrecognized condor_q output: %q", strings.TrimSpace(out.Stdout))
}

func (h *HTCondor) KillCommand(handle string) Command {
	return Command{Name: "condor_rm", Args: []string{handle}}
}

func (h *HTCondor) Simulate(action Action, handle string) Output {
	switch action {
	case ActionSubmit:
		return Output{Stdout: fmt.Sprintf("Submitting job(s).\n1 job(s) submitted to cluster %d.\n", rand.IntN(9999999))}
	case ActionQuery:
		return Output{Stdout: fmt.Sprintf("\n\n-- Schedd: simulated : <127.0.0.1:9618> @ 10/01/19 12:09:38\n ID OWNER SUBMITTED RUN_TIME ST PRI SIZE CMD\n%s.0 sim 10/1 12:09 0+00:10:00 C 0 0.0 job.sh %s.0\n", handle, handle)}
	default:
		return Output{Stdout: fmt.Sprintf("All jobs in cluster %s have been marked for removal\n", handle)}
	}
}
