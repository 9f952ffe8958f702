package cluster

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/jobsender/pkg/jobstate"
)

// Action names a scheduler interaction.
type Action string

const (
	ActionSubmit Action = "submit"
	ActionQuery  Action = "query"
	ActionKill   Action = "kill"
)

// Dialect knows one scheduler's command syntax and output format.
type Dialect interface {
	// Name is the backend name (e.g., "htcondor").
	Name() string

	// SubmitCommand builds the submission for a job whose directory is
	// jobDir. It may write scheduler-specific companion files there.
	SubmitCommand(jobDir string, spec jobstate.WorkSpec) (Command, error)

	// ParseSubmit extracts the handle from the submit command's output.
	ParseSubmit(out Output) (string, error)

	// QueryCommand builds the status query for a handle.
	QueryCommand(handle string) Command

	// ParseQuery maps the query output to a RemoteStatus.
	ParseQuery(handle string, out Output) (RemoteStatus, error)

	// KillCommand builds the kill command for a handle.
	KillCommand(handle string) Command

	// Simulate returns the output the scheduler would print for an action.
	Simulate(action Action, handle string) Output
}

// CommandAdapter implements Adapter on top of a Dialect.
type CommandAdapter struct {
	dialect  Dialect
	runner   Runner
	workDir  string
	simulate bool
	log      *zap.Logger
}

var _ Adapter = (*CommandAdapter)(nil)

// NewCommandAdapter wires a dialect to a runner. Job directories are
// resolved against workDir.
func NewCommandAdapter(d Dialect, r Runner, workDir string, simulate bool, log *zap.Logger) *CommandAdapter {
	if r == nil {
		r = ExecRunner{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CommandAdapter{
		dialect:  d,
		runner:   r,
		workDir:  workDir,
		simulate: simulate,
		log:      log.With(zap.String("backend", d.Name())),
	}
}

// Backend returns the dialect name.
func (a *CommandAdapter) Backend() string {
	return a.dialect.Name()
}

// Simulated reports whether the adapter runs in dry-run mode.
func (a *CommandAdapter) Simulated() bool {
	return a.simulate
}

// Submit implements Adapter.
func (a *CommandAdapter) Submit(ctx context.Context, spec jobstate.WorkSpec) (string, error) {
	if strings.TrimSpace(spec.Script) == "" {
		return "", a.wrap(ActionSubmit, "", ErrSubmit, fmt.Errorf("job %s has no script", spec.Dir))
	}
	jobDir := filepath.Join(a.workDir, spec.Dir)
	cmd, err := a.dialect.SubmitCommand(jobDir, spec)
	if err != nil {
		return "", a.wrap(ActionSubmit, "", ErrSubmit, err)
	}

	out, err := a.run(ctx, ActionSubmit, "", cmd)
	if err != nil {
		return "", a.wrap(ActionSubmit, "", ErrSubmit, err)
	}
	if out.ExitCode != 0 {
		return "", a.wrap(ActionSubmit, "", ErrSubmit, commandFailure(cmd, out))
	}
	if msg := strings.TrimSpace(out.Stderr); msg != "" {
		a.log.Warn("Scheduler wrote to stderr on submit", zap.String("dir", spec.Dir), zap.String("stderr", msg))
	}

	handle, err := a.dialect.ParseSubmit(out)
	if err != nil {
		return "", a.wrap(ActionSubmit, "", ErrSubmit, err)
	}
	a.log.Debug("Submitted job", zap.String("dir", spec.Dir), zap.String("handle", handle))
	return handle, nil
}

// Query implements Adapter.
func (a *CommandAdapter) Query(ctx context.Context, handle string) (RemoteStatus, error) {
	cmd := a.dialect.QueryCommand(handle)
	out, err := a.run(ctx, ActionQuery, handle, cmd)
	if err != nil {
		return RemoteUnknown, a.wrap(ActionQuery, handle, ErrQuery, err)
	}

	status, err := a.dialect.ParseQuery(handle, out)
	if err != nil {
		return RemoteUnknown, a.wrap(ActionQuery, handle, ErrQuery, err)
	}
	if status == RemoteUnknown {
		return RemoteUnknown, a.wrap(ActionQuery, handle, ErrQuery, fmt.Errorf("unrecognized scheduler output: %q", strings.TrimSpace(out.Stdout)))
	}
	return status, nil
}

// Kill implements Adapter.
func (a *CommandAdapter) Kill(ctx context.Context, handle string) error {
	cmd := a.dialect.KillCommand(handle)
	out, err := a.run(ctx, ActionKill, handle, cmd)
	if err != nil {
		return a.wrap(ActionKill, handle, ErrKill, err)
	}
	if out.ExitCode != 0 {
		return a.wrap(ActionKill, handle, ErrKill, commandFailure(cmd, out))
	}
	return nil
}

func (a *CommandAdapter) run(ctx context.Context, action Action, handle string, cmd Command) (Output, error) {
	if a.simulate {
		a.log.Info("Dry run: scheduler command not executed",
			zap.String("action", string(action)),
			zap.String("command", cmd.String()),
			zap.String("dir", cmd.Dir))
		return a.dialect.Simulate(action, handle), nil
	}
	a.log.Debug("Running scheduler command", zap.String("command", cmd.String()), zap.String("dir", cmd.Dir))
	return a.runner.Run(ctx, cmd)
}

func (a *CommandAdapter) wrap(action Action, handle string, kind error, err error) error {
	return &Error{Op: string(action), Backend: a.dialect.Name(), Handle: handle, Kind: kind, Err: err}
}

func commandFailure(cmd Command, out Output) error {
	msg := strings.TrimSpace(out.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(out.Stdout)
	}
	if msg == "" {
		return fmt.Errorf("%s exited with code %d", cmd.Name, out.ExitCode)
	}
	return fmt.Errorf("%s exited with code %d: %s", cmd.Name, out.ExitCode, msg)
}
