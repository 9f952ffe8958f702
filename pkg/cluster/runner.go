package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command is a scheduler command line run from a directory.
type Command struct {
	Dir  string
	Name string
	Args []string
}

// String renders the command the way an operator would type it.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Output is what a scheduler command printed.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes scheduler commands.
//
// Run returns an error only when the command could not be run to completion
// (binary missing, timeout, cancellation). A command that ran and exited
// non-zero is reported through Output.ExitCode.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner runs commands as local processes.
type ExecRunner struct {
	// Timeout bounds a single command. Zero means no timeout.
	Timeout time.Duration
}

// Run implements Runner. A command that outlives Timeout fails with
// ErrCommandTimeout; the caller's own cancellation is returned as the
// context error.
func (r ExecRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	parent := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	if err := parent.Err(); err != nil {
		return out, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	if ctx.Err() != nil {
		return out, fmt.Errorf("%s: %w after %s", cmd.Name, ErrCommandTimeout, r.Timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, fmt.Errorf("run %s: %w", cmd.Name, err)
}
