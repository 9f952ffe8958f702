// Package cmd implements the clustermanager command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobsender/internal/config"
	"github.com/3leaps/jobsender/internal/observability"
)

// BinaryName is the name of the command.
const BinaryName = "clustermanager"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata, set from main via ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate)
}

// Global flags.
var (
	workDir   string
	dryRun    bool
	backend   string
	queue     string
	extraOpts string
	logLevel  string
	jsonOut   bool
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   BinaryName,
	Short: "Manage batches of jobs on a remote batch scheduler",
	Long: `clustermanager sends a batch of jobs to a batch scheduler (HTCondor, PBS,
Slurm) and tracks them across invocations through a state file kept in the
batch work directory.

Examples:
  clustermanager send --manifest batch.yaml
  clustermanager retrieve
  clustermanager resubmit
  clustermanager kill -j 2,4
  clustermanager status`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&workDir, "workdir", "C", ".", "Batch work directory")
	pf.BoolVar(&dryRun, "dry-run", false, "Write job directories but only simulate scheduler commands")
	pf.StringVar(&backend, "backend", "", "Cluster backend (auto, htcondor, pbs, slurm)")
	pf.StringVar(&queue, "queue", "", "Scheduler queue (HTCondor job flavour, PBS queue, Slurm partition)")
	pf.StringVar(&extraOpts, "extra-opts", "", "Extra scheduler submit options")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVar(&jsonOut, "json", false, "Print reports as JSON")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
}

// Execute runs the root command and exits with the mapped exit code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCode(err))
	}
}

// initRuntime loads the configuration (flags over env over files over
// defaults) and sets up logging.
func initRuntime(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger(BinaryName, verbose)

	cfg, err := config.Load(cmd.Context(), flagOverrides(cmd))
	if err != nil {
		return exitError(int(foundry.ExitInvalidArgument), "Invalid configuration", err)
	}
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := observability.InitLogger(BinaryName, level, cfg.Logging.Profile); err != nil {
		return exitError(int(foundry.ExitInvalidArgument), "Invalid logging configuration", err)
	}
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("workdir", cfg.WorkDir),
		zap.String("backend", cfg.Cluster.Backend),
		zap.Bool("dry_run", cfg.DryRun))
	return nil
}

// flagOverrides returns the explicitly set global flags as config keys.
func flagOverrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{"workdir": workDir}
	cluster := map[string]any{}
	set := func(flag string, apply func()) {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			apply()
		}
	}
	set("dry-run", func() { out["dry_run"] = dryRun })
	set("backend", func() { cluster["backend"] = backend })
	set("queue", func() { cluster["queue"] = queue })
	set("extra-opts", func() { cluster["extra_opts"] = extraOpts })
	set("log-level", func() { out["logging"] = map[string]any{"level": logLevel} })
	if len(cluster) > 0 {
		out["cluster"] = cluster
	}
	return out
}

// clusterFlagChanged reports whether a cluster flag was given explicitly.
func clusterFlagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

// cliError carries the process exit code of a failed command.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	if e.err == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.err)
}

func (e *cliError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &cliError{code: code, message: message, err: err}
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
