package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobsender/internal/config"
	"github.com/3leaps/jobsender/internal/observability"
	"github.com/3leaps/jobsender/pkg/cluster"
	"github.com/3leaps/jobsender/pkg/jobset"
	"github.com/3leaps/jobsender/pkg/jobstate"
	"github.com/3leaps/jobsender/pkg/manifest"
	"github.com/3leaps/jobsender/pkg/workenv"
)

// batch is the state a lifecycle command works on: the loaded store plus
// the configuration it runs under.
type batch struct {
	cfg     *config.Config
	workDir string
	path    string
	store   *jobstate.Store
	started time.Time
}

func runtimeConfig() (*config.Config, string, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, "", exitError(int(foundry.ExitInvalidArgument), "Configuration not loaded", fmt.Errorf("no configuration"))
	}
	abs, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, "", exitError(int(foundry.ExitInvalidArgument), "Invalid work directory", err)
	}
	return cfg, abs, nil
}

// openBatch loads the store of the configured work dir.
func openBatch() (*batch, error) {
	cfg, abs, err := runtimeConfig()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(abs, cfg.State.FileName)
	store, err := jobstate.LoadFile(path)
	if err != nil {
		return nil, loadError(err)
	}
	observability.CLILogger.Debug("Loaded batch state",
		zap.String("path", path),
		zap.String("batch", store.Batch.Name),
		zap.Int("jobs", store.Len()))
	return &batch{cfg: cfg, workDir: abs, path: path, store: store, started: time.Now()}, nil
}

func loadError(err error) error {
	switch {
	case jobstate.IsNotFound(err):
		return exitError(int(foundry.ExitFileNotFound), "No batch in this work directory (run send first)", err)
	case jobstate.IsCorrupt(err):
		return exitError(int(foundry.ExitFileReadError), "Batch state is unreadable", err)
	default:
		return exitError(int(foundry.ExitFileReadError), "Failed to read batch state", err)
	}
}

// environment rebuilds the work environment from the manifest stored with
// the batch.
func (b *batch) environment() (workenv.Environment, error) {
	m, err := manifest.FromJSON(b.store.Batch.Manifest)
	if err != nil {
		return nil, exitError(int(foundry.ExitFileReadError), "Stored batch manifest is invalid", err)
	}
	env, err := workenv.New(m, workenv.Options{WorkDir: b.workDir, Logger: observability.CLILogger})
	if err != nil {
		return nil, exitError(int(foundry.ExitInvalidArgument), "Cannot build work environment", err)
	}
	return env, nil
}

// clusterSettings starts from the settings the batch was created with;
// explicitly given flags override them.
func (b *batch) clusterSettings(cmd *cobra.Command) jobstate.Cluster {
	c := b.store.Batch.Cluster
	if c.Backend == "" {
		c.Backend = b.cfg.Cluster.Backend
	}
	if clusterFlagChanged(cmd, "backend") {
		c.Backend = b.cfg.Cluster.Backend
	}
	if clusterFlagChanged(cmd, "queue") {
		c.Queue = b.cfg.Cluster.Queue
	}
	if clusterFlagChanged(cmd, "extra-opts") {
		c.ExtraOpts = b.cfg.Cluster.ExtraOpts
	}
	return c
}

func newAdapter(cfg *config.Config, workDir string, c jobstate.Cluster) (*cluster.CommandAdapter, error) {
	a, err := cluster.New(cluster.Options{
		Backend:        c.Backend,
		Queue:          c.Queue,
		ExtraOpts:      c.ExtraOpts,
		WorkDir:        workDir,
		Simulate:       cfg.DryRun,
		CommandTimeout: cfg.Cluster.CommandTimeout,
		Logger:         observability.CLILogger,
	})
	if err != nil {
		return nil, exitError(int(foundry.ExitInvalidArgument), "Cannot set up cluster backend", err)
	}
	if a.Simulated() {
		observability.CLILogger.Info("Dry run: scheduler commands are simulated", zap.String("backend", a.Backend()))
	}
	return a, nil
}

func (b *batch) adapter(cmd *cobra.Command) (*cluster.CommandAdapter, error) {
	return newAdapter(b.cfg, b.workDir, b.clusterSettings(cmd))
}

func (b *batch) controller(adapter cluster.Adapter, env jobset.Environment) *jobset.Controller {
	return jobset.New(jobset.Options{
		Adapter:   adapter,
		Env:       env,
		RateLimit: b.cfg.Cluster.RateLimit,
		Logger:    observability.CLILogger,
	})
}

// finish persists the store, journals and prints the report and turns
// per-job failures into a non-zero exit.
func (b *batch) finish(cmd *cobra.Command, rep jobset.Report) error {
	if err := jobstate.SaveFile(b.store, b.path); err != nil {
		observability.CLILogger.Error("Failed to save batch state", zap.String("path", b.path), zap.Error(err))
		b.journal(rep, err)
		return exitError(int(foundry.ExitFileWriteError), "Failed to save batch state", err)
	}
	b.journal(rep, nil)
	if err := printReport(cmd.OutOrStdout(), rep, jsonOut); err != nil {
		return exitError(int(foundry.ExitFileWriteError), "Failed to write report", err)
	}
	return reportError(rep)
}

func reportError(rep jobset.Report) error {
	if rep.Cancelled {
		return exitError(int(foundry.ExitSignalInt), rep.Op+" cancelled", fmt.Errorf("%d job(s) not processed", len(rep.Skipped())))
	}
	failures := rep.Failures()
	if len(failures) == 0 {
		return nil
	}
	code := int(foundry.ExitExternalServiceUnavailable)
	allConfig := true
	for _, f := range failures {
		if !workenv.IsConfigError(f.Err) {
			allConfig = false
		}
	}
	if allConfig {
		code = int(foundry.ExitInvalidArgument)
	}
	return exitError(code, fmt.Sprintf("%s failed for %d job(s): %s", rep.Op, len(failures),
		jobstate.CompactIndexList(jobset.Indices(failures))), rep.Err())
}

// selection parses the --jobs flag.
func selection(jobs string) (jobset.Selection, error) {
	if jobs == "" {
		return jobset.Selection{}, nil
	}
	indices, err := jobstate.ParseIndexList(jobs)
	if err != nil {
		return jobset.Selection{}, exitError(int(foundry.ExitInvalidArgument), "Invalid --jobs", err)
	}
	return jobset.Selection{Indices: indices}, nil
}
