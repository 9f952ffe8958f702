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
	"github.com/3leaps/jobsender/pkg/inputs"
	"github.com/3leaps/jobsender/pkg/jobstate"
	"github.com/3leaps/jobsender/pkg/manifest"
	"github.com/3leaps/jobsender/pkg/workenv"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Configure a new batch and submit its jobs",
	Long: `Configure a batch in the work directory and submit its jobs.

On a work directory without a batch, the batch is described by a manifest
(--manifest) or by flavor flags. Inputs are resolved, split into jobs and
every job directory is written before submission. On an existing batch,
send submits the jobs that are not on the cluster yet.

Examples:
  clustermanager send --manifest digi.yaml
  clustermanager send --flavor blind --name calib --njobs 20
  clustermanager send --flavor athena --name reco --job-option reco_args.txt \
      --athena-mode tf --evtmax 5000 --inputs 'data/*.HITS.root'
  clustermanager send -j 3,7`,
	RunE: runSend,
}

var (
	sendJobs         string
	sendManifest     string
	sendFlavor       string
	sendName         string
	sendScript       string
	sendNJobs        int
	sendInputs       []string
	sendSpecificFile string
	sendJobOption    string
	sendAthenaMode   string
	sendEvtMax       int
	sendSteering     string
	sendGear         string
	sendAlibava      bool
)

func init() {
	rootCmd.AddCommand(sendCmd)

	f := sendCmd.Flags()
	f.StringVarP(&sendJobs, "jobs", "j", "", "Jobs to send on an existing batch (e.g. 1,3,5-7)")
	f.StringVarP(&sendManifest, "manifest", "m", "", "Batch manifest (YAML or JSON)")
	f.StringVar(&sendFlavor, "flavor", "", "Job flavor without a manifest (blind, athena, marlin)")
	f.StringVar(&sendName, "name", "", "Batch name")
	f.StringVar(&sendScript, "script", "", "Script name (default <name>.sh)")
	f.IntVar(&sendNJobs, "njobs", 0, "Number of jobs (default chosen by the flavor)")
	f.StringSliceVar(&sendInputs, "inputs", nil, "Input files or globs (local, s3://bucket/glob, URLs)")
	f.StringVar(&sendSpecificFile, "specific-file", "", "Blind: one job per <base>_<n>.<suffix> file")
	f.StringVar(&sendJobOption, "job-option", "", "Athena: jobOption or transformation arguments file")
	f.StringVar(&sendAthenaMode, "athena-mode", "", "Athena: jo or tf")
	f.IntVar(&sendEvtMax, "evtmax", 0, "Athena/Marlin: total number of events")
	f.StringVar(&sendSteering, "steering-file", "", "Marlin: steering XML")
	f.StringVar(&sendGear, "gear-file", "", "Marlin: GEAR XML")
	f.BoolVar(&sendAlibava, "alibava", false, "Marlin: Alibava raw data conversion")

	sendCmd.MarkFlagsMutuallyExclusive("manifest", "flavor")
}

func runSend(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, abs, err := runtimeConfig()
	if err != nil {
		return err
	}
	path := filepath.Join(abs, cfg.State.FileName)

	b := &batch{cfg: cfg, workDir: abs, path: path, started: time.Now()}
	store, err := jobstate.LoadFile(path)
	switch {
	case err == nil:
		if sendManifest != "" || sendFlavor != "" {
			return exitError(int(foundry.ExitInvalidArgument), "Batch already configured",
				fmt.Errorf("%s exists; use resubmit or reconfigure, or choose another work directory", path))
		}
		b.store = store
	case jobstate.IsNotFound(err):
		if sendJobs != "" {
			return exitError(int(foundry.ExitInvalidArgument), "Invalid --jobs", fmt.Errorf("--jobs needs an existing batch"))
		}
		if b.store, err = createBatch(cmd, b); err != nil {
			return err
		}
	default:
		return loadError(err)
	}

	sel, err := selection(sendJobs)
	if err != nil {
		return err
	}
	env, err := b.environment()
	if err != nil {
		return err
	}
	adapter, err := b.adapter(cmd)
	if err != nil {
		return err
	}

	rep := b.controller(adapter, env).Send(ctx, b.store, sel)
	return b.finish(cmd, rep)
}

// createBatch builds a new store: manifest, resolved inputs, work specs and
// the cluster settings the batch will keep using.
func createBatch(cmd *cobra.Command, b *batch) (*jobstate.Store, error) {
	ctx := cmd.Context()
	m, err := sendBatchManifest(b.workDir)
	if err != nil {
		return nil, err
	}
	log := observability.CLILogger.With(zap.String("batch", m.Name), zap.String("flavor", m.Flavor()))

	resolver := &inputs.Resolver{Dir: b.workDir, S3Config: s3Config(m, b.cfg), Logger: log}
	resolved, err := resolver.Resolve(ctx, m.Inputs)
	if err != nil {
		log.Error("Failed to resolve inputs", zap.Error(err))
		if inputs.IsUnavailable(err) {
			return nil, exitError(int(foundry.ExitExternalServiceUnavailable), "Cannot list inputs", err)
		}
		return nil, exitError(int(foundry.ExitInvalidArgument), "Invalid inputs", err)
	}
	m.Inputs = resolved
	log.Info("Resolved inputs", zap.Int("files", len(resolved)))

	env, err := workenv.New(m, workenv.Options{WorkDir: b.workDir, Logger: observability.CLILogger})
	if err != nil {
		return nil, exitError(int(foundry.ExitInvalidArgument), "Cannot build work environment", err)
	}
	specs, err := env.Split(m.Inputs, m.NJobs)
	if err != nil {
		return nil, exitError(int(foundry.ExitInvalidArgument), "Cannot split batch into jobs", err)
	}

	settings := clusterFromManifest(cmd, m, b.cfg)
	adapter, err := newAdapter(b.cfg, b.workDir, settings)
	if err != nil {
		return nil, err
	}
	settings.Backend = adapter.Backend()

	raw, err := manifest.ToJSON(m)
	if err != nil {
		return nil, exitError(int(foundry.ExitInvalidArgument), "Invalid manifest", err)
	}
	store := jobstate.New(jobstate.Batch{Name: m.Name, Flavor: m.Flavor(), Manifest: raw, Cluster: settings}, specs)
	log.Info("Batch configured",
		zap.String("batch_id", store.BatchID),
		zap.Int("jobs", store.Len()),
		zap.String("backend", settings.Backend))
	return store, nil
}

// sendBatchManifest loads --manifest or assembles a manifest from the flavor
// flags. Both paths go through schema validation.
func sendBatchManifest(workDir string) (*manifest.Manifest, error) {
	if sendManifest != "" {
		path := sendManifest
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		m, err := manifest.Load(path)
		if err != nil {
			observability.CLILogger.Error("Failed to load manifest", zap.String("path", path), zap.Error(err))
			return nil, exitError(int(foundry.ExitInvalidArgument), "Invalid manifest", err)
		}
		applyManifestFlags(m)
		return revalidate(m)
	}
	if sendFlavor == "" {
		return nil, exitError(int(foundry.ExitInvalidArgument), "Nothing to send",
			fmt.Errorf("no batch in %s: give --manifest or --flavor", workDir))
	}

	m := &manifest.Manifest{Name: sendName}
	switch sendFlavor {
	case manifest.FlavorBlind:
		m.Blind = &manifest.BlindConfig{SpecificFile: sendSpecificFile}
	case manifest.FlavorAthena:
		m.Athena = &manifest.AthenaConfig{Mode: sendAthenaMode, JobOption: sendJobOption, EvtMax: sendEvtMax}
	case manifest.FlavorMarlin:
		m.Marlin = &manifest.MarlinConfig{SteeringFile: sendSteering, GearFile: sendGear, EvtMax: sendEvtMax, AlibavaConversion: sendAlibava}
	default:
		return nil, exitError(int(foundry.ExitInvalidArgument), "Invalid --flavor",
			fmt.Errorf("unknown flavor %q (valid: blind, athena, marlin)", sendFlavor))
	}
	applyManifestFlags(m)
	return revalidate(m)
}

// applyManifestFlags lets explicit flags override manifest fields.
func applyManifestFlags(m *manifest.Manifest) {
	if sendName != "" {
		m.Name = sendName
	}
	if sendScript != "" {
		m.Script = sendScript
	}
	if sendNJobs > 0 {
		m.NJobs = sendNJobs
	}
	if len(sendInputs) > 0 {
		m.Inputs = sendInputs
	}
}

func revalidate(m *manifest.Manifest) (*manifest.Manifest, error) {
	raw, err := manifest.ToJSON(m)
	if err == nil {
		m, err = manifest.FromJSON(raw)
	}
	if err != nil {
		return nil, exitError(int(foundry.ExitInvalidArgument), "Invalid manifest", err)
	}
	return m, nil
}

// clusterFromManifest picks the cluster settings of a new batch: explicit
// flags, then the manifest's cluster section, then configuration.
func clusterFromManifest(cmd *cobra.Command, m *manifest.Manifest, cfg *config.Config) jobstate.Cluster {
	c := jobstate.Cluster{Backend: cfg.Cluster.Backend, Queue: cfg.Cluster.Queue, ExtraOpts: cfg.Cluster.ExtraOpts}
	if mc := m.Cluster; mc != nil {
		if mc.Backend != "" && !clusterFlagChanged(cmd, "backend") {
			c.Backend = mc.Backend
		}
		if mc.Queue != "" && !clusterFlagChanged(cmd, "queue") {
			c.Queue = mc.Queue
		}
		if mc.ExtraOpts != "" && !clusterFlagChanged(cmd, "extra-opts") {
			c.ExtraOpts = mc.ExtraOpts
		}
	}
	return c
}

func s3Config(m *manifest.Manifest, cfg *config.Config) inputs.S3Config {
	c := inputs.S3Config{
		Region:   cfg.Inputs.S3Region,
		Endpoint: cfg.Inputs.S3Endpoint,
		Profile:  cfg.Inputs.S3Profile,
	}
	if s := m.Storage; s != nil {
		if s.Region != "" {
			c.Region = s.Region
		}
		if s.Endpoint != "" {
			c.Endpoint = s.Endpoint
		}
		if s.Profile != "" {
			c.Profile = s.Profile
		}
		c.ForcePathStyle = s.ForcePathStyle
	}
	if c.Endpoint != "" {
		c.ForcePathStyle = true
	}
	return c
}
