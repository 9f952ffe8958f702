package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobsender/internal/config"
	"github.com/3leaps/jobsender/internal/observability"
	"github.com/3leaps/jobsender/pkg/cluster"
	"github.com/3leaps/jobsender/pkg/inputs"
	"github.com/3leaps/jobsender/pkg/jobstate"
	"github.com/3leaps/jobsender/pkg/workenv"
)

var (
	doctorS3     bool
	doctorFlavor string
)

const (
	// s3Checks is the number of checks runS3Checks reports.
	s3Checks    = 3
	imdsTimeout = 2 * time.Second
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the host and the work directory and suggest
fixes for common issues.

Examples:
  clustermanager doctor                  # Host and work directory checks
  clustermanager doctor --flavor athena  # Also check the flavor environment
  clustermanager doctor --s3             # Also check AWS credentials for s3:// inputs`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorS3, "s3", false, "Check AWS credentials used for s3:// inputs")
	doctorCmd.Flags().StringVar(&doctorFlavor, "flavor", "", "Check the environment of a flavor (default: the batch flavor)")
}

// checker numbers and logs diagnostic checks.
type checker struct {
	num   int
	total int
	ok    bool
}

func (c *checker) pass(name, detail string, fields ...zap.Field) {
	c.num++
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", c.num, c.total, name, detail), fields...)
}

func (c *checker) warn(name, detail string, fields ...zap.Field) {
	c.num++
	observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", c.num, c.total, name, detail), fields...)
}

func (c *checker) fail(name, detail string, fields ...zap.Field) {
	c.num++
	c.ok = false
	observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", c.num, c.total, name, detail), fields...)
}

func runDoctor(cmd *cobra.Command, _ []string) {
	bannerName := BinaryName + " doctor"
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	c := &checker{total: 6, ok: true}
	if doctorS3 {
		c.total += s3Checks
	}

	// Check 1: Environment
	c.pass("environment", fmt.Sprintf("%s/%s %s", runtime.GOOS, runtime.GOARCH, runtime.Version()),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH),
		zap.String("go_version", runtime.Version()))

	// Check 2: Configuration
	cfg := config.GetConfig()
	if cfg == nil {
		c.fail("configuration", "not loaded")
		finishDoctor(c, bannerName)
		return
	}
	c.pass("configuration", fmt.Sprintf("backend %s, state file %s", cfg.Cluster.Backend, cfg.State.FileName),
		zap.String("backend", cfg.Cluster.Backend),
		zap.Bool("dry_run", cfg.DryRun))

	// Check 3: Work directory
	dir, err := filepath.Abs(cfg.WorkDir)
	if err == nil {
		err = checkWritable(dir)
	}
	if err != nil {
		c.fail("work directory", "not writable", zap.String("workdir", cfg.WorkDir), zap.Error(err))
	} else {
		c.pass("work directory", dir, zap.String("workdir", dir))
	}

	// Check 4: Batch state
	flavor := doctorFlavor
	settings := jobstate.Cluster{Backend: cfg.Cluster.Backend, Queue: cfg.Cluster.Queue, ExtraOpts: cfg.Cluster.ExtraOpts}
	store, err := jobstate.LoadFile(filepath.Join(dir, cfg.State.FileName))
	switch {
	case err == nil:
		c.pass("batch state", fmt.Sprintf("batch %s, %d jobs", store.Batch.Name, store.Len()),
			zap.String("batch_id", store.BatchID))
		if flavor == "" {
			flavor = store.Batch.Flavor
		}
		if store.Batch.Cluster.Backend != "" && !clusterFlagChanged(cmd, "backend") {
			settings.Backend = store.Batch.Cluster.Backend
		}
	case jobstate.IsNotFound(err):
		c.pass("batch state", "no batch yet")
	default:
		c.fail("batch state", "unreadable", zap.Error(err))
	}

	// Check 5: Scheduler
	checkScheduler(c, cfg, dir, settings)

	// Check 6: Flavor environment
	checkFlavorEnv(c, flavor)

	if doctorS3 {
		runS3Checks(cmd.Context(), c, cfg)
	}

	finishDoctor(c, bannerName)
}

func finishDoctor(c *checker, bannerName string) {
	observability.CLILogger.Info("")
	if c.ok {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s setup is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// checkWritable creates and removes a probe file in dir.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

func checkScheduler(c *checker, cfg *config.Config, dir string, settings jobstate.Cluster) {
	a, err := cluster.New(cluster.Options{
		Backend:   settings.Backend,
		Queue:     settings.Queue,
		ExtraOpts: settings.ExtraOpts,
		WorkDir:   dir,
		Simulate:  cfg.DryRun,
	})
	if err != nil {
		c.fail("scheduler", "cannot select a backend", zap.Error(err))
		observability.CLILogger.Info("  Set cluster.backend in jobsender.yaml, JOBSENDER_BACKEND or --backend")
		return
	}

	var missing []string
	for _, bin := range cluster.Binaries(a.Backend()) {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	switch {
	case len(missing) == 0:
		c.pass("scheduler", a.Backend(), zap.String("backend", a.Backend()))
	case a.Simulated():
		c.warn("scheduler", fmt.Sprintf("%s commands not found (dry run only)", a.Backend()),
			zap.Strings("missing", missing))
	default:
		c.fail("scheduler", fmt.Sprintf("%s commands not found", a.Backend()),
			zap.Strings("missing", missing))
	}
}

func checkFlavorEnv(c *checker, flavor string) {
	if flavor == "" {
		c.pass("flavor environment", "no flavor to check")
		return
	}
	var missing []string
	for _, v := range workenv.RequiredEnv(flavor) {
		if os.Getenv(v.Name) == "" {
			missing = append(missing, v.Name)
			observability.CLILogger.Info(fmt.Sprintf("  %s is not set (run %s)", v.Name, v.SetBy))
		}
	}
	if len(missing) > 0 {
		c.fail("flavor environment", flavor+": variables missing", zap.Strings("missing", missing))
		return
	}
	c.pass("flavor environment", flavor, zap.String("flavor", flavor))
}

// runS3Checks checks that AWS credentials and a region for s3:// inputs
// can be found.
func runS3Checks(ctx context.Context, c *checker, cfg *config.Config) {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Input Checks:")

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Inputs.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Inputs.S3Region))
	}
	if cfg.Inputs.S3Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Inputs.S3Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		c.fail("AWS credentials", "Cannot load AWS config", zap.Error(err))
		c.num += s3Checks - 1
		printAWSCredentialsHelp()
		return
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		c.fail("AWS credentials", "Cannot retrieve credentials", zap.Error(err))
		c.num++
		printAWSCredentialsHelp()
	} else {
		c.pass("AWS credentials", "Found credentials",
			zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
			zap.String("source", creds.Source))

		source := creds.Source
		if source == "" {
			source = "unknown"
		}
		c.pass("credential source", source, zap.String("credential_source", source))
	}

	checkS3Region(ctx, c, awsCfg)
}

// checkS3Region reports the region s3:// inputs are listed in. Without a
// configured region, the instance metadata service is asked.
func checkS3Region(ctx context.Context, c *checker, awsCfg aws.Config) {
	if awsCfg.Region != "" {
		c.pass("AWS region", awsCfg.Region, zap.String("region", awsCfg.Region))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()
	out, err := imds.NewFromConfig(awsCfg).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil || out.Region == "" {
		c.warn("AWS region", fmt.Sprintf("not configured, s3:// inputs use %s", inputs.DefaultAWSRegion), zap.Error(err))
		observability.CLILogger.Info("  Set inputs.s3_region in jobsender.yaml, JOBSENDER_S3_REGION or AWS_REGION")
		return
	}
	c.pass("AWS region", out.Region+" (instance metadata)", zap.String("region", out.Region))
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile (JOBSENDER_S3_PROFILE selects it), or")
	observability.CLILogger.Info("  3. Use an instance role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Ceph, etc.), also set:")
	observability.CLILogger.Info("  - inputs.s3_endpoint in jobsender.yaml or JOBSENDER_S3_ENDPOINT")
	observability.CLILogger.Info("")
}
