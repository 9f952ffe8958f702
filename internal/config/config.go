// Package config loads the clustermanager runtime configuration.
//
// Precedence, lowest first: built-in defaults, a jobsender.yaml file (user
// config dir, then the work dir), JOBSENDER_* environment variables, runtime
// overrides (command-line flags).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppName names the config file, config dir and env prefix.
const AppName = "jobsender"

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "JOBSENDER"

// Config is the runtime configuration.
type Config struct {
	WorkDir string        `mapstructure:"workdir"`
	DryRun  bool          `mapstructure:"dry_run"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	State   StateConfig   `mapstructure:"state"`
	Logging LoggingConfig `mapstructure:"logging"`
	Inputs  InputsConfig  `mapstructure:"inputs"`
}

// ClusterConfig selects and tunes the scheduler backend.
type ClusterConfig struct {
	Backend        string        `mapstructure:"backend"`
	Queue          string        `mapstructure:"queue"`
	ExtraOpts      string        `mapstructure:"extra_opts"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// StateConfig locates the batch state file and its journal. An empty
// JournalFile disables the journal.
type StateConfig struct {
	FileName    string `mapstructure:"file_name"`
	JournalFile string `mapstructure:"journal_file"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// InputsConfig configures s3:// input expansion when the manifest has no
// storage section.
type InputsConfig struct {
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Profile  string `mapstructure:"s3_profile"`
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// envSpec binds one environment variable to a config key.
type envSpec struct {
	Name string
	Path string
}

func getEnvSpecs() []envSpec {
	bind := func(suffix, path string) envSpec {
		return envSpec{Name: EnvPrefix + "_" + suffix, Path: path}
	}
	return []envSpec{
		bind("WORKDIR", "workdir"),
		bind("DRY_RUN", "dry_run"),
		bind("BACKEND", "cluster.backend"),
		bind("QUEUE", "cluster.queue"),
		bind("EXTRA_OPTS", "cluster.extra_opts"),
		bind("RATE_LIMIT", "cluster.rate_limit"),
		bind("COMMAND_TIMEOUT", "cluster.command_timeout"),
		bind("STATE_FILE", "state.file_name"),
		bind("JOURNAL_FILE", "state.journal_file"),
		bind("LOG_LEVEL", "logging.level"),
		bind("LOG_PROFILE", "logging.profile"),
		bind("S3_REGION", "inputs.s3_region"),
		bind("S3_ENDPOINT", "inputs.s3_endpoint"),
		bind("S3_PROFILE", "inputs.s3_profile"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workdir", ".")
	v.SetDefault("dry_run", false)

	v.SetDefault("cluster.backend", "auto")
	v.SetDefault("cluster.queue", "")
	v.SetDefault("cluster.extra_opts", "")
	v.SetDefault("cluster.rate_limit", 0)
	v.SetDefault("cluster.command_timeout", "2m")

	v.SetDefault("state.file_name", ".presentjobs")
	v.SetDefault("state.journal_file", ".presentjobs.jsonl")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")

	v.SetDefault("inputs.s3_region", "")
	v.SetDefault("inputs.s3_endpoint", "")
	v.SetDefault("inputs.s3_profile", "")
}

// getConfigPaths returns the config files to merge, lowest precedence first.
func getConfigPaths(workDir string) []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName, AppName+".yaml"))
	}
	if workDir != "" {
		paths = append(paths, filepath.Join(workDir, AppName+".yaml"))
	}
	return paths
}

// Load builds the configuration and makes it available through GetConfig.
// Each override map is merged over the file and environment layers in order.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	workDir := lookupString(overrides, "workdir")
	if workDir == "" {
		workDir = os.Getenv(EnvPrefix + "_WORKDIR")
	}
	if workDir == "" {
		workDir = "."
	}
	v.SetConfigType("yaml")
	for _, path := range getConfigPaths(workDir) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	// Set has the highest precedence in viper, above env.
	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.Cluster.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("cluster.rate_limit must not be negative, got %v", c.Cluster.RateLimit))
	}
	if c.Cluster.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("cluster.command_timeout must not be negative, got %s", c.Cluster.CommandTimeout))
	}
	if strings.TrimSpace(c.State.FileName) == "" || strings.ContainsRune(c.State.FileName, filepath.Separator) {
		errs = append(errs, fmt.Errorf("state.file_name must be a plain file name, got %q", c.State.FileName))
	}
	if strings.ContainsRune(c.State.JournalFile, filepath.Separator) {
		errs = append(errs, fmt.Errorf("state.journal_file must be a plain file name, got %q", c.State.JournalFile))
	}
	if c.State.JournalFile != "" && c.State.JournalFile == c.State.FileName {
		errs = append(errs, fmt.Errorf("state.journal_file must differ from state.file_name"))
	}
	return errors.Join(errs...)
}

// StatePath is the state file path inside the work dir.
func (c *Config) StatePath() string {
	return filepath.Join(c.WorkDir, c.State.FileName)
}

// JournalPath is the journal path inside the work dir, or "" when the
// journal is disabled.
func (c *Config) JournalPath() string {
	if c.State.JournalFile == "" {
		return ""
	}
	return filepath.Join(c.WorkDir, c.State.JournalFile)
}

func lookupString(maps []map[string]any, key string) string {
	out := ""
	for _, m := range maps {
		if s, ok := m[key].(string); ok && s != "" {
			out = s
		}
	}
	return out
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
