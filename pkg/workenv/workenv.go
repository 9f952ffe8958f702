// Package workenv builds the job-flavor specific part of a batch: how the
// input data is split into jobs and what each job directory contains.
//
// Flavors form a closed set (blind, athena, marlin). Each is a concrete
// type implementing Environment; New picks the one matching the manifest's
// flavor section. Every job gets its own directory under the work dir:
//
//	<work dir>/<Alias>Job_<name>_<n>/
//	    <script>.sh        generated or copied bash script
//	    ...                flavor-specific companions (jobOption, steering)
//	    STDOUT, STDERR     written by the scheduler
package workenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/jobsender/pkg/jobstate"
	"github.com/3leaps/jobsender/pkg/manifest"
)

// Per-job parameter keys stored in WorkSpec.Params.
const (
	ParamJob          = "job"
	ParamSkipEvents   = "skip_events"
	ParamMaxEvents    = "max_events"
	ParamSpecificFile = "specific_file"
)

// Environment prepares the jobs of one flavor.
type Environment interface {
	// Flavor is the manifest flavor name.
	Flavor() string

	// Alias prefixes job directory names (e.g., "Athena").
	Alias() string

	// Split divides the inputs into per-job workspecs. It is deterministic
	// given the same inputs and njobs; njobs <= 0 lets the flavor decide.
	Split(inputs []string, njobs int) ([]jobstate.WorkSpec, error)

	// Materialize writes the job directory and returns the script path
	// relative to it. Missing flavor inputs are reported as *ConfigError.
	Materialize(spec jobstate.WorkSpec) (string, error)

	sealed()
}

// Verifier is implemented by environments that can tell from a finished
// job's outputs whether it really succeeded.
type Verifier interface {
	CheckFinished(spec jobstate.WorkSpec) jobstate.Status
}

// EnvVar is an environment variable a flavor needs, with the command that
// normally sets it.
type EnvVar struct {
	Name  string
	SetBy string
}

// RequiredEnv lists the environment variables a flavor needs at
// materialize time.
func RequiredEnv(flavor string) []EnvVar {
	switch flavor {
	case manifest.FlavorAthena:
		return []EnvVar{{Name: "AtlasSetup", SetBy: "setupATLAS"}, {Name: "CMTCONFIG", SetBy: "asetup"}}
	case manifest.FlavorMarlin:
		return []EnvVar{{Name: "MARLIN", SetBy: "source"}}
	}
	return nil
}

// Options configures an environment.
type Options struct {
	// WorkDir is the batch work dir. Relative manifest paths resolve
	// against it and job directories are created in it.
	WorkDir string

	// Getenv overrides os.Getenv (tests).
	Getenv func(string) string

	// Now overrides time.Now for script headers (tests).
	Now func() time.Time

	Logger *zap.Logger
}

// New builds the environment for the manifest's flavor. The manifest's
// Inputs must already be resolved to concrete files.
func New(m *manifest.Manifest, opts Options) (Environment, error) {
	b, err := newBase(m, opts)
	if err != nil {
		return nil, err
	}
	switch m.Flavor() {
	case manifest.FlavorBlind:
		return &Blind{base: b, cfg: *m.Blind}, nil
	case manifest.FlavorAthena:
		return &Athena{base: b, cfg: *m.Athena}, nil
	case manifest.FlavorMarlin:
		return &Marlin{base: b, cfg: *m.Marlin}, nil
	}
	return nil, fmt.Errorf("manifest %q has no flavor section", m.Name)
}

// base holds what every flavor shares. scriptSrc is the script path as
// given in the manifest; script is the name written into each job directory.
type base struct {
	flavor    string
	alias     string
	name      string
	script    string
	scriptSrc string
	inputs    []string
	workDir   string
	getenv    func(string) string
	now       func() time.Time
	log       *zap.Logger
}

func newBase(m *manifest.Manifest, opts Options) (base, error) {
	if m == nil {
		return base{}, fmt.Errorf("nil manifest")
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return base{}, fmt.Errorf("resolve work dir: %w", err)
	}

	b := base{
		flavor:    m.Flavor(),
		name:      m.Name,
		script:    filepath.Base(m.ScriptName()),
		scriptSrc: m.ScriptName(),
		inputs:    m.Inputs,
		workDir:   abs,
		getenv:    opts.Getenv,
		now:       opts.Now,
		log:       opts.Logger,
	}
	switch b.flavor {
	case manifest.FlavorBlind:
		b.alias = "Blind"
	case manifest.FlavorAthena:
		b.alias = "Athena"
	case manifest.FlavorMarlin:
		b.alias = "Marlin"
	}
	if b.getenv == nil {
		b.getenv = os.Getenv
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	b.log = b.log.With(zap.String("flavor", b.flavor))
	return b, nil
}

func (b *base) Flavor() string { return b.flavor }
func (b *base) Alias() string  { return b.alias }
func (b *base) sealed()        {}

// jobDirName is the directory of the n-th job of the batch.
func (b *base) jobDirName(n int) string {
	return fmt.Sprintf("%sJob_%s_%d", b.alias, b.name, n)
}

func (b *base) spec(n int, params map[string]string) jobstate.WorkSpec {
	if params == nil {
		params = map[string]string{}
	}
	params[ParamJob] = strconv.Itoa(n)
	return jobstate.WorkSpec{Dir: b.jobDirName(n), Params: params}
}

// path resolves a manifest path against the work dir.
func (b *base) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.workDir, p)
}

// checkEnv reports the first required environment variable that is unset.
func (b *base) checkEnv() error {
	for _, v := range RequiredEnv(b.flavor) {
		if b.getenv(v.Name) == "" {
			return configErr(b.flavor, v.Name,
				"environment variable is not set; run %q before sending %s jobs", v.SetBy, b.alias)
		}
	}
	return nil
}

// prepareJobDir creates the job directory and returns its absolute path.
func (b *base) prepareJobDir(spec jobstate.WorkSpec) (string, error) {
	if spec.Dir == "" {
		return "", configErr(b.flavor, "dir", "workspec has no job directory")
	}
	dir := filepath.Join(b.workDir, spec.Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

func (b *base) jobNumber(spec jobstate.WorkSpec) (int, error) {
	n, err := strconv.Atoi(spec.Param(ParamJob))
	if err != nil {
		return 0, configErr(b.flavor, ParamJob, "workspec %s has no job number", spec.Dir)
	}
	return n, nil
}

func (b *base) header() string {
	return fmt.Sprintf("#!/bin/bash\n\n# File created by jobsender (%s) [%s]\n\n",
		b.flavor, b.now().Format("2006-01-02 15:04:05"))
}

// writeScript writes an executable script into the job directory.
func writeScript(dir, name, content string) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, 0755)
}
