// Package manifest provides loading and validation of batch manifests.
//
// A batch manifest is a YAML or JSON file that describes one batch of jobs:
// the job name, the input data, how many jobs to split it into, and exactly
// one flavor section (blind, athena or marlin) carrying the flavor-specific
// settings.
//
// Manifests are validated against a JSON Schema before use. The schema
// enforces strict typing, disallows unknown properties, and requires exactly
// one flavor section.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	name: digijobs
//	njobs: 20
//	inputs:
//	  - "data/HITS.*.pool.root"
//	athena:
//	  mode: jo
//	  job_option: digi_jobOptions.py
//	  evtmax: 10000
//	cluster:
//	  backend: htcondor
//	  queue: workday
package manifest

// Flavor names.
const (
	FlavorBlind  = "blind"
	FlavorAthena = "athena"
	FlavorMarlin = "marlin"
)

// Athena modes.
const (
	AthenaModeJobOption      = "jo"
	AthenaModeTransformation = "tf"
)

// Manifest represents a validated batch manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Name is the job name. Job directories are named after it and, unless
	// Script is set, so is the generated script (<name>.sh).
	Name string `json:"name" yaml:"name"`

	// Script is the bash script name. For blind batches it is the user's
	// script (relative to the work dir); for the other flavors it is the
	// name of the generated script.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// NJobs is the number of jobs to split the batch into. Zero lets the
	// flavor decide.
	NJobs int `json:"njobs,omitempty" yaml:"njobs,omitempty"`

	// Inputs are input file paths or patterns. Local patterns support **;
	// s3://bucket/prefix/pattern entries are listed from the bucket.
	Inputs []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Storage configures access to s3:// inputs (optional).
	Storage *StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`

	// Cluster overrides the configured scheduler settings (optional).
	Cluster *ClusterConfig `json:"cluster,omitempty" yaml:"cluster,omitempty"`

	Blind  *BlindConfig  `json:"blind,omitempty" yaml:"blind,omitempty"`
	Athena *AthenaConfig `json:"athena,omitempty" yaml:"athena,omitempty"`
	Marlin *MarlinConfig `json:"marlin,omitempty" yaml:"marlin,omitempty"`
}

// StorageConfig configures the object store holding s3:// inputs.
type StorageConfig struct {
	// Region is the AWS region (e.g., "eu-central-1"). Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint URL for S3-compatible storage (e.g.,
	// CERN S3 or a local MinIO). Optional.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS credential profile name. Optional.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// ForcePathStyle selects path-style addressing (required by most
	// S3-compatible stores).
	ForcePathStyle bool `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`
}

// ClusterConfig pins the scheduler settings for a batch.
type ClusterConfig struct {
	// Backend is "auto", "htcondor", "pbs" or "slurm".
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`

	// Queue is the scheduler queue, job flavour or partition.
	Queue string `json:"queue,omitempty" yaml:"queue,omitempty"`

	// ExtraOpts are extra scheduler arguments.
	ExtraOpts string `json:"extra_opts,omitempty" yaml:"extra_opts,omitempty"`
}

// BlindConfig configures a blind batch: the user provides the script and
// every %i in it is replaced by the job number.
type BlindConfig struct {
	// SpecificFile names per-job files following filename_<i>.suffix; pass
	// it as filename.suffix. One job is created per matching file.
	SpecificFile string `json:"specific_file,omitempty" yaml:"specific_file,omitempty"`
}

// AthenaConfig configures an ATLAS Athena batch.
type AthenaConfig struct {
	// Mode is "jo" (jobOption-based athena.py) or "tf" (transformation).
	// Default: "jo".
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// JobOption is the jobOption file (jo mode) or the file holding the
	// single-line transformation arguments (tf mode).
	JobOption string `json:"job_option" yaml:"job_option"`

	// EvtMax is the total number of events to process.
	EvtMax int `json:"evtmax" yaml:"evtmax"`

	// ExtraAsetup is appended to the asetup command line.
	ExtraAsetup string `json:"extra_asetup,omitempty" yaml:"extra_asetup,omitempty"`

	// SetupFolder is where asetup was run. Default: derived from
	// LD_LIBRARY_PATH.
	SetupFolder string `json:"setup_folder,omitempty" yaml:"setup_folder,omitempty"`

	// Release is the Athena release. Default: $AtlasVersion.
	Release string `json:"release,omitempty" yaml:"release,omitempty"`

	// Compiler is the asetup compiler tag (e.g., "gcc62"). Default: derived
	// from $CMTCONFIG.
	Compiler string `json:"compiler,omitempty" yaml:"compiler,omitempty"`
}

// MarlinConfig configures an ILC Marlin (EUTelescope) batch.
type MarlinConfig struct {
	// SteeringFile is the Marlin XML steering file template.
	SteeringFile string `json:"steering_file" yaml:"steering_file"`

	// GearFile is the GEAR geometry file. Default: "gear.xml".
	GearFile string `json:"gear_file,omitempty" yaml:"gear_file,omitempty"`

	// EvtMax is the total number of events to process. Required unless
	// AlibavaConversion is set.
	EvtMax int `json:"evtmax,omitempty" yaml:"evtmax,omitempty"`

	// AlibavaConversion runs a single raw-data conversion job: the inputs
	// are routed to the AlibavaConverter processor.
	AlibavaConversion bool `json:"alibava_conversion,omitempty" yaml:"alibava_conversion,omitempty"`
}

// Default values for optional fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultAthenaMode is the default Athena mode.
	DefaultAthenaMode = AthenaModeJobOption

	// DefaultGearFile is the default Marlin geometry file.
	DefaultGearFile = "gear.xml"

	// EventsPerJob is the target number of events per job when njobs is
	// not given.
	EventsPerJob = 500
)

// Flavor returns the flavor of the (single) flavor section present.
func (m *Manifest) Flavor() string {
	switch {
	case m.Blind != nil:
		return FlavorBlind
	case m.Athena != nil:
		return FlavorAthena
	case m.Marlin != nil:
		return FlavorMarlin
	}
	return ""
}

// ScriptName returns the bash script file name.
func (m *Manifest) ScriptName() string {
	if m.Script != "" {
		return m.Script
	}
	return m.Name + ".sh"
}

// ApplyDefaults sets default values for optional fields that are not set.
func (m *Manifest) ApplyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	if m.Athena != nil && m.Athena.Mode == "" {
		m.Athena.Mode = DefaultAthenaMode
	}
	if m.Marlin != nil && m.Marlin.GearFile == "" {
		m.Marlin.GearFile = DefaultGearFile
	}
}
