package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blindManifestYAML returns a minimal valid blind manifest.
func blindManifestYAML() string {
	return `name: calib
njobs: 3
blind: {}
`
}

// athenaManifestJSON returns a minimal valid athena manifest.
func athenaManifestJSON() string {
	return `{
  "version": "1.0",
  "name": "digijobs",
  "inputs": ["data/*.root"],
  "athena": {
    "job_option": "digi.py",
    "evtmax": 1000
  }
}`
}

// fullMarlinManifestYAML returns a manifest using every optional field.
func fullMarlinManifestYAML() string {
	return `$schema: https://schemas.3leaps.dev/jobsender/v1.0.0/batch-manifest.schema.json
version: "1.0"
name: telescope
script: run_marlin.sh
njobs: 4
inputs:
  - "raw/**/*.slcio"
  - "s3://testbeam/run042/*.slcio"
storage:
  region: us-east-1
  endpoint: https://s3.cern.ch
  force_path_style: true
cluster:
  backend: pbs
  queue: S
  extra_opts: "-l walltime=02:00:00"
marlin:
  steering_file: steer.xml
  gear_file: gear_desy.xml
  evtmax: 20000
`
}

func writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		filename    string
		errContains string
		validate    func(t *testing.T, m *Manifest)
	}{
		{
			name:     "blind YAML",
			content:  blindManifestYAML(),
			filename: "batch.yaml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, FlavorBlind, m.Flavor())
				assert.Equal(t, "calib.sh", m.ScriptName())
				assert.Equal(t, 3, m.NJobs)
				assert.Equal(t, DefaultVersion, m.Version)
			},
		},
		{
			name:     "athena JSON with defaults",
			content:  athenaManifestJSON(),
			filename: "batch.json",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, FlavorAthena, m.Flavor())
				assert.Equal(t, AthenaModeJobOption, m.Athena.Mode)
				assert.Equal(t, 1000, m.Athena.EvtMax)
				assert.Equal(t, []string{"data/*.root"}, m.Inputs)
			},
		},
		{
			name:     "full marlin manifest",
			content:  fullMarlinManifestYAML(),
			filename: "full.yml",
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, FlavorMarlin, m.Flavor())
				assert.Equal(t, "run_marlin.sh", m.ScriptName())
				assert.Equal(t, "gear_desy.xml", m.Marlin.GearFile)
				require.NotNil(t, m.Storage)
				assert.True(t, m.Storage.ForcePathStyle)
				require.NotNil(t, m.Cluster)
				assert.Equal(t, "pbs", m.Cluster.Backend)
				assert.Equal(t, "-l walltime=02:00:00", m.Cluster.ExtraOpts)
			},
		},
		{
			name:     "marlin alibava conversion needs no evtmax",
			content:  "name: conv\ninputs: [raw.dat]\nmarlin:\n  steering_file: conv.xml\n  alibava_conversion: true\n",
			filename: "conv.yaml",
			validate: func(t *testing.T, m *Manifest) {
				assert.True(t, m.Marlin.AlibavaConversion)
				assert.Equal(t, DefaultGearFile, m.Marlin.GearFile)
			},
		},
		{
			name:        "empty file",
			content:     "  \n",
			filename:    "empty.yaml",
			errContains: "empty",
		},
		{
			name:        "invalid YAML",
			content:     "name: [unclosed\n",
			filename:    "bad.yaml",
			errContains: "invalid YAML",
		},
		{
			name:        "invalid JSON",
			content:     `{"name": `,
			filename:    "bad.json",
			errContains: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Load(writeManifest(t, tt.filename, tt.content))
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			tt.validate(t, m)
		})
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "no flavor section", content: "name: x\n"},
		{name: "two flavor sections", content: "name: x\nblind: {}\nmarlin:\n  steering_file: s.xml\n  evtmax: 10\ninputs: [a]\n"},
		{name: "unknown field", content: "name: x\nblind: {}\ncolour: blue\n"},
		{name: "athena without evtmax", content: "name: x\ninputs: [a]\nathena:\n  job_option: jo.py\n"},
		{name: "athena without inputs", content: "name: x\nathena:\n  job_option: jo.py\n  evtmax: 10\n"},
		{name: "marlin without evtmax", content: "name: x\ninputs: [a]\nmarlin:\n  steering_file: s.xml\n"},
		{name: "bad athena mode", content: "name: x\ninputs: [a]\nathena:\n  mode: batch\n  job_option: jo.py\n  evtmax: 10\n"},
		{name: "bad backend", content: "name: x\nblind: {}\ncluster:\n  backend: lsf\n"},
		{name: "zero njobs", content: "name: x\nnjobs: 0\nblind: {}\n"},
		{name: "name with slash", content: "name: a/b\nblind: {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.content), "batch.yaml")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidationFailed), "expected validation failure, got %v", err)

			var serr *SchemaError
			require.ErrorAs(t, err, &serr)
			assert.NotEmpty(t, serr.Problems)
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	m, err := LoadFromBytes([]byte(fullMarlinManifestYAML()), "full.yaml")
	require.NoError(t, err)

	raw, err := ToJSON(m)
	require.NoError(t, err)

	back, err := FromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, m, back)

	_, err = FromJSON(nil)
	assert.Error(t, err)
}

func TestSchemaError_Error(t *testing.T) {
	one := &SchemaError{Problems: []Problem{{Pointer: "/name", Message: "required"}}}
	assert.Equal(t, "invalid batch manifest: /name: required", one.Error())

	two := &SchemaError{Problems: []Problem{{Pointer: "/name", Message: "required"}, {Message: "oneOf failed"}}}
	assert.Equal(t, "invalid batch manifest (2 problems):\n  - /name: required\n  - oneOf failed", two.Error())
	assert.ErrorIs(t, two, ErrValidationFailed)
}
