package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	origVersion := rootCmd.Version
	defer func() {
		versionInfo = orig
		rootCmd.Version = origVersion
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
			assert.Contains(t, rootCmd.Version, tt.commit)
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "plain error", err: errors.New("boom"), want: 1},
		{
			name: "exit error",
			err:  exitError(int(foundry.ExitFileNotFound), "No batch", errors.New("missing")),
			want: int(foundry.ExitFileNotFound),
		},
		{
			name: "wrapped exit error",
			err:  fmt.Errorf("send: %w", exitError(int(foundry.ExitInvalidArgument), "Invalid --jobs", nil)),
			want: int(foundry.ExitInvalidArgument),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	err := exitError(1, "Failed to save batch state", errors.New("disk full"))
	assert.Equal(t, "Failed to save batch state: disk full", err.Error())
	assert.Equal(t, "Invalid --jobs", exitError(1, "Invalid --jobs", nil).Error())

	cause := errors.New("cause")
	assert.ErrorIs(t, exitError(1, "wrapped", cause), cause)
}

func TestFlagOverrides(t *testing.T) {
	resetFlags(t)
	require.NoError(t, rootCmd.ParseFlags([]string{"-C", "/data/batch", "--backend", "pbs", "--log-level", "debug", "--dry-run"}))

	got := flagOverrides(rootCmd)
	assert.Equal(t, map[string]any{
		"workdir": "/data/batch",
		"dry_run": true,
		"cluster": map[string]any{"backend": "pbs"},
		"logging": map[string]any{"level": "debug"},
	}, got)

	assert.True(t, clusterFlagChanged(rootCmd, "backend"))
	assert.False(t, clusterFlagChanged(rootCmd, "queue"))
}

func TestFlagOverrides_NothingSet(t *testing.T) {
	resetFlags(t)
	require.NoError(t, rootCmd.ParseFlags(nil))
	assert.Equal(t, map[string]any{"workdir": "."}, flagOverrides(rootCmd))
}
