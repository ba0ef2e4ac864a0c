package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300*time.Second, cfg.MaxDuration())
}

func TestValidateRejectsNonPositiveFields(t *testing.T) {
	t.Parallel()
	cases := []func(*Config){
		func(c *Config) { c.MaxParallelSteps = 0 },
		func(c *Config) { c.MaxSteps = -1 },
		func(c *Config) { c.MaxDurationMs = 0 },
		func(c *Config) { c.CheckpointInterval = 0 },
		func(c *Config) { c.MaxCheckpoints = 0 },
	}
	for _, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		assert.Error(t, cfg.Validate())
	}
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxSteps: 10\nautoCheckpoint: false\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxSteps)
	assert.False(t, cfg.AutoCheckpoint)
	assert.Equal(t, Default().MaxParallelSteps, cfg.MaxParallelSteps)
}

func TestLoadRejectsInvalidMerge(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxParallelSteps: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
