// Package config defines the engine's enumerated configuration (spec §6)
// with validated defaults, loadable from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in §6's configuration table.
type Config struct {
	MaxSteps                          int           `yaml:"maxSteps"`
	MaxDurationMs                     int           `yaml:"maxDurationMs"`
	MaxParallelSteps                  int           `yaml:"maxParallelSteps"`
	AutoCheckpoint                    bool          `yaml:"autoCheckpoint"`
	CheckpointInterval                int           `yaml:"checkpointInterval"`
	MaxCheckpoints                    int           `yaml:"maxCheckpoints"`
	DefaultRetryAttempts             int           `yaml:"defaultRetryAttempts"`
	DefaultRetryDelayMs               int           `yaml:"defaultRetryDelayMs"`
	RequireConfirmationForDestructive bool          `yaml:"requireConfirmationForDestructive"`
	DryRunByDefault                   bool          `yaml:"dryRunByDefault"`
	VerboseLogging                    bool          `yaml:"verboseLogging"`
	LogRetention                      time.Duration `yaml:"logRetention"`

	// MaxSnapshots bounds the per-workflow checkpoint file retention kept by
	// the Rollback Controller (§4.3); distinct from MaxCheckpoints, which
	// bounds the in-memory FIFO the Executor holds on Workflow.checkpoints.
	MaxSnapshots int `yaml:"maxSnapshots"`
}

// Default returns the configuration with every default from §6.
func Default() Config {
	return Config{
		MaxSteps:                          50,
		MaxDurationMs:                      300000,
		MaxParallelSteps:                   5,
		AutoCheckpoint:                     true,
		CheckpointInterval:                 5,
		MaxCheckpoints:                     10,
		DefaultRetryAttempts:              3,
		DefaultRetryDelayMs:                1000,
		RequireConfirmationForDestructive: true,
		DryRunByDefault:                    false,
		VerboseLogging:                     false,
		LogRetention:                       7 * 24 * time.Hour,
		MaxSnapshots:                       50,
	}
}

// MaxDuration returns MaxDurationMs as a time.Duration.
func (c Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationMs) * time.Millisecond
}

// Load reads and merges a YAML configuration file over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects non-sensical values (a zero or negative parallelism cap
// would make the scheduler's ready-set dispatch never progress).
func (c Config) Validate() error {
	if c.MaxParallelSteps <= 0 {
		return fmt.Errorf("maxParallelSteps must be positive, got %d", c.MaxParallelSteps)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("maxSteps must be positive, got %d", c.MaxSteps)
	}
	if c.MaxDurationMs <= 0 {
		return fmt.Errorf("maxDurationMs must be positive, got %d", c.MaxDurationMs)
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("checkpointInterval must be positive, got %d", c.CheckpointInterval)
	}
	if c.MaxCheckpoints <= 0 {
		return fmt.Errorf("maxCheckpoints must be positive, got %d", c.MaxCheckpoints)
	}
	return nil
}
