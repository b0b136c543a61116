package scheduler

import (
	"time"

	"github.com/babcialabs/babcia/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	// VerificationTimeout is how long a bowl may wait in
	// awaiting_verification_photo before the sweep returns it to
	// all_tasks_complete.
	VerificationTimeout time.Duration
	MaxRebuildBatchSize int
	MaxSweepBatchSize   int
	// EnabledJobs narrows which jobs this runner executes. Empty
	// means all jobs (single-binary install).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         time.Minute,
		BatchSize:           50,
		VerificationTimeout: 24 * time.Hour,
		MaxRebuildBatchSize: 10,
		MaxSweepBatchSize:   25,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.VerificationTimeout <= 0 {
		c.VerificationTimeout = defaults.VerificationTimeout
	}
	if c.MaxRebuildBatchSize <= 0 {
		c.MaxRebuildBatchSize = defaults.MaxRebuildBatchSize
	}
	if c.MaxSweepBatchSize <= 0 {
		c.MaxSweepBatchSize = defaults.MaxSweepBatchSize
	}
	return c
}

// ProvideConfig maps application config onto the scheduler knobs.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:         cfg.Scheduler.RunInterval,
		VerificationTimeout: cfg.Scheduler.VerificationTimeout,
		EnabledJobs:         cfg.Scheduler.EnabledJobs,
	}
}
