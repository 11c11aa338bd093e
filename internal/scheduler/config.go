package scheduler

import (
	"time"
)

// Config controls job cadence and per-job deadlines.
type Config struct {
	RunInterval      time.Duration
	JobTimeout       time.Duration
	LockTTL          time.Duration
	RenewHorizonDays int
	// PollLookback is how far back the poll fallback rescans orders. Wide
	// enough to cover a missed webhook, narrow enough to stay cheap.
	PollLookback time.Duration
	EnabledJobs  []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		JobTimeout:       30 * time.Second,
		LockTTL:          5 * time.Minute,
		RenewHorizonDays: 7,
		PollLookback:     time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.RenewHorizonDays <= 0 {
		c.RenewHorizonDays = defaults.RenewHorizonDays
	}
	if c.PollLookback <= 0 {
		c.PollLookback = defaults.PollLookback
	}
	return c
}

func ProvideConfig() Config {
	return DefaultConfig()
}
