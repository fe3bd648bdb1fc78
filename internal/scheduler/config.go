package scheduler

import (
	"time"

	"github.com/smallbiznis/gymledger/internal/config"
)

const (
	JobExpirePayments   = "expire_payments"
	JobPaymentReminders = "payment_reminders"
)

// Config controls the run loop. Job enablement and timeouts are re-read from
// the jobs config holder on every run.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 24 * time.Hour,
		JobTimeout:  5 * time.Minute,
		LockTTL:     10 * time.Minute,
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
	// A lock that expires mid-run would let a second instance start.
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	return c
}

func ProvideConfig(jobs *config.JobsConfigHolder) Config {
	current := jobs.Get().Scheduler
	return Config{
		RunInterval: current.RunInterval,
		JobTimeout:  current.JobTimeout,
	}.withDefaults()
}
