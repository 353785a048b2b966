package scheduler

import (
	"time"

	"github.com/smallbiznis/paymatch/internal/config"
)

// Config controls scheduler intervals and job bounds.
type Config struct {
	RunInterval   time.Duration
	ScanLookback  time.Duration
	ScanTimeout   time.Duration
	ExpireTimeout time.Duration
	LockTTL       time.Duration
	EnabledJobs   []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   time.Minute,
		ScanLookback:  72 * time.Hour,
		ScanTimeout:   45 * time.Second,
		ExpireTimeout: 30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:  cfg.Scan.Interval,
		ScanLookback: cfg.Scan.Lookback,
		ScanTimeout:  cfg.Scan.Timeout,
		EnabledJobs:  cfg.Scan.Jobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.ScanLookback <= 0 {
		c.ScanLookback = defaults.ScanLookback
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = defaults.ScanTimeout
	}
	if c.ExpireTimeout <= 0 {
		c.ExpireTimeout = defaults.ExpireTimeout
	}
	// The lease must outlive the longest job.
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * maxDuration(c.ScanTimeout, c.ExpireTimeout)
	}
	return c
}

func maxDuration(values ...time.Duration) time.Duration {
	var out time.Duration
	for _, v := range values {
		if v > out {
			out = v
		}
	}
	return out
}
