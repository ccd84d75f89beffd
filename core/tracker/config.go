package tracker

import "fmt"

// Config tunes unit staleness detection.
type Config struct {
	// OfflineTimeoutSeconds is the silence after which a working unit is
	// marked offline.
	OfflineTimeoutSeconds int `json:"offline_timeout_seconds"`
	// SweepIntervalSeconds is how often the staleness sweep runs.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.OfflineTimeoutSeconds <= 0 {
		c.OfflineTimeoutSeconds = 300
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = 30
	}
}

// Validate checks the sweep cadence against the timeout.
func (c Config) Validate() error {
	if c.SweepIntervalSeconds > c.OfflineTimeoutSeconds {
		return fmt.Errorf("tracker: sweep interval %ds exceeds offline timeout %ds", c.SweepIntervalSeconds, c.OfflineTimeoutSeconds)
	}
	return nil
}
