package outbound

import (
	"fmt"
	"time"
)

// Backoff strategies for retransmission intervals.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Config defines the retry policy for reliable outbound messages.
type Config struct {
	// RetryIntervalSeconds is the base wait before the first retransmission.
	RetryIntervalSeconds int `json:"retry_interval_seconds"`
	// Backoff selects "fixed" or "exponential" growth of the interval.
	Backoff string `json:"backoff"`
	// MaxAttempts bounds the total number of sends, initial send included.
	MaxAttempts int `json:"max_attempts"`
	// PollIntervalMS is how often the scheduler scans for due deadlines.
	PollIntervalMS int `json:"poll_interval_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.RetryIntervalSeconds <= 0 {
		c.RetryIntervalSeconds = 45
	}
	if c.Backoff == "" {
		c.Backoff = BackoffExponential
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = 250
	}
}

// Validate checks the backoff strategy.
func (c Config) Validate() error {
	if c.Backoff != BackoffFixed && c.Backoff != BackoffExponential {
		return fmt.Errorf("outbound: unknown backoff %q", c.Backoff)
	}
	return nil
}

// backoffFor returns the wait after the given attempt number (1-based).
func (c Config) backoffFor(attempt int) time.Duration {
	base := time.Duration(c.RetryIntervalSeconds) * time.Second
	if c.Backoff == BackoffFixed || attempt <= 1 {
		return base
	}
	return base * time.Duration(1<<uint(attempt-1))
}
