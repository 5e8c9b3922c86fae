package notify

import (
	"fmt"
	"time"
)

// Config tunes the offer protocol.
type Config struct {
	// WindowMS is how long a courier has to start an offered order.
	WindowMS       int `json:"window_ms" yaml:"window_ms"`
	PollIntervalMS int `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	// ExclusionTTLMinutes bounds how long a declined pairing stays banned.
	ExclusionTTLMinutes      int  `json:"exclusion_ttl_minutes" yaml:"exclusion_ttl_minutes"`
	DeactivateSilentCouriers bool `json:"deactivate_silent_couriers" yaml:"deactivate_silent_couriers"`
	WriteAttempts            int  `json:"write_attempts" yaml:"write_attempts"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.WindowMS == 0 {
		c.WindowMS = 20000
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 1000
	}
	if c.ExclusionTTLMinutes == 0 {
		c.ExclusionTTLMinutes = 30
	}
	if c.WriteAttempts == 0 {
		c.WriteAttempts = 3
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.WindowMS < 0 || c.PollIntervalMS < 0 || c.ExclusionTTLMinutes < 0 {
		return fmt.Errorf("notify: durations must not be negative")
	}
	if c.PollIntervalMS > c.WindowMS {
		return fmt.Errorf("notify: poll_interval_ms (%d) exceeds window_ms (%d)", c.PollIntervalMS, c.WindowMS)
	}
	return nil
}

func (c Config) window() time.Duration { return time.Duration(c.WindowMS) * time.Millisecond }

func (c Config) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c Config) exclusionTTL() time.Duration {
	return time.Duration(c.ExclusionTTLMinutes) * time.Minute
}
