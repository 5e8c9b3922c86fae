package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig defines the cadences and event thresholds.
type SchedulerConfig struct {
	DistributionIntervalSeconds int `json:"distribution_interval_seconds" yaml:"distribution_interval_seconds"`
	StaleSweepIntervalSeconds   int `json:"stale_sweep_interval_seconds" yaml:"stale_sweep_interval_seconds"`
	StaleAfterMinutes           int `json:"stale_after_minutes" yaml:"stale_after_minutes"`
	OptimizationIntervalMinutes int `json:"optimization_interval_minutes" yaml:"optimization_interval_minutes"`
	// NewOrderMinPending is the pending count an order-created event needs to trigger a run.
	NewOrderMinPending int `json:"new_order_min_pending" yaml:"new_order_min_pending"`
	// IdleCourierWarn logs a warning when at least this many couriers sit idle
	// while orders are pending. Zero disables the warning.
	IdleCourierWarn   int `json:"idle_courier_warn" yaml:"idle_courier_warn"`
	RunTimeoutSeconds int `json:"run_timeout_seconds" yaml:"run_timeout_seconds"`
	// RetryDelayMS delays the run that follows detached offers.
	RetryDelayMS int `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	// DisableTicker turns off the periodic distribution run; events and
	// the stale sweep still trigger runs.
	DisableTicker bool `json:"disable_ticker" yaml:"disable_ticker"`
}

// SetDefaults fills zero values.
func (c *SchedulerConfig) SetDefaults() {
	if c.DistributionIntervalSeconds == 0 {
		c.DistributionIntervalSeconds = 60
	}
	if c.StaleSweepIntervalSeconds == 0 {
		c.StaleSweepIntervalSeconds = 30
	}
	if c.StaleAfterMinutes == 0 {
		c.StaleAfterMinutes = 10
	}
	if c.OptimizationIntervalMinutes == 0 {
		c.OptimizationIntervalMinutes = 15
	}
	if c.NewOrderMinPending == 0 {
		c.NewOrderMinPending = 1
	}
	if c.RunTimeoutSeconds == 0 {
		c.RunTimeoutSeconds = 120
	}
	if c.RetryDelayMS == 0 {
		c.RetryDelayMS = 2000
	}
}

// Validate checks the configuration values.
func (c SchedulerConfig) Validate() error {
	if c.DistributionIntervalSeconds < 0 || c.StaleSweepIntervalSeconds < 0 || c.OptimizationIntervalMinutes < 0 {
		return fmt.Errorf("scheduler: intervals must not be negative")
	}
	if c.NewOrderMinPending < 0 || c.IdleCourierWarn < 0 {
		return fmt.Errorf("scheduler: thresholds must not be negative")
	}
	return nil
}

func (c SchedulerConfig) distributionInterval() time.Duration {
	return time.Duration(c.DistributionIntervalSeconds) * time.Second
}

func (c SchedulerConfig) staleSweepInterval() time.Duration {
	return time.Duration(c.StaleSweepIntervalSeconds) * time.Second
}

func (c SchedulerConfig) staleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

func (c SchedulerConfig) optimizationInterval() time.Duration {
	return time.Duration(c.OptimizationIntervalMinutes) * time.Minute
}

func (c SchedulerConfig) runTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

func (c SchedulerConfig) retryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// LoadConfig loads SchedulerConfig from a JSON or YAML file.
func LoadConfig(path string) (SchedulerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SchedulerConfig{}, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	var cfg SchedulerConfig
	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	default:
		return SchedulerConfig{}, fmt.Errorf("unsupported config format: %s", ext)
	}
	return cfg, err
}

// DecodeConfig reads from r to decode a SchedulerConfig.
func DecodeConfig(r io.Reader, format string) (SchedulerConfig, error) {
	var cfg SchedulerConfig
	switch strings.ToLower(format) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(r)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, err
		}
	case "json":
		dec := json.NewDecoder(r)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported format: %s", format)
	}
	return cfg, nil
}
