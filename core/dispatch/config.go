package dispatch

import (
	"fmt"
	"time"
	_ "time/tzdata" // delivery days are computed in Timezone on hosts without zoneinfo

	"github.com/aquamarket/dispatch/core/model"
)

// Leftover policies.
const (
	LeftoverAwait = "await"
	LeftoverForce = "force"
)

// Config defines dispatch-related settings.
type Config struct {
	// Slack is the permitted load above the per-courier target.
	Slack               int     `json:"slack"`
	LoadWeight          float64 `json:"load_weight"`
	FirstZoneLoadWeight float64 `json:"first_zone_load_weight"`
	SpreadThreshold     float64 `json:"spread_threshold_m"`
	SpreadWeight        float64 `json:"spread_weight"`
	RebalanceIterations int     `json:"rebalance_iterations"`
	RebalanceMinGain    float64 `json:"rebalance_min_gain"`
	SwapThreshold       float64 `json:"swap_threshold_m"`
	MaxSwaps            int     `json:"max_swaps"`
	LeftoverLoadPenalty float64 `json:"leftover_load_penalty_m"`
	LeftoverPolicy      string  `json:"leftover_policy"`
	LocationMaxAgeSec   int     `json:"location_max_age_seconds"`
	WriteAttempts       int     `json:"write_attempts"`
	SolverTimeoutSec    int     `json:"solver_timeout_seconds"`
	LockTTLSec          int     `json:"lock_ttl_seconds"`
	// Timezone determines the delivery day used to load orders.
	Timezone     string       `json:"timezone"`
	DefaultDepot *model.Depot `json:"default_depot"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Slack == 0 {
		c.Slack = 1
	}
	if c.LoadWeight == 0 {
		c.LoadWeight = 1000
	}
	if c.FirstZoneLoadWeight == 0 {
		c.FirstZoneLoadWeight = 500
	}
	if c.SpreadThreshold == 0 {
		c.SpreadThreshold = 6000
	}
	if c.SpreadWeight == 0 {
		c.SpreadWeight = 3
	}
	if c.RebalanceIterations == 0 {
		c.RebalanceIterations = 5
	}
	if c.RebalanceMinGain == 0 {
		c.RebalanceMinGain = 1000
	}
	if c.SwapThreshold == 0 {
		c.SwapThreshold = 500
	}
	if c.MaxSwaps == 0 {
		c.MaxSwaps = 3
	}
	if c.LeftoverLoadPenalty == 0 {
		c.LeftoverLoadPenalty = 2000
	}
	if c.LeftoverPolicy == "" {
		c.LeftoverPolicy = LeftoverAwait
	}
	if c.LocationMaxAgeSec == 0 {
		c.LocationMaxAgeSec = 1800
	}
	if c.WriteAttempts == 0 {
		c.WriteAttempts = 3
	}
	if c.SolverTimeoutSec == 0 {
		c.SolverTimeoutSec = 30
	}
	if c.LockTTLSec == 0 {
		c.LockTTLSec = 120
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Almaty"
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.Slack < 0 {
		return fmt.Errorf("dispatch: slack must not be negative")
	}
	if c.LeftoverPolicy != LeftoverAwait && c.LeftoverPolicy != LeftoverForce {
		return fmt.Errorf("dispatch: unknown leftover_policy %q", c.LeftoverPolicy)
	}
	if c.MaxSwaps < 0 || c.RebalanceIterations < 0 {
		return fmt.Errorf("dispatch: max_swaps and rebalance_iterations must not be negative")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("dispatch: timezone: %w", err)
	}
	if c.DefaultDepot != nil && !c.DefaultDepot.Point.Valid() {
		return fmt.Errorf("dispatch: default_depot has an invalid point")
	}
	return nil
}

func (c Config) locationMaxAge() time.Duration {
	return time.Duration(c.LocationMaxAgeSec) * time.Second
}

func (c Config) solverTimeout() time.Duration {
	return time.Duration(c.SolverTimeoutSec) * time.Second
}

func (c Config) lockTTL() time.Duration { return time.Duration(c.LockTTLSec) * time.Second }
