package zones

import "fmt"

// Config tunes density clustering.
type Config struct {
	// MaxDistance is the neighbourhood radius in meters.
	MaxDistance float64 `json:"max_distance_m"`
	// MinOrders is the neighbourhood size, self included, that makes an order a core point.
	MinOrders int `json:"min_orders"`
	// NoiseMergeFactor scales MaxDistance when grouping leftover noise orders.
	NoiseMergeFactor float64 `json:"noise_merge_factor"`
	// MinRadius floors every zone radius in meters.
	MinRadius float64 `json:"min_radius_m"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.MaxDistance == 0 {
		c.MaxDistance = 2000
	}
	if c.MinOrders == 0 {
		c.MinOrders = 2
	}
	if c.NoiseMergeFactor == 0 {
		c.NoiseMergeFactor = 1.5
	}
	if c.MinRadius == 0 {
		c.MinRadius = 1000
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.MaxDistance <= 0 {
		return fmt.Errorf("zones: max_distance_m must be positive")
	}
	if c.MinOrders < 1 {
		return fmt.Errorf("zones: min_orders must be at least 1")
	}
	if c.NoiseMergeFactor < 1 {
		return fmt.Errorf("zones: noise_merge_factor must be >= 1")
	}
	if c.MinRadius < 0 {
		return fmt.Errorf("zones: min_radius_m must not be negative")
	}
	return nil
}
