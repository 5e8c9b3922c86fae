package config

import (
	"fmt"

	"github.com/aquamarket/dispatch/infra/store/mongostore"
	"github.com/aquamarket/dispatch/infra/store/postgres"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// StoreConfig selects the order and courier store.
type StoreConfig struct {
	Backend string `json:"backend"`
	// Fixture seeds the memory backend from a scenario file.
	Fixture  string            `json:"fixture"`
	Mongo    mongostore.Config `json:"mongo"`
	Postgres postgres.Config   `json:"postgres"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StoreMemory
	}
	switch c.Backend {
	case StoreMongo:
		c.Mongo.SetDefaults()
	case StorePostgres:
		c.Postgres.SetDefaults()
	}
}

// Validate checks the selected backend.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case StoreMemory:
		return nil
	case StoreMongo:
		return c.Mongo.Validate()
	case StorePostgres:
		return c.Postgres.Validate()
	default:
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
}

// APIConfig configures the control HTTP server.
type APIConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `json:"addr"`
	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token               string `json:"token"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.ReadTimeoutSeconds <= 0 {
		c.ReadTimeoutSeconds = 10
	}
	if c.WriteTimeoutSeconds <= 0 {
		c.WriteTimeoutSeconds = 30
	}
}
