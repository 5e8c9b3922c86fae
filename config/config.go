package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aquamarket/dispatch/core/dispatch"
	"github.com/aquamarket/dispatch/core/dispatch/logging"
	"github.com/aquamarket/dispatch/core/metrics"
	"github.com/aquamarket/dispatch/core/notify"
	"github.com/aquamarket/dispatch/core/routing"
	"github.com/aquamarket/dispatch/core/scheduler"
	"github.com/aquamarket/dispatch/core/zones"
	"github.com/aquamarket/dispatch/infra/lock"
	"github.com/aquamarket/dispatch/infra/monitoring"
	"github.com/aquamarket/dispatch/infra/mqtt"
	"github.com/aquamarket/dispatch/infra/solver"
)

type Config struct {
	Store     StoreConfig               `json:"store"`
	MQTT      mqtt.Config               `json:"mqtt"`
	Zones     zones.Config              `json:"zones"`
	Dispatch  dispatch.Config           `json:"dispatch"`
	Routing   routing.Config            `json:"routing"`
	Solver    solver.Config             `json:"solver"`
	Notify    notify.Config             `json:"notify"`
	Scheduler scheduler.SchedulerConfig `json:"scheduler"`
	Lock      lock.Config               `json:"lock"`
	Metrics   metrics.Config            `json:"metrics"`
	RunLog    logging.Config            `json:"runlog"`
	Sentry    monitoring.Config         `json:"sentry"`
	API       APIConfig                 `json:"api"`
}

// Load reads the file at path, applies K_ prefixed environment overrides
// (K_DISPATCH__SLACK=2 sets dispatch.slack), fills defaults and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Store.SetDefaults()
	if c.MQTT.Broker != "" {
		c.MQTT.SetDefaults()
	}
	c.Zones.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Routing.SetDefaults()
	if c.Solver.URL != "" {
		c.Solver.SetDefaults()
	}
	c.Notify.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Lock.SetDefaults()
	c.Metrics.SetDefaults()
	c.API.SetDefaults()
}

type check struct {
	name string
	fn   func() error
}

// Validate checks every section. Optional adapters are only validated when
// configured.
func (c Config) Validate() error {
	checks := []check{
		{"store", c.Store.Validate},
		{"zones", c.Zones.Validate},
		{"dispatch", c.Dispatch.Validate},
		{"routing", c.Routing.Validate},
		{"notify", c.Notify.Validate},
		{"scheduler", c.Scheduler.Validate},
		{"metrics", c.Metrics.Validate},
		{"runlog", c.validateRunLog},
	}
	if c.MQTT.Broker != "" {
		checks = append(checks, check{"mqtt", c.MQTT.Validate})
	}
	if c.Solver.URL != "" {
		checks = append(checks, check{"solver", c.Solver.Validate})
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}

func (c Config) validateRunLog() error {
	switch c.RunLog.Backend {
	case "", "jsonl", "rotating", "sqlite":
	default:
		return fmt.Errorf("unknown backend %s", c.RunLog.Backend)
	}
	if c.RunLog.Backend != "" && c.RunLog.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}
