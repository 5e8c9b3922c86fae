// Package scenarios loads dispatch fixtures from YAML and replays them
// against the in-memory store.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aquamarket/dispatch/core/dispatch"
	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/routing"
)

type DepotDef struct {
	ID      string  `yaml:"id"`
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
	Address string  `yaml:"address"`
}

func (d DepotDef) ToModel() model.Depot {
	return model.Depot{ID: d.ID, Point: model.Point{Lat: d.Lat, Lon: d.Lon}, Address: d.Address}
}

type OrderDef struct {
	ID      string  `yaml:"id"`
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
	Address string  `yaml:"address,omitempty"`
	B19     int     `yaml:"b19"`
	B12     int     `yaml:"b12"`
	Income  float64 `yaml:"income,omitempty"`
	// AgeMinutes backdates CreatedAt relative to load time.
	AgeMinutes int `yaml:"age_minutes,omitempty"`
}

func (o OrderDef) ToModel(now time.Time) model.Order {
	p := model.Products{}
	if o.B19 > 0 {
		p[model.SKU19L] = o.B19
	}
	if o.B12 > 0 {
		p[model.SKU12L5] = o.B12
	}
	if len(p) == 0 {
		p[model.SKU19L] = 1
	}
	addr := o.Address
	if addr == "" {
		addr = o.ID
	}
	return model.Order{
		ID:          o.ID,
		Point:       model.Point{Lat: o.Lat, Lon: o.Lon},
		Address:     addr,
		Products:    p,
		Status:      model.OrderAwaiting,
		ForDispatch: true,
		CreatedAt:   now.Add(-time.Duration(o.AgeMinutes) * time.Minute),
		Income:      o.Income,
	}
}

type CourierDef struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name,omitempty"`
	Lat      float64        `yaml:"lat"`
	Lon      float64        `yaml:"lon"`
	Offline  bool           `yaml:"offline,omitempty"`
	MaxStops int            `yaml:"max_stops,omitempty"`
	MaxUnits map[string]int `yaml:"max_units,omitempty"`
	// Silent couriers never start offered orders.
	Silent bool `yaml:"silent,omitempty"`
}

func (c CourierDef) ToModel() model.Courier {
	return model.Courier{
		ID:       c.ID,
		Name:     c.Name,
		Location: model.Point{Lat: c.Lat, Lon: c.Lon},
		Online:   !c.Offline,
		Active:   true,
		Capacity: model.Capacity{MaxStops: c.MaxStops, MaxUnits: c.MaxUnits},
	}
}

type ExclusionDef struct {
	Order   string `yaml:"order"`
	Courier string `yaml:"courier"`
}

// Expected lists the assertions checked after the scenario ran.
type Expected struct {
	Zones      int `yaml:"zones,omitempty"`
	Unassigned int `yaml:"unassigned"`
	// Routes pins each courier's queue in visiting order.
	Routes map[string][]string `yaml:"routes,omitempty"`
	// Groups pins each courier's orders regardless of order.
	Groups        map[string][]string `yaml:"groups,omitempty"`
	MaxPerCourier int                 `yaml:"max_per_courier,omitempty"`
	Excluded      []ExclusionDef      `yaml:"excluded,omitempty"`
	// LeftoversPlaced counts orders the leftover pass had to place. Unset skips the check.
	LeftoversPlaced *int `yaml:"leftovers_placed,omitempty"`
	// Reassigned maps an order to the courier that must hold it after retry.
	Reassigned map[string]string `yaml:"reassigned,omitempty"`
}

type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Slack       int          `yaml:"slack,omitempty"`
	Strategy    string       `yaml:"strategy,omitempty"`
	Depot       DepotDef     `yaml:"depot"`
	Couriers    []CourierDef `yaml:"couriers"`
	Orders      []OrderDef   `yaml:"orders"`
	// Notify runs the offer protocol after the first distribution.
	Notify   bool     `yaml:"notify,omitempty"`
	Expected Expected `yaml:"expected"`
}

// Seeder receives fixture documents.
type Seeder interface {
	PutOrder(o model.Order)
	PutCourier(c model.Courier)
	PutDepot(d model.Depot)
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

// DispatchConfig returns the dispatch settings the scenario overrides.
func (s Scenario) DispatchConfig() dispatch.Config {
	return dispatch.Config{Slack: s.Slack}
}

// RoutingConfig pins the strategy and seed so routes are reproducible.
func (s Scenario) RoutingConfig() routing.Config {
	return routing.Config{Strategy: routing.Strategy(s.Strategy), Seed: 1}
}

func (s Scenario) validate() error {
	seen := map[string]bool{}
	for _, o := range s.Orders {
		if o.ID == "" || seen[o.ID] {
			return fmt.Errorf("order id %q is empty or duplicated", o.ID)
		}
		seen[o.ID] = true
	}
	for _, c := range s.Couriers {
		if c.ID == "" || seen[c.ID] {
			return fmt.Errorf("courier id %q is empty or duplicated", c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// Seed writes the depot, couriers and orders to st.
func (s Scenario) Seed(st Seeder, now time.Time) {
	if s.Depot.ID != "" {
		st.PutDepot(s.Depot.ToModel())
	}
	for _, c := range s.Couriers {
		st.PutCourier(c.ToModel())
	}
	for _, o := range s.Orders {
		st.PutOrder(o.ToModel(now))
	}
}

// SilentCouriers returns the ids of couriers that ignore offers.
func (s Scenario) SilentCouriers() map[string]bool {
	out := map[string]bool{}
	for _, c := range s.Couriers {
		if c.Silent {
			out[c.ID] = true
		}
	}
	return out
}
