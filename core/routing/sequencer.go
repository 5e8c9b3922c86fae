package routing

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aquamarket/dispatch/core/logger"
	"github.com/aquamarket/dispatch/core/model"
)

// Strategy selects the sequencing algorithm.
type Strategy string

const (
	StrategyNearest Strategy = "nearest"
	StrategyGenetic Strategy = "genetic"
	StrategyAuto    Strategy = "auto"
)

// Config tunes the in-process sequencers.
type Config struct {
	Strategy            Strategy `json:"strategy"`
	GeneticMaxStops     int      `json:"genetic_max_stops"`
	Population          int      `json:"population"`
	Generations         int      `json:"generations"`
	TournamentSize      int      `json:"tournament_size"`
	MutationRate        float64  `json:"mutation_rate"`
	Elitism             int      `json:"elitism"`
	TwoOptMaxIterations int      `json:"two_opt_max_iterations"`
	Seed                int64    `json:"seed"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyNearest
	}
	if c.GeneticMaxStops == 0 {
		c.GeneticMaxStops = 12
	}
	if c.TournamentSize == 0 {
		c.TournamentSize = 3
	}
	if c.MutationRate == 0 {
		c.MutationRate = 0.02
	}
	if c.Elitism == 0 {
		c.Elitism = 1
	}
	if c.TwoOptMaxIterations == 0 {
		c.TwoOptMaxIterations = 100
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyNearest, StrategyGenetic, StrategyAuto:
	default:
		return fmt.Errorf("routing: unknown strategy %q", c.Strategy)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("routing: mutation_rate must be within [0,1]")
	}
	if c.Population < 0 || c.Generations < 0 {
		return fmt.Errorf("routing: population and generations must not be negative")
	}
	return nil
}

// Stop is a point to visit. A locked stop is the courier's in-progress order.
type Stop struct {
	ID     string
	Point  model.Point
	Locked bool
}

// Request is one courier's sequencing problem.
type Request struct {
	// Start is a fixed origin that is not part of the output, typically the
	// courier's last committed stop. Ignored when a stop is locked.
	Start *model.Point
	Stops []Stop
}

// Result is a sequenced route.
type Result struct {
	Stops    []Stop
	Distance float64
	Strategy Strategy
}

// Sequencer orders stops with the configured strategy.
type Sequencer struct {
	cfg Config
	log logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSequencer creates a Sequencer. A nil logger disables logging.
func NewSequencer(cfg Config, log logger.Logger) *Sequencer {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sequencer{cfg: cfg, log: log, rng: rand.New(rand.NewSource(seed))}
}

// Config returns the effective configuration.
func (s *Sequencer) Config() Config { return s.cfg }

// Sequence orders req.Stops. The locked stop, if any, is always first.
func (s *Sequencer) Sequence(ctx context.Context, req Request) Result {
	return s.SequenceWith(ctx, s.cfg.Strategy, req)
}

// SequenceWith orders req.Stops with an explicit strategy.
func (s *Sequencer) SequenceWith(ctx context.Context, strategy Strategy, req Request) Result {
	if len(req.Stops) == 0 {
		return Result{Strategy: strategy}
	}
	nodes, virtual := arrange(req)
	pts := make([]model.Point, len(nodes))
	for i, st := range nodes {
		pts[i] = st.Point
	}
	m := newMatrix(pts)
	nn := nearestTour(m)

	used := strategy
	if used == StrategyAuto {
		used = StrategyNearest
		if len(req.Stops) <= s.cfg.GeneticMaxStops {
			used = StrategyGenetic
		}
	}

	tour := nn
	if used == StrategyGenetic {
		tour = s.genetic(ctx, m, nn)
	}

	start := 0
	if virtual {
		start = 1
	}
	out := make([]Stop, 0, len(tour)-start)
	for _, idx := range tour[start:] {
		out = append(out, nodes[idx])
	}
	return Result{Stops: out, Distance: m.cost(tour), Strategy: used}
}

func (s *Sequencer) genetic(ctx context.Context, m *matrix, nn []int) []int {
	p := geneticParams{
		population:  s.cfg.Population,
		generations: s.cfg.Generations,
		tournament:  s.cfg.TournamentSize,
		mutation:    s.cfg.MutationRate,
		elitism:     s.cfg.Elitism,
	}
	if p.population == 0 {
		p.population = 50
		if m.n <= 10 {
			p.population = 100
		}
	}
	if p.generations == 0 {
		p.generations = 100
		if m.n <= 10 {
			p.generations = 200
		}
	}
	s.mu.Lock()
	seed := s.rng.Int63()
	s.mu.Unlock()
	rng := rand.New(rand.NewSource(seed))

	ga := geneticTour(ctx, m, nn, p, rng)
	improved := twoOpt(m, ga, s.cfg.TwoOptMaxIterations)

	base := append([]int(nil), nn...)
	twoOpt(m, base, s.cfg.TwoOptMaxIterations)
	gaCost, baseCost := m.cost(ga), m.cost(base)
	s.log.Debugw("genetic sequencing", map[string]any{
		"stops":        m.n,
		"ga_cost":      gaCost,
		"nn_2opt_cost": baseCost,
		"two_opt":      improved,
	})
	if baseCost < gaCost {
		return base
	}
	return ga
}

// arrange puts the fixed first node at index 0. virtual reports whether that
// node is req.Start rather than one of the stops.
func arrange(req Request) ([]Stop, bool) {
	nodes := make([]Stop, 0, len(req.Stops)+1)
	locked := -1
	for i, st := range req.Stops {
		if st.Locked {
			locked = i
			break
		}
	}
	switch {
	case locked >= 0:
		nodes = append(nodes, req.Stops[locked])
		for i, st := range req.Stops {
			if i != locked {
				nodes = append(nodes, st)
			}
		}
		return nodes, false
	case req.Start != nil:
		nodes = append(nodes, Stop{ID: "", Point: *req.Start})
		return append(nodes, req.Stops...), true
	default:
		return append(nodes, req.Stops...), false
	}
}
