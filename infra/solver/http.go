// Package solver talks to the external vehicle routing solver over HTTP.
// Calls go through a circuit breaker so that a failing solver is skipped
// quickly and runs fall back to the in-process heuristics.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aquamarket/dispatch/core/logger"
	"github.com/aquamarket/dispatch/core/routing"
)

// ErrUnavailable is returned while the circuit breaker rejects calls.
var ErrUnavailable = errors.New("solver: unavailable")

const maxResponseBytes = 4 << 20

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32 `json:"max_requests"`
	IntervalSeconds  int    `json:"interval_seconds"`
	OpenSeconds      int    `json:"open_seconds"`
	FailureThreshold uint32 `json:"failure_threshold"`
}

// Config configures the HTTP solver.
type Config struct {
	URL            string        `json:"url"`
	Path           string        `json:"path"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	Auth           AuthConfig    `json:"auth"`
	Breaker        BreakerConfig `json:"breaker"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "/solve_vrp"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 1
	}
	if c.Breaker.IntervalSeconds <= 0 {
		c.Breaker.IntervalSeconds = 60
	}
	if c.Breaker.OpenSeconds <= 0 {
		c.Breaker.OpenSeconds = 60
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 3
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("solver: url is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("solver: url must be http(s): %q", c.URL)
	}
	return nil
}

// errorResponse is the body returned by the solver when it cannot solve.
type errorResponse struct {
	Error  string                `json:"error"`
	Routes []routing.SolverRoute `json:"routes"`
}

// HTTPSolver implements routing.Solver.
type HTTPSolver struct {
	endpoint string
	client   *http.Client
	cred     *ClientCred
	cb       *gobreaker.CircuitBreaker
	log      logger.Logger
}

var _ routing.Solver = (*HTTPSolver)(nil)

// NewHTTPSolver creates an HTTPSolver from cfg.
func NewHTTPSolver(cfg Config, log logger.Logger) (*HTTPSolver, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	s := &HTTPSolver{
		endpoint: strings.TrimRight(cfg.URL, "/") + cfg.Path,
		client:   &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		log:      log,
	}
	if cfg.Auth.Enabled() {
		s.cred = NewClientCred(cfg.Auth)
	}
	b := cfg.Breaker
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vrp-solver",
		MaxRequests: b.MaxRequests,
		Interval:    time.Duration(b.IntervalSeconds) * time.Second,
		Timeout:     time.Duration(b.OpenSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// an infeasible problem or a cancelled run says nothing about solver health
			return err == nil || errors.Is(err, routing.ErrNoSolution) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return s, nil
}

// State returns the circuit breaker state.
func (s *HTTPSolver) State() gobreaker.State { return s.cb.State() }

// Solve posts p to the solver and returns its routes.
func (s *HTTPSolver) Solve(ctx context.Context, p routing.Problem) ([]routing.SolverRoute, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.post(ctx, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]routing.SolverRoute), nil
}

func (s *HTTPSolver) post(ctx context.Context, p routing.Problem) ([]routing.SolverRoute, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode problem: %w", err)
	}
	resp, err := s.send(ctx, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && s.cred != nil {
		_ = resp.Body.Close()
		s.cred.Invalidate()
		if resp, err = s.send(ctx, body); err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solver status %d: %s", resp.StatusCode, snippet(raw))
	}
	s.log.Debugf("solver answered %d bytes for %d orders", len(raw), len(p.Orders))
	return decodeRoutes(raw)
}

func (s *HTTPSolver) send(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cred != nil {
		if err := s.cred.SetAuthHeader(ctx, req); err != nil {
			return nil, err
		}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", s.endpoint, err)
	}
	return resp, nil
}

// decodeRoutes accepts a bare route array or an object carrying routes or an
// error message. Empty answers mean no solution.
func decodeRoutes(raw []byte) ([]routing.SolverRoute, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, routing.ErrNoSolution
	}
	var routes []routing.SolverRoute
	if raw[0] == '{' {
		var er errorResponse
		if err := json.Unmarshal(raw, &er); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if er.Error != "" {
			return nil, fmt.Errorf("%w: %s", routing.ErrNoSolution, er.Error)
		}
		routes = er.Routes
	} else if err := json.Unmarshal(raw, &routes); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(routes) == 0 {
		return nil, routing.ErrNoSolution
	}
	return routes, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
