package routing

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoSolution is returned when a solver reports an infeasible or empty result.
var ErrNoSolution = errors.New("routing: solver returned no solution")

// Solver is an out-of-process vehicle routing solver.
type Solver interface {
	Solve(ctx context.Context, p Problem) ([]SolverRoute, error)
}

// Problem is the request sent to a Solver.
type Problem struct {
	Depot        ProblemDepot        `json:"depot"`
	Couriers     []ProblemCourier    `json:"couriers"`
	Orders       []ProblemOrder      `json:"orders"`
	Restrictions map[string][]string `json:"restrictions"`
}

// ProblemDepot is the common pickup point.
type ProblemDepot struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ProblemCourier describes one courier. Capacity is the number of new stops
// the courier may still take.
type ProblemCourier struct {
	ID           string   `json:"id"`
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	Capacity     int      `json:"capacity"`
	ActiveOrders []string `json:"active_orders,omitempty"`
}

// ProblemOrder is a pending order.
type ProblemOrder struct {
	ID     string  `json:"id"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Demand int     `json:"demand"`
}

// SolverRoute is one courier's ordered stop list in a solver response.
type SolverRoute struct {
	CourierID   string   `json:"courier_id"`
	Orders      []string `json:"orders"`
	DistanceKM  float64  `json:"distance_km"`
	OrdersCount int      `json:"orders_count"`
}

// ValidateSolution checks routes against p. Unknown ids, duplicated orders,
// restricted pairings and capacity overruns make the whole response invalid.
func ValidateSolution(p Problem, routes []SolverRoute) error {
	if len(routes) == 0 {
		return ErrNoSolution
	}
	couriers := make(map[string]ProblemCourier, len(p.Couriers))
	for _, c := range p.Couriers {
		couriers[c.ID] = c
	}
	orders := make(map[string]bool, len(p.Orders))
	for _, o := range p.Orders {
		orders[o.ID] = true
	}
	seen := make(map[string]bool)
	total := 0
	for _, r := range routes {
		c, ok := couriers[r.CourierID]
		if !ok {
			return fmt.Errorf("routing: unknown courier %q in solution", r.CourierID)
		}
		if c.Capacity > 0 && len(r.Orders) > c.Capacity {
			return fmt.Errorf("routing: courier %s over capacity (%d > %d)", r.CourierID, len(r.Orders), c.Capacity)
		}
		for _, id := range r.Orders {
			if !orders[id] {
				return fmt.Errorf("routing: unknown order %q in solution", id)
			}
			if seen[id] {
				return fmt.Errorf("routing: order %s assigned twice", id)
			}
			seen[id] = true
			for _, banned := range p.Restrictions[id] {
				if banned == r.CourierID {
					return fmt.Errorf("routing: order %s restricted for courier %s", id, r.CourierID)
				}
			}
		}
		total += len(r.Orders)
	}
	if total == 0 {
		return ErrNoSolution
	}
	return nil
}
