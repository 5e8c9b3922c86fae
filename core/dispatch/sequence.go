package dispatch

import (
	"context"
	"fmt"

	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/routing"
)

// sequence orders each group's orders into a route. A configured solver is
// asked once for all groups; on failure every group is sequenced with
// nearest neighbour.
func (r *run) sequence(ctx context.Context) error {
	r.routes = make(map[string][]model.Order, len(r.alloc.Groups))
	byID := make(map[string]model.Order)
	for _, g := range r.alloc.Groups {
		for _, o := range g.Orders() {
			byID[o.ID] = o
		}
	}

	strategy := r.c.seq.Config().Strategy
	var solved map[string][]string
	if r.solver != nil {
		var err error
		solved, err = r.solve(ctx, byID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.c.log.Warnf("run %s: solver unavailable, falling back to nearest neighbour: %v", r.res.ID, err)
			solverFallbacks.Inc()
			r.res.SolverFallback = true
			strategy = routing.StrategyNearest
		} else {
			r.res.SolverUsed = true
			strategy = routing.StrategyNearest
		}
	}

	placed := make(map[string]bool)
	for courierID, ids := range solved {
		for _, id := range ids {
			r.routes[courierID] = append(r.routes[courierID], byID[id])
			placed[id] = true
		}
	}

	for _, g := range r.alloc.Groups {
		var rest []routing.Stop
		for _, o := range g.Orders() {
			if !placed[o.ID] {
				rest = append(rest, routing.Stop{ID: o.ID, Point: o.Point})
			}
		}
		route := r.routes[g.Courier.ID]
		if len(rest) > 0 {
			start := anchor(g.Courier)
			if len(route) > 0 {
				p := route[len(route)-1].Point
				start = &p
			}
			seq := r.c.seq.SequenceWith(ctx, strategy, routing.Request{Start: start, Stops: rest})
			for _, st := range seq.Stops {
				route = append(route, byID[st.ID])
			}
		}
		r.routes[g.Courier.ID] = r.trim(g.Courier, route)
	}
	return nil
}

// trim keeps the longest route prefix the courier can take and moves the
// rest to the leftovers.
func (r *run) trim(co model.Courier, route []model.Order) []model.Order {
	load := co.Load()
	products := co.OpenProducts()
	for i, o := range route {
		next := products.Add(o.Products)
		if load+1 > r.alloc.Cap || !co.Capacity.Fits(load+1, next) || r.ex.Excluded(o.ID, co.ID) {
			r.leftovers = append(r.leftovers, route[i:]...)
			return route[:i]
		}
		load++
		products = next
	}
	return route
}

func (r *run) solve(ctx context.Context, byID map[string]model.Order) (map[string][]string, error) {
	now := r.c.now()
	p := routing.Problem{
		Depot:        routing.ProblemDepot{Lat: r.depot.Point.Lat, Lon: r.depot.Point.Lon},
		Restrictions: r.ex.Restrictions(),
	}
	for _, g := range r.alloc.Groups {
		co := g.Courier
		pc := routing.ProblemCourier{ID: co.ID, Lat: r.depot.Point.Lat, Lon: r.depot.Point.Lon, Capacity: r.alloc.Cap - co.Load()}
		if co.LocationFresh(now, r.c.cfg.locationMaxAge()) {
			pc.Lat, pc.Lon = co.Location.Lat, co.Location.Lon
		}
		for _, e := range co.OpenEntries() {
			pc.ActiveOrders = append(pc.ActiveOrders, e.OrderID)
		}
		p.Couriers = append(p.Couriers, pc)
		for _, o := range g.Orders() {
			p.Orders = append(p.Orders, routing.ProblemOrder{ID: o.ID, Lat: o.Point.Lat, Lon: o.Point.Lon, Demand: o.Products.Units()})
		}
	}

	sctx, cancel := context.WithTimeout(ctx, r.c.cfg.solverTimeout())
	defer cancel()
	routes, err := r.solver.Solve(sctx, p)
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	if err := routing.ValidateSolution(p, routes); err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(routes))
	for _, sr := range routes {
		if len(sr.Orders) > 0 {
			out[sr.CourierID] = append(out[sr.CourierID], sr.Orders...)
		}
	}
	return out, nil
}

// anchor is the fixed start of a courier's new stops: its last open queue
// entry, if any.
func anchor(co model.Courier) *model.Point {
	open := co.OpenEntries()
	if len(open) == 0 {
		return nil
	}
	p := open[len(open)-1].Point
	return &p
}
