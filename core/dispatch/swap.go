package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aquamarket/dispatch/core/geo"
	"github.com/aquamarket/dispatch/core/logger"
	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/store"
)

var errQueueChanged = errors.New("queue changed concurrently")

// SwapOptimizer exchanges single orders between courier queues when that
// shortens their combined routes.
type SwapOptimizer struct {
	store store.Store
	cfg   Config
	log   logger.Logger
	now   func() time.Time
}

// NewSwapOptimizer creates a SwapOptimizer.
func NewSwapOptimizer(st store.Store, cfg Config, log logger.Logger) *SwapOptimizer {
	cfg.SetDefaults()
	return &SwapOptimizer{store: st, cfg: cfg, log: logger.OrNop(log), now: time.Now}
}

// SwapResult reports the swaps committed by Optimize.
type SwapResult struct {
	Swaps    int
	Saved    float64
	Failures []CommitFailure
}

type swapMove struct {
	a, b   string // courier ids
	ai, bi int    // queue indexes
	saved  float64
}

// Optimize searches couriers pairwise for an improving swap, commits the
// first one found and restarts, at most MaxSwaps times.
func (s *SwapOptimizer) Optimize(ctx context.Context, courierIDs []string, ex Exclusions) SwapResult {
	if ex == nil {
		ex = noExclusions{}
	}
	ids := append([]string(nil), courierIDs...)
	sort.Strings(ids)
	var res SwapResult
	for res.Swaps < s.cfg.MaxSwaps {
		if ctx.Err() != nil {
			return res
		}
		couriers := make(map[string]model.Courier, len(ids))
		for _, id := range ids {
			c, err := s.store.GetCourier(ctx, id)
			if err != nil {
				s.log.Warnf("swap: load courier %s: %v", id, err)
				continue
			}
			couriers[id] = c
		}
		mv, ok := s.find(ids, couriers, ex)
		if !ok {
			return res
		}
		if err := s.commit(ctx, couriers, mv); err != nil {
			a, b := couriers[mv.a].Queue[mv.ai].OrderID, couriers[mv.b].Queue[mv.bi].OrderID
			s.log.Warnf("swap %s<->%s failed: %v", a, b, err)
			res.Failures = append(res.Failures, CommitFailure{OrderID: a, CourierID: mv.b, Kind: KindStoreWriteFailure, Reason: err.Error()})
			return res
		}
		res.Swaps++
		res.Saved += mv.saved
		swapsTotal.Inc()
	}
	return res
}

func (s *SwapOptimizer) find(ids []string, couriers map[string]model.Courier, ex Exclusions) (swapMove, bool) {
	now := s.now()
	for i, aid := range ids {
		a, ok := couriers[aid]
		if !ok {
			continue
		}
		for _, bid := range ids[i+1:] {
			b, ok := couriers[bid]
			if !ok {
				continue
			}
			before := s.routeLength(a, a.Queue, now) + s.routeLength(b, b.Queue, now)
			for ai, ea := range a.Queue {
				if !swappable(ea) || ex.Excluded(ea.OrderID, bid) {
					continue
				}
				for bi, eb := range b.Queue {
					if !swappable(eb) || ex.Excluded(eb.OrderID, aid) {
						continue
					}
					qa := replaced(a.Queue, ai, eb)
					qb := replaced(b.Queue, bi, ea)
					if !fitsQueue(a, qa) || !fitsQueue(b, qb) {
						continue
					}
					after := s.routeLength(a, qa, now) + s.routeLength(b, qb, now)
					if saved := before - after; saved > s.cfg.SwapThreshold {
						return swapMove{a: aid, b: bid, ai: ai, bi: bi, saved: saved}, true
					}
				}
			}
		}
	}
	return swapMove{}, false
}

// commit writes both queues and both orders. A failed second queue write
// restores the first.
func (s *SwapOptimizer) commit(ctx context.Context, couriers map[string]model.Courier, mv swapMove) error {
	ea := couriers[mv.a].Queue[mv.ai]
	eb := couriers[mv.b].Queue[mv.bi]
	attempts := s.cfg.WriteAttempts

	exchange := func(out, in model.QueueEntry) func(model.Courier) ([]model.QueueEntry, error) {
		return func(c model.Courier) ([]model.QueueEntry, error) {
			i := c.IndexOf(out.OrderID)
			if i < 0 || !swappable(c.Queue[i]) {
				return nil, errQueueChanged
			}
			in.Decision = model.DecisionPending
			in.AssignedAt = s.now()
			return replaced(c.Queue, i, in), nil
		}
	}
	if _, err := store.MutateQueue(ctx, s.store, mv.a, attempts, exchange(ea, eb)); err != nil {
		return fmt.Errorf("queue %s: %w", mv.a, err)
	}
	if _, err := store.MutateQueue(ctx, s.store, mv.b, attempts, exchange(eb, ea)); err != nil {
		if _, rerr := store.MutateQueue(ctx, s.store, mv.a, attempts, exchange(eb, ea)); rerr != nil {
			s.log.Errorf("swap: restore queue %s: %v", mv.a, rerr)
		}
		return fmt.Errorf("queue %s: %w", mv.b, err)
	}
	now := s.now()
	reassign := func(courierID string) func(model.Order) (model.Assignment, error) {
		return func(o model.Order) (model.Assignment, error) {
			return model.Assignment{CourierID: courierID, Status: o.Status, AssignedAt: now}, nil
		}
	}
	if _, err := store.MutateOrder(ctx, s.store, ea.OrderID, attempts, reassign(mv.b)); err != nil {
		return fmt.Errorf("order %s: %w", ea.OrderID, err)
	}
	if _, err := store.MutateOrder(ctx, s.store, eb.OrderID, attempts, reassign(mv.a)); err != nil {
		return fmt.Errorf("order %s: %w", eb.OrderID, err)
	}
	s.log.Infof("swapped %s (%s -> %s) with %s, saved %.0f m", ea.OrderID, mv.a, mv.b, eb.OrderID, mv.saved)
	return nil
}

func (s *SwapOptimizer) routeLength(c model.Courier, q []model.QueueEntry, now time.Time) float64 {
	var pts []model.Point
	if c.LocationFresh(now, s.cfg.locationMaxAge()) {
		pts = append(pts, c.Location)
	}
	for _, e := range q {
		if e.Open() {
			pts = append(pts, e.Point)
		}
	}
	return geo.PathLength(pts)
}

func swappable(e model.QueueEntry) bool { return e.Open() && !e.Pinned() }

func replaced(q []model.QueueEntry, i int, e model.QueueEntry) []model.QueueEntry {
	out := append([]model.QueueEntry(nil), q...)
	out[i] = e
	return out
}

func fitsQueue(c model.Courier, q []model.QueueEntry) bool {
	stops := 0
	p := model.Products{}
	for _, e := range q {
		if e.Open() {
			stops++
			p = p.Add(e.Products)
		}
	}
	return c.Capacity.Fits(stops, p)
}
