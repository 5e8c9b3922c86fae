package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/routing"
	"github.com/aquamarket/dispatch/core/store"
)

var errUnchanged = errors.New("queue unchanged")

// OptimizeResult reports an optimisation pass.
type OptimizeResult struct {
	Couriers    int  `json:"couriers"`
	Resequenced int  `json:"resequenced"`
	Swaps       int  `json:"swaps"`
	Skipped     bool `json:"skipped,omitempty"`
}

// Optimize re-sequences the movable entries of every available courier and
// then runs the swap pass. It shares the single-flight guard with Run.
func (c *Coordinator) Optimize(ctx context.Context) (OptimizeResult, error) {
	release, ok := c.acquire(ctx)
	if !ok {
		return OptimizeResult{Skipped: true}, nil
	}
	defer release()

	cs, err := c.store.FindActiveCouriers(ctx)
	if err != nil {
		return OptimizeResult{}, fmt.Errorf("load couriers: %w", err)
	}
	var res OptimizeResult
	var ids []string
	for _, co := range cs {
		if !co.Available() {
			continue
		}
		ids = append(ids, co.ID)
	}
	sort.Strings(ids)
	res.Couriers = len(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		changed, err := c.resequence(ctx, id)
		if err != nil {
			c.log.Warnf("optimize: resequence %s: %v", id, err)
			continue
		}
		if changed {
			res.Resequenced++
		}
	}

	c.mu.Lock()
	ex := c.ex
	c.mu.Unlock()
	sr := c.swap.Optimize(ctx, ids, ex)
	res.Swaps = sr.Swaps
	c.log.Infof("optimize: %d couriers, %d resequenced, %d swaps", res.Couriers, res.Resequenced, res.Swaps)
	return res, nil
}

// resequence reorders the open entries that are neither in progress nor
// accepted. Every other entry keeps its slot.
func (c *Coordinator) resequence(ctx context.Context, courierID string) (bool, error) {
	now := c.now()
	_, err := store.MutateQueue(ctx, c.store, courierID, c.cfg.WriteAttempts, func(co model.Courier) ([]model.QueueEntry, error) {
		var slots []int
		var stops []routing.Stop
		byID := map[string]model.QueueEntry{}
		var start *model.Point
		for i, e := range co.Queue {
			switch {
			case swappable(e):
				slots = append(slots, i)
				stops = append(stops, routing.Stop{ID: e.OrderID, Point: e.Point})
				byID[e.OrderID] = e
			case e.Open():
				p := e.Point
				start = &p
			}
		}
		if len(stops) < 2 {
			return nil, errUnchanged
		}
		if start == nil && co.LocationFresh(now, c.cfg.locationMaxAge()) {
			p := co.Location
			start = &p
		}
		seq := c.seq.Sequence(ctx, routing.Request{Start: start, Stops: stops})
		if len(seq.Stops) != len(slots) {
			return nil, errUnchanged
		}
		out := append([]model.QueueEntry(nil), co.Queue...)
		changed := false
		for k, st := range seq.Stops {
			if out[slots[k]].OrderID != st.ID {
				changed = true
			}
			out[slots[k]] = byID[st.ID]
		}
		if !changed {
			return nil, errUnchanged
		}
		return out, nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	return err == nil, err
}
