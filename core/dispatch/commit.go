package dispatch

import (
	"context"
	"errors"
	"sort"

	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/store"
)

// errOrderTaken aborts a write when the order is no longer distributable.
var errOrderTaken = errors.New("order no longer eligible")

func (r *run) commit(ctx context.Context) error {
	r.used = make(map[string]bool)
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, courierID := range ids {
		for _, o := range r.routes[courierID] {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := r.commitPair(ctx, o, courierID)
			switch {
			case err == nil:
			case errors.Is(err, errOrderTaken):
				r.c.log.Debugf("run %s: order %s changed during the run, skipped", r.res.ID, o.ID)
			default:
				r.c.log.Warnf("run %s: commit %s -> %s: %v", r.res.ID, o.ID, courierID, err)
				r.res.Failures = append(r.res.Failures, CommitFailure{OrderID: o.ID, CourierID: courierID, Kind: KindStoreWriteFailure, Reason: err.Error()})
				r.leftovers = append(r.leftovers, o)
			}
		}
	}
	return nil
}

// commitPair binds o to courierID: order first, then the queue entry. A
// failed append reverts the order so no half-written pairing remains.
func (r *run) commitPair(ctx context.Context, o model.Order, courierID string) error {
	st := r.c.store
	attempts := r.c.cfg.WriteAttempts
	now := r.c.now()
	updated, err := store.MutateOrder(ctx, st, o.ID, attempts, func(cur model.Order) (model.Assignment, error) {
		if !cur.Eligible() {
			return model.Assignment{}, errOrderTaken
		}
		return model.Assignment{CourierID: courierID, Status: model.OrderAssigned, AssignedAt: now}, nil
	})
	if err != nil {
		return err
	}
	if _, err := store.AppendToQueue(ctx, st, courierID, attempts, model.NewQueueEntry(updated, r.depot, now)); err != nil {
		rctx := context.WithoutCancel(ctx)
		_, rerr := store.MutateOrder(rctx, st, o.ID, attempts, func(cur model.Order) (model.Assignment, error) {
			if cur.CourierID != courierID {
				return model.Assignment{}, errOrderTaken
			}
			return model.Assignment{Status: model.OrderAwaiting}, nil
		})
		if rerr != nil {
			r.c.log.Errorf("run %s: revert order %s: %v", r.res.ID, o.ID, rerr)
		}
		return err
	}
	r.res.Assignments[o.ID] = courierID
	r.res.Routes[courierID] = append(r.res.Routes[courierID], o.ID)
	r.used[courierID] = true
	return nil
}
