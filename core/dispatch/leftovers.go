package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aquamarket/dispatch/core/geo"
	"github.com/aquamarket/dispatch/core/model"
)

type candidate struct {
	courier model.Courier
	score   float64
}

// reconcile retries every leftover against the freshly read couriers. What
// still fits nowhere is reported in Unassigned.
func (r *run) reconcile(ctx context.Context) error {
	seen := make(map[string]bool)
	for _, lo := range r.leftovers {
		if seen[lo.ID] {
			continue
		}
		seen[lo.ID] = true
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := r.c.store.GetOrder(ctx, lo.ID)
		if err != nil {
			r.unassign(lo.ID, KindStoreReadFailure, fmt.Sprintf("read order: %v", err))
			continue
		}
		if !o.Eligible() {
			continue
		}
		cands, kind, reason := r.candidates(ctx, o)
		if len(cands) == 0 {
			r.unassign(o.ID, kind, reason)
			continue
		}
		placed := false
		var lastErr error
		for _, cd := range cands {
			err := r.commitPair(ctx, o, cd.courier.ID)
			if err == nil {
				r.c.log.Debugf("run %s: leftover %s placed with %s (score %.0f)", r.res.ID, o.ID, cd.courier.ID, cd.score)
				r.res.LeftoversPlaced++
				placed = true
				break
			}
			if errors.Is(err, errOrderTaken) {
				placed = true
				break
			}
			lastErr = err
			r.res.Failures = append(r.res.Failures, CommitFailure{OrderID: o.ID, CourierID: cd.courier.ID, Kind: KindStoreWriteFailure, Reason: err.Error()})
		}
		if !placed {
			r.unassign(o.ID, KindStoreWriteFailure, lastErr.Error())
		}
	}
	return nil
}

// candidates returns the couriers able to take o, best score first. When
// there are none it explains why.
func (r *run) candidates(ctx context.Context, o model.Order) ([]candidate, Kind, string) {
	now := r.c.now()
	force := r.c.cfg.LeftoverPolicy == LeftoverForce
	var out []candidate
	excluded := 0
	for _, known := range r.couriers {
		co, err := r.c.store.GetCourier(ctx, known.ID)
		if err != nil || !co.Available() {
			continue
		}
		if r.ex.Excluded(o.ID, co.ID) {
			excluded++
			continue
		}
		load := co.Load()
		if !force && load+1 > r.alloc.Cap {
			continue
		}
		if !co.Capacity.Fits(load+1, co.OpenProducts().Add(o.Products)) {
			continue
		}
		out = append(out, candidate{courier: co, score: r.leftoverScore(co, o, now)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].courier.ID < out[j].courier.ID
	})
	switch {
	case len(out) > 0:
		return out, KindNone, ""
	case excluded > 0 && excluded == len(r.couriers):
		return nil, KindCourierSilence, "every courier declined or ignored the order"
	default:
		return nil, KindCapacityExhaustion, fmt.Sprintf("no courier with capacity (cap %d)", r.alloc.Cap)
	}
}

// leftoverScore is the average distance from o to the courier's open stops,
// plus a penalty per open entry. Lower is better.
func (r *run) leftoverScore(co model.Courier, o model.Order, now time.Time) float64 {
	open := co.OpenEntries()
	var d float64
	switch {
	case len(open) > 0:
		sum := 0.0
		for _, e := range open {
			sum += geo.Distance(e.Point, o.Point)
		}
		d = sum / float64(len(open))
	case co.LocationFresh(now, r.c.cfg.locationMaxAge()):
		d = geo.Distance(co.Location, o.Point)
	case r.depot.Point.Valid():
		d = geo.Distance(r.depot.Point, o.Point)
	default:
		d = math.MaxFloat64 / 4
	}
	return d + float64(len(open))*r.c.cfg.LeftoverLoadPenalty
}

func (r *run) unassign(orderID string, kind Kind, reason string) {
	r.res.Unassigned = append(r.res.Unassigned, Leftover{OrderID: orderID, Kind: kind, Reason: reason})
}
