package dispatch

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/routing"
	"github.com/aquamarket/dispatch/core/store"
	"github.com/aquamarket/dispatch/core/zones"
)

var (
	origin   = model.Point{Lat: 43.2, Lon: 76.9}
	testNow  = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	depotAt  = model.Depot{ID: "d1", Point: origin, Address: "Aquamarket, Abay 1"}
	testTick = "tick"
)

// at returns the point x meters east and y meters north of origin.
func at(x, y float64) model.Point {
	return model.Point{
		Lat: origin.Lat + y/111320,
		Lon: origin.Lon + x/(111320*math.Cos(origin.Lat*math.Pi/180)),
	}
}

func pendingOrder(id string, p model.Point) model.Order {
	return model.Order{
		ID:          id,
		Point:       p,
		Address:     "addr " + id,
		Products:    model.Products{model.SKU19L: 1},
		Status:      model.OrderAwaiting,
		ForDispatch: true,
		CreatedAt:   testNow.Add(-time.Hour),
	}
}

// cluster returns n orders spread a few dozen meters around (x, y).
func cluster(prefix string, x, y float64, n int) []model.Order {
	out := make([]model.Order, n)
	for i := range out {
		out[i] = pendingOrder(fmt.Sprintf("%s%d", prefix, i+1), at(x+float64(i*40), y+float64(i%2*30)))
	}
	return out
}

func courierAt(id string, p model.Point) model.Courier {
	return model.Courier{ID: id, Location: p, Online: true, Active: true}
}

func zoneOf(id string, orders ...model.Order) model.Zone {
	pts := make([]model.Point, len(orders))
	for i, o := range orders {
		pts[i] = o.Point
	}
	return model.Zone{ID: id, Center: pts[0], Orders: orders, Priority: model.PriorityHigh}
}

func queued(o model.Order, courierID string) model.QueueEntry {
	o.CourierID = courierID
	return model.NewQueueEntry(o, depotAt, testNow)
}

// banList excludes order -> courier pairs.
type banList map[string]string

func (b banList) Excluded(orderID, courierID string) bool { return b[orderID] == courierID }

func (b banList) Restrictions() map[string][]string {
	out := map[string][]string{}
	for o, c := range b {
		out[o] = []string{c}
	}
	return out
}

func newTestCoordinator(t *testing.T, st store.Store, cfg Config) *Coordinator {
	t.Helper()
	seq := routing.NewSequencer(routing.Config{Strategy: routing.StrategyNearest, Seed: 1}, nil)
	c, err := NewCoordinator(st, zones.NewBuilder(zones.Config{}), seq, cfg, nil)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	c.now = func() time.Time { return testNow }
	c.swap.now = c.now
	return c
}

func putAll(st *store.MemoryStore, orders []model.Order) {
	for _, o := range orders {
		st.PutOrder(o)
	}
}

func mustCourier(t *testing.T, st store.Store, id string) model.Courier {
	t.Helper()
	c, err := st.GetCourier(context.Background(), id)
	if err != nil {
		t.Fatalf("get courier %s: %v", id, err)
	}
	return c
}

func mustOrder(t *testing.T, st store.Store, id string) model.Order {
	t.Helper()
	o, err := st.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return o
}
