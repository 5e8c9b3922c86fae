// Package storetest holds a conformance suite every store.Store adapter runs
// against its own backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/store"
)

// Seeder writes fixtures bypassing version checks.
type Seeder interface {
	SaveOrder(ctx context.Context, o model.Order) error
	SaveCourier(ctx context.Context, c model.Courier) error
	SaveDepot(ctx context.Context, d model.Depot) error
}

// Backend is a fresh, empty store plus its seeder.
type Backend interface {
	store.Store
	Seeder
}

var (
	day     = "2026-10-19"
	created = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	almaty  = model.Point{Lat: 43.2389, Lon: 76.8897}
)

// Run executes the suite. newBackend must return an empty store per call.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("eligible orders", func(t *testing.T) { eligibleOrders(t, newBackend(t)) })
	t.Run("stale orders", func(t *testing.T) { staleOrders(t, newBackend(t)) })
	t.Run("versioned order update", func(t *testing.T) { versionedOrder(t, newBackend(t)) })
	t.Run("courier queue", func(t *testing.T) { courierQueue(t, newBackend(t)) })
	t.Run("depot", func(t *testing.T) { depot(t, newBackend(t)) })
}

func order(id string, mut func(*model.Order)) model.Order {
	o := model.Order{
		ID:          id,
		Point:       almaty,
		Address:     "Abay 10",
		Products:    model.Products{model.SKU19L: 2},
		Status:      model.OrderAwaiting,
		ForDispatch: true,
		Date:        day,
		CreatedAt:   created,
	}
	if mut != nil {
		mut(&o)
	}
	return o
}

func seedOrders(t *testing.T, b Backend, orders ...model.Order) {
	t.Helper()
	for _, o := range orders {
		require.NoError(t, b.SaveOrder(context.Background(), o))
	}
}

func ids(orders []model.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

func eligibleOrders(t *testing.T, b Backend) {
	ctx := context.Background()
	seedOrders(t, b,
		order("o1", nil),
		order("o2", func(o *model.Order) { o.Status = model.OrderDelivered }),
		order("o3", func(o *model.Order) { o.ForDispatch = false }),
		order("o4", func(o *model.Order) { o.Date = "2026-10-20" }),
		order("o5", func(o *model.Order) { o.Date = "" }),
	)

	out, err := b.FindDispatchEligibleOrders(ctx, day, store.DefaultExcludedStatuses)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"o1", "o5"}, ids(out))

	all, err := b.FindDispatchEligibleOrders(ctx, "", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"o1", "o2", "o4", "o5"}, ids(all))
}

func staleOrders(t *testing.T, b Backend) {
	ctx := context.Background()
	seedOrders(t, b,
		order("old", nil),
		order("new", func(o *model.Order) { o.CreatedAt = created.Add(time.Hour) }),
		order("taken", func(o *model.Order) { o.CourierID = "c1"; o.Status = model.OrderAssigned }),
		order("nowhere", func(o *model.Order) { o.Point = model.Point{} }),
	)
	out, err := b.FindStaleOrders(ctx, created.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids(out))
}

func versionedOrder(t *testing.T, b Backend) {
	ctx := context.Background()
	seedOrders(t, b, order("o1", nil))
	o, err := b.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.Version)
	assert.Equal(t, 2, o.Products[model.SKU19L])

	at := created.Add(time.Minute)
	up, err := b.UpdateOrderAssignment(ctx, "o1", o.Version, model.Assignment{CourierID: "c1", Status: model.OrderAssigned, AssignedAt: at})
	require.NoError(t, err)
	assert.Equal(t, int64(2), up.Version)
	assert.Equal(t, "c1", up.CourierID)
	assert.Equal(t, model.OrderAssigned, up.Status)
	assert.True(t, at.Equal(up.AssignedAt))

	_, err = b.UpdateOrderAssignment(ctx, "o1", o.Version, model.Assignment{Status: model.OrderAwaiting})
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	cleared, err := b.UpdateOrderAssignment(ctx, "o1", up.Version, model.Assignment{Status: model.OrderAwaiting})
	require.NoError(t, err)
	assert.Empty(t, cleared.CourierID)
	assert.True(t, cleared.AssignedAt.IsZero())

	_, err = b.UpdateOrderAssignment(ctx, "missing", 1, model.Assignment{})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = b.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func courierQueue(t *testing.T, b Backend) {
	ctx := context.Background()
	require.NoError(t, b.SaveCourier(ctx, model.Courier{ID: "c2", Active: true, Online: true, Location: almaty}))
	require.NoError(t, b.SaveCourier(ctx, model.Courier{ID: "c1", Active: true, Capacity: model.Capacity{MaxStops: 4}}))
	require.NoError(t, b.SaveCourier(ctx, model.Courier{ID: "c3"}))

	active, err := b.FindActiveCouriers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "c1", active[0].ID)
	assert.Equal(t, 4, active[0].Capacity.MaxStops)

	depot := model.Depot{ID: "d1", Point: almaty, Address: "Depot"}
	e := model.NewQueueEntry(order("o1", nil), depot, created)
	c, err := b.PushToCourierQueue(ctx, "c1", 1, e)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Version)
	require.Len(t, c.Queue, 1)
	assert.Equal(t, "o1", c.Queue[0].OrderID)
	assert.Equal(t, model.DecisionPending, c.Queue[0].Decision)
	assert.Equal(t, 2, c.Queue[0].Products[model.SKU19L])

	_, err = b.PushToCourierQueue(ctx, "c1", 1, e)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	e2 := model.NewQueueEntry(order("o2", nil), depot, created)
	c, err = b.PushToCourierQueue(ctx, "c1", 2, e2)
	require.NoError(t, err)
	require.Len(t, c.Queue, 2)
	assert.Equal(t, "o2", c.Queue[1].OrderID)

	c, err = b.ReplaceCourierQueue(ctx, "c1", 3, []model.QueueEntry{c.Queue[1], c.Queue[0]})
	require.NoError(t, err)
	assert.Equal(t, []string{"o2", "o1"}, []string{c.Queue[0].OrderID, c.Queue[1].OrderID})

	c, err = b.ReplaceCourierQueue(ctx, "c1", 4, nil)
	require.NoError(t, err)
	assert.Empty(t, c.Queue)

	c, err = b.SetCourierOnline(ctx, "c1", 5, true)
	require.NoError(t, err)
	assert.True(t, c.Online)
	assert.Equal(t, int64(6), c.Version)

	got, err := b.GetCourier(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c.Version, got.Version)

	_, err = b.SetCourierOnline(ctx, "missing", 1, true)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = b.GetCourier(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func depot(t *testing.T, b Backend) {
	ctx := context.Background()
	_, err := b.FindDepot(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, b.SaveDepot(ctx, model.Depot{ID: "d1", Point: almaty, Address: "Depot", Stock: map[string]int{model.SKU19L: 40}}))
	d, err := b.FindDepot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d1", d.ID)
	assert.Equal(t, almaty, d.Point)
	assert.Equal(t, 40, d.Stock[model.SKU19L])
}
