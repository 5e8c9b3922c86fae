package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/core/model"
)

func seed() *MemoryStore {
	s := NewMemoryStore()
	s.PutOrder(model.Order{ID: "o1", ForDispatch: true, Status: model.OrderAwaiting, Point: model.Point{Lat: 43.2, Lon: 76.9}, Date: "2026-10-19"})
	s.PutOrder(model.Order{ID: "o2", ForDispatch: true, Status: model.OrderDelivered, Point: model.Point{Lat: 43.2, Lon: 76.9}, Date: "2026-10-19"})
	s.PutOrder(model.Order{ID: "o3", ForDispatch: false, Status: model.OrderAwaiting, Point: model.Point{Lat: 43.2, Lon: 76.9}})
	s.PutOrder(model.Order{ID: "o4", ForDispatch: true, Status: model.OrderAwaiting, Point: model.Point{Lat: 43.2, Lon: 76.9}, Date: "2026-10-20"})
	s.PutCourier(model.Courier{ID: "c1", Active: true, Online: true})
	s.PutCourier(model.Courier{ID: "c2", Active: false})
	return s
}

func TestFindDispatchEligibleOrders(t *testing.T) {
	s := seed()
	out, err := s.FindDispatchEligibleOrders(context.Background(), "2026-10-19", DefaultExcludedStatuses)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "o1", out[0].ID)

	all, err := s.FindDispatchEligibleOrders(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestVersionedOrderUpdate(t *testing.T) {
	s := seed()
	ctx := context.Background()
	o, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)

	updated, err := s.UpdateOrderAssignment(ctx, "o1", o.Version, model.Assignment{CourierID: "c1", Status: model.OrderAssigned})
	require.NoError(t, err)
	assert.Equal(t, o.Version+1, updated.Version)

	_, err = s.UpdateOrderAssignment(ctx, "o1", o.Version, model.Assignment{})
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = s.UpdateOrderAssignment(ctx, "missing", 1, model.Assignment{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCourierQueueMutations(t *testing.T) {
	s := seed()
	ctx := context.Background()
	c, err := s.PushToCourierQueue(ctx, "c1", 1, model.QueueEntry{OrderID: "o1"})
	require.NoError(t, err)
	assert.Len(t, c.Queue, 1)

	_, err = s.ReplaceCourierQueue(ctx, "c1", 1, nil)
	assert.ErrorIs(t, err, ErrVersionConflict)

	c, err = s.ReplaceCourierQueue(ctx, "c1", c.Version, nil)
	require.NoError(t, err)
	assert.Empty(t, c.Queue)

	active, err := s.FindActiveCouriers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c1", active[0].ID)
}

func TestSetOrderStatusMirrorsQueue(t *testing.T) {
	s := seed()
	ctx := context.Background()
	_, err := s.UpdateOrderAssignment(ctx, "o1", 1, model.Assignment{CourierID: "c1", Status: model.OrderAssigned})
	require.NoError(t, err)
	_, err = s.PushToCourierQueue(ctx, "c1", 1, model.QueueEntry{OrderID: "o1", Status: model.OrderAssigned})
	require.NoError(t, err)

	require.NoError(t, s.SetOrderStatus(ctx, "o1", model.OrderOnTheWay))
	c, err := s.GetCourier(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderOnTheWay, c.Queue[0].Status)
	assert.Equal(t, model.DecisionAccepted, c.Queue[0].Decision)
}

func TestFindStaleOrders(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.PutOrder(model.Order{ID: "old", ForDispatch: true, Status: model.OrderAwaiting, Point: model.Point{Lat: 1, Lon: 1}, CreatedAt: now.Add(-time.Hour)})
	s.PutOrder(model.Order{ID: "new", ForDispatch: true, Status: model.OrderAwaiting, Point: model.Point{Lat: 1, Lon: 1}, CreatedAt: now})
	out, err := s.FindStaleOrders(context.Background(), now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "old", out[0].ID)
}

func TestMutateQueueConcurrentAppends(t *testing.T) {
	s := seed()
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := MutateQueue(ctx, s, "c1", 50, func(c model.Courier) ([]model.QueueEntry, error) {
				return append(c.Queue, model.QueueEntry{OrderID: string(rune('a' + i))}), nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	c, err := s.GetCourier(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, c.Queue, 10)
}

// conflictStore forces the first n queue writes to conflict.
type conflictStore struct {
	*MemoryStore
	n int
}

func (c *conflictStore) ReplaceCourierQueue(ctx context.Context, id string, v int64, q []model.QueueEntry) (model.Courier, error) {
	if c.n > 0 {
		c.n--
		return model.Courier{}, ErrVersionConflict
	}
	return c.MemoryStore.ReplaceCourierQueue(ctx, id, v, q)
}

func TestMutateQueueGivesUp(t *testing.T) {
	cs := &conflictStore{MemoryStore: seed(), n: 5}
	_, err := MutateQueue(context.Background(), cs, "c1", 3, func(c model.Courier) ([]model.QueueEntry, error) {
		return c.Queue, nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	cs.n = 1
	_, err = MutateQueue(context.Background(), cs, "c1", 3, func(c model.Courier) ([]model.QueueEntry, error) {
		return c.Queue, nil
	})
	assert.NoError(t, err)

	abort := errors.New("abort")
	_, err = MutateQueue(context.Background(), cs, "c1", 3, func(model.Courier) ([]model.QueueEntry, error) {
		return nil, abort
	})
	assert.ErrorIs(t, err, abort)
}

func TestFindDepot(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.FindDepot(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	s.PutDepot(model.Depot{ID: "d1"})
	d, err := s.FindDepot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "d1", d.ID)
}
