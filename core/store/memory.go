package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aquamarket/dispatch/core/model"
)

// MemoryStore is an in-process Store used for development, dry runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]model.Order
	couriers map[string]model.Courier
	depots   []model.Depot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   map[string]model.Order{},
		couriers: map[string]model.Courier{},
	}
}

// PutOrder inserts or replaces an order. A zero version is set to 1.
func (s *MemoryStore) PutOrder(o model.Order) {
	if o.Version == 0 {
		o.Version = 1
	}
	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()
}

// PutCourier inserts or replaces a courier. A zero version is set to 1.
func (s *MemoryStore) PutCourier(c model.Courier) {
	if c.Version == 0 {
		c.Version = 1
	}
	s.mu.Lock()
	s.couriers[c.ID] = c.Clone()
	s.mu.Unlock()
}

// PutDepot adds a depot. The first depot is returned by FindDepot.
func (s *MemoryStore) PutDepot(d model.Depot) {
	s.mu.Lock()
	s.depots = append(s.depots, d)
	s.mu.Unlock()
}

// SetOrderStatus changes an order's status and mirrors it into the assigned
// courier's queue entry, as the courier application does.
func (s *MemoryStore) SetOrderStatus(_ context.Context, id string, status model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.Version++
	s.orders[id] = o
	if o.CourierID == "" {
		return nil
	}
	c, ok := s.couriers[o.CourierID]
	if !ok {
		return nil
	}
	c = c.Clone()
	if i := c.IndexOf(id); i >= 0 {
		c.Queue[i].Status = status
		if status == model.OrderOnTheWay {
			c.Queue[i].Decision = model.DecisionAccepted
		}
		c.Version++
		s.couriers[c.ID] = c
	}
	return nil
}

// Orders returns every stored order sorted by id.
func (s *MemoryStore) Orders() []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) FindDispatchEligibleOrders(_ context.Context, date string, exclude []model.OrderStatus) ([]model.Order, error) {
	skip := make(map[model.OrderStatus]bool, len(exclude))
	for _, st := range exclude {
		skip[st] = true
	}
	var out []model.Order
	for _, o := range s.Orders() {
		if !o.ForDispatch || skip[o.Status] {
			continue
		}
		if date != "" && o.Date != "" && o.Date != date {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *MemoryStore) FindStaleOrders(_ context.Context, createdBefore time.Time) ([]model.Order, error) {
	var out []model.Order
	for _, o := range s.Orders() {
		if o.Eligible() && o.CreatedAt.Before(createdBefore) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) UpdateOrderAssignment(_ context.Context, id string, expectedVersion int64, a model.Assignment) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	if o.Version != expectedVersion {
		return model.Order{}, ErrVersionConflict
	}
	o.CourierID = a.CourierID
	o.Status = a.Status
	o.AssignedAt = a.AssignedAt
	o.Version++
	s.orders[id] = o
	return o, nil
}

func (s *MemoryStore) FindActiveCouriers(_ context.Context) ([]model.Courier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Courier, 0, len(s.couriers))
	for _, c := range s.couriers {
		if c.Active {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetCourier(_ context.Context, id string) (model.Courier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.couriers[id]
	if !ok {
		return model.Courier{}, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) PushToCourierQueue(_ context.Context, id string, expectedVersion int64, e model.QueueEntry) (model.Courier, error) {
	return s.mutateCourier(id, expectedVersion, func(c *model.Courier) {
		c.Queue = append(c.Queue, e)
	})
}

func (s *MemoryStore) ReplaceCourierQueue(_ context.Context, id string, expectedVersion int64, q []model.QueueEntry) (model.Courier, error) {
	return s.mutateCourier(id, expectedVersion, func(c *model.Courier) {
		c.Queue = append([]model.QueueEntry(nil), q...)
	})
}

func (s *MemoryStore) SetCourierOnline(_ context.Context, id string, expectedVersion int64, online bool) (model.Courier, error) {
	return s.mutateCourier(id, expectedVersion, func(c *model.Courier) {
		c.Online = online
	})
}

func (s *MemoryStore) mutateCourier(id string, expectedVersion int64, fn func(*model.Courier)) (model.Courier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.couriers[id]
	if !ok {
		return model.Courier{}, ErrNotFound
	}
	if c.Version != expectedVersion {
		return model.Courier{}, ErrVersionConflict
	}
	c = c.Clone()
	fn(&c)
	c.Version++
	s.couriers[id] = c
	return c.Clone(), nil
}

func (s *MemoryStore) FindDepot(_ context.Context) (model.Depot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.depots) == 0 {
		return model.Depot{}, ErrNotFound
	}
	return s.depots[0], nil
}
