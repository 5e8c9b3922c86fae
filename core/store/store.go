// Package store defines the narrow persistence contract of the dispatch
// engine. Every mutation is versioned: callers pass the version they read and
// the write fails with ErrVersionConflict when the document moved on.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aquamarket/dispatch/core/model"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict is returned when the expected version does not match.
	ErrVersionConflict = errors.New("store: version conflict")
)

// OrderStore reads and updates orders.
type OrderStore interface {
	// FindDispatchEligibleOrders returns dispatch orders for date whose status
	// is not in exclude. An empty date matches every day.
	FindDispatchEligibleOrders(ctx context.Context, date string, exclude []model.OrderStatus) ([]model.Order, error)
	// FindStaleOrders returns unassigned dispatch orders created before t.
	FindStaleOrders(ctx context.Context, createdBefore time.Time) ([]model.Order, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	UpdateOrderAssignment(ctx context.Context, id string, expectedVersion int64, a model.Assignment) (model.Order, error)
}

// CourierStore reads couriers and mutates their queues.
type CourierStore interface {
	FindActiveCouriers(ctx context.Context) ([]model.Courier, error)
	GetCourier(ctx context.Context, id string) (model.Courier, error)
	PushToCourierQueue(ctx context.Context, id string, expectedVersion int64, e model.QueueEntry) (model.Courier, error)
	ReplaceCourierQueue(ctx context.Context, id string, expectedVersion int64, q []model.QueueEntry) (model.Courier, error)
	SetCourierOnline(ctx context.Context, id string, expectedVersion int64, online bool) (model.Courier, error)
}

// DepotStore reads pickup points.
type DepotStore interface {
	FindDepot(ctx context.Context) (model.Depot, error)
}

// Store combines the engine's persistence needs.
type Store interface {
	OrderStore
	CourierStore
	DepotStore
}

// DefaultExcludedStatuses are skipped when loading orders for a run.
var DefaultExcludedStatuses = []model.OrderStatus{model.OrderOnTheWay, model.OrderDelivered, model.OrderCancelled}
