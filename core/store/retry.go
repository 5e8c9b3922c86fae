package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aquamarket/dispatch/core/model"
)

// DefaultAttempts bounds read-modify-write retries on version conflicts.
const DefaultAttempts = 3

// MutateQueue reads the courier, lets fn compute a new queue and writes it
// with the version that was read, retrying on conflicts. fn may return an
// error to abort without writing.
func MutateQueue(ctx context.Context, s CourierStore, courierID string, attempts int, fn func(c model.Courier) ([]model.QueueEntry, error)) (model.Courier, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return model.Courier{}, err
		}
		c, err := s.GetCourier(ctx, courierID)
		if err != nil {
			return model.Courier{}, err
		}
		q, err := fn(c)
		if err != nil {
			return c, err
		}
		out, err := s.ReplaceCourierQueue(ctx, courierID, c.Version, q)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return c, err
		}
		lastErr = err
	}
	return model.Courier{}, fmt.Errorf("courier %s: %w", courierID, lastErr)
}

// AppendToQueue pushes e onto the courier's queue, retrying on conflicts.
func AppendToQueue(ctx context.Context, s CourierStore, courierID string, attempts int, e model.QueueEntry) (model.Courier, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		c, err := s.GetCourier(ctx, courierID)
		if err != nil {
			return model.Courier{}, err
		}
		out, err := s.PushToCourierQueue(ctx, courierID, c.Version, e)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return c, err
		}
		lastErr = err
	}
	return model.Courier{}, fmt.Errorf("courier %s: %w", courierID, lastErr)
}

// MutateOrder reads the order, lets fn compute the assignment and writes it
// with the version that was read, retrying on conflicts.
func MutateOrder(ctx context.Context, s OrderStore, orderID string, attempts int, fn func(o model.Order) (model.Assignment, error)) (model.Order, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		o, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return model.Order{}, err
		}
		a, err := fn(o)
		if err != nil {
			return o, err
		}
		out, err := s.UpdateOrderAssignment(ctx, orderID, o.Version, a)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return o, err
		}
		lastErr = err
	}
	return model.Order{}, fmt.Errorf("order %s: %w", orderID, lastErr)
}
