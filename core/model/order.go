package model

import "time"

// OrderStatus is the delivery lifecycle state of an order.
type OrderStatus string

const (
	OrderAwaiting  OrderStatus = "awaiting"
	OrderAssigned  OrderStatus = "assigned"
	OrderOnTheWay  OrderStatus = "onTheWay"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// Closed reports whether the status ends the order lifecycle.
func (s OrderStatus) Closed() bool { return s == OrderDelivered || s == OrderCancelled }

// Known product SKUs.
const (
	SKU19L  = "b19"
	SKU12L5 = "b12"
)

// Products holds ordered quantities keyed by SKU.
type Products map[string]int

// Units returns the total number of items.
func (p Products) Units() int {
	n := 0
	for _, q := range p {
		n += q
	}
	return n
}

// Add returns the sum of p and o without modifying either.
func (p Products) Add(o Products) Products {
	out := make(Products, len(p)+len(o))
	for k, v := range p {
		out[k] += v
	}
	for k, v := range o {
		out[k] += v
	}
	return out
}

// Order is the subset of a delivery order the dispatch engine reads and writes.
type Order struct {
	ID          string      `json:"id" bson:"_id"`
	Point       Point       `json:"point" bson:"point"`
	Address     string      `json:"address" bson:"address"`
	Products    Products    `json:"products" bson:"products"`
	Status      OrderStatus `json:"status" bson:"status"`
	CourierID   string      `json:"courier_id,omitempty" bson:"courierId,omitempty"`
	AssignedAt  time.Time   `json:"assigned_at,omitempty" bson:"assignedAt,omitempty"`
	ForDispatch bool        `json:"for_dispatch" bson:"forDispatch"`
	Date        string      `json:"date" bson:"date"`
	CreatedAt   time.Time   `json:"created_at" bson:"createdAt"`
	Income      float64     `json:"income,omitempty" bson:"income,omitempty"`
	Version     int64       `json:"version" bson:"version"`
}

// Locked reports whether the courier is already executing the order. Locked
// orders are never reassigned or resequenced.
func (o Order) Locked() bool { return o.Status == OrderOnTheWay }

// Eligible reports whether the engine may distribute the order.
func (o Order) Eligible() bool {
	if !o.ForDispatch || o.CourierID != "" || !o.Point.Valid() {
		return false
	}
	switch o.Status {
	case OrderOnTheWay, OrderDelivered, OrderCancelled:
		return false
	}
	return true
}

// Assignment is the patch applied to an order when it is bound to or released
// from a courier. An empty CourierID clears the assignment.
type Assignment struct {
	CourierID  string
	Status     OrderStatus
	AssignedAt time.Time
}
