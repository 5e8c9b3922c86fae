package events

import "time"

// TriggerKind names the cause of a distribution run.
type TriggerKind string

const (
	TriggerTick           TriggerKind = "tick"
	TriggerStaleOrders    TriggerKind = "stale_orders"
	TriggerManual         TriggerKind = "manual"
	TriggerRetry          TriggerKind = "retry"
	TriggerOrderCreated   TriggerKind = "order_created"
	TriggerCourierOnline  TriggerKind = "courier_online"
	TriggerOrderCompleted TriggerKind = "order_completed"
	TriggerOrderRejected  TriggerKind = "order_rejected"
)

// TriggerEvent is published by event sources (MQTT listener, API) and
// consumed by the scheduler.
type TriggerEvent struct {
	Kind      TriggerKind `json:"kind"`
	OrderID   string      `json:"order_id,omitempty"`
	CourierID string      `json:"courier_id,omitempty"`
	At        time.Time   `json:"at"`
}

// OrderStatusEvent reports a status change made outside the engine, for
// example a courier starting an order from the app.
type OrderStatusEvent struct {
	OrderID   string `json:"order_id"`
	CourierID string `json:"courier_id,omitempty"`
	Status    string `json:"status"`
}
