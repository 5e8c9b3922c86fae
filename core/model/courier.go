package model

import "time"

// Step is the courier's current leg for a queue entry.
type Step string

const (
	StepToDepot  Step = "toAquaMarket"
	StepToClient Step = "toClient"
)

// Decision is the courier's answer to an offer.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// QueueEntry is one order in a courier's visiting sequence.
type QueueEntry struct {
	OrderID      string      `json:"order_id" bson:"orderId"`
	Point        Point       `json:"point" bson:"point"`
	Address      string      `json:"address" bson:"address"`
	Products     Products    `json:"products" bson:"products"`
	Status       OrderStatus `json:"status" bson:"status"`
	Step         Step        `json:"step" bson:"step"`
	Decision     Decision    `json:"decision" bson:"decision"`
	DepotPoint   Point       `json:"depot_point" bson:"depotPoint"`
	DepotAddress string      `json:"depot_address" bson:"depotAddress"`
	Income       float64     `json:"income,omitempty" bson:"income,omitempty"`
	AssignedAt   time.Time   `json:"assigned_at" bson:"assignedAt"`
}

// Pinned reports whether the entry must keep its position in the queue.
func (e QueueEntry) Pinned() bool {
	return e.Status == OrderOnTheWay || e.Decision == DecisionAccepted
}

// Open reports whether the entry still needs to be visited.
func (e QueueEntry) Open() bool { return !e.Status.Closed() }

// NewQueueEntry builds the entry appended to a courier queue for an order.
func NewQueueEntry(o Order, d Depot, at time.Time) QueueEntry {
	return QueueEntry{
		OrderID:      o.ID,
		Point:        o.Point,
		Address:      o.Address,
		Products:     o.Products,
		Status:       OrderAssigned,
		Step:         StepToDepot,
		Decision:     DecisionPending,
		DepotPoint:   d.Point,
		DepotAddress: d.Address,
		Income:       o.Income,
		AssignedAt:   at,
	}
}

// Capacity limits what a courier can carry in one round. Zero values mean
// unlimited.
type Capacity struct {
	MaxStops int            `json:"max_stops" bson:"maxStops"`
	MaxUnits map[string]int `json:"max_units" bson:"maxUnits"`
}

// Fits reports whether stops and products stay within the limits.
func (c Capacity) Fits(stops int, p Products) bool {
	if c.MaxStops > 0 && stops > c.MaxStops {
		return false
	}
	for sku, limit := range c.MaxUnits {
		if limit > 0 && p[sku] > limit {
			return false
		}
	}
	return true
}

// Courier is the subset of a courier document used for dispatch.
type Courier struct {
	ID         string       `json:"id" bson:"_id"`
	Name       string       `json:"name" bson:"name"`
	Location   Point        `json:"location" bson:"location"`
	LocationAt time.Time    `json:"location_at" bson:"locationAt"`
	Online     bool         `json:"online" bson:"online"`
	Active     bool         `json:"active" bson:"active"`
	PushToken  string       `json:"push_token,omitempty" bson:"pushToken,omitempty"`
	Capacity   Capacity     `json:"capacity" bson:"capacity"`
	Queue      []QueueEntry `json:"queue" bson:"queue"`
	Version    int64        `json:"version" bson:"version"`
}

// Available reports whether the courier can receive new orders.
func (c Courier) Available() bool { return c.Online && c.Active }

// LocationFresh reports whether the last location is usable at now.
func (c Courier) LocationFresh(now time.Time, maxAge time.Duration) bool {
	if !c.Location.Valid() {
		return false
	}
	if maxAge <= 0 || c.LocationAt.IsZero() {
		return true
	}
	return now.Sub(c.LocationAt) <= maxAge
}

// OpenEntries returns the entries that are not delivered or cancelled.
func (c Courier) OpenEntries() []QueueEntry {
	var out []QueueEntry
	for _, e := range c.Queue {
		if e.Open() {
			out = append(out, e)
		}
	}
	return out
}

// Load is the number of open queue entries.
func (c Courier) Load() int { return len(c.OpenEntries()) }

// OpenProducts sums the products of the open entries.
func (c Courier) OpenProducts() Products {
	p := Products{}
	for _, e := range c.OpenEntries() {
		p = p.Add(e.Products)
	}
	return p
}

// ActiveEntry returns the locked in-progress entry, if any.
func (c Courier) ActiveEntry() (QueueEntry, bool) {
	for _, e := range c.Queue {
		if e.Status == OrderOnTheWay {
			return e, true
		}
	}
	return QueueEntry{}, false
}

// IndexOf returns the queue position of orderID or -1.
func (c Courier) IndexOf(orderID string) int {
	for i, e := range c.Queue {
		if e.OrderID == orderID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe for independent mutation.
func (c Courier) Clone() Courier {
	out := c
	out.Queue = append([]QueueEntry(nil), c.Queue...)
	if c.Capacity.MaxUnits != nil {
		out.Capacity.MaxUnits = make(map[string]int, len(c.Capacity.MaxUnits))
		for k, v := range c.Capacity.MaxUnits {
			out.Capacity.MaxUnits[k] = v
		}
	}
	return out
}
