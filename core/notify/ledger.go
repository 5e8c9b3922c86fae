package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/aquamarket/dispatch/core/model"
)

// Ledger records declined (order, courier) pairings. Entries expire after
// the configured TTL. A Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[model.Exclusion]time.Time
}

// NewLedger creates a Ledger. A non-positive ttl keeps entries until Reset.
func NewLedger(ttl time.Duration) *Ledger {
	return &Ledger{ttl: ttl, now: time.Now, entries: map[model.Exclusion]time.Time{}}
}

// Add bans the pairing, refreshing its expiry when already present.
func (l *Ledger) Add(orderID, courierID string) {
	l.mu.Lock()
	l.entries[model.Exclusion{OrderID: orderID, CourierID: courierID}] = l.now()
	l.mu.Unlock()
}

// Excluded reports whether the pairing is currently banned.
func (l *Ledger) Excluded(orderID, courierID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.entries[model.Exclusion{OrderID: orderID, CourierID: courierID}]
	return ok && !l.expired(at)
}

// Restrictions returns the banned couriers keyed by order id.
func (l *Ledger) Restrictions() map[string][]string {
	out := map[string][]string{}
	for _, ex := range l.Snapshot() {
		out[ex.OrderID] = append(out[ex.OrderID], ex.CourierID)
	}
	return out
}

// Snapshot returns the live entries sorted by order then courier, dropping
// expired ones.
func (l *Ledger) Snapshot() []model.Exclusion {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Exclusion, 0, len(l.entries))
	for ex, at := range l.entries {
		if l.expired(at) {
			delete(l.entries, ex)
			continue
		}
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CourierID < out[j].CourierID
	})
	return out
}

// Remove lifts a single ban.
func (l *Ledger) Remove(orderID, courierID string) {
	l.mu.Lock()
	delete(l.entries, model.Exclusion{OrderID: orderID, CourierID: courierID})
	l.mu.Unlock()
}

// Reset clears every entry.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.entries = map[model.Exclusion]time.Time{}
	l.mu.Unlock()
}

func (l *Ledger) expired(at time.Time) bool {
	return l.ttl > 0 && l.now().Sub(at) >= l.ttl
}
