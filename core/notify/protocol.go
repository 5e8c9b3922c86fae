package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/core/logger"
	"github.com/aquamarket/dispatch/core/metrics"
	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/monitoring"
	"github.com/aquamarket/dispatch/core/store"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

var (
	// ErrCourierBusy is returned when the courier is already being processed.
	ErrCourierBusy = errors.New("notify: courier already in progress")
	// ErrOrderStarted is returned by Reject when the courier already started the order.
	ErrOrderStarted = errors.New("notify: order already started")

	errNotHeld   = errors.New("order no longer assigned to courier")
	errNoEntry   = errors.New("queue entry not found")
	errNoChanges = errors.New("nothing to change")
)

// decision is how an offer ended.
type decision int

const (
	decisionTimeout decision = iota
	decisionAccepted
	// decisionWithdrawn means the order left the courier during the wait,
	// through a rejection, a cancellation or a reassignment.
	decisionWithdrawn
)

// CourierOutcome reports the protocol for one courier.
type CourierOutcome struct {
	CourierID string
	// Accepted is the order the courier started, empty when none.
	Accepted string
	Offers   int
	TimedOut int
	Excluded []model.Exclusion
	Detached int
}

// Outcome aggregates a protocol run over several couriers.
type Outcome struct {
	// Accepted maps courier id to the accepted order id.
	Accepted map[string]string
	Excluded []model.Exclusion
	Detached int
	// Busy lists couriers skipped because another run was processing them.
	Busy []string
	// RedistributionRequested is set when no courier accepted anything and
	// at least one offer timed out.
	RedistributionRequested bool
}

// Protocol offers queued orders to couriers one at a time.
type Protocol struct {
	store   store.Store
	gateway Gateway
	ledger  *Ledger
	cfg     Config
	log     logger.Logger
	now     func() time.Time

	mu         sync.Mutex
	bus        eventbus.EventBus
	recorder   metrics.OfferRecorder
	processing map[string]bool
}

// NewProtocol creates a Protocol. A nil ledger is replaced by one using the
// configured exclusion TTL.
func NewProtocol(st store.Store, gw Gateway, ledger *Ledger, cfg Config, log logger.Logger) (*Protocol, error) {
	if st == nil || gw == nil {
		return nil, fmt.Errorf("notify: nil parameter provided to NewProtocol")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = NewLedger(cfg.exclusionTTL())
	}
	return &Protocol{
		store:      st,
		gateway:    gw,
		ledger:     ledger,
		cfg:        cfg,
		log:        logger.OrNop(log),
		now:        time.Now,
		processing: map[string]bool{},
	}, nil
}

// Ledger returns the exclusion ledger shared with the coordinator.
func (p *Protocol) Ledger() *Ledger { return p.ledger }

// SetBus configures the bus used to publish offer events and to learn about
// status changes early.
func (p *Protocol) SetBus(bus eventbus.EventBus) {
	p.mu.Lock()
	p.bus = bus
	p.mu.Unlock()
}

// SetMetrics records offers on sink when it implements metrics.OfferRecorder.
func (p *Protocol) SetMetrics(sink metrics.MetricsSink) {
	rec, _ := sink.(metrics.OfferRecorder)
	p.mu.Lock()
	p.recorder = rec
	p.mu.Unlock()
}

// Run processes every courier concurrently and waits for all of them.
func (p *Protocol) Run(ctx context.Context, courierIDs []string) Outcome {
	results := make([]CourierOutcome, len(courierIDs))
	errs := make([]error, len(courierIDs))
	var wg sync.WaitGroup
	for i, id := range courierIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer monitoring.Recover()
			results[i], errs[i] = p.RunCourier(ctx, id)
		}(i, id)
	}
	wg.Wait()

	out := Outcome{Accepted: map[string]string{}}
	timedOut := 0
	for i, r := range results {
		if errors.Is(errs[i], ErrCourierBusy) {
			out.Busy = append(out.Busy, courierIDs[i])
			continue
		}
		if errs[i] != nil && !errors.Is(errs[i], context.Canceled) {
			p.log.Errorf("notify: courier %s: %v", courierIDs[i], errs[i])
		}
		if r.Accepted != "" {
			out.Accepted[r.CourierID] = r.Accepted
		}
		out.Excluded = append(out.Excluded, r.Excluded...)
		out.Detached += r.Detached
		timedOut += r.TimedOut
	}
	sort.Strings(out.Busy)
	out.RedistributionRequested = len(out.Accepted) == 0 && timedOut > 0
	return out
}

// RunCourier offers the courier's unconfirmed entries in queue order until
// one is started or none is left.
func (p *Protocol) RunCourier(ctx context.Context, courierID string) (CourierOutcome, error) {
	out := CourierOutcome{CourierID: courierID}
	if !p.claim(courierID) {
		return out, ErrCourierBusy
	}
	defer p.release(courierID)

	tried := map[string]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		co, err := p.store.GetCourier(ctx, courierID)
		if err != nil {
			return out, fmt.Errorf("load courier: %w", err)
		}
		entry, ok := nextOffer(co, tried)
		if !ok {
			break
		}
		tried[entry.OrderID] = true
		out.Offers++

		d, err := p.offer(ctx, co, entry)
		if err != nil {
			return out, err
		}
		switch d {
		case decisionAccepted:
			out.Accepted = entry.OrderID
			p.confirm(ctx, courierID, entry.OrderID)
		case decisionWithdrawn:
			if p.ledger.Excluded(entry.OrderID, courierID) {
				out.Excluded = append(out.Excluded, model.Exclusion{OrderID: entry.OrderID, CourierID: courierID})
			}
			continue
		case decisionTimeout:
			out.TimedOut++
			p.ledger.Add(entry.OrderID, courierID)
			out.Excluded = append(out.Excluded, model.Exclusion{OrderID: entry.OrderID, CourierID: courierID})
			err := p.detach(ctx, entry.OrderID, courierID)
			switch {
			case err == nil:
				out.Detached++
			case errors.Is(err, ErrOrderStarted):
				// started right after the window closed
				p.ledger.Remove(entry.OrderID, courierID)
				out.Excluded = out.Excluded[:len(out.Excluded)-1]
				out.TimedOut--
				out.Accepted = entry.OrderID
				p.confirm(ctx, courierID, entry.OrderID)
			case errors.Is(err, errNotHeld):
			default:
				p.log.Errorf("notify: detach %s from %s: %v", entry.OrderID, courierID, err)
			}
		}
		if out.Accepted != "" {
			break
		}
	}

	if p.cfg.DeactivateSilentCouriers && out.Accepted == "" && out.TimedOut > 0 && out.TimedOut == out.Offers {
		if err := p.deactivate(ctx, courierID); err != nil {
			p.log.Warnf("notify: deactivate %s: %v", courierID, err)
		} else {
			p.log.Infof("notify: courier %s ignored %d offers, marked offline", courierID, out.TimedOut)
		}
	}
	return out, nil
}

// Reject records an explicit rejection: the pairing is banned and the order
// detached exactly like a timeout.
func (p *Protocol) Reject(ctx context.Context, orderID, courierID string) error {
	p.ledger.Add(orderID, courierID)
	err := p.detach(ctx, orderID, courierID)
	if err != nil && !errors.Is(err, errNotHeld) {
		return err
	}
	offersTotal.WithLabelValues(string(events.OfferRejected)).Inc()
	p.publish(events.OfferEvent{CourierID: courierID, OrderID: orderID, Outcome: events.OfferRejected})
	return nil
}

func (p *Protocol) claim(courierID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processing[courierID] {
		return false
	}
	p.processing[courierID] = true
	return true
}

func (p *Protocol) release(courierID string) {
	p.mu.Lock()
	delete(p.processing, courierID)
	p.mu.Unlock()
}

// nextOffer returns the first open entry that is neither started, accepted
// nor already offered in this pass.
func nextOffer(co model.Courier, tried map[string]bool) (model.QueueEntry, bool) {
	for _, e := range co.Queue {
		if !e.Open() || e.Pinned() || e.Decision == model.DecisionRejected || tried[e.OrderID] {
			continue
		}
		return e, true
	}
	return model.QueueEntry{}, false
}

func (p *Protocol) offer(ctx context.Context, co model.Courier, e model.QueueEntry) (decision, error) {
	start := p.now()
	o := NewOffer(co, e)
	if err := p.gateway.SendOffer(ctx, o); err != nil {
		// the courier may still see the order in the app
		p.log.Warnf("notify: send offer %s to %s: %v", e.OrderID, co.ID, err)
		p.record(co.ID, e.OrderID, events.OfferFailed, 0)
	} else {
		p.record(co.ID, e.OrderID, events.OfferSent, 0)
	}

	d, err := p.await(ctx, e.OrderID, co.ID)
	if err != nil {
		return d, err
	}
	latency := p.now().Sub(start)
	switch d {
	case decisionAccepted:
		p.record(co.ID, e.OrderID, events.OfferAccepted, latency)
	case decisionTimeout:
		p.record(co.ID, e.OrderID, events.OfferTimedOut, latency)
	}
	return d, nil
}

// await polls the order until the courier starts it, it leaves the courier
// or the window closes. Status events on the bus shortcut the polling.
func (p *Protocol) await(ctx context.Context, orderID, courierID string) (decision, error) {
	p.mu.Lock()
	bus := p.bus
	p.mu.Unlock()
	var sub <-chan eventbus.Event
	if bus != nil {
		sub = eventbus.SubscribeWhere(bus, func(ev eventbus.Event) bool { return relevant(ev, orderID) })
		defer bus.Unsubscribe(sub)
	}

	check := func() (decision, bool) {
		o, err := p.store.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return decisionWithdrawn, true
			}
			p.log.Debugf("notify: poll %s: %v", orderID, err)
			return decisionTimeout, false
		}
		switch {
		case o.CourierID != courierID || o.Status.Closed():
			return decisionWithdrawn, true
		case o.Status == model.OrderOnTheWay:
			return decisionAccepted, true
		}
		return decisionTimeout, false
	}

	if d, done := check(); done {
		return d, nil
	}
	window := time.NewTimer(p.cfg.window())
	defer window.Stop()
	tick := time.NewTicker(p.cfg.pollInterval())
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return decisionTimeout, ctx.Err()
		case <-window.C:
			d, _ := check()
			return d, nil
		case <-tick.C:
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			if !relevant(ev, orderID) {
				continue
			}
		}
		if d, done := check(); done {
			return d, nil
		}
	}
}

func relevant(ev eventbus.Event, orderID string) bool {
	switch e := ev.(type) {
	case events.OrderStatusEvent:
		return e.OrderID == orderID
	case events.OfferEvent:
		return e.OrderID == orderID && e.Outcome == events.OfferRejected
	}
	return false
}

// confirm marks the started entry as accepted so later passes keep it in place.
func (p *Protocol) confirm(ctx context.Context, courierID, orderID string) {
	_, err := store.MutateQueue(ctx, p.store, courierID, p.cfg.WriteAttempts, func(co model.Courier) ([]model.QueueEntry, error) {
		i := co.IndexOf(orderID)
		if i < 0 {
			return nil, errNoEntry
		}
		if co.Queue[i].Decision == model.DecisionAccepted {
			return nil, errNoChanges
		}
		q := append([]model.QueueEntry(nil), co.Queue...)
		q[i].Decision = model.DecisionAccepted
		return q, nil
	})
	if err != nil && !errors.Is(err, errNoChanges) {
		p.log.Warnf("notify: confirm %s for %s: %v", orderID, courierID, err)
	}
}

// detach clears the order's assignment and removes it from the courier's
// queue. The order is released first so a late start wins.
func (p *Protocol) detach(ctx context.Context, orderID, courierID string) error {
	var prev model.Order
	_, err := store.MutateOrder(ctx, p.store, orderID, p.cfg.WriteAttempts, func(o model.Order) (model.Assignment, error) {
		switch {
		case o.CourierID != courierID:
			return model.Assignment{}, errNotHeld
		case o.Status == model.OrderOnTheWay:
			return model.Assignment{}, ErrOrderStarted
		case o.Status.Closed():
			return model.Assignment{}, errNotHeld
		}
		prev = o
		return model.Assignment{Status: model.OrderAwaiting}, nil
	})
	if err != nil {
		return err
	}
	_, err = store.MutateQueue(ctx, p.store, courierID, p.cfg.WriteAttempts, func(co model.Courier) ([]model.QueueEntry, error) {
		i := co.IndexOf(orderID)
		if i < 0 {
			return nil, errNoEntry
		}
		q := make([]model.QueueEntry, 0, len(co.Queue)-1)
		q = append(q, co.Queue[:i]...)
		return append(q, co.Queue[i+1:]...), nil
	})
	if err == nil || errors.Is(err, errNoEntry) {
		return nil
	}
	if rerr := p.reattach(context.WithoutCancel(ctx), prev); rerr != nil {
		return fmt.Errorf("detach %s: %w (restore: %v)", orderID, err, rerr)
	}
	return fmt.Errorf("detach %s: %w", orderID, err)
}

// reattach gives the order back to the courier it was detached from, unless
// someone picked it up in the meantime.
func (p *Protocol) reattach(ctx context.Context, prev model.Order) error {
	_, err := store.MutateOrder(ctx, p.store, prev.ID, p.cfg.WriteAttempts, func(o model.Order) (model.Assignment, error) {
		if o.CourierID != "" || o.Status != model.OrderAwaiting {
			return model.Assignment{}, errNotHeld
		}
		return model.Assignment{CourierID: prev.CourierID, Status: prev.Status, AssignedAt: prev.AssignedAt}, nil
	})
	if errors.Is(err, errNotHeld) {
		return nil
	}
	return err
}

func (p *Protocol) deactivate(ctx context.Context, courierID string) error {
	var lastErr error
	for i := 0; i < p.cfg.WriteAttempts; i++ {
		co, err := p.store.GetCourier(ctx, courierID)
		if err != nil {
			return err
		}
		if !co.Online {
			return nil
		}
		_, err = p.store.SetCourierOnline(ctx, courierID, co.Version, false)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (p *Protocol) record(courierID, orderID string, outcome events.OfferOutcome, latency time.Duration) {
	offersTotal.WithLabelValues(string(outcome)).Inc()
	if latency > 0 {
		offerDecision.Observe(latency.Seconds())
	}
	p.publish(events.OfferEvent{CourierID: courierID, OrderID: orderID, Outcome: outcome, Latency: latency})
	p.mu.Lock()
	rec := p.recorder
	p.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.RecordOffer(metrics.OfferRecord{
		CourierID: courierID,
		OrderID:   orderID,
		Outcome:   string(outcome),
		Latency:   latency,
		Time:      p.now(),
	}); err != nil {
		p.log.Errorf("offer metrics error: %v", err)
	}
}

func (p *Protocol) publish(ev events.OfferEvent) {
	p.mu.Lock()
	bus := p.bus
	p.mu.Unlock()
	if bus != nil {
		bus.Publish(ev)
	}
}
