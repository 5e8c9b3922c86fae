package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aquamarket/dispatch/core/dispatch"
	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/core/logger"
	"github.com/aquamarket/dispatch/core/monitoring"
	"github.com/aquamarket/dispatch/core/notify"
	"github.com/aquamarket/dispatch/core/store"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

var (
	// ErrAlreadyRunning is returned by Start when the loops are active.
	ErrAlreadyRunning = errors.New("scheduler: already running")
	// ErrNotRunning is returned by Stop when nothing was started.
	ErrNotRunning = errors.New("scheduler: not running")
)

// Runner executes distribution and optimisation passes.
type Runner interface {
	Run(ctx context.Context, trigger string) dispatch.RunResult
	Optimize(ctx context.Context) (dispatch.OptimizeResult, error)
	Pending(ctx context.Context) (int, error)
}

// Notifier offers freshly assigned orders to couriers.
type Notifier interface {
	Run(ctx context.Context, courierIDs []string) notify.Outcome
	Reject(ctx context.Context, orderID, courierID string) error
}

// Stats summarises the distributions driven by the scheduler.
type Stats struct {
	TotalDistributions      int           `json:"total_distributions"`
	SuccessfulDistributions int           `json:"successful_distributions"`
	SkippedTriggers         int           `json:"skipped_triggers"`
	AvgProcessingTime       time.Duration `json:"avg_processing_time"`
	LastDistribution        time.Time     `json:"last_distribution"`
	LastTrigger             string        `json:"last_trigger,omitempty"`
	Running                 bool          `json:"running"`
}

// Scheduler fires distribution runs on cadences and bus events.
type Scheduler struct {
	runner   Runner
	notifier Notifier
	store    store.Store
	cfg      SchedulerConfig
	log      logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	bus     eventbus.EventBus
	ctx     context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	stats   Stats
	elapsed time.Duration

	// stopping is set while Stop drains inflight; no new rounds start then.
	stopping bool
	inflight sync.WaitGroup
}

// New creates a Scheduler. notifier may be nil, in which case runs are not
// followed by offers.
func New(runner Runner, notifier Notifier, st store.Store, cfg SchedulerConfig, log logger.Logger) (*Scheduler, error) {
	if runner == nil || st == nil {
		return nil, fmt.Errorf("nil parameter provided to scheduler.New")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		runner:   runner,
		notifier: notifier,
		store:    st,
		cfg:      cfg,
		log:      logger.OrNop(log),
		now:      time.Now,
	}, nil
}

// SetBus sets the bus the scheduler listens on for triggers.
func (s *Scheduler) SetBus(bus eventbus.EventBus) {
	s.mu.Lock()
	s.bus = bus
	s.mu.Unlock()
}

// Config returns the effective configuration.
func (s *Scheduler) Config() SchedulerConfig { return s.cfg }

// Start launches the cadence loops and the event listener.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel = ctx, cancel
	s.stats.Running = true

	if !s.cfg.DisableTicker {
		s.every(ctx, s.cfg.distributionInterval(), func(ctx context.Context) { s.Trigger(ctx, events.TriggerTick) })
	}
	s.every(ctx, s.cfg.staleSweepInterval(), s.sweep)
	s.every(ctx, s.cfg.optimizationInterval(), s.optimize)
	if s.bus != nil {
		sub := s.bus.Subscribe()
		s.loops.Add(1)
		go s.listen(ctx, s.bus, sub)
	}
	s.log.Infof("scheduler started: distribution every %s, stale sweep every %s, optimisation every %s",
		s.cfg.distributionInterval(), s.cfg.staleSweepInterval(), s.cfg.optimizationInterval())
	return nil
}

// Stop cancels the loops and waits for them and any in-flight offers.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.ctx = nil
	s.stats.Running = false
	if cancel != nil {
		s.stopping = true
	}
	s.mu.Unlock()
	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	s.loops.Wait()
	s.inflight.Wait()
	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()
	s.log.Infof("scheduler stopped")
	return nil
}

// Restart stops the scheduler if it runs and starts it again.
func (s *Scheduler) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return s.Start(ctx)
}

// Running reports whether the loops are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stats returns a snapshot of the distribution counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	if st.TotalDistributions > 0 {
		st.AvgProcessingTime = s.elapsed / time.Duration(st.TotalDistributions)
	}
	return st
}

// Wait blocks until in-flight offer rounds and their retries finished.
func (s *Scheduler) Wait() { s.inflight.Wait() }

// Trigger runs one distribution synchronously and, when it assigned
// orders, starts the offer round for the receiving couriers.
func (s *Scheduler) Trigger(ctx context.Context, kind events.TriggerKind) dispatch.RunResult {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.runTimeout())
	defer cancel()
	res := s.runner.Run(runCtx, string(kind))
	s.record(res)
	if res.Skipped {
		s.log.Debugf("trigger %s coalesced: run in progress", kind)
		return res
	}
	if ids := res.CourierIDs(); res.Success && len(ids) > 0 && s.notifier != nil {
		s.notify(ctx, ids)
	}
	return res
}

func (s *Scheduler) record(res dispatch.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.LastTrigger = res.Trigger
	if res.Skipped {
		s.stats.SkippedTriggers++
		return
	}
	s.stats.TotalDistributions++
	if res.Success {
		s.stats.SuccessfulDistributions++
	}
	s.elapsed += res.Duration()
	s.stats.LastDistribution = res.FinishedAt
}

// notify runs the offer protocol in the background. Offers outlive the
// caller's context but not the scheduler's. Rounds requested while Stop is
// draining are dropped; the next run offers those orders again.
func (s *Scheduler) notify(ctx context.Context, courierIDs []string) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		s.log.Warnf("scheduler stopping: offers to %v not sent", courierIDs)
		return
	}
	base := s.ctx
	if base == nil {
		base = context.WithoutCancel(ctx)
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.inflight.Done()
		defer monitoring.Recover()
		out := s.notifier.Run(base, courierIDs)
		s.log.Infof("offers: %d accepted, %d detached, %d busy", len(out.Accepted), out.Detached, len(out.Busy))
		if out.Detached == 0 && !out.RedistributionRequested {
			return
		}
		select {
		case <-time.After(s.cfg.retryDelay()):
		case <-base.Done():
			return
		}
		s.Trigger(base, events.TriggerRetry)
	}()
}

// every runs fn on each tick of d until ctx ends.
func (s *Scheduler) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	if d <= 0 {
		return
	}
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		defer monitoring.Recover()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// sweep triggers a run when orders have been waiting too long.
func (s *Scheduler) sweep(ctx context.Context) {
	stale, err := s.store.FindStaleOrders(ctx, s.now().Add(-s.cfg.staleAfter()))
	if err != nil {
		s.log.Warnf("stale sweep: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}
	s.warnIdle(ctx, len(stale))
	s.log.Infof("stale sweep: %d orders waiting over %s", len(stale), s.cfg.staleAfter())
	s.Trigger(ctx, events.TriggerStaleOrders)
}

func (s *Scheduler) warnIdle(ctx context.Context, pending int) {
	if s.cfg.IdleCourierWarn <= 0 {
		return
	}
	cs, err := s.store.FindActiveCouriers(ctx)
	if err != nil {
		return
	}
	idle := 0
	for _, c := range cs {
		if c.Available() && c.Load() == 0 {
			idle++
		}
	}
	if idle >= s.cfg.IdleCourierWarn {
		s.log.Warnf("%d couriers idle while %d orders are pending", idle, pending)
	}
}

func (s *Scheduler) optimize(ctx context.Context) {
	res, err := s.runner.Optimize(ctx)
	switch {
	case err != nil:
		s.log.Warnf("optimisation: %v", err)
	case res.Skipped:
		s.log.Debugf("optimisation skipped: run in progress")
	default:
		s.log.Debugf("optimisation: %d couriers, %d resequenced, %d swaps", res.Couriers, res.Resequenced, res.Swaps)
	}
}

func (s *Scheduler) listen(ctx context.Context, bus eventbus.EventBus, sub <-chan eventbus.Event) {
	defer s.loops.Done()
	defer bus.Unsubscribe(sub)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if e, ok := ev.(events.TriggerEvent); ok {
				s.loops.Add(1)
				go func() {
					defer s.loops.Done()
					defer monitoring.Recover()
					s.handle(ctx, e)
				}()
			}
		case <-ctx.Done():
			return
		}
	}
}

// handle decides whether an event warrants a run.
func (s *Scheduler) handle(ctx context.Context, e events.TriggerEvent) {
	switch e.Kind {
	case events.TriggerOrderCreated:
		if n := s.pending(ctx); n < s.cfg.NewOrderMinPending {
			s.log.Debugf("order %s created: %d pending, below %d", e.OrderID, n, s.cfg.NewOrderMinPending)
			return
		}
	case events.TriggerCourierOnline:
		if s.pending(ctx) == 0 {
			return
		}
	case events.TriggerOrderCompleted:
		if e.CourierID != "" {
			c, err := s.store.GetCourier(ctx, e.CourierID)
			if err == nil && c.Load() > 0 {
				return
			}
		}
		if s.pending(ctx) == 0 {
			return
		}
	case events.TriggerOrderRejected:
		if s.notifier != nil {
			err := s.notifier.Reject(ctx, e.OrderID, e.CourierID)
			if errors.Is(err, notify.ErrOrderStarted) {
				s.log.Warnf("reject of %s by %s ignored: order started", e.OrderID, e.CourierID)
				return
			}
			if err != nil {
				s.log.Errorf("reject of %s by %s: %v", e.OrderID, e.CourierID, err)
			}
		}
	case events.TriggerTick, events.TriggerManual, events.TriggerStaleOrders, events.TriggerRetry:
	default:
		s.log.Debugf("unknown trigger %q", e.Kind)
		return
	}
	s.Trigger(ctx, e.Kind)
}

func (s *Scheduler) pending(ctx context.Context) int {
	n, err := s.runner.Pending(ctx)
	if err != nil {
		s.log.Warnf("count pending orders: %v", err)
		return 0
	}
	return n
}
