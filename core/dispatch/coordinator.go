package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aquamarket/dispatch/core/dispatch/logging"
	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/core/logger"
	"github.com/aquamarket/dispatch/core/metrics"
	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/monitoring"
	"github.com/aquamarket/dispatch/core/routing"
	"github.com/aquamarket/dispatch/core/store"
	"github.com/aquamarket/dispatch/core/zones"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

// Locker guards runs across engine replicas.
type Locker interface {
	// TryLock acquires key for ttl. ok is false when another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// LockKey is the distributed lock key taken by runs.
const LockKey = "dispatch:run"

// Coordinator executes distribution runs. At most one run, optimisation
// pass included, is active per Coordinator at a time.
type Coordinator struct {
	store   store.Store
	builder *zones.Builder
	seq     *routing.Sequencer
	alloc   *Allocator
	swap    *SwapOptimizer
	cfg     Config
	loc     *time.Location
	log     logger.Logger
	now     func() time.Time

	running atomic.Bool

	mu       sync.Mutex
	solver   routing.Solver
	ex       Exclusions
	bus      eventbus.EventBus
	sink     metrics.MetricsSink
	logStore logging.LogStore
	locker   Locker
	stage    Stage
	last     *RunResult
}

// NewCoordinator creates a Coordinator. Zero config fields are replaced by
// defaults.
func NewCoordinator(st store.Store, builder *zones.Builder, seq *routing.Sequencer, cfg Config, log logger.Logger) (*Coordinator, error) {
	if st == nil || builder == nil || seq == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewCoordinator")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	alloc := NewAllocator(cfg)
	alloc.SetSplitter(builder.SplitZone)
	return &Coordinator{
		store:   st,
		builder: builder,
		seq:     seq,
		alloc:   alloc,
		swap:    NewSwapOptimizer(st, cfg, log),
		cfg:     cfg,
		loc:     loc,
		log:     log,
		now:     time.Now,
		ex:      noExclusions{},
		sink:    metrics.NopSink{},
		stage:   StageIdle,
	}, nil
}

// SetSolver configures the optional external route solver.
func (c *Coordinator) SetSolver(s routing.Solver) {
	c.mu.Lock()
	c.solver = s
	c.mu.Unlock()
}

// SetExclusions configures the (order, courier) ban list consulted by runs.
func (c *Coordinator) SetExclusions(ex Exclusions) {
	if ex == nil {
		ex = noExclusions{}
	}
	c.mu.Lock()
	c.ex = ex
	c.mu.Unlock()
}

// SetBus configures the bus receiving stage and run events.
func (c *Coordinator) SetBus(bus eventbus.EventBus) {
	c.mu.Lock()
	c.bus = bus
	c.mu.Unlock()
}

// SetMetrics configures the sink receiving run records.
func (c *Coordinator) SetMetrics(sink metrics.MetricsSink) {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// SetLogStore configures the store used to persist run records.
func (c *Coordinator) SetLogStore(s logging.LogStore) {
	c.mu.Lock()
	c.logStore = s
	c.mu.Unlock()
}

// SetLocker configures the lock shared with other replicas.
func (c *Coordinator) SetLocker(l Locker) {
	c.mu.Lock()
	c.locker = l
	c.mu.Unlock()
}

// Stage returns the stage of the current run, or of the last one.
func (c *Coordinator) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Running reports whether a run or optimisation pass is active.
func (c *Coordinator) Running() bool { return c.running.Load() }

// LastRun returns the last finished run.
func (c *Coordinator) LastRun() (RunResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return RunResult{}, false
	}
	return *c.last, true
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// Pending counts the orders of the current delivery day awaiting a courier.
func (c *Coordinator) Pending(ctx context.Context) (int, error) {
	orders, err := c.pendingOrders(ctx)
	return len(orders), err
}

func (c *Coordinator) pendingOrders(ctx context.Context) ([]model.Order, error) {
	day := c.now().In(c.loc).Format("2006-01-02")
	all, err := c.store.FindDispatchEligibleOrders(ctx, day, store.DefaultExcludedStatuses)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	var orders []model.Order
	for _, o := range all {
		if o.Eligible() {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// Close releases the run log store.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	s := c.logStore
	c.mu.Unlock()
	if s != nil {
		return s.Close()
	}
	return nil
}

// acquire takes the in-process guard and, when configured, the distributed
// lock. The returned release must be called when ok.
func (c *Coordinator) acquire(ctx context.Context) (release func(), ok bool) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, false
	}
	c.mu.Lock()
	locker := c.locker
	c.mu.Unlock()
	if locker == nil {
		return func() { c.running.Store(false) }, true
	}
	unlock, got, err := locker.TryLock(ctx, LockKey, c.cfg.lockTTL())
	if err != nil {
		c.log.Warnf("dispatch lock: %v", err)
	}
	if !got {
		c.running.Store(false)
		return nil, false
	}
	return func() {
		unlock()
		c.running.Store(false)
	}, true
}

// Run executes one distribution run. When another run is active it returns
// immediately with Skipped set and ErrRunInProgress as Reason.
func (c *Coordinator) Run(ctx context.Context, trigger string) RunResult {
	release, ok := c.acquire(ctx)
	if !ok {
		c.log.Debugf("dispatch: %s trigger skipped, run in progress", trigger)
		res := RunResult{Trigger: trigger, Skipped: true, Stage: c.Stage(), Reason: ErrRunInProgress.Error()}
		observeRun(res)
		return res
	}
	defer release()

	c.mu.Lock()
	r := &run{
		c:      c,
		solver: c.solver,
		ex:     c.ex,
		res: RunResult{
			ID:          uuid.NewString(),
			Trigger:     trigger,
			StartedAt:   c.now(),
			Assignments: map[string]string{},
			Routes:      map[string][]string{},
		},
	}
	c.mu.Unlock()

	r.execute(ctx)
	c.finish(ctx, r.res)
	return r.res
}

func (c *Coordinator) setStage(runID string, s Stage) {
	c.mu.Lock()
	c.stage = s
	bus := c.bus
	c.mu.Unlock()
	if bus != nil {
		bus.Publish(events.StageEvent{RunID: runID, Stage: string(s)})
	}
}

func (c *Coordinator) finish(ctx context.Context, res RunResult) {
	observeRun(res)
	c.mu.Lock()
	c.last = &res
	sink, bus, logStore := c.sink, c.bus, c.logStore
	c.mu.Unlock()

	if err := sink.RecordRun(metrics.RunRecord{
		RunID:       res.ID,
		Trigger:     res.Trigger,
		Success:     res.Success,
		Stage:       string(res.Stage),
		Kind:        string(res.Kind),
		Zones:       res.ZonesCreated,
		Distributed: res.OrdersDistributed,
		Unassigned:  res.OrdersUnassigned,
		Couriers:    res.CouriersUsed,
		Swaps:       res.Swaps,
		SolverUsed:  res.SolverUsed,
		Duration:    res.Duration(),
		Time:        res.FinishedAt,
	}); err != nil {
		c.log.Errorf("metrics error: %v", err)
	}
	if bus != nil {
		bus.Publish(events.RunEvent{
			RunID:       res.ID,
			Trigger:     res.Trigger,
			Success:     res.Success,
			Stage:       string(res.Stage),
			Reason:      res.Reason,
			Distributed: res.OrdersDistributed,
			Unassigned:  res.OrdersUnassigned,
			Couriers:    res.CouriersUsed,
			Duration:    res.Duration(),
		})
	}
	if logStore != nil {
		// the run context may be cancelled already
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := logStore.Append(lctx, toLogRecord(res)); err != nil {
			c.log.Errorf("run log error: %v", err)
		}
		cancel()
	}
	if !res.Success && res.Kind != KindInputExhaustion && res.Kind != KindCancelled {
		monitoring.CaptureException(errors.New(res.Reason), map[string]string{
			"run_id": res.ID,
			"stage":  string(res.FailedStage),
			"kind":   string(res.Kind),
		})
	}
	if res.Success {
		c.log.Infof("run %s (%s): %d zones, %d distributed to %d couriers, %d unassigned, %d swaps in %s",
			res.ID, res.Trigger, res.ZonesCreated, res.OrdersDistributed, res.CouriersUsed, res.OrdersUnassigned, res.Swaps, res.Duration())
	} else {
		c.log.Warnf("run %s (%s) failed in %s: %s", res.ID, res.Trigger, res.FailedStage, res.Reason)
	}
}

func toLogRecord(res RunResult) logging.LogRecord {
	rec := logging.LogRecord{
		Timestamp:   res.FinishedAt,
		RunID:       res.ID,
		Trigger:     res.Trigger,
		Success:     res.Success,
		Stage:       string(res.Stage),
		Kind:        string(res.Kind),
		Reason:      res.Reason,
		Zones:       res.ZonesCreated,
		Distributed: res.OrdersDistributed,
		Unassigned:  res.OrdersUnassigned,
		Couriers:    res.CourierIDs(),
		Assignments: res.Assignments,
		DurationMS:  res.Duration().Milliseconds(),
	}
	for _, l := range res.Unassigned {
		rec.Leftovers = append(rec.Leftovers, l.OrderID)
	}
	return rec
}

// run holds the state of one distribution run.
type run struct {
	c      *Coordinator
	solver routing.Solver
	ex     Exclusions
	res    RunResult

	depot     model.Depot
	couriers  []model.Courier
	zones     []model.Zone
	alloc     Allocation
	routes    map[string][]model.Order
	leftovers []model.Order
	used      map[string]bool
}

type stageFunc struct {
	stage Stage
	fn    func(context.Context) error
}

func (r *run) execute(ctx context.Context) {
	stages := []stageFunc{
		{StageBuildingZones, r.buildZones},
		{StageAllocating, r.allocate},
		{StageSequencing, r.sequence},
		{StageCommitting, r.commit},
		{StageSwapping, r.swapPass},
		{StageReconciling, r.reconcile},
	}
	for _, s := range stages {
		r.res.Stage = s.stage
		r.c.setStage(r.res.ID, s.stage)
		if err := ctx.Err(); err != nil {
			r.fail(s.stage, KindCancelled, err)
			return
		}
		if err := s.fn(ctx); err != nil {
			r.fail(s.stage, kindOf(err), err)
			return
		}
	}
	r.res.Success = true
	r.res.Stage = StageDone
	r.res.OrdersDistributed = len(r.res.Assignments)
	r.res.OrdersUnassigned = len(r.res.Unassigned)
	r.res.CouriersUsed = len(r.res.CourierIDs())
	r.res.FinishedAt = r.c.now()
	r.c.setStage(r.res.ID, StageDone)
}

func (r *run) fail(stage Stage, kind Kind, err error) {
	r.res.Success = false
	r.res.Stage = StageFailed
	r.res.FailedStage = stage
	r.res.Kind = kind
	r.res.Reason = err.Error()
	r.res.OrdersDistributed = len(r.res.Assignments)
	r.res.OrdersUnassigned = len(r.res.Unassigned)
	r.res.CouriersUsed = len(r.res.CourierIDs())
	r.res.FinishedAt = r.c.now()
	r.c.setStage(r.res.ID, StageFailed)
}

func (r *run) buildZones(ctx context.Context) error {
	c := r.c
	depot, err := c.store.FindDepot(ctx)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound) && c.cfg.DefaultDepot != nil:
		depot = *c.cfg.DefaultDepot
	case errors.Is(err, store.ErrNotFound):
		return abort(KindInputExhaustion, ErrNoDepot)
	default:
		return abort(KindStoreReadFailure, fmt.Errorf("find depot: %w", err))
	}
	r.depot = depot

	orders, err := c.pendingOrders(ctx)
	if err != nil {
		return abort(KindStoreReadFailure, err)
	}

	cs, err := c.store.FindActiveCouriers(ctx)
	if err != nil {
		return abort(KindStoreReadFailure, fmt.Errorf("load couriers: %w", err))
	}
	for _, co := range cs {
		if co.Available() {
			r.couriers = append(r.couriers, co)
		}
	}
	sort.Slice(r.couriers, func(i, j int) bool { return r.couriers[i].ID < r.couriers[j].ID })

	built := c.builder.Build(orders)
	if len(built) == 0 {
		return abort(KindInputExhaustion, ErrNoZones)
	}
	if limit := c.alloc.ZoneLimit(len(orders), r.couriers); limit > 0 {
		built = c.builder.Split(built, limit)
	}
	r.zones = built
	r.res.ZonesCreated = len(built)
	c.log.Debugf("run %s: %d orders in %d zones, %d couriers", r.res.ID, len(orders), len(built), len(r.couriers))
	return nil
}

func (r *run) allocate(ctx context.Context) error {
	if len(r.couriers) == 0 {
		return abort(KindInputExhaustion, ErrNoCouriers)
	}
	r.alloc = r.c.alloc.Allocate(r.zones, r.couriers, r.ex)
	r.res.ZonesCreated += r.alloc.Splits
	for _, z := range r.alloc.Unassigned {
		r.leftovers = append(r.leftovers, z.Orders...)
	}
	if len(r.alloc.Groups) == 0 {
		return abort(KindCapacityExhaustion, ErrNoCouriers)
	}
	r.c.log.Debugf("run %s: target %d cap %d, %d groups, %d rebalancing moves, imbalance %.2f",
		r.res.ID, r.alloc.Target, r.alloc.Cap, len(r.alloc.Groups), r.alloc.Moves, r.alloc.Imbalance())
	return nil
}

func (r *run) swapPass(ctx context.Context) error {
	var ids []string
	for id := range r.used {
		ids = append(ids, id)
	}
	if len(ids) < 2 {
		return nil
	}
	sr := r.c.swap.Optimize(ctx, ids, r.ex)
	r.res.Swaps = sr.Swaps
	r.res.Failures = append(r.res.Failures, sr.Failures...)
	if sr.Swaps == 0 {
		return nil
	}
	// queues changed, refresh the reported routes and assignments
	for _, id := range ids {
		co, err := r.c.store.GetCourier(ctx, id)
		if err != nil {
			continue
		}
		var route []string
		for _, e := range co.Queue {
			if _, ok := r.res.Assignments[e.OrderID]; ok {
				r.res.Assignments[e.OrderID] = id
				route = append(route, e.OrderID)
			}
		}
		if len(route) == 0 {
			delete(r.res.Routes, id)
			continue
		}
		r.res.Routes[id] = route
	}
	return nil
}
