package scheduler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/core/dispatch"
	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/notify"
	"github.com/aquamarket/dispatch/core/store"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type fakeRunner struct {
	mu       sync.Mutex
	triggers []string
	results  []dispatch.RunResult
	pending  int
	calls    chan string
}

func newFakeRunner(results ...dispatch.RunResult) *fakeRunner {
	return &fakeRunner{results: results, calls: make(chan string, 16)}
}

func (f *fakeRunner) Run(_ context.Context, trigger string) dispatch.RunResult {
	f.mu.Lock()
	f.triggers = append(f.triggers, trigger)
	res := dispatch.RunResult{Success: true, StartedAt: t0, FinishedAt: t0}
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	}
	f.mu.Unlock()
	res.Trigger = trigger
	f.calls <- trigger
	return res
}

func (f *fakeRunner) Optimize(context.Context) (dispatch.OptimizeResult, error) {
	return dispatch.OptimizeResult{}, nil
}

func (f *fakeRunner) Pending(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeRunner) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggers...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	rounds    [][]string
	rejects   []string
	outcomes  []notify.Outcome
	rejectErr error
}

func (f *fakeNotifier) Run(_ context.Context, ids []string) notify.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds = append(f.rounds, ids)
	if len(f.outcomes) > 0 {
		out := f.outcomes[0]
		f.outcomes = f.outcomes[1:]
		return out
	}
	return notify.Outcome{}
}

func (f *fakeNotifier) Reject(_ context.Context, orderID, courierID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, orderID+"/"+courierID)
	return f.rejectErr
}

func ran(d time.Duration, success bool) dispatch.RunResult {
	return dispatch.RunResult{Success: success, StartedAt: t0, FinishedAt: t0.Add(d)}
}

func newTestScheduler(t *testing.T, r Runner, n Notifier, st store.Store, cfg SchedulerConfig) *Scheduler {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	s, err := New(r, n, st, cfg, nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.now = func() time.Time { return t0 }
	return s
}

func TestNewRequiresRunnerAndStore(t *testing.T) {
	if _, err := New(nil, nil, store.NewMemoryStore(), SchedulerConfig{}, nil); err == nil {
		t.Fatalf("expected error for nil runner")
	}
	if _, err := New(newFakeRunner(), nil, nil, SchedulerConfig{}, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}

func TestStatsAverageProcessingTime(t *testing.T) {
	r := newFakeRunner(ran(100*time.Millisecond, true), ran(300*time.Millisecond, false),
		dispatch.RunResult{Skipped: true})
	s := newTestScheduler(t, r, nil, nil, SchedulerConfig{})
	ctx := context.Background()
	s.Trigger(ctx, events.TriggerManual)
	s.Trigger(ctx, events.TriggerTick)
	s.Trigger(ctx, events.TriggerTick)

	st := s.Stats()
	assert.Equal(t, 2, st.TotalDistributions)
	assert.Equal(t, 1, st.SuccessfulDistributions)
	assert.Equal(t, 1, st.SkippedTriggers)
	assert.Equal(t, 200*time.Millisecond, st.AvgProcessingTime)
	assert.Equal(t, t0.Add(300*time.Millisecond), st.LastDistribution)
	assert.False(t, st.Running)
}

func TestSuccessfulRunStartsOffers(t *testing.T) {
	res := ran(time.Millisecond, true)
	res.Assignments = map[string]string{"o1": "c2", "o2": "c1", "o3": "c2"}
	r := newFakeRunner(res)
	n := &fakeNotifier{}
	s := newTestScheduler(t, r, n, nil, SchedulerConfig{})

	s.Trigger(context.Background(), events.TriggerManual)
	s.Wait()
	require.Len(t, n.rounds, 1)
	assert.Equal(t, []string{"c1", "c2"}, n.rounds[0])
}

func TestFailedRunSendsNoOffers(t *testing.T) {
	n := &fakeNotifier{}
	s := newTestScheduler(t, newFakeRunner(ran(time.Millisecond, false)), n, nil, SchedulerConfig{})
	s.Trigger(context.Background(), events.TriggerManual)
	s.Wait()
	assert.Empty(t, n.rounds)
}

func TestDetachedOffersTriggerRetry(t *testing.T) {
	first := ran(time.Millisecond, true)
	first.Assignments = map[string]string{"o1": "c1"}
	r := newFakeRunner(first)
	n := &fakeNotifier{outcomes: []notify.Outcome{{Detached: 1}}}
	s := newTestScheduler(t, r, n, nil, SchedulerConfig{RetryDelayMS: 1})

	s.Trigger(context.Background(), events.TriggerManual)
	s.Wait()
	assert.Equal(t, []string{"manual", "retry"}, r.seen())
}

func TestEventTriggers(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutCourier(model.Courier{ID: "busy", Online: true, Active: true,
		Queue: []model.QueueEntry{{OrderID: "x", Status: model.OrderAssigned}}})
	st.PutCourier(model.Courier{ID: "free", Online: true, Active: true})

	cases := []struct {
		name    string
		event   events.TriggerEvent
		pending int
		runs    bool
	}{
		{"created below threshold", events.TriggerEvent{Kind: events.TriggerOrderCreated}, 1, false},
		{"created at threshold", events.TriggerEvent{Kind: events.TriggerOrderCreated}, 2, true},
		{"online nothing pending", events.TriggerEvent{Kind: events.TriggerCourierOnline}, 0, false},
		{"online with pending", events.TriggerEvent{Kind: events.TriggerCourierOnline}, 3, true},
		{"completed queue not empty", events.TriggerEvent{Kind: events.TriggerOrderCompleted, CourierID: "busy"}, 3, false},
		{"completed queue empty", events.TriggerEvent{Kind: events.TriggerOrderCompleted, CourierID: "free"}, 3, true},
		{"completed nothing pending", events.TriggerEvent{Kind: events.TriggerOrderCompleted, CourierID: "free"}, 0, false},
		{"manual", events.TriggerEvent{Kind: events.TriggerManual}, 0, true},
		{"unknown", events.TriggerEvent{Kind: "bogus"}, 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newFakeRunner()
			r.pending = tc.pending
			s := newTestScheduler(t, r, nil, st, SchedulerConfig{NewOrderMinPending: 2})
			s.handle(context.Background(), tc.event)
			assert.Equal(t, tc.runs, len(r.seen()) == 1)
		})
	}
}

func TestRejectEventRecordsExclusionThenRuns(t *testing.T) {
	r := newFakeRunner()
	n := &fakeNotifier{}
	s := newTestScheduler(t, r, n, nil, SchedulerConfig{})
	s.handle(context.Background(), events.TriggerEvent{Kind: events.TriggerOrderRejected, OrderID: "o1", CourierID: "c1"})
	assert.Equal(t, []string{"o1/c1"}, n.rejects)
	assert.Equal(t, []string{"order_rejected"}, r.seen())
}

func TestRejectOfStartedOrderDoesNotRun(t *testing.T) {
	r := newFakeRunner()
	n := &fakeNotifier{rejectErr: notify.ErrOrderStarted}
	s := newTestScheduler(t, r, n, nil, SchedulerConfig{})
	s.handle(context.Background(), events.TriggerEvent{Kind: events.TriggerOrderRejected, OrderID: "o1", CourierID: "c1"})
	assert.Empty(t, r.seen())
}

func TestStaleSweep(t *testing.T) {
	st := store.NewMemoryStore()
	fresh := model.Order{ID: "fresh", ForDispatch: true, Status: model.OrderAwaiting, CreatedAt: t0.Add(-time.Minute)}
	st.PutOrder(fresh)
	r := newFakeRunner()
	s := newTestScheduler(t, r, nil, st, SchedulerConfig{StaleAfterMinutes: 10, IdleCourierWarn: 1})

	s.sweep(context.Background())
	assert.Empty(t, r.seen())

	old := model.Order{ID: "old", ForDispatch: true, Status: model.OrderAwaiting, CreatedAt: t0.Add(-11 * time.Minute)}
	st.PutOrder(old)
	s.sweep(context.Background())
	assert.Equal(t, []string{"stale_orders"}, r.seen())
}

func TestStartStopLifecycle(t *testing.T) {
	r := newFakeRunner()
	s := newTestScheduler(t, r, nil, nil, SchedulerConfig{DisableTicker: true})
	bus := eventbus.New()
	defer bus.Close()
	s.SetBus(bus)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, s.Stats().Running)

	bus.Publish(events.TriggerEvent{Kind: events.TriggerManual})
	select {
	case trig := <-r.calls:
		assert.Equal(t, "manual", trig)
	case <-time.After(2 * time.Second):
		t.Fatalf("event did not trigger a run")
	}

	require.NoError(t, s.Restart(context.Background()))
	assert.True(t, s.Running())
	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

// gatedNotifier blocks every round until its context ends and release is closed.
type gatedNotifier struct {
	fakeNotifier
	entered chan struct{}
	release chan struct{}
}

func (g *gatedNotifier) Run(ctx context.Context, ids []string) notify.Outcome {
	out := g.fakeNotifier.Run(ctx, ids)
	g.entered <- struct{}{}
	<-ctx.Done()
	<-g.release
	return out
}

func (g *gatedNotifier) roundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rounds)
}

func TestTriggerDuringStopSendsNoOffers(t *testing.T) {
	first := ran(time.Millisecond, true)
	first.Assignments = map[string]string{"o1": "c1"}
	second := ran(time.Millisecond, true)
	second.Assignments = map[string]string{"o2": "c2"}
	r := newFakeRunner(first, second)
	n := &gatedNotifier{entered: make(chan struct{}, 4), release: make(chan struct{})}
	s := newTestScheduler(t, r, n, nil, SchedulerConfig{DisableTicker: true})
	require.NoError(t, s.Start(context.Background()))

	s.Trigger(context.Background(), events.TriggerManual)
	select {
	case <-n.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("offer round did not start")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stopping
	}, 2*time.Second, 5*time.Millisecond)

	res := s.Trigger(context.Background(), events.TriggerManual)
	assert.True(t, res.Success)
	close(n.release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not return")
	}
	assert.Equal(t, 1, n.roundCount())
	assert.Equal(t, []string{"manual", "manual"}, r.seen())
}

func TestTickerDrivesRuns(t *testing.T) {
	r := newFakeRunner()
	s := newTestScheduler(t, r, nil, nil, SchedulerConfig{DistributionIntervalSeconds: 1})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case trig := <-r.calls:
		assert.Equal(t, "tick", trig)
	case <-time.After(3 * time.Second):
		t.Fatalf("ticker did not trigger a run")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg SchedulerConfig
	cfg.SetDefaults()
	assert.Equal(t, 60, cfg.DistributionIntervalSeconds)
	assert.Equal(t, 30, cfg.StaleSweepIntervalSeconds)
	assert.Equal(t, 10, cfg.StaleAfterMinutes)
	assert.Equal(t, 15, cfg.OptimizationIntervalMinutes)
	assert.Equal(t, 1, cfg.NewOrderMinPending)
	assert.NoError(t, cfg.Validate())

	cfg.IdleCourierWarn = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	data := "distribution_interval_seconds: 90\nnew_order_min_pending: 3\n"
	cfg, err := DecodeConfig(bytes.NewBufferString(data), "yaml")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.DistributionIntervalSeconds != 90 || cfg.NewOrderMinPending != 3 {
		t.Fatalf("bad cfg %#v", cfg)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/cfg.json"
	if err := os.WriteFile(path, []byte(`{"stale_after_minutes":5,"retry_delay_ms":250}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StaleAfterMinutes != 5 || cfg.RetryDelayMS != 250 {
		t.Fatalf("bad cfg %#v", cfg)
	}
	_, err = LoadConfig(path + ".txt")
	if err == nil {
		t.Fatalf("expected error for wrong ext")
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := "optimization_interval_minutes: 20\ndisable_ticker: true"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OptimizationIntervalMinutes != 20 || !cfg.DisableTicker {
		t.Fatalf("bad cfg %#v", cfg)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := DecodeConfig(bytes.NewBufferString("{}"), "toml"); err == nil {
		t.Fatalf("expected error")
	}
	path := filepath.Join(t.TempDir(), "cfg.txt")
	if err := os.WriteFile(path, []byte("bad"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error")
	}
}
