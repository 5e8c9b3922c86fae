package scenarios

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/core/dispatch"
	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/core/logger"
	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/notify"
	"github.com/aquamarket/dispatch/core/routing"
	"github.com/aquamarket/dispatch/core/store"
	"github.com/aquamarket/dispatch/core/zones"
)

// Report is what a replay produced.
type Report struct {
	Run     dispatch.RunResult
	Outcome *notify.Outcome
	// Retry is set when the offer round detached orders.
	Retry  *dispatch.RunResult
	Store  *store.MemoryStore
	Ledger *notify.Ledger
}

// Couriers returns every courier of the replayed store sorted by id.
func (r Report) Couriers(ctx context.Context) ([]model.Courier, error) {
	cs, err := r.Store.FindActiveCouriers(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	return cs, nil
}

// ReplayOptions tunes the offer round of a replay.
type ReplayOptions struct {
	Window       time.Duration
	PollInterval time.Duration
	Log          logger.Logger
}

// Replay seeds a fresh in-memory store with sc and runs one distribution.
// When the scenario asks for it, couriers are then offered their orders:
// silent couriers let the window lapse, the others start the order at once.
// Detached orders trigger one retry run.
func Replay(ctx context.Context, sc *Scenario, opts ReplayOptions) (Report, error) {
	if opts.Window <= 0 {
		opts.Window = 50 * time.Millisecond
	}
	if opts.PollInterval <= 0 || opts.PollInterval > opts.Window {
		opts.PollInterval = opts.Window / 5
	}
	st := store.NewMemoryStore()
	sc.Seed(st, time.Now())

	ledger := notify.NewLedger(30 * time.Minute)
	coord, err := dispatch.NewCoordinator(st,
		zones.NewBuilder(zones.Config{}),
		routing.NewSequencer(sc.RoutingConfig(), opts.Log),
		sc.DispatchConfig(), opts.Log)
	if err != nil {
		return Report{}, fmt.Errorf("coordinator: %w", err)
	}
	defer coord.Close()
	coord.SetExclusions(ledger)

	rep := Report{Store: st, Ledger: ledger}
	rep.Run = coord.Run(ctx, string(events.TriggerManual))
	if !sc.Notify || !rep.Run.Success {
		return rep, nil
	}

	silent := sc.SilentCouriers()
	gw := notify.GatewayFunc(func(ctx context.Context, o notify.Offer) error {
		if silent[o.CourierID] {
			return nil
		}
		return st.SetOrderStatus(ctx, o.Payload.OrderID, model.OrderOnTheWay)
	})
	proto, err := notify.NewProtocol(st, gw, ledger, notify.Config{
		WindowMS:       int(opts.Window / time.Millisecond),
		PollIntervalMS: int(opts.PollInterval / time.Millisecond),
	}, opts.Log)
	if err != nil {
		return rep, fmt.Errorf("protocol: %w", err)
	}
	out := proto.Run(ctx, rep.Run.CourierIDs())
	rep.Outcome = &out
	if out.Detached > 0 || out.RedistributionRequested {
		retry := coord.Run(ctx, string(events.TriggerRetry))
		rep.Retry = &retry
	}
	return rep, nil
}

// RunScenario replays sc and checks its expectations.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rep, err := Replay(ctx, sc, ReplayOptions{})
	require.NoError(t, err)
	require.False(t, rep.Run.Skipped, "run skipped")
	exp := sc.Expected

	if exp.Zones > 0 {
		assert.Equal(t, exp.Zones, rep.Run.ZonesCreated, "zones")
	}
	assert.Equal(t, exp.Unassigned, rep.Run.OrdersUnassigned, "unassigned orders: %+v", rep.Run.Unassigned)
	if exp.LeftoversPlaced != nil {
		assert.Equal(t, *exp.LeftoversPlaced, rep.Run.LeftoversPlaced, "orders placed by the leftover pass")
	}

	couriers, err := rep.Couriers(ctx)
	require.NoError(t, err)
	queues := map[string][]string{}
	for _, c := range couriers {
		for _, e := range c.OpenEntries() {
			queues[c.ID] = append(queues[c.ID], e.OrderID)
		}
		if exp.MaxPerCourier > 0 && c.Load() > exp.MaxPerCourier {
			t.Fatalf("courier %s holds %d orders, want at most %d", c.ID, c.Load(), exp.MaxPerCourier)
		}
	}
	for id, route := range exp.Routes {
		assert.Equal(t, route, queues[id], "route of %s", id)
	}
	for id, group := range exp.Groups {
		assert.ElementsMatch(t, group, queues[id], "orders of %s", id)
	}
	for _, ex := range exp.Excluded {
		assert.True(t, rep.Ledger.Excluded(ex.Order, ex.Courier), "%s should be excluded for %s", ex.Order, ex.Courier)
	}
	if len(exp.Reassigned) > 0 {
		require.NotNil(t, rep.Retry, "expected a retry run")
		for orderID, courierID := range exp.Reassigned {
			o, err := rep.Store.GetOrder(ctx, orderID)
			require.NoError(t, err)
			assert.Equal(t, courierID, o.CourierID, "holder of %s", orderID)
		}
	}
}
