package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/core/events"
	coremetrics "github.com/aquamarket/dispatch/core/metrics"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)

	require.NoError(t, s.RecordRun(coremetrics.RunRecord{Trigger: "tick", Success: true, Couriers: 3}))
	require.NoError(t, s.RecordRun(coremetrics.RunRecord{Trigger: "tick", Success: true, Couriers: 2}))
	require.NoError(t, s.RecordOffer(coremetrics.OfferRecord{Outcome: "accepted", Latency: 2 * time.Second}))
	require.NoError(t, s.RecordOffer(coremetrics.OfferRecord{Outcome: "sent"}))

	assert.Equal(t, 2.0, testutil.ToFloat64(s.runs.WithLabelValues("tick", "true", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.couriers))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.offers.WithLabelValues("accepted")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.offerLatency))
}

func TestPromSinkReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(reg)
	require.NoError(t, err)
	require.NoError(t, a.RecordOffer(coremetrics.OfferRecord{Outcome: "rejected"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.offers.WithLabelValues("rejected")))
}

func TestEventCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewEventCollector(reg)
	require.NoError(t, err)
	bus := eventbus.New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, bus)

	bus.Publish(events.TriggerEvent{Kind: events.TriggerOrderCreated})
	bus.Publish(events.StageEvent{RunID: "r", Stage: "allocating"})
	bus.Publish(events.StageEvent{RunID: "r", Stage: "done"})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.stage.WithLabelValues("done")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.triggers.WithLabelValues("order_created")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.stage))
}
