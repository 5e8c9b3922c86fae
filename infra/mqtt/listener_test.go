package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

func newTestListener(t *testing.T) (*EventListener, *mockClient, <-chan eventbus.Event) {
	t.Helper()
	mc := &mockClient{}
	withMockClient(t, mc)
	conn, err := Dial(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	l, err := NewEventListener(conn, Config{}, bus)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }
	return l, mc, bus.Subscribe()
}

func next(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event published")
		return nil
	}
}

func TestProcessTypeFromTopic(t *testing.T) {
	l, _, ch := newTestListener(t)
	require.NoError(t, l.process([]byte(`{"order_id":"o1"}`), "dispatch/events/order_created"))
	ev := next(t, ch).(events.TriggerEvent)
	assert.Equal(t, events.TriggerOrderCreated, ev.Kind)
	assert.Equal(t, "o1", ev.OrderID)
	assert.Equal(t, l.now(), ev.At)
}

func TestProcessTypeFromPayload(t *testing.T) {
	l, _, ch := newTestListener(t)
	payload := `{"type":"order_rejected","order_id":"o1","courier_id":"c1","ts":1792400000000}`
	require.NoError(t, l.process([]byte(payload), "dispatch/events"))
	ev := next(t, ch).(events.TriggerEvent)
	assert.Equal(t, events.TriggerOrderRejected, ev.Kind)
	assert.Equal(t, "c1", ev.CourierID)
	assert.Equal(t, int64(1792400000000), ev.At.UnixMilli())
}

func TestDeliveredStatusAlsoCompletes(t *testing.T) {
	l, _, ch := newTestListener(t)
	payload := `{"order_id":"o1","courier_id":"c1","status":"delivered"}`
	require.NoError(t, l.process([]byte(payload), "dispatch/events/order_status"))
	st := next(t, ch).(events.OrderStatusEvent)
	assert.Equal(t, "delivered", st.Status)
	tr := next(t, ch).(events.TriggerEvent)
	assert.Equal(t, events.TriggerOrderCompleted, tr.Kind)
	assert.Equal(t, "c1", tr.CourierID)
}

func TestProcessRejectsBadMessages(t *testing.T) {
	l, _, _ := newTestListener(t)
	cases := map[string]struct {
		payload string
		topic   string
	}{
		"not json":         {`nope`, "dispatch/events/order_created"},
		"unknown type":     {`{}`, "dispatch/events/weather"},
		"reject no order":  {`{"courier_id":"c1"}`, "dispatch/events/order_rejected"},
		"status no status": {`{"order_id":"o1"}`, "dispatch/events/order_status"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, l.process([]byte(tc.payload), tc.topic))
		})
	}
}

func TestStartSubscribesAndForwards(t *testing.T) {
	l, mc, ch := newTestListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	require.Eventually(t, func() bool {
		mc.mu.Lock()
		defer mc.mu.Unlock()
		return mc.handlers["dispatch/events/#"] != nil
	}, time.Second, 5*time.Millisecond)
	mc.deliver("dispatch/events/#", "dispatch/events/courier_online", []byte(`{"courier_id":"c7"}`))
	ev := next(t, ch).(events.TriggerEvent)
	assert.Equal(t, events.TriggerCourierOnline, ev.Kind)

	cancel()
	require.NoError(t, <-done)
}
