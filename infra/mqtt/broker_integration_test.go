//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/core/notify"
	"github.com/aquamarket/dispatch/internal/eventbus"
	"github.com/aquamarket/dispatch/test/util"
)

func TestBrokerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	broker, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("mosquitto container unavailable: %v", err)
	}
	defer cleanup()

	cfg := Config{Broker: broker, ClientID: "dispatch-it"}
	cfg.SetDefaults()
	conn, err := Dial(cfg)
	require.NoError(t, err)
	defer conn.Disconnect()

	offers := make(chan notify.Offer, 1)
	require.NoError(t, conn.Subscribe("couriers/c1/offers", 1, func(_ paho.Client, m paho.Message) {
		var o notify.Offer
		if err := json.Unmarshal(m.Payload(), &o); err == nil {
			offers <- o
		}
	}))
	gw, err := NewOfferGateway(conn, cfg)
	require.NoError(t, err)
	require.NoError(t, gw.SendOffer(ctx, testOffer("c1", "o1")))
	select {
	case o := <-offers:
		assert.Equal(t, "o1", o.Payload.OrderID)
	case <-time.After(5 * time.Second):
		t.Fatal("offer not delivered")
	}

	bus := eventbus.New()
	defer bus.Close()
	sub := bus.Subscribe()
	l, err := NewEventListener(conn, cfg, bus)
	require.NoError(t, err)
	lctx, lcancel := context.WithCancel(ctx)
	defer lcancel()
	go func() { _ = l.Start(lctx) }()

	// The subscription is asynchronous: publish until the listener picks it up.
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-sub:
			tr, ok := ev.(events.TriggerEvent)
			require.True(t, ok, "unexpected event %T", ev)
			assert.Equal(t, events.TriggerOrderCreated, tr.Kind)
			assert.Equal(t, "o9", tr.OrderID)
			return
		case <-tick.C:
			require.NoError(t, conn.Publish("dispatch/events/order_created", 1, []byte(`{"order_id":"o9"}`)))
		case <-deadline:
			t.Fatal("event not received")
		}
	}
}
