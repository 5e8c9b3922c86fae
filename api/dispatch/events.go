package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

// NewEventHandler accepts trigger events from backends that cannot reach the
// broker and publishes them on the bus, e.g.
// {"kind":"order_rejected","order_id":"o1","courier_id":"c1"}.
func NewEventHandler(bus eventbus.EventBus, token string) http.Handler {
	return requireToken(token, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev events.TriggerEvent
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&ev); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateEvent(ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		bus.Publish(ev)
		w.WriteHeader(http.StatusAccepted)
	}))
}

func validateEvent(ev events.TriggerEvent) error {
	switch ev.Kind {
	case events.TriggerOrderCreated, events.TriggerCourierOnline, events.TriggerOrderCompleted, events.TriggerManual:
		return nil
	case events.TriggerOrderRejected:
		if ev.OrderID == "" || ev.CourierID == "" {
			return fmt.Errorf("order_rejected needs order_id and courier_id")
		}
		return nil
	}
	return fmt.Errorf("unsupported kind %q", ev.Kind)
}
