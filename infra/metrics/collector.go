package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

// EventCollector turns bus events into Prometheus series: incoming triggers
// by kind and the stage of the current run.
type EventCollector struct {
	triggers *prometheus.CounterVec
	stage    *prometheus.GaugeVec
}

// NewEventCollector registers the collector metrics on reg, or on the
// default registerer when reg is nil.
func NewEventCollector(reg prometheus.Registerer) (*EventCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	triggers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_triggers_total",
		Help: "Trigger events received on the bus by kind",
	}, []string{"kind"})
	stage := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_stage",
		Help: "1 for the stage the coordinator is in",
	}, []string{"stage"})
	if err := reg.Register(triggers); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			triggers = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(stage); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			stage = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	return &EventCollector{triggers: triggers, stage: stage}, nil
}

// Start subscribes to the bus and records events until ctx is canceled.
func (c *EventCollector) Start(ctx context.Context, bus eventbus.EventBus) {
	if bus == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				c.observe(ev)
			}
		}
	}()
}

func (c *EventCollector) observe(ev eventbus.Event) {
	switch e := ev.(type) {
	case events.TriggerEvent:
		c.triggers.WithLabelValues(string(e.Kind)).Inc()
	case events.StageEvent:
		c.stage.Reset()
		c.stage.WithLabelValues(e.Stage).Set(1)
	}
}
