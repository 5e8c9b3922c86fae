package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aquamarket/dispatch/core/events"
	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/infra/logger"
	"github.com/aquamarket/dispatch/internal/eventbus"
)

var messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_mqtt_events_total",
	Help: "Courier and order events received over MQTT by type",
}, []string{"type"})

func init() {
	prometheus.MustRegister(messagesTotal)
}

// statusType carries an order status change made in the courier app.
const statusType = "order_status"

// EventListener turns broker messages on the event topic into bus events.
// The message type comes from the "type" field or, when absent, from the
// last topic level (dispatch/events/order_created).
type EventListener struct {
	conn  *Conn
	topic string
	qos   byte
	bus   eventbus.EventBus
	log   logger.Logger
	now   func() time.Time
}

type eventMessage struct {
	Type      string `json:"type"`
	OrderID   string `json:"order_id"`
	CourierID string `json:"courier_id"`
	Status    string `json:"status"`
	TS        *int64 `json:"ts"`
}

// NewEventListener creates a listener publishing on bus.
func NewEventListener(conn *Conn, cfg Config, bus eventbus.EventBus) (*EventListener, error) {
	if conn == nil || bus == nil {
		return nil, fmt.Errorf("nil parameter provided to NewEventListener")
	}
	cfg.SetDefaults()
	return &EventListener{
		conn:  conn,
		topic: cfg.EventTopic,
		qos:   cfg.qos("events"),
		bus:   bus,
		log:   logger.New("event_listener"),
		now:   time.Now,
	}, nil
}

// Start subscribes to the event topic and blocks until ctx is done.
func (l *EventListener) Start(ctx context.Context) error {
	if err := l.conn.Subscribe(l.topic, l.qos, l.onMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", l.topic, err)
	}
	l.log.Infof("listening on %s", l.topic)
	<-ctx.Done()
	return nil
}

func (l *EventListener) onMessage(_ paho.Client, msg paho.Message) {
	if err := l.process(msg.Payload(), msg.Topic()); err != nil {
		l.log.Errorf("event decode on %s: %v", msg.Topic(), err)
	}
}

func extractType(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return ""
}

func (l *EventListener) process(payload []byte, topic string) error {
	var msg eventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if msg.Type == "" {
		msg.Type = extractType(topic)
	}
	at := l.now()
	if msg.TS != nil {
		at = time.UnixMilli(*msg.TS)
	}

	switch kind := events.TriggerKind(msg.Type); kind {
	case events.TriggerOrderCreated, events.TriggerCourierOnline, events.TriggerOrderCompleted,
		events.TriggerOrderRejected, events.TriggerManual:
		if kind == events.TriggerOrderRejected && (msg.OrderID == "" || msg.CourierID == "") {
			return fmt.Errorf("order_rejected needs order_id and courier_id")
		}
		l.bus.Publish(events.TriggerEvent{Kind: kind, OrderID: msg.OrderID, CourierID: msg.CourierID, At: at})
	case statusType:
		if msg.OrderID == "" || msg.Status == "" {
			return fmt.Errorf("order_status needs order_id and status")
		}
		l.bus.Publish(events.OrderStatusEvent{OrderID: msg.OrderID, CourierID: msg.CourierID, Status: msg.Status})
		if model.OrderStatus(msg.Status) == model.OrderDelivered {
			l.bus.Publish(events.TriggerEvent{Kind: events.TriggerOrderCompleted, OrderID: msg.OrderID, CourierID: msg.CourierID, At: at})
		}
	default:
		return fmt.Errorf("unknown event type %q", msg.Type)
	}
	messagesTotal.WithLabelValues(msg.Type).Inc()
	return nil
}
