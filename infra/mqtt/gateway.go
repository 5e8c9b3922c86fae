package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aquamarket/dispatch/core/monitoring"
	"github.com/aquamarket/dispatch/core/notify"
	"github.com/aquamarket/dispatch/infra/logger"
)

// publisher is implemented by Conn.
type publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// OfferGateway publishes offers to courier topics. It implements
// notify.Gateway.
type OfferGateway struct {
	pub     publisher
	prefix  string
	qos     byte
	retries int
	backoff time.Duration
	limiter *rate.Limiter
	dedup   time.Duration
	log     logger.Logger
	now     func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewOfferGateway creates a gateway publishing through conn.
func NewOfferGateway(conn *Conn, cfg Config) (*OfferGateway, error) {
	if conn == nil {
		return nil, fmt.Errorf("nil parameter provided to NewOfferGateway")
	}
	return newOfferGateway(conn, cfg), nil
}

func newOfferGateway(pub publisher, cfg Config) *OfferGateway {
	cfg.SetDefaults()
	return &OfferGateway{
		pub:     pub,
		prefix:  strings.TrimSuffix(cfg.OfferTopicPrefix, "/"),
		qos:     cfg.qos("offer"),
		retries: cfg.MaxRetries,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		dedup:   time.Duration(cfg.DedupWindowSec) * time.Second,
		log:     logger.New("offer_gateway"),
		now:     time.Now,
		sent:    make(map[string]time.Time),
	}
}

// OfferTopic returns the topic a courier's app listens on.
func (g *OfferGateway) OfferTopic(courierID string) string {
	return fmt.Sprintf("%s/%s/offers", g.prefix, courierID)
}

// SendOffer publishes the offer. An identical courier/order offer sent
// within the dedup window is dropped.
func (g *OfferGateway) SendOffer(ctx context.Context, o notify.Offer) error {
	key := o.CourierID + "|" + o.Payload.OrderID
	if g.duplicate(key) {
		g.log.Debugf("offer %s to %s suppressed: sent within %s", o.Payload.OrderID, o.CourierID, g.dedup)
		return nil
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	topic := g.OfferTopic(o.CourierID)
	var publishErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		publishErr = g.pub.Publish(topic, g.qos, payload)
		if publishErr == nil {
			g.log.Infof("sent offer %s for order %s to %s", o.ID, o.Payload.OrderID, topic)
			g.mark(key)
			return nil
		}
		g.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt == g.retries {
			break
		}
		select {
		case <-time.After(g.backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{
		"module":     "mqtt",
		"courier_id": o.CourierID,
		"order_id":   o.Payload.OrderID,
	})
	return fmt.Errorf("publish offer to %s: %w", topic, publishErr)
}

func (g *OfferGateway) duplicate(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, at := range g.sent {
		if now.Sub(at) >= g.dedup {
			delete(g.sent, k)
		}
	}
	_, ok := g.sent[key]
	return ok
}

func (g *OfferGateway) mark(key string) {
	g.mu.Lock()
	g.sent[key] = g.now()
	g.mu.Unlock()
}
