package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aquamarket/dispatch/core/logger"
	"github.com/aquamarket/dispatch/core/model"
)

// OfferTitle is the title of every offer notification.
const OfferTitle = "New order"

// OfferStatus tags the payload so the courier app can route the push.
const OfferStatus = "newOrder"

// Offer is one push notification proposing an order to a courier.
type Offer struct {
	ID        string       `json:"id"`
	CourierID string       `json:"courier_id"`
	Token     string       `json:"token,omitempty"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	Payload   OfferPayload `json:"payload"`
}

// OfferPayload carries what the courier app needs to display the order.
type OfferPayload struct {
	Status       string         `json:"status"`
	OrderID      string         `json:"order_id"`
	Point        model.Point    `json:"point"`
	Address      string         `json:"address"`
	Products     model.Products `json:"products"`
	DepotPoint   model.Point    `json:"depot_point"`
	DepotAddress string         `json:"depot_address"`
	Step         model.Step     `json:"step"`
}

// Gateway delivers offers. Delivery is fire-and-forget: the protocol owns
// the decision window.
type Gateway interface {
	SendOffer(ctx context.Context, o Offer) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, o Offer) error

func (f GatewayFunc) SendOffer(ctx context.Context, o Offer) error { return f(ctx, o) }

// LogGateway only logs offers. It stands in when no push transport is
// configured.
type LogGateway struct {
	Log logger.Logger
}

func (g LogGateway) SendOffer(_ context.Context, o Offer) error {
	logger.OrNop(g.Log).Infof("offer %s for order %s to courier %s: %s", o.ID, o.Payload.OrderID, o.CourierID, o.Body)
	return nil
}

// NewOffer builds the offer for a queue entry.
func NewOffer(co model.Courier, e model.QueueEntry) Offer {
	return Offer{
		ID:        uuid.NewString(),
		CourierID: co.ID,
		Token:     co.PushToken,
		Title:     OfferTitle,
		Body:      OfferBody(e.Products, e.DepotAddress),
		Payload: OfferPayload{
			Status:       OfferStatus,
			OrderID:      e.OrderID,
			Point:        e.Point,
			Address:      e.Address,
			Products:     e.Products,
			DepotPoint:   e.DepotPoint,
			DepotAddress: e.DepotAddress,
			Step:         e.Step,
		},
	}
}

// OfferBody renders the notification text. Products with zero quantity are
// omitted.
func OfferBody(p model.Products, depotAddress string) string {
	var b strings.Builder
	if n := p[model.SKU19L]; n > 0 {
		fmt.Fprintf(&b, "%d bottles 19L. ", n)
	}
	if n := p[model.SKU12L5]; n > 0 {
		fmt.Fprintf(&b, "%d bottles 12.5L. ", n)
	}
	b.WriteString("Pick up from aquamarket: ")
	b.WriteString(depotAddress)
	return b.String()
}
