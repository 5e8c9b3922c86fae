package events

import "time"

// OfferOutcome is the result of a single offer.
type OfferOutcome string

const (
	OfferSent     OfferOutcome = "sent"
	OfferAccepted OfferOutcome = "accepted"
	OfferTimedOut OfferOutcome = "timed_out"
	OfferRejected OfferOutcome = "rejected"
	OfferFailed   OfferOutcome = "failed"
)

// OfferEvent is published for each offer state change.
type OfferEvent struct {
	CourierID string
	OrderID   string
	Outcome   OfferOutcome
	Latency   time.Duration
}
