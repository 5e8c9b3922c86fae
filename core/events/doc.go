// Package events defines the dispatch related events emitted on the event bus.
//
// Available event types:
//   - TriggerEvent: something happened that may require a distribution run
//   - OrderStatusEvent: an order changed status through the courier channel
//   - StageEvent: a distribution run entered a new stage
//   - RunEvent: a distribution run finished
//   - OfferEvent: an offer was sent, accepted, rejected or timed out
package events
