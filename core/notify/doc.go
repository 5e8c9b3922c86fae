// Package notify runs the offer protocol between the engine and couriers.
//
// Each courier with queued orders is offered its first unconfirmed entry and
// given a bounded window to start it. Silence or an explicit rejection bans
// the pairing in the Ledger, detaches the order and moves on to the next
// entry. Couriers are processed concurrently; a single courier never twice
// at the same time.
package notify
