// Package scheduler drives distribution runs. It fires them on fixed
// cadences, reacts to order and courier events from the bus and hands the
// couriers that received orders to the offer protocol.
package scheduler
