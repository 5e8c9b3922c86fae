// Package metrics defines the sinks that record distribution runs and offer
// outcomes. Implementations live in infra/metrics and are created from
// configuration through the factory registry; several configured sinks are
// combined with a MultiSink.
package metrics
