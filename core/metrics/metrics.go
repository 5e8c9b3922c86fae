package metrics

import "time"

// RunRecord summarises one distribution run.
type RunRecord struct {
	RunID       string
	Trigger     string
	Success     bool
	Stage       string
	Kind        string
	Zones       int
	Distributed int
	Unassigned  int
	Couriers    int
	Swaps       int
	SolverUsed  bool
	Duration    time.Duration
	Time        time.Time
}

// MetricsSink records distribution runs.
type MetricsSink interface {
	RecordRun(rec RunRecord) error
}

// OfferRecord captures the outcome of one offer to a courier.
type OfferRecord struct {
	CourierID string
	OrderID   string
	Outcome   string
	Latency   time.Duration
	Time      time.Time
}

// OfferRecorder is implemented by sinks able to record offers.
type OfferRecorder interface {
	RecordOffer(rec OfferRecord) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordRun(RunRecord) error     { return nil }
func (NopSink) RecordOffer(OfferRecord) error { return nil }
