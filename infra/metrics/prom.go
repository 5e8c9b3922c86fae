package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/aquamarket/dispatch/core/metrics"
)

// PromSink records runs and offers in Prometheus metrics.
type PromSink struct {
	runs         *prometheus.CounterVec
	couriers     prometheus.Gauge
	offers       *prometheus.CounterVec
	offerLatency *prometheus.HistogramVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sink_runs_total",
		Help: "Distribution runs by trigger, success and solver use",
	}, []string{"trigger", "success", "solver"})
	couriers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_couriers_used",
		Help: "Couriers that received orders in the last run",
	})
	offers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sink_offers_total",
		Help: "Offers by outcome",
	}, []string{"outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_offer_latency_seconds",
		Help:    "Time between sending an offer and its outcome",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30},
	}, []string{"outcome"})

	if err := reg.Register(runs); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			runs = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(couriers); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			couriers = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(offers); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			offers = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}

	return &PromSink{runs: runs, couriers: couriers, offers: offers, offerLatency: latency}, nil
}

// RecordRun counts the run and sets the couriers gauge.
func (s *PromSink) RecordRun(rec coremetrics.RunRecord) error {
	s.runs.WithLabelValues(rec.Trigger, strconv.FormatBool(rec.Success), strconv.FormatBool(rec.SolverUsed)).Inc()
	s.couriers.Set(float64(rec.Couriers))
	return nil
}

// RecordOffer counts the offer outcome and observes its latency when known.
func (s *PromSink) RecordOffer(rec coremetrics.OfferRecord) error {
	s.offers.WithLabelValues(rec.Outcome).Inc()
	if rec.Latency > 0 {
		s.offerLatency.WithLabelValues(rec.Outcome).Observe(rec.Latency.Seconds())
	}
	return nil
}
