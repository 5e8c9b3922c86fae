package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	ordersDistributed prometheus.Counter
	ordersUnassigned  prometheus.Gauge
	zonesCreated      prometheus.Gauge
	swapsTotal        prometheus.Counter
	solverFallbacks   prometheus.Counter
	commitFailures    *prometheus.CounterVec
)

func newCollectors() (*prometheus.CounterVec, prometheus.Histogram, prometheus.Counter, prometheus.Gauge, prometheus.Gauge, prometheus.Counter, prometheus.Counter, *prometheus.CounterVec) {
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_runs_total",
			Help: "Distribution runs by result",
		},
		[]string{"result"},
	)
	dur := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_run_duration_seconds",
			Help:    "Wall time of distribution runs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	dist := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_orders_distributed_total",
			Help: "Orders assigned to couriers",
		},
	)
	unassigned := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_orders_unassigned",
			Help: "Orders left unassigned by the last run",
		},
	)
	zones := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_zones_created",
			Help: "Zones built by the last run",
		},
	)
	swaps := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_swaps_total",
			Help: "Cross-courier order swaps committed",
		},
	)
	fallbacks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_solver_fallbacks_total",
			Help: "Runs that fell back to heuristic sequencing after a solver failure",
		},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_commit_failures_total",
			Help: "Skipped order/courier writes by kind",
		},
		[]string{"kind"},
	)
	return runs, dur, dist, unassigned, zones, swaps, fallbacks, failures
}

func init() {
	runsTotal, runDuration, ordersDistributed, ordersUnassigned, zonesCreated, swapsTotal, solverFallbacks, commitFailures = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(runsTotal, runDuration, ordersDistributed, ordersUnassigned, zonesCreated, swapsTotal, solverFallbacks, commitFailures)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	runsTotal, runDuration, ordersDistributed, ordersUnassigned, zonesCreated, swapsTotal, solverFallbacks, commitFailures = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

func observeRun(res RunResult) {
	switch {
	case res.Skipped:
		runsTotal.WithLabelValues("skipped").Inc()
		return
	case res.Success:
		runsTotal.WithLabelValues("success").Inc()
	default:
		runsTotal.WithLabelValues("failed").Inc()
	}
	runDuration.Observe(res.Duration().Seconds())
	ordersDistributed.Add(float64(res.OrdersDistributed))
	ordersUnassigned.Set(float64(res.OrdersUnassigned))
	zonesCreated.Set(float64(res.ZonesCreated))
	for _, f := range res.Failures {
		commitFailures.WithLabelValues(string(f.Kind)).Inc()
	}
}
