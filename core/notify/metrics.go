package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	offersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_offers_total",
			Help: "Offers sent to couriers by outcome",
		},
		[]string{"outcome"},
	)
	offerDecision = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_offer_decision_seconds",
			Help:    "Time between an offer and its acceptance or timeout",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30},
		},
	)
)

func init() {
	prometheus.MustRegister(offersTotal, offerDecision)
}
