package stun

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "geogram",
			Subsystem: "stun",
			Name:      "requests_total",
			Help:      "Number of binding requests answered.",
		})
	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogram",
			Subsystem: "stun",
			Name:      "dropped_total",
			Help:      "Number of datagrams dropped without a response.",
		}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(requestsTotal, droppedTotal)
}
