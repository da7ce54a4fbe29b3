package smtp

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogram",
			Subsystem: "smtp",
			Name:      "domain_deliveries_total",
			Help:      "Per-domain delivery attempts by result.",
		}, []string{"result"})
	mxLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogram",
			Subsystem: "smtp",
			Name:      "mx_lookups_total",
			Help:      "Mail exchanger resolutions by the source that answered.",
		}, []string{"source"})
)

func init() {
	prometheus.MustRegister(deliveriesTotal, mxLookupsTotal)
}
