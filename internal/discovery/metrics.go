package discovery

import "github.com/prometheus/client_golang/prometheus"

var (
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogram",
			Subsystem: "discovery",
			Name:      "scans_total",
			Help:      "Network scans by outcome.",
		}, []string{"result"})
	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "geogram",
			Subsystem: "discovery",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of a network scan.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		})
	lastScanResults = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "geogram",
			Subsystem: "discovery",
			Name:      "last_scan_results",
			Help:      "Devices found by the most recent scan.",
		})
)

func init() {
	prometheus.MustRegister(scansTotal, scanDuration, lastScanResults)
}
