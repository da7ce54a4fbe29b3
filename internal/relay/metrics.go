package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogram",
			Subsystem: "relay",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by route and status code.",
		}, []string{"route", "code"})
	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "geogram",
			Subsystem: "relay",
			Name:      "websocket_clients",
			Help:      "Currently connected WebSocket clients.",
		})
	wsRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogram",
			Subsystem: "relay",
			Name:      "websocket_routed_total",
			Help:      "Signaling and file messages forwarded between clients, by type and outcome.",
		}, []string{"type", "result"})
	tileLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogram",
			Subsystem: "relay",
			Name:      "tile_lookups_total",
			Help:      "Tile lookups by the source that answered them.",
		}, []string{"source"})
	tileEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "geogram",
			Subsystem: "relay",
			Name:      "tile_evictions_total",
			Help:      "Tiles evicted from the memory cache.",
		})
	tileCacheBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "geogram",
			Subsystem: "relay",
			Name:      "tile_cache_bytes",
			Help:      "Bytes held by the memory tile cache.",
		})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, wsClients, wsRoutedTotal, tileLookupsTotal, tileEvictionsTotal, tileCacheBytes)
}
