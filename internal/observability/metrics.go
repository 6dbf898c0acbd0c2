package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cargo_dispatch", Name: "bookings_created_total", Help: "Total bookings created"})
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cargo_dispatch", Name: "status_transitions_total", Help: "Booking status transitions applied"},
		[]string{"to"},
	)
	TransitionsRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cargo_dispatch", Name: "status_transitions_rejected_total", Help: "Booking status transitions rejected by the state machine"})

	RouteFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cargo_dispatch", Name: "route_fallbacks_total", Help: "Route requests answered by the synthetic fallback"})
	RouteCacheHits = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cargo_dispatch", Name: "route_cache_hits_total", Help: "Route requests answered from the per-session cache"})

	LocationPublishes = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cargo_dispatch", Name: "location_publishes_total", Help: "Worker location records published"})
	WorkersOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "cargo_dispatch", Name: "workers_online", Help: "Workers currently online"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cargo_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cargo_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
