package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mobility_matching"

var (
	SearchesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "searches_total", Help: "Total number of vehicle searches"})
	SearchLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "search_duration_seconds", Help: "Search latency seconds"})
	SearchResults  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "search_results", Help: "Vehicles returned per search", Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000}})
	WSSessions     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_sessions", Help: "Number of connected websocket sessions"})
	BookingsTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "bookings_total", Help: "Booking state transitions"}, []string{"status"})
	ProviderFetch  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "provider_fetch_total", Help: "Provider fetches by outcome"}, []string{"provider", "outcome"})
	ProviderCache  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "provider_cache_total", Help: "Provider cache lookups"}, []string{"provider", "result"})

	ProviderFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_fetch_duration_seconds",
			Help:      "Provider fetch latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Provider fetch outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)
