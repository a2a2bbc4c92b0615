// internal/dating/metrics.go

package dating

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	likesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dating_likes_total",
			Help: "Like, approve and reject actions by resulting state",
		},
		[]string{"action", "state"},
	)

	matchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dating_matches_total",
			Help: "Total number of matches created",
		},
	)

	recommendationsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dating_recommendations_served_total",
			Help: "Recommendations returned by scoring method",
		},
		[]string{"method"},
	)

	recommendationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dating_recommendation_duration_seconds",
			Help:    "Time to score and rank candidates",
			Buckets: prometheus.DefBuckets,
		},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dating_events_total",
			Help: "Match events by type and delivery",
		},
		[]string{"type", "delivery"},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dating_websocket_connections",
			Help: "Open live channels",
		},
	)
)
