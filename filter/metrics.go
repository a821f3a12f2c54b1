package filter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_decisions_total",
			Help: "Mitigation decisions taken by the gateway",
		},
		[]string{"action", "class"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_blocked_requests_total",
			Help: "Requests refused before reaching an upstream",
		},
		[]string{"target", "reason"},
	)

	ActiveForwards = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegisgate_active_forwards",
			Help: "Requests currently being proxied to an upstream",
		},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegisgate_upstream_duration_seconds",
			Help:    "Time taken by the upstream to answer a forwarded request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	AnomalyScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aegisgate_anomaly_score",
			Help: "Last anomaly score computed for a target",
		},
		[]string{"target"},
	)

	AttackModeActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegisgate_attack_mode",
			Help: "1 while attack mode is active",
		},
	)
)
