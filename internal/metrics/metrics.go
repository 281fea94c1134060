// Package metrics holds the Prometheus collectors of the tracker. They are
// registered on the default registry and served by the HTTP process at
// /metrics; the monitor process exposes the same registry on its own port.
package metrics

import (
	"cod-tracker/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cod_tasks_total",
			Help: "Tasks finished by the scheduler, by final status",
		},
		[]string{"status"},
	)

	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cod_tasks_enqueued_total",
			Help: "Enqueue calls by outcome",
		},
		[]string{"outcome"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cod_task_duration_seconds",
			Help:    "Task execution time",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"data_type"},
	)

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cod_provider_requests_total",
			Help: "Game data fetches by source and result",
		},
		[]string{"source", "result"},
	)

	MatchesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cod_matches_ingested_total",
			Help: "Match rows written to rolling tables",
		},
		[]string{"game_mode"},
	)

	FullmatchesPromoted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cod_fullmatches_promoted_total",
			Help: "Match ids promoted into fullmatches, by outcome",
		},
		[]string{"game_mode", "outcome"},
	)

	BackoffTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cod_backoff_total",
			Help: "Backoff pauses by reason",
		},
		[]string{"reason"},
	)

	TrackerStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cod_tracker_status",
			Help: "Tracker status: 1=active, 0=inactive, 2=break",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cod_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open",
		},
		[]string{"name"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cod_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
)

func ObserveStatus(status domain.TrackerStatus) {
	switch status {
	case domain.TrackerActive:
		TrackerStatus.Set(1)
	case domain.TrackerBreak:
		TrackerStatus.Set(2)
	default:
		TrackerStatus.Set(0)
	}
}
