package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_started_total",
			Help: "Total number of pipeline runs started",
		},
		[]string{"force_refresh"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_completed_total",
			Help: "Total number of pipeline runs completed by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
	)

	RunCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_run_cost_usd",
			Help:    "Total provider cost per run in USD",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	ConfidenceScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_confidence_score",
			Help:    "Final confidence score per run",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	CompletenessScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_completeness_score",
			Help:    "Profile completeness score per run",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	ReworkPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_rework_passes_total",
			Help: "Total number of rework research passes issued",
		},
	)

	// Phase metrics
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_phase_transitions_total",
			Help: "Total recorded phase transitions",
		},
		[]string{"phase"},
	)

	// Provider metrics
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_provider_calls_total",
			Help: "Total provider adapter calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_provider_cost_usd_total",
			Help: "Cumulative provider-reported cost in USD",
		},
		[]string{"provider"},
	)

	// Media metrics
	MediaAssets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_media_assets_total",
			Help: "Media assets by terminal status",
		},
		[]string{"status"},
	)

	// Knowledge graph metrics
	GraphPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_graph_publishes_total",
			Help: "Knowledge graph summary publications by outcome",
		},
		[]string{"outcome"},
	)
)
