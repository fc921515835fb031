// Package metrics exposes Prometheus instrumentation for the sentry pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts fusion cycles run.
	CyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentry_fusion_cycles_total",
			Help: "Total number of fusion cycles executed",
		},
	)

	// CycleDuration tracks how long one fusion cycle takes.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentry_fusion_cycle_duration_seconds",
			Help:    "Duration of a single fusion cycle",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	// AlertTransitions counts emitted alert states by level.
	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentry_alert_transitions_total",
			Help: "Alert state transitions emitted, by new level",
		},
		[]string{"level"},
	)

	// AlertLevel is the severity of the held alert (0 = Clear).
	AlertLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentry_alert_level",
			Help: "Severity of the current alert level (0=Clear, 1=LoudNoise, 2=Fighting, 3=Weapon)",
		},
	)

	// TracksActive is the number of live tracks.
	TracksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentry_tracks_active",
			Help: "Number of subjects currently tracked",
		},
	)

	// SignalActive is 1 when any vote of the kind was active in the last cycle.
	SignalActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentry_signal_active",
			Help: "Whether a signal kind voted active in the last cycle",
		},
		[]string{"kind"},
	)

	// DetectorInference tracks inference latency per detector.
	DetectorInference = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentry_detector_inference_seconds",
			Help:    "Inference latency per detector",
			Buckets: []float64{.005, .01, .025, .05, .1, .2, .4, .8, 1.6},
		},
		[]string{"detector"},
	)

	// DetectorTimeouts counts inferences that overran their budget.
	DetectorTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentry_detector_timeouts_total",
			Help: "Inferences abandoned after exceeding their timeout",
		},
		[]string{"detector"},
	)

	// DetectorErrors counts failed or rejected inferences by reason.
	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentry_detector_errors_total",
			Help: "Failed inferences and malformed results",
		},
		[]string{"detector", "reason"},
	)

	// SourceStale is 1 while a signal source is older than its staleness window.
	SourceStale = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentry_source_stale",
			Help: "Whether a signal source is currently stale",
		},
		[]string{"source"},
	)

	// BreakerState mirrors each detector circuit breaker (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentry_detector_breaker_state",
			Help: "Circuit breaker state per detector (0=closed, 1=half-open, 2=open)",
		},
		[]string{"detector"},
	)

	// AlertsDropped counts alerts discarded because the dispatch buffer was full.
	AlertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentry_alerts_dropped_total",
			Help: "Alert states dropped by the dispatcher",
		},
	)

	// SinkErrors counts failed deliveries per sink.
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentry_sink_errors_total",
			Help: "Failed alert deliveries per sink",
		},
		[]string{"sink"},
	)

	// IngestMessages counts messages received from edge nodes by type.
	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentry_ingest_messages_total",
			Help: "Messages received from edge nodes",
		},
		[]string{"type"},
	)

	// EdgeNodes is the number of connected edge nodes.
	EdgeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentry_edge_nodes_connected",
			Help: "Number of connected edge nodes",
		},
	)
)

// BoolGauge converts a flag to a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
