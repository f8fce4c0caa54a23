// Package metrics provides Prometheus metrics for alerthub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alerthub"

// Engine metrics
var (
	// AlertsSubmittedTotal counts enriched submissions by priority.
	AlertsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "alerts_submitted_total",
			Help:      "Total alerts submitted after enrichment",
		},
		[]string{"priority"},
	)

	// AlertsCoercedTotal counts producer fields replaced by defaults.
	AlertsCoercedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "alerts_coerced_total",
			Help:      "Producer fields coerced to defaults during enrichment",
		},
		[]string{"field"},
	)

	// DedupMergesTotal counts submissions merged into an existing alert.
	DedupMergesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "dedup_merges_total",
			Help:      "Total duplicate submissions merged into active alerts",
		},
	)

	// AlertsAcknowledgedTotal counts successful acknowledgements.
	AlertsAcknowledgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "alerts_acknowledged_total",
			Help:      "Total alerts acknowledged",
		},
	)

	// AlertsDismissedTotal counts dismissals by reason.
	AlertsDismissedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "alerts_dismissed_total",
			Help:      "Total alerts dismissed",
		},
		[]string{"reason"},
	)

	// EscalationsTotal counts derived alerts by handler.
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "escalations_total",
			Help:      "Total alerts derived by escalation handlers",
		},
		[]string{"handler"},
	)

	// ActiveAlerts tracks the size of the active set.
	ActiveAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active_alerts",
			Help:      "Number of alerts currently active",
		},
	)

	// HistoryEntries tracks the size of the history ring.
	HistoryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "history_entries",
			Help:      "Number of entries held in alert history",
		},
	)

	// QueueDepth tracks pending non-critical submissions.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Pending alerts waiting for the batch processor",
		},
	)

	// BacklogWarningsTotal counts crossings of the backlog threshold.
	BacklogWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "backlog_warnings_total",
			Help:      "Times the ingestion backlog crossed its warning threshold",
		},
	)

	// BatchDuration tracks batch processing latency.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "batch_duration_seconds",
			Help:      "Batch processing latency in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)
)

// Delivery metrics
var (
	// SubscriberPanicsTotal counts recovered subscriber failures.
	SubscriberPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "subscriber_panics_total",
			Help:      "Subscriber callbacks that panicked during delivery",
		},
	)

	// Subscribers tracks registered subscribers.
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "subscribers",
			Help:      "Number of registered lifecycle subscribers",
		},
	)

	// EventsPublishedTotal counts NATS lifecycle event publishes by result.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "nats_events_total",
			Help:      "Lifecycle events handed to NATS by result",
		},
		[]string{"result"}, // queued, error, dropped
	)

	// SSEClients tracks connected server-sent-event clients.
	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "sse_clients",
			Help:      "Number of connected event stream clients",
		},
	)

	// SSEDroppedTotal counts events skipped for slow stream clients.
	SSEDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "sse_dropped_total",
			Help:      "Events dropped for slow event stream clients",
		},
	)
)

// Ingest metrics
var (
	// IngestMessagesTotal counts producer payloads by transport and result.
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Producer payloads received by transport and result",
		},
		[]string{"transport", "result"}, // http|nats, accepted|invalid|error
	)

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

// Journal metrics
var (
	// JournalWritesTotal counts critical journal writes by result.
	JournalWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "writes_total",
			Help:      "Critical journal writes by result",
		},
		[]string{"result"}, // ok, error, dropped
	)

	// JournalPrunedTotal counts entries removed by retention pruning.
	JournalPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "pruned_total",
			Help:      "Critical journal entries removed by retention",
		},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "mode"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, mode string) {
	BuildInfo.WithLabelValues(version, mode).Set(1)
}
