package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Indexer stage counters and histograms.

var (
	// Event source
	SourceEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "source",
		Name:      "events_received_total",
		Help:      "Total contract events decoded and handed to the ingest queue",
	}, []string{"kind"})

	SourceEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "source",
		Name:      "events_dropped_total",
		Help:      "Total contract logs dropped before ingestion",
	}, []string{"reason"})

	// Ingest queue
	QueueFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "flushes_total",
		Help:      "Total debounced batches handed to the reconciler",
	})

	QueueBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "batch_size",
		Help:      "Events per flushed batch",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	QueuePendingDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "queue",
		Name:      "pending_depth",
		Help:      "Events currently waiting for the quiet period to elapse",
	})

	// Reconciler
	ReconcilerEventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "reconciler",
		Name:      "events_applied_total",
		Help:      "Total events applied to storage",
	}, []string{"kind"})

	ReconcilerApplyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "reconciler",
		Name:      "apply_errors_total",
		Help:      "Total events whose apply failed and was skipped",
	}, []string{"kind"})

	ReconcilerStaleRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "reconciler",
		Name:      "stale_removals_total",
		Help:      "Total SubscriptionRemoved events rejected by the block-height guard",
	})

	ReconcilerBatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "reconciler",
		Name:      "batch_duration_seconds",
		Help:      "Reconciler batch processing duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// Ghost membership
	MembershipRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "membership",
		Name:      "removals_total",
		Help:      "Total Ghost members deleted on subscription removal",
	})

	MembershipLookupMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "membership",
		Name:      "lookup_misses_total",
		Help:      "Total removals where no live Ghost member was found",
	})

	MembershipErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "membership",
		Name:      "errors_total",
		Help:      "Total Ghost Admin API failures",
	})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total Ethereum RPC calls by method and outcome",
	}, []string{"method", "status"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total times RPC calls waited for the rate limiter",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
