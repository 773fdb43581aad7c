package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loggate_records_ingested_total",
		Help: "The total number of log records accepted for processing",
	}, []string{"level", "service"})

	AlertsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loggate_alerts_triggered_total",
		Help: "Total alerts emitted by the rule engine",
	}, []string{"rule", "severity"})

	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loggate_alerts_suppressed_total",
		Help: "Trigger attempts swallowed by cooldown or hourly caps",
	}, []string{"rule", "reason"})

	ActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loggate_action_failures_total",
		Help: "Alert action dispatches that returned an error",
	}, []string{"action"})

	AuditAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loggate_audit_appends_total",
		Help: "Entries appended to the audit chain",
	})

	AuditArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loggate_audit_archived_total",
		Help: "Entries evicted from the in-memory chain window",
	})

	AuditExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loggate_audit_expired_total",
		Help: "Entries removed by retention policies",
	})

	BatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loggate_batch_latency_seconds",
		Help:    "Batch processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"priority"})

	BatchTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loggate_batch_timeouts_total",
		Help: "Batches abandoned because their deadline elapsed",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loggate_cache_hits_total",
		Help: "Optimizer cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loggate_cache_misses_total",
		Help: "Optimizer cache misses",
	})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loggate_http_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
