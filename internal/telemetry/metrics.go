package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TransitionsTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "boss_office_transitions_total", Help: "Committed job status transitions"}, []string{"from", "to", "actor"})
	TransitionRejections = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "boss_office_transition_rejections_total", Help: "Transitions refused by validation"}, []string{"reason"})
	StatusConflicts      = prometheus.NewCounter(prometheus.CounterOpts{Name: "boss_office_status_conflicts_total", Help: "Transitions that lost the status compare-and-set"})
	AuditQueries         = prometheus.NewCounter(prometheus.CounterOpts{Name: "boss_office_audit_queries_total", Help: "Audit log page reads"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "boss_office_rate_limit_rejects_total", Help: "Boss actions rejected by rate limiter"})
	DispatchSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "boss_office_dispatch_submitted_total", Help: "Jobs accepted by the Factory"})
	DispatchRetries      = prometheus.NewCounter(prometheus.CounterOpts{Name: "boss_office_dispatch_retries_total", Help: "Factory submissions scheduled for retry"})
	DispatchFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "boss_office_dispatch_failed_total", Help: "Jobs that exhausted their Factory submission attempts"})
	DispatchQueueDepth   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "boss_office_dispatch_queue_depth", Help: "Jobs waiting for Factory submission"})
	ArchiveFailures      = prometheus.NewCounter(prometheus.CounterOpts{Name: "boss_office_archive_failures_total", Help: "Audit trail archives that could not be written"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionsTotal,
			TransitionRejections,
			StatusConflicts,
			AuditQueries,
			RateLimitRejects,
			DispatchSubmitted,
			DispatchRetries,
			DispatchFailed,
			DispatchQueueDepth,
			ArchiveFailures,
		)
	})
	return promhttp.Handler()
}
