// Package metrics provides the daemon's Prometheus metrics, organized by
// category the way pkg/metrics's registry did for its service, but
// re-scoped to pimsyncd's own domain: sessions, the scheduler queue,
// presence, and auto-sync outcomes.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultNamespace = "pimsyncd"

// Registry is the central handle for all daemon metrics, lazily
// initializing each category on first access.
type Registry struct {
	namespace string

	sessions  *SessionMetrics
	scheduler *SchedulerMetrics
	presence  *PresenceMetrics
	autosync  *AutoSyncMetrics
	retry     *RetryMetrics
	bus       *BusMetrics

	sessionsOnce  sync.Once
	schedulerOnce sync.Once
	presenceOnce  sync.Once
	autosyncOnce  sync.Once
	retryOnce     sync.Once
	busOnce       sync.Once
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide Registry singleton.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = New(defaultNamespace)
	})
	return defaultRegistry
}

// New creates a Registry under the given namespace. Most callers should
// use Default(); New exists for tests that want isolated metric names.
func New(namespace string) *Registry {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Registry{namespace: namespace}
}

// Sessions returns the session lifecycle metrics (component E).
func (r *Registry) Sessions() *SessionMetrics {
	r.sessionsOnce.Do(func() {
		r.sessions = newSessionMetrics(r.namespace)
	})
	return r.sessions
}

// Scheduler returns the scheduler queue metrics (component H).
func (r *Registry) Scheduler() *SchedulerMetrics {
	r.schedulerOnce.Do(func() {
		r.scheduler = newSchedulerMetrics(r.namespace)
	})
	return r.scheduler
}

// Presence returns the presence monitor metrics (component I).
func (r *Registry) Presence() *PresenceMetrics {
	r.presenceOnce.Do(func() {
		r.presence = newPresenceMetrics(r.namespace)
	})
	return r.presence
}

// AutoSync returns the auto-sync manager metrics (component J).
func (r *Registry) AutoSync() *AutoSyncMetrics {
	r.autosyncOnce.Do(func() {
		r.autosync = newAutoSyncMetrics(r.namespace)
	})
	return r.autosync
}

// Retry returns a resilience.Recorder-compatible metrics sink.
func (r *Registry) Retry() *RetryMetrics {
	r.retryOnce.Do(func() {
		r.retry = newRetryMetrics(r.namespace)
	})
	return r.retry
}

// Bus returns the object-bus/signal-hub metrics (internal/bus).
func (r *Registry) Bus() *BusMetrics {
	r.busOnce.Do(func() {
		r.bus = newBusMetrics(r.namespace)
	})
	return r.bus
}

// SessionMetrics instruments component E.
type SessionMetrics struct {
	Started    *prometheus.CounterVec
	Finished   *prometheus.CounterVec
	Active     prometheus.Gauge
	Duration   *prometheus.HistogramVec
	Progress   prometheus.Histogram
}

func newSessionMetrics(namespace string) *SessionMetrics {
	return &SessionMetrics{
		Started: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "started_total",
			Help: "Sessions created, by priority.",
		}, []string{"priority"}),
		Finished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "finished_total",
			Help: "Sessions reaching DONE, by outcome.",
		}, []string{"outcome"}),
		Active: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "active",
			Help: "Sessions currently in RUNNING.",
		}),
		Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "session", Name: "duration_seconds",
			Help:    "Wall time from RUNNING to DONE.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"outcome"}),
		Progress: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "session", Name: "final_progress_percent",
			Help:    "Reported progress percentage at session end.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
}

// SchedulerMetrics instruments component H.
type SchedulerMetrics struct {
	QueueDepth    prometheus.Gauge
	Activations   prometheus.Counter
	KillsByDevice prometheus.Counter
	InfoRequests  *prometheus.CounterVec
}

func newSchedulerMetrics(namespace string) *SchedulerMetrics {
	return &SchedulerMetrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "queue_depth",
			Help: "Sessions currently queued, awaiting activation.",
		}),
		Activations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "activations_total",
			Help: "Sessions promoted from QUEUED to IDLE.",
		}),
		KillsByDevice: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "device_kills_total",
			Help: "Sessions aborted to make room for a newer one from the same device.",
		}),
		InfoRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "info_requests_total",
			Help: "Info requests brokered, by type.",
		}, []string{"type"}),
	}
}

// PresenceMetrics instruments component I.
type PresenceMetrics struct {
	Edges  *prometheus.CounterVec
	Online *prometheus.GaugeVec
}

func newPresenceMetrics(namespace string) *PresenceMetrics {
	return &PresenceMetrics{
		Edges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "edges_total",
			Help: "Online/offline transitions observed, by transport kind and direction.",
		}, []string{"transport", "direction"}),
		Online: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "online",
			Help: "1 if the transport is currently considered online, else 0.",
		}, []string{"peer", "transport"}),
	}
}

// AutoSyncMetrics instruments component J.
type AutoSyncMetrics struct {
	Triggered        *prometheus.CounterVec
	Outcomes         *prometheus.CounterVec
	PermanentFailure *prometheus.GaugeVec
}

func newAutoSyncMetrics(namespace string) *AutoSyncMetrics {
	return &AutoSyncMetrics{
		Triggered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "autosync", Name: "triggered_total",
			Help: "Automatic syncs started, by trigger source.",
		}, []string{"trigger"}),
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "autosync", Name: "outcomes_total",
			Help: "Automatic sync outcomes, by config and result.",
		}, []string{"config", "result"}),
		PermanentFailure: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "autosync", Name: "permanent_failure",
			Help: "1 while a config's auto-sync is suppressed after repeated failure.",
		}, []string{"config"}),
	}
}

// BusMetrics instruments internal/bus: subscriber churn and signal
// broadcast volume, the re-scoped shape of the teacher's
// internal/realtime.RealtimeMetrics.
type BusMetrics struct {
	ConnectionsActive prometheus.Gauge
	SignalsTotal      *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
}

func newBusMetrics(namespace string) *BusMetrics {
	return &BusMetrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bus", Name: "connections_active",
			Help: "Currently attached WebSocket bus subscribers.",
		}),
		SignalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "signals_total",
			Help: "Signals broadcast, by signal name.",
		}, []string{"name"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "errors_total",
			Help: "Bus delivery errors, by error type.",
		}, []string{"error_type"}),
		BroadcastDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "bus", Name: "broadcast_duration_seconds",
			Help:    "Time to fan a signal out to every attached subscriber.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}
}

// RetryMetrics adapts internal/resilience.Recorder onto Prometheus.
type RetryMetrics struct {
	attempts *prometheus.CounterVec
	final    *prometheus.CounterVec
	backoff  *prometheus.HistogramVec
}

func newRetryMetrics(namespace string) *RetryMetrics {
	return &RetryMetrics{
		attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "attempts_total",
			Help: "Retry attempts, by operation, outcome and error class.",
		}, []string{"operation", "outcome", "error_type"}),
		final: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "final_total",
			Help: "Terminal retry outcomes, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		backoff: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retry", Name: "backoff_seconds",
			Help:    "Backoff delay before each retry, by operation.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		}, []string{"operation"}),
	}
}

// RecordAttempt implements resilience.Recorder.
func (m *RetryMetrics) RecordAttempt(operation, outcome, errorType string, seconds float64) {
	m.attempts.WithLabelValues(operation, outcome, errorType).Inc()
}

// RecordFinalAttempt implements resilience.Recorder.
func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attempts int) {
	m.final.WithLabelValues(operation, outcome).Inc()
}

// RecordBackoff implements resilience.Recorder.
func (m *RetryMetrics) RecordBackoff(operation string, seconds float64) {
	m.backoff.WithLabelValues(operation).Observe(seconds)
}
