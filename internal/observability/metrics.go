package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PayLedger.
type Metrics struct {
	// --- Submission ---
	EventsSubmitted  *prometheus.CounterVec
	EventsRejected   *prometheus.CounterVec
	QueueFullRetries prometheus.Counter

	// --- Processing ---
	EventsApplied  *prometheus.CounterVec
	EventsIgnored  *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec
	WorkerPanics   *prometheus.CounterVec
	WorkersRunning prometheus.Gauge

	// --- Channel & Backpressure ---
	QueueDepth    *prometheus.GaugeVec
	QueueCapacity *prometheus.GaugeVec

	// --- Lifecycle ---
	DrainDuration  prometheus.Histogram
	Accounts       prometheus.Gauge
	LockedAccounts prometheus.Gauge

	// --- Sinks ---
	PersistDuration prometheus.Histogram
	PersistErrors   prometheus.Counter
	PublishErrors   prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil registerer creates unregistered metrics, which keeps tests free of
// duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Submission
		EventsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payledger_events_submitted_total",
			Help: "Events recorded in the ledger and queued for a worker",
		}, []string{"event_type"}),

		EventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payledger_events_rejected_total",
			Help: "Events rejected at submission (duplicate, missing_amount, unknown_tx, invalid_transition, queue_full, stopped)",
		}, []string{"event_type", "reason"}),

		QueueFullRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "payledger_queue_full_retries_total",
			Help: "Submissions retried after a full worker queue",
		}),

		// Processing
		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payledger_events_applied_total",
			Help: "Events that mutated an account",
		}, []string{"event_type"}),

		EventsIgnored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payledger_events_ignored_total",
			Help: "Events processed without effect",
		}, []string{"event_type", "reason"}),

		EventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payledger_event_apply_duration_seconds",
			Help:    "Time to apply a single event in a worker",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		WorkerPanics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payledger_worker_panics_total",
			Help: "Panics recovered while processing an event",
		}, []string{"worker"}),

		WorkersRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "payledger_workers_running",
			Help: "Workers whose loop has not exited",
		}),

		// Channel & Backpressure
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payledger_queue_depth",
			Help: "Current items in a worker queue",
		}, []string{"worker"}),

		QueueCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payledger_queue_capacity",
			Help: "Worker queue capacity (constant)",
		}, []string{"worker"}),

		// Lifecycle
		DrainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "payledger_shutdown_drain_duration_seconds",
			Help:    "Time from shutdown signal until every worker stopped",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		}),

		Accounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "payledger_accounts",
			Help: "Accounts in the chart",
		}),

		LockedAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "payledger_locked_accounts",
			Help: "Accounts frozen by a chargeback",
		}),

		// Sinks
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "payledger_persist_duration_seconds",
			Help:    "Postgres account upsert duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1.0},
		}),

		PersistErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "payledger_persist_errors_total",
			Help: "Postgres write failures",
		}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "payledger_publish_errors_total",
			Help: "NATS account publish failures",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payledger_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),
	}
}

// SetQueueMetrics updates queue utilization metrics for one worker.
func (m *Metrics) SetQueueMetrics(worker string, depth, capacity int) {
	m.QueueDepth.WithLabelValues(worker).Set(float64(depth))
	m.QueueCapacity.WithLabelValues(worker).Set(float64(capacity))
}
