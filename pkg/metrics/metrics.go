package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingress metrics
	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encore_events_received_total",
			Help: "Total number of inbound events by method",
		},
		[]string{"method"},
	)

	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encore_events_ingested_total",
			Help: "Total number of events indexed into the event store by status",
		},
		[]string{"status"},
	)

	// Correlation metrics
	HandlerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encore_handler_runs_total",
			Help: "Total number of handler executions by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "encore_handler_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	LockContention = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encore_lock_contention_total",
			Help: "Total number of failed row lock acquisitions by task",
		},
		[]string{"task"},
	)

	TicketsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "encore_tickets_created_total",
			Help: "Total number of ITSM tickets created",
		},
	)

	TicketsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "encore_tickets_closed_total",
			Help: "Total number of ITSM tickets closed",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "encore_queue_depth",
			Help: "Number of tasks waiting by queue state (delayed or ready)",
		},
		[]string{"state"},
	)

	TasksEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encore_tasks_enqueued_total",
			Help: "Total number of tasks enqueued by task name",
		},
		[]string{"task"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encore_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "encore_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Purge metrics
	PurgedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "encore_purged_events_total",
			Help: "Total number of event rows purged",
		},
	)

	PurgedIndices = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "encore_purged_indices_total",
			Help: "Total number of event indices deleted",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EventsReceived)
	prometheus.MustRegister(EventsIngested)
	prometheus.MustRegister(HandlerRuns)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(LockContention)
	prometheus.MustRegister(TicketsCreated)
	prometheus.MustRegister(TicketsClosed)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(TasksEnqueued)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(PurgedEvents)
	prometheus.MustRegister(PurgedIndices)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
