package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conveyor"

// Metrics — Prometheus метрики движка.
//
// Все методы безопасны для nil-получателя: компоненты без метрик
// (например, в тестах) просто передают nil.
type Metrics struct {
	jobsTotal         *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	pendingJobs       *prometheus.GaugeVec
	runningJobs       *prometheus.GaugeVec
	actorRestarts     *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	persistenceErrors *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// nil reg означает prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Job lifecycle transitions by queue and event.",
		}, []string{"queue", "event"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job attempts by queue and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"queue", "outcome"}),
		pendingJobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_jobs",
			Help:      "Jobs waiting in the queue.",
		}, []string{"queue"}),
		runningJobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_jobs",
			Help:      "Jobs currently executing.",
		}, []string{"queue"}),
		actorRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_restarts_total",
			Help:      "Queue actor restarts performed by the supervisor.",
		}, []string{"queue"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped for slow subscribers.",
		}, []string{"queue"}),
		persistenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Failed store writes by queue.",
		}, []string{"queue"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled by the API.",
		}, []string{"method", "status"}),
	}
}

// JobEvent увеличивает счётчик перехода (enqueued, completed, failed, ...).
func (m *Metrics) JobEvent(queue, event string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(queue, event).Inc()
}

// ObserveDuration записывает длительность попытки.
func (m *Metrics) ObserveDuration(queue, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(queue, outcome).Observe(d.Seconds())
}

// SetQueueDepth обновляет gauge pending/running.
func (m *Metrics) SetQueueDepth(queue string, pending, running int) {
	if m == nil {
		return
	}
	m.pendingJobs.WithLabelValues(queue).Set(float64(pending))
	m.runningJobs.WithLabelValues(queue).Set(float64(running))
}

// ActorRestarted увеличивает счётчик рестартов.
func (m *Metrics) ActorRestarted(queue string) {
	if m == nil {
		return
	}
	m.actorRestarts.WithLabelValues(queue).Inc()
}

// EventDropped увеличивает счётчик потерянных событий.
func (m *Metrics) EventDropped(queue string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(queue).Inc()
}

// PersistenceError увеличивает счётчик ошибок записи.
func (m *Metrics) PersistenceError(queue string) {
	if m == nil {
		return
	}
	m.persistenceErrors.WithLabelValues(queue).Inc()
}

// HTTPRequest увеличивает счётчик HTTP-запросов.
func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
