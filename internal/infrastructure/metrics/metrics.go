// Package metrics defines the Prometheus collectors of the engine. A
// Metrics value is built against a registerer so tests can use a private
// registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "halaka"

// Metrics holds every collector.
type Metrics struct {
	// ─── Ledger ─────────────────────────────────────────────────────────────

	// Deductions counts deduction attempts by outcome (deducted,
	// already_deducted, not_present, cancelled, no_balance, error, ...).
	Deductions *prometheus.CounterVec

	// PayoutReleases counts wallet releases by result (released, failed).
	PayoutReleases *prometheus.CounterVec

	// PayoutAmount sums released minor units.
	PayoutAmount prometheus.Counter

	// ─── Attendance ─────────────────────────────────────────────────────────

	// MeetingEvents counts webhook deliveries by outcome.
	MeetingEvents *prometheus.CounterVec

	// ─── Notifications ──────────────────────────────────────────────────────

	// Notifications counts delivery attempts by notice type and result.
	Notifications *prometheus.CounterVec

	// ─── Jobs ───────────────────────────────────────────────────────────────

	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// ─── Event bus and breakers ─────────────────────────────────────────────

	EventHandlers       *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	// ─── HTTP ───────────────────────────────────────────────────────────────

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in production.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deductions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "deductions_total",
			Help:      "Session credit deduction attempts by outcome.",
		}, []string{"outcome"}),
		PayoutReleases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "releases_total",
			Help:      "Teacher payout releases by result.",
		}, []string{"result"}),
		PayoutAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "released_minor_units_total",
			Help:      "Total payout released to teachers, in minor currency units.",
		}),
		MeetingEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attendance",
			Name:      "meeting_events_total",
			Help:      "Meeting platform webhook events by outcome.",
		}, []string{"event", "outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Notice delivery attempts by type and result.",
		}, []string{"type", "result"}),
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Batch job runs by job and status.",
		}, []string{"job", "status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Batch job duration.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		EventHandlers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_executions_total",
			Help:      "Domain event handler executions by event type and result.",
		}, []string{"event_type", "result"}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status class.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveEventHandler implements messaging.HandlerObserver.
func (m *Metrics) ObserveEventHandler(eventType string, _ time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventHandlers.WithLabelValues(eventType, result).Inc()
}

// ObserveJob records one job run.
func (m *Metrics) ObserveJob(job string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.JobRuns.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveDeduction records one deduction outcome.
func (m *Metrics) ObserveDeduction(outcome string) {
	m.Deductions.WithLabelValues(outcome).Inc()
}

// ObserveRelease records one wallet release.
func (m *Metrics) ObserveRelease(amount int64, err error) {
	if err != nil {
		m.PayoutReleases.WithLabelValues("failed").Inc()
		return
	}
	m.PayoutReleases.WithLabelValues("released").Inc()
	m.PayoutAmount.Add(float64(amount))
}

// ObserveMeetingEvent records one webhook outcome.
func (m *Metrics) ObserveMeetingEvent(event, outcome string) {
	m.MeetingEvents.WithLabelValues(event, outcome).Inc()
}

// ObserveNotification records one notice delivery attempt.
func (m *Metrics) ObserveNotification(noticeType string, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.Notifications.WithLabelValues(noticeType, result).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status/100)+"xx").Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetBreakerState records a circuit breaker state (0 closed, 1 open,
// 2 half-open).
func (m *Metrics) SetBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
