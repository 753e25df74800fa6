// Package metrics provides Prometheus metrics for the dashboard backend.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dashboard.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RateLimitRejections *prometheus.CounterVec
	SessionsActive      prometheus.Gauge
	SweepRemovedTotal   *prometheus.CounterVec
	ArchivedRowsTotal   *prometheus.CounterVec
	WSConnections       prometheus.Gauge
	JobRunsTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vessel_http_requests_total",
				Help: "HTTP requests by route and status code.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vessel_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vessel_rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter, by action.",
			},
			[]string{"action"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vessel_sessions_active",
				Help: "Sessions currently held in the registry.",
			},
		),
		SweepRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vessel_sweep_removed_total",
				Help: "Entries removed by the expiry sweeper, by kind.",
			},
			[]string{"kind"},
		),
		ArchivedRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vessel_archived_rows_total",
				Help: "Rows archived or purged by the cleanup job, by set.",
			},
			[]string{"set"},
		),
		WSConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vessel_ws_connections",
				Help: "Open WebSocket connections.",
			},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vessel_job_runs_total",
				Help: "Scheduled job executions by job and result.",
			},
			[]string{"job", "result"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RateLimitRejections,
		m.SessionsActive,
		m.SweepRemovedTotal,
		m.ArchivedRowsTotal,
		m.WSConnections,
		m.JobRunsTotal,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, status string, took time.Duration) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(took.Seconds())
}

// RecordRateLimited increments the rejection counter for action.
func (m *Metrics) RecordRateLimited(action string) {
	m.RateLimitRejections.WithLabelValues(action).Inc()
}

// SetSessions sets the active session gauge.
func (m *Metrics) SetSessions(n int) {
	m.SessionsActive.Set(float64(n))
}

// RecordSweep adds the counts removed by one sweep.
func (m *Metrics) RecordSweep(sessions, keys, timestamps int) {
	m.SweepRemovedTotal.WithLabelValues("sessions").Add(float64(sessions))
	m.SweepRemovedTotal.WithLabelValues("rate_limit_keys").Add(float64(keys))
	m.SweepRemovedTotal.WithLabelValues("timestamps").Add(float64(timestamps))
}

// RecordArchive adds the row counts of one archival run.
func (m *Metrics) RecordArchive(chats, usage, events int64) {
	m.ArchivedRowsTotal.WithLabelValues("chat").Add(float64(chats))
	m.ArchivedRowsTotal.WithLabelValues("usage").Add(float64(usage))
	m.ArchivedRowsTotal.WithLabelValues("events").Add(float64(events))
}

// SetWSConnections sets the WebSocket connection gauge.
func (m *Metrics) SetWSConnections(n int) {
	m.WSConnections.Set(float64(n))
}

// RecordJob counts one scheduler job run.
func (m *Metrics) RecordJob(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobRunsTotal.WithLabelValues(job, result).Inc()
}
