// Package observability exposes pipeline metrics in Prometheus format.
// Collectors hang off a private registry so tests can create isolated
// instances; the HTTP surface mounts Handler() under /metrics when
// metrics are enabled.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal       prometheus.Counter
	runDuration     prometheus.Histogram
	candidatesTotal prometheus.Counter
	alertsPerRun    prometheus.Histogram
	alertsTotal     *prometheus.CounterVec

	jobRunsTotal *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "insights_hub",
			Name:      "detection_runs_total",
			Help:      "Completed detection runs.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "insights_hub",
			Name:      "detection_run_duration_seconds",
			Help:      "Detection run duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		candidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "insights_hub",
			Name:      "detection_candidates_total",
			Help:      "Candidates produced by the generator.",
		}),
		alertsPerRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "insights_hub",
			Name:      "alerts_per_run",
			Help:      "Finalized alerts per detection run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insights_hub",
			Name:      "alerts_total",
			Help:      "Finalized alerts by severity.",
		}, []string{"severity"}),

		jobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insights_hub",
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job executions by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insights_hub",
			Name:      "scheduler_job_duration_seconds",
			Help:      "Scheduled job duration by job.",
			Buckets:   []float64{0.1, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),

		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insights_hub",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insights_hub",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.candidatesTotal,
		m.alertsPerRun,
		m.alertsTotal,
		m.jobRunsTotal,
		m.jobDuration,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// RecordAlert implements eventhandler.PipelineMetrics.
func (m *Metrics) RecordAlert(severity string) {
	m.alertsTotal.WithLabelValues(severity).Inc()
}

// RecordRun implements eventhandler.PipelineMetrics.
func (m *Metrics) RecordRun(alerts, candidates int, duration time.Duration) {
	m.runsTotal.Inc()
	m.runDuration.Observe(duration.Seconds())
	m.candidatesTotal.Add(float64(candidates))
	m.alertsPerRun.Observe(float64(alerts))
}

// RecordJob counts one scheduled job execution.
func (m *Metrics) RecordJob(job string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.jobRunsTotal.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordHTTPRequest counts one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
