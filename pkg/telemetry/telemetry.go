// Package telemetry exposes sweep and API metrics to Prometheus.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pageaudit"

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// auditBuckets cover audits from a few seconds up to the default timeout.
var auditBuckets = []float64{2, 5, 10, 15, 20, 30, 45, 60, 90, 120}

// Metrics holds all collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	auditsTotal     *prometheus.CounterVec
	auditDuration   *prometheus.HistogramVec
	sweepsTotal     *prometheus.CounterVec
	lastSweepUnix   prometheus.Gauge
	lastSweepCells  prometheus.Gauge
	pageScore       *prometheus.GaugeVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	uploadedObjects prometheus.Counter
}

// New creates the collectors on a dedicated registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	auto := promauto.With(reg)

	return &Metrics{
		registry: reg,
		auditsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audits_total",
			Help:      "Page audits by mode and outcome.",
		}, []string{"mode", "outcome"}),
		auditDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_duration_seconds",
			Help:      "Wall-clock duration of a single page audit.",
			Buckets:   auditBuckets,
		}, []string{"mode"}),
		sweepsTotal: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed sweeps by outcome.",
		}, []string{"outcome"}),
		lastSweepUnix: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Start time of the most recent sweep.",
		}),
		lastSweepCells: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_recorded_cells",
			Help:      "Cells persisted by the most recent sweep.",
		}),
		pageScore: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "page_score",
			Help:      "Latest audit score (0-1) per page, mode and metric.",
		}, []string{"page", "mode", "metric"}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "API requests by route, method and status code.",
		}, []string{"route", "method", "status_code"}),
		httpDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		uploadedObjects: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_objects_total",
			Help:      "Artifacts uploaded to remote storage.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAudit records one finished audit.
func (m *Metrics) ObserveAudit(mode audit.Mode, outcome string, took time.Duration) {
	if m == nil {
		return
	}

	m.auditsTotal.WithLabelValues(mode.String(), outcome).Inc()
	m.auditDuration.WithLabelValues(mode.String()).Observe(took.Seconds())
}

// ObserveRecord exports the scores of a persisted record.
func (m *Metrics) ObserveRecord(rec *audit.Record) {
	if m == nil {
		return
	}

	for key, v := range rec.Metrics {
		if !v.Score.Valid {
			continue
		}

		m.pageScore.WithLabelValues(rec.Name, rec.Mode.String(), string(key)).Set(v.Score.Float64)
	}
}

// ObserveSweep records a finished sweep.
func (m *Metrics) ObserveSweep(runID audit.RunID, recorded int, failed bool) {
	if m == nil {
		return
	}

	outcome := OutcomeSuccess
	if failed {
		outcome = OutcomeFailure
	}

	m.sweepsTotal.WithLabelValues(outcome).Inc()
	m.lastSweepUnix.Set(float64(runID.Time().Unix()))
	m.lastSweepCells.Set(float64(recorded))
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(route, method string, status int, took time.Duration) {
	if m == nil {
		return
	}

	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(took.Seconds())
}

// ObserveUpload counts uploaded objects.
func (m *Metrics) ObserveUpload(objects int) {
	if m == nil {
		return
	}

	m.uploadedObjects.Add(float64(objects))
}
