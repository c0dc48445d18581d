// Package metrics exposes the agent's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on its own registry so tests can build
// fresh instances. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PolicySyncs        *prometheus.CounterVec
	PolicyEntries      prometheus.Gauge
	Scans              prometheus.Counter
	ScanDuration       prometheus.Histogram
	ViolationsReported *prometheus.CounterVec
	ReportFailures     prometheus.Counter
	ReportedPIDs       prometheus.Gauge
	Heartbeats         *prometheus.CounterVec
	SchedulerState     *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PolicySyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "appguard_policy_syncs_total",
			Help: "Policy synchronizations by source (authority, cache, empty)",
		}, []string{"source"}),

		PolicyEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "appguard_policy_entries",
			Help: "Number of entries in the current policy",
		}),

		Scans: f.NewCounter(prometheus.CounterOpts{
			Name: "appguard_scans_total",
			Help: "Total number of process scans performed",
		}),

		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "appguard_scan_duration_seconds",
			Help:    "Time taken to inspect, match and report one scan",
			Buckets: prometheus.DefBuckets,
		}),

		ViolationsReported: f.NewCounterVec(prometheus.CounterOpts{
			Name: "appguard_violations_reported_total",
			Help: "Violations successfully reported, by severity",
		}, []string{"severity"}),

		ReportFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "appguard_report_failures_total",
			Help: "Violation reports that failed",
		}),

		ReportedPIDs: f.NewGauge(prometheus.GaugeOpts{
			Name: "appguard_reported_pids",
			Help: "Process IDs already reported during this run",
		}),

		Heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Name: "appguard_heartbeats_total",
			Help: "Heartbeats sent, by result (ok, error)",
		}, []string{"result"}),

		SchedulerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "appguard_scheduler_state",
			Help: "1 for the scheduler's current state, 0 otherwise",
		}, []string{"state"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordSync counts a sync and sets the policy size.
func (m *Metrics) RecordSync(source string, entries int) {
	if m == nil {
		return
	}
	m.PolicySyncs.WithLabelValues(source).Inc()
	m.PolicyEntries.Set(float64(entries))
}

// RecordScan counts a scan and observes its duration in seconds.
func (m *Metrics) RecordScan(seconds float64, reportedPIDs int) {
	if m == nil {
		return
	}
	m.Scans.Inc()
	m.ScanDuration.Observe(seconds)
	m.ReportedPIDs.Set(float64(reportedPIDs))
}

// RecordReport counts one report attempt.
func (m *Metrics) RecordReport(severity string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReportFailures.Inc()
		return
	}
	m.ViolationsReported.WithLabelValues(severity).Inc()
}

// RecordHeartbeat counts one heartbeat attempt.
func (m *Metrics) RecordHeartbeat(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Heartbeats.WithLabelValues(result).Inc()
}

// SetState marks state as current and every other known state as not.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SchedulerState.WithLabelValues(s).Set(v)
	}
}
