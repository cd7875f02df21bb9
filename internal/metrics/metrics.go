// Package metrics exposes Prometheus instrumentation for the polling
// agent. Registration is lazy so library users who never scrape pay only
// for a sync.Once check.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type agentMetrics struct {
	pollCyclesTotal     *prometheus.CounterVec
	pollBatchSize       prometheus.Histogram
	consecutiveFailures prometheus.Gauge
	pollInterval        prometheus.Gauge

	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	reportErrorsTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *agentMetrics
)

func getMetrics() *agentMetrics {
	metricsOnce.Do(func() {
		m := &agentMetrics{
			pollCyclesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "meshrpc_poll_cycles_total",
					Help: "Total poll cycles by status.",
				},
				[]string{"status"},
			),
			pollBatchSize: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "meshrpc_poll_batch_size",
					Help:    "Number of jobs returned per poll cycle.",
					Buckets: []float64{0, 1, 2, 5, 10},
				},
			),
			consecutiveFailures: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "meshrpc_consecutive_poll_failures",
					Help: "Current consecutive poll cycle failures.",
				},
			),
			pollInterval: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "meshrpc_poll_interval_seconds",
					Help: "Effective interval between poll cycles.",
				},
			),
			jobsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "meshrpc_jobs_total",
					Help: "Total dispatched jobs by tool and outcome.",
				},
				[]string{"tool", "outcome"},
			),
			jobDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "meshrpc_job_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			reportErrorsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "meshrpc_report_errors_total",
					Help: "Total failed result submissions.",
				},
			),
		}

		prometheus.MustRegister(
			m.pollCyclesTotal,
			m.pollBatchSize,
			m.consecutiveFailures,
			m.pollInterval,
			m.jobsTotal,
			m.jobDuration,
			m.reportErrorsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns an HTTP handler serving the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordPollCycle records one finished poll cycle and the batch it fetched.
func RecordPollCycle(success bool, batchSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.pollCyclesTotal.WithLabelValues(status).Inc()
	if success {
		m.pollBatchSize.Observe(float64(batchSize))
	}
}

// SetConsecutiveFailures tracks the loop's failure counter.
func SetConsecutiveFailures(count int) {
	getMetrics().consecutiveFailures.Set(float64(count))
}

// SetPollInterval tracks the effective inter-cycle interval.
func SetPollInterval(interval time.Duration) {
	getMetrics().pollInterval.Set(interval.Seconds())
}

// RecordJob records one job execution.
func RecordJob(tool string, duration time.Duration, resolved bool) {
	m := getMetrics()
	outcome := "rejected"
	if resolved {
		outcome = "resolved"
	}
	m.jobsTotal.WithLabelValues(tool, outcome).Inc()
	m.jobDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordReportError records a failed result submission.
func RecordReportError() {
	getMetrics().reportErrorsTotal.Inc()
}
