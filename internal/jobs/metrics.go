package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	findings  *prometheus.CounterVec
	valuation *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddFindings increments the integrity finding counter for a check.
func (m *Metrics) AddFindings(check string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.findings.WithLabelValues(check).Add(float64(count))
}

// SetInventoryValue publishes the latest captured valuation of a branch.
// Branch 0 is the whole company.
func (m *Metrics) SetInventoryValue(branchID int64, kind string, value float64) {
	if m == nil {
		return
	}
	branch := "0"
	if branchID > 0 {
		branch = formatInt(branchID)
	}
	m.valuation.WithLabelValues(branch, kind).Set(value)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	findings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_integrity_findings_total",
		Help: "Ledger integrity findings grouped by check.",
	}, []string{"check"})
	valuation := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_inventory_value",
		Help: "Latest captured inventory value by branch and kind (warehouse, transit, total).",
	}, []string{"branch", "kind"})
	registerer.MustRegister(runs, failures, duration, findings, valuation)
	return &Metrics{runs: runs, failures: failures, duration: duration, findings: findings, valuation: valuation}
}
