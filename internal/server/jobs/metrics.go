// Package jobs runs the scheduled ledger integrity verification and
// exposes its Prometheus metrics.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricJobRunsTotal           = "recordguard_job_runs_total"
	MetricJobDuration            = "recordguard_job_duration_seconds"
	MetricJobSkippedTotal        = "recordguard_job_skipped_total"
	MetricIntegrityCheckedTotal  = "recordguard_integrity_checked_entries_total"
	MetricIntegrityTamperedTotal = "recordguard_integrity_tampered_entries_total"
)

const JobTypeIntegrityCheck = "integrity_check"

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics holds the job collectors. Register them before use.
type Metrics struct {
	runsTotal     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	skippedTotal  *prometheus.CounterVec
	checkedTotal  prometheus.Counter
	tamperedTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricJobRunsTotal,
				Help: "Scheduled job executions by job type and status",
			},
			[]string{"job_type", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricJobDuration,
				Help:    "Scheduled job duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"job_type"},
		),
		skippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricJobSkippedTotal,
				Help: "Runs skipped because the previous run was still in progress",
			},
			[]string{"job_type"},
		),
		checkedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricIntegrityCheckedTotal,
			Help: "Audit entries re-verified by the integrity job",
		}),
		tamperedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricIntegrityTamperedTotal,
			Help: "Audit entries whose integrity tag did not verify",
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal,
		m.duration,
		m.skippedTotal,
		m.checkedTotal,
		m.tamperedTotal,
	}
}

func (m *Metrics) IncRuns(jobType, status string) {
	m.runsTotal.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) ObserveDuration(jobType string, seconds float64) {
	m.duration.WithLabelValues(jobType).Observe(seconds)
}

func (m *Metrics) IncSkipped(jobType string) {
	m.skippedTotal.WithLabelValues(jobType).Inc()
}

// AddIntegrity records the outcome of one verification batch.
func (m *Metrics) AddIntegrity(checked, tampered int) {
	m.checkedTotal.Add(float64(checked))
	m.tamperedTotal.Add(float64(tampered))
}
