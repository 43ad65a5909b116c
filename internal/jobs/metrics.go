package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for batch jobs. A nil *Metrics records nothing.
type Metrics struct {
	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustledger_job_runs_total",
			Help: "Batch job runs by job and result (success, failure, skipped)",
		}, []string{"job", "result"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustledger_job_duration_seconds",
			Help:    "Batch job run duration",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
	}
}

func (m *Metrics) observe(job string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Runs.WithLabelValues(job, result).Inc()
	m.Duration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) skipped(job string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(job, "skipped").Inc()
}
