package erasure

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the erasure workflow. A nil *Metrics records nothing.
type Metrics struct {
	Requests   *prometheus.CounterVec
	Executions *prometheus.CounterVec
	Duration   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustledger_erasure_requests_total",
			Help: "Erasure requests by outcome (scheduled, forced, refused)",
		}, []string{"outcome"}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustledger_erasure_executions_total",
			Help: "Erasure executions by method and result",
		}, []string{"method", "result"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustledger_erasure_execution_duration_seconds",
			Help:    "Time spent running erasure strategies",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeRequest(outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeExecution(method Method, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := string(ResultSuccess)
	if !ok {
		result = string(ResultFailed)
	}
	m.Executions.WithLabelValues(method.String(), result).Inc()
	m.Duration.Observe(d.Seconds())
}
