package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the buffered sink. A nil *Metrics records nothing.
type Metrics struct {
	Published prometheus.Counter
	Dropped   prometheus.Counter
	Failures  prometheus.Counter
	Buffered  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_audit_sink_published_total",
			Help: "Total number of audit records delivered to the event stream",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_audit_sink_dropped_total",
			Help: "Total number of audit records dropped because the sink buffer was full",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_audit_sink_batch_failures_total",
			Help: "Total number of failed batch publishes",
		}),
		Buffered: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustledger_audit_sink_buffered",
			Help: "Audit records waiting to be published",
		}),
	}
}

func (m *Metrics) addPublished(n int) {
	if m != nil {
		m.Published.Add(float64(n))
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) incFailures() {
	if m != nil {
		m.Failures.Inc()
	}
}

func (m *Metrics) setBuffered(n int) {
	if m != nil {
		m.Buffered.Set(float64(n))
	}
}
