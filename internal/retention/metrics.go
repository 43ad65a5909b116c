package retention

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for retention sweeps. A nil *Metrics records nothing.
type Metrics struct {
	Deleted prometheus.Counter
	Failed  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deleted: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_retention_deleted_total",
			Help: "Total number of audit records removed after their retention period",
		}),
		Failed: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_retention_delete_failures_total",
			Help: "Total number of expired audit records the sweep could not remove",
		}),
	}
}

func (m *Metrics) observeSweep(r SweepResult) {
	if m == nil {
		return
	}
	m.Deleted.Add(float64(r.Deleted))
	m.Failed.Add(float64(r.Failed))
}
