package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for risk assessments. A nil *Metrics records nothing.
type Metrics struct {
	Assessments *prometheus.CounterVec
	Scores      *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Assessments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustledger_risk_assessments_total",
			Help: "Risk assessments by kind and compliance classification",
		}, []string{"kind", "classification"}),
		Scores: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustledger_risk_score",
			Help:    "Distribution of risk scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"kind"}),
	}
}

func (m *Metrics) Observe(kind string, c Classification, r Result) {
	if m == nil {
		return
	}
	m.Assessments.WithLabelValues(kind, string(c)).Inc()
	if !r.ExemptionApplied {
		m.Scores.WithLabelValues(kind).Observe(r.Score)
	}
}
