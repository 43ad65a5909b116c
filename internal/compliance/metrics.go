package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for compliance scans. A nil *Metrics records nothing.
type Metrics struct {
	Scanned    *prometheus.CounterVec
	OpenIssues *prometheus.GaugeVec
	Resolved   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scanned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustledger_compliance_entities_scanned_total",
			Help: "Total number of entities checked for mandatory fields",
		}, []string{"entity_type"}),
		OpenIssues: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trustledger_compliance_open_issues",
			Help: "Open compliance issues found by the latest scan",
		}, []string{"entity_type", "severity"}),
		Resolved: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_compliance_auto_resolved_total",
			Help: "Total number of issues closed because the entity was fixed",
		}),
	}
}

func (m *Metrics) observeScan(r ScanReport) {
	if m == nil {
		return
	}
	t := string(r.EntityType)
	m.Scanned.WithLabelValues(t).Add(float64(r.Scanned))
	m.Resolved.Add(float64(r.Resolved))
	counts := map[Severity]int{}
	for _, issue := range r.Issues {
		counts[issue.Severity]++
	}
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		m.OpenIssues.WithLabelValues(t, string(s)).Set(float64(counts[s]))
	}
}
