package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit recorder and its jobs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Recorded               *prometheus.CounterVec
	LedgerFailures         prometheus.Counter
	PartialWrites          prometheus.Counter
	Reconciled             prometheus.Counter
	VerificationMismatches prometheus.Counter
	LedgerBreakerState     prometheus.Gauge
	SinkFailures           prometheus.Counter
	RecordDuration         prometheus.Histogram
}

// NewMetrics registers audit metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustledger_audit_records_total",
			Help: "Total number of audit records written to the index",
		}, []string{"action", "verified"}),
		LedgerFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_audit_ledger_failures_total",
			Help: "Total number of ledger appends that failed and left a record unverified",
		}),
		PartialWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_audit_partial_writes_total",
			Help: "Total number of audit writes whose index row could not be persisted",
		}),
		Reconciled: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_audit_reconciled_total",
			Help: "Total number of unverified records confirmed by the reconciler",
		}),
		VerificationMismatches: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_audit_verification_mismatches_total",
			Help: "Total number of ledger read-backs that did not match the stored record",
		}),
		LedgerBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustledger_ledger_circuit_breaker_state",
			Help: "Ledger circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
		SinkFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_audit_sink_failures_total",
			Help: "Total number of audit records the downstream sink failed to accept",
		}),
		RecordDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustledger_audit_record_duration_seconds",
			Help:    "Latency of the full audit dual write",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeRecorded(action Action, verified bool, started time.Time) {
	if m == nil {
		return
	}
	v := "false"
	if verified {
		v = "true"
	}
	m.Recorded.WithLabelValues(string(action), v).Inc()
	m.RecordDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) incLedgerFailures() {
	if m != nil {
		m.LedgerFailures.Inc()
	}
}

func (m *Metrics) incPartialWrites() {
	if m != nil {
		m.PartialWrites.Inc()
	}
}

func (m *Metrics) incReconciled() {
	if m != nil {
		m.Reconciled.Inc()
	}
}

func (m *Metrics) incVerificationMismatches() {
	if m != nil {
		m.VerificationMismatches.Inc()
	}
}

func (m *Metrics) incSinkFailures() {
	if m != nil {
		m.SinkFailures.Inc()
	}
}

// LedgerBreakerChanged satisfies ledger.BreakerObserver.
func (m *Metrics) LedgerBreakerChanged(open bool) {
	if m == nil {
		return
	}
	if open {
		m.LedgerBreakerState.Set(1)
	} else {
		m.LedgerBreakerState.Set(0)
	}
}
