package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports guardrail activity to Prometheus. A nil *Metrics records
// nothing.
type Metrics struct {
	decisions    *prometheus.CounterVec
	resolutions  *prometheus.CounterVec
	reservations prometheus.Gauge
	duration     prometheus.Histogram
}

// NewMetrics registers the guardrail collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradeguard",
				Subsystem: "risk",
				Name:      "decisions_total",
				Help:      "Trade proposals by outcome and denial reason",
			},
			[]string{"outcome", "reason"},
		),
		resolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tradeguard",
				Subsystem: "risk",
				Name:      "resolutions_total",
				Help:      "Reservations resolved by commit, rollback or expiry",
			},
			[]string{"outcome"},
		),
		reservations: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tradeguard",
				Subsystem: "risk",
				Name:      "open_reservations",
				Help:      "Approved trades awaiting commit or rollback",
			},
		),
		duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tradeguard",
				Subsystem: "risk",
				Name:      "check_and_reserve_duration_seconds",
				Help:      "Time spent evaluating and reserving a trade",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

func (m *Metrics) decision(outcome string, reason Reason) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome, string(reason)).Inc()
	if outcome == "approved" {
		m.reservations.Inc()
	}
}

func (m *Metrics) resolved(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.resolutions.WithLabelValues(outcome).Add(float64(n))
	m.reservations.Sub(float64(n))
}

func (m *Metrics) observe(seconds float64) {
	if m == nil {
		return
	}
	m.duration.Observe(seconds)
}
