package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics helpers are safe to call on a nil receiver so tests can pass nil.
type Metrics struct {
	Operations          *prometheus.CounterVec
	IdempotentReplays   *prometheus.CounterVec
	RecoverySeized      *prometheus.CounterVec
	InvariantViolations *prometheus.CounterVec
	PollerCycles        *prometheus.CounterVec
	PollerBorrowerErrs  *prometheus.CounterVec
	PollerLiquidations  prometheus.Counter
	PollerHealthFactor  *prometheus.GaugeVec
	ExternalFallbacks   *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnpl_operations_total",
				Help: "Engine operations by outcome.",
			},
			[]string{"op", "status"},
		),
		IdempotentReplays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnpl_idempotent_replays_total",
				Help: "Operations answered from the idempotency cache.",
			},
			[]string{"op"},
		),
		RecoverySeized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnpl_recovery_seized_minor_total",
				Help: "Collateral value seized, in minor units.",
			},
			[]string{"action"},
		),
		InvariantViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnpl_invariant_violations_total",
				Help: "Internal consistency checks that failed.",
			},
			[]string{"invariant"},
		),
		PollerCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnpl_poller_cycles_total",
				Help: "Health poller cycles by outcome.",
			},
			[]string{"status"},
		),
		PollerBorrowerErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnpl_poller_borrower_errors_total",
				Help: "Per-borrower poller failures by stage.",
			},
			[]string{"stage"},
		),
		PollerLiquidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bnpl_poller_liquidations_total",
				Help: "Liquidation transactions submitted by the poller.",
			},
		),
		PollerHealthFactor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bnpl_poller_health_factor",
				Help: "Last on-chain health factor read per borrower.",
			},
			[]string{"borrower"},
		),
		ExternalFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnpl_external_fallbacks_total",
				Help: "Collaborator calls that fell back to a local implementation.",
			},
			[]string{"service"},
		),
	}

	registry.MustRegister(
		m.Operations, m.IdempotentReplays, m.RecoverySeized, m.InvariantViolations,
		m.PollerCycles, m.PollerBorrowerErrs, m.PollerLiquidations, m.PollerHealthFactor,
		m.ExternalFallbacks,
	)
	return m
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Op(op, status string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, status).Inc()
}

func (m *Metrics) Replay(op string) {
	if m == nil {
		return
	}
	m.IdempotentReplays.WithLabelValues(op).Inc()
}

func (m *Metrics) Seized(action string, minor int64) {
	if m == nil || minor <= 0 {
		return
	}
	m.RecoverySeized.WithLabelValues(action).Add(float64(minor))
}

func (m *Metrics) Invariant(name string) {
	if m == nil {
		return
	}
	m.InvariantViolations.WithLabelValues(name).Inc()
}

func (m *Metrics) Cycle(status string) {
	if m == nil {
		return
	}
	m.PollerCycles.WithLabelValues(status).Inc()
}

func (m *Metrics) BorrowerError(stage string) {
	if m == nil {
		return
	}
	m.PollerBorrowerErrs.WithLabelValues(stage).Inc()
}

func (m *Metrics) Liquidation() {
	if m == nil {
		return
	}
	m.PollerLiquidations.Inc()
}

func (m *Metrics) HealthFactor(borrower string, hf float64) {
	if m == nil {
		return
	}
	m.PollerHealthFactor.WithLabelValues(borrower).Set(hf)
}

func (m *Metrics) Fallback(service string) {
	if m == nil {
		return
	}
	m.ExternalFallbacks.WithLabelValues(service).Inc()
}
