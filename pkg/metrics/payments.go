package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records provider callback and settlement activity.
type PaymentMetrics struct {
	callbacks      *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	settlementLag  prometheus.Histogram
	activationDead prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Provider callbacks received, by provider and outcome.",
	}, []string{"provider", "outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Transaction status transitions applied.",
	}, []string{"from", "to"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_attempts_total",
		Help: "Settlement activation attempts, by result.",
	}, []string{"result"})
	settlementLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_lag_seconds",
		Help:    "Time between transaction completion and benefit activation.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})
	activationDead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_dead_total",
		Help: "Activations parked after exhausting retries.",
	})
	reg.MustRegister(callbacks, transitions, settlements, settlementLag, activationDead)
	return &PaymentMetrics{
		callbacks:      callbacks,
		transitions:    transitions,
		settlements:    settlements,
		settlementLag:  settlementLag,
		activationDead: activationDead,
	}
}

// IncCallback counts one provider callback with its outcome.
func (p *PaymentMetrics) IncCallback(provider, outcome string) {
	if p == nil || p.callbacks == nil {
		return
	}
	p.callbacks.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// IncTransition counts one applied status transition.
func (p *PaymentMetrics) IncTransition(from, to string) {
	if p == nil || p.transitions == nil {
		return
	}
	p.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncSettlement counts one activation attempt result.
func (p *PaymentMetrics) IncSettlement(result string) {
	if p == nil || p.settlements == nil {
		return
	}
	p.settlements.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveSettlementLag records how long a completed transaction waited for activation.
func (p *PaymentMetrics) ObserveSettlementLag(lag time.Duration) {
	if p == nil || p.settlementLag == nil {
		return
	}
	p.settlementLag.Observe(lag.Seconds())
}

// IncDead counts one activation moved to the dead state.
func (p *PaymentMetrics) IncDead() {
	if p == nil || p.activationDead == nil {
		return
	}
	p.activationDead.Inc()
}
