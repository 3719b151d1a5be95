package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WalletMetrics counts balance mutations and their failure modes.
type WalletMetrics struct {
	reservations *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	conflicts    prometheus.Counter
}

// NewWalletMetrics registers the wallet metrics on the provided registerer.
func NewWalletMetrics(reg prometheus.Registerer) *WalletMetrics {
	if reg == nil {
		return &WalletMetrics{}
	}
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_reservations_total",
		Help: "Pending transaction reservations by kind and outcome.",
	}, []string{"kind", "outcome"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_settlements_total",
		Help: "Transaction settlements by kind and outcome.",
	}, []string{"kind", "outcome"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_settlement_conflicts_total",
		Help: "Settlement attempts rejected because the row was already terminal.",
	})
	reg.MustRegister(reservations, settlements, conflicts)
	return &WalletMetrics{
		reservations: reservations,
		settlements:  settlements,
		conflicts:    conflicts,
	}
}

// IncReservation increments the reservation counter.
func (w *WalletMetrics) IncReservation(kind, outcome string) {
	if w == nil || w.reservations == nil {
		return
	}
	w.reservations.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// IncSettlement increments the settlement counter.
func (w *WalletMetrics) IncSettlement(kind, outcome string) {
	if w == nil || w.settlements == nil {
		return
	}
	w.settlements.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// IncConflict increments the settlement conflict counter.
func (w *WalletMetrics) IncConflict() {
	if w == nil || w.conflicts == nil {
		return
	}
	w.conflicts.Inc()
}
