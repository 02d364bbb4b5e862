// Package metrics содержит Prometheus-метрики операций учёта.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmeshcher/friendledger/internal/model"
)

// Ledger собирает счётчики составных операций. Нулевой указатель допустим и ничего не считает.
type Ledger struct {
	operations *prometheus.CounterVec
	reconcile  *prometheus.CounterVec
	repaired   prometheus.Counter
}

// NewLedger создаёт метрики и регистрирует их в reg.
func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "friendledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and result kind.",
		}, []string{"op", "result"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "friendledger",
			Name:      "reconcile_needed_total",
			Help:      "Operations that wrote an expense but failed to apply the balance change.",
		}, []string{"op"}),
		repaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "friendledger",
			Name:      "balances_repaired_total",
			Help:      "Friend balances rewritten by reconciliation.",
		}),
	}
	reg.MustRegister(m.operations, m.reconcile, m.repaired)
	return m
}

// Observe учитывает завершение операции.
func (m *Ledger) Observe(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, ResultLabel(err)).Inc()
}

// ReconcileNeeded учитывает операцию, оставившую баланс несогласованным.
func (m *Ledger) ReconcileNeeded(op string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(op).Inc()
}

// BalanceRepaired учитывает исправленный баланс.
func (m *Ledger) BalanceRepaired() {
	if m == nil {
		return
	}
	m.repaired.Inc()
}

// ResultLabel переводит ошибку в метку результата.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
