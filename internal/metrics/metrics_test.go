package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/friendledger/internal/model"
)

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{model.ErrNotFound, "not_found"},
		{model.NewValidationError("amount", "bad"), "validation"},
		{model.ErrSettledExpenseEdit, "invalid_state"},
		{model.Unavailable("get friend", errors.New("boom")), "store_unavailable"},
		{errors.New("other"), "error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ResultLabel(tt.err))
	}
}

func TestLedgerCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedger(reg)

	m.Observe("create_expense", nil)
	m.Observe("create_expense", nil)
	m.Observe("create_expense", model.ErrNotFound)
	m.ReconcileNeeded("create_expense")
	m.BalanceRepaired()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("create_expense", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create_expense", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcile.WithLabelValues("create_expense")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repaired))
}

func TestNilLedgerIsNoop(t *testing.T) {
	var m *Ledger

	assert.NotPanics(t, func() {
		m.Observe("settle", nil)
		m.ReconcileNeeded("settle")
		m.BalanceRepaired()
	})
}
