package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyRendersTwoDecimals(t *testing.T) {
	ten := decimal.NewFromInt(10)

	tests := []struct {
		name  string
		value interface{}
		field string
		want  string
	}{
		{"commission", &Commission{ID: uuid.New(), Amount: ten}, "amount", `"10.00"`},
		{"wallet", Wallet{Balance: decimal.RequireFromString("2.5")}, "balance", `"2.50"`},
		{"transaction", &WalletTransaction{Amount: decimal.Zero}, "amount", `"0.00"`},
		{"sale", SaleRecord{Amount: decimal.RequireFromString("99.999")}, "amount", `"100.00"`},
		{"reconciliation", ReconciliationReport{Credits: ten}, "credits", `"10.00"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.value)
			require.NoError(t, err)
			var fields map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(raw, &fields))
			assert.JSONEq(t, tt.want, string(fields[tt.field]))
		})
	}
}

func TestMoneyJSONKeepsOtherFields(t *testing.T) {
	ref := "ORDER-9"
	c := Commission{
		ID:            uuid.New(),
		Amount:        decimal.RequireFromString("1.5"),
		Source:        CommissionSourceDirectSale,
		SaleReference: &ref,
		Status:        CommissionStatusPending,
	}
	raw, err := json.Marshal(c)
	require.NoError(t, err)

	var back Commission
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, c.ID, back.ID)
	assert.Equal(t, ref, *back.SaleReference)
	assert.Equal(t, CommissionStatusPending, back.Status)
	assert.True(t, back.Amount.Equal(c.Amount))
}
