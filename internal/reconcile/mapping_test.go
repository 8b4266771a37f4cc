package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/steam-billing-api/internal/steam"
	"github.com/ksred/steam-billing-api/internal/types"
)

func reportOrder(orderID, transID string, status types.TransactionStatus, at string) steam.ReportOrder {
	return steam.ReportOrder{
		OrderID:         orderID,
		TransID:         transID,
		SteamID:         "7656",
		Status:          status,
		Currency:        "USD",
		Time:            at,
		Country:         "US",
		TimeCreated:     "2024-05-01T09:59:00Z",
		AgreementID:     "AG1",
		AgreementStatus: "Active",
		NextPayment:     "20240601",
		Items: []steam.LineItem{
			{ItemID: "42", Qty: 1, Amount: "500", VAT: "0", ItemStatus: string(status)},
		},
	}
}

func TestToTransaction(t *testing.T) {
	order := reportOrder("A1", "T1", types.StatusSucceeded, "2024-05-01T10:00:00Z")
	order.USState = "CA"
	order.Items = append(order.Items, steam.LineItem{ItemID: "43", Qty: 2, Amount: "100", VAT: "8"})

	policy, err := ParsePolicy("Active=active")
	require.NoError(t, err)

	tx, err := ToTransaction(order, policy)
	require.NoError(t, err)

	assert.Equal(t, "A1", tx.OrderID)
	assert.Equal(t, types.StatusSucceeded, tx.Status)
	assert.Equal(t, "CA", tx.USState)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), tx.TimeUpdated)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 59, 0, 0, time.UTC), tx.TimeCreated)
	require.NotNil(t, tx.NextPayment)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *tx.NextPayment)
	assert.Equal(t, "42,43", tx.ItemID)
	assert.Equal(t, "500,100", tx.Amount)
	assert.Equal(t, "0,8", tx.VAT)
	assert.Equal(t, "active", tx.SubscriptionStatus)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(tx.Items, &items))
	require.Len(t, items, 2)
	assert.Equal(t, float64(2), items[1]["qty"])
}

func TestToTransaction_NoPolicyLeavesSubscriptionStatusEmpty(t *testing.T) {
	tx, err := ToTransaction(reportOrder("A1", "T1", types.StatusSucceeded, "2024-05-01T10:00:00Z"), nil)
	require.NoError(t, err)
	assert.Empty(t, tx.SubscriptionStatus)
}

func TestToTransaction_OptionalFields(t *testing.T) {
	order := reportOrder("A1", "T1", types.StatusApproved, "2024-05-01T10:00:00Z")
	order.NextPayment = ""
	order.TimeCreated = ""

	tx, err := ToTransaction(order, nil)
	require.NoError(t, err)
	assert.Nil(t, tx.NextPayment)
	assert.Equal(t, tx.TimeUpdated, tx.TimeCreated)
}

func TestToTransaction_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*steam.ReportOrder)
	}{
		{"missing order id", func(o *steam.ReportOrder) { o.OrderID = "" }},
		{"missing trans id", func(o *steam.ReportOrder) { o.TransID = "" }},
		{"unknown status", func(o *steam.ReportOrder) { o.Status = "Pending" }},
		{"bad time", func(o *steam.ReportOrder) { o.Time = "yesterday" }},
		{"bad nextpayment", func(o *steam.ReportOrder) { o.NextPayment = "2024-06-01" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := reportOrder("A1", "T1", types.StatusApproved, "2024-05-01T10:00:00Z")
			tt.mutate(&order)
			_, err := ToTransaction(order, nil)
			assert.ErrorIs(t, err, errMalformedOrder)
		})
	}
}
