package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/ksred/steam-billing-api/internal/steam"
	"github.com/ksred/steam-billing-api/internal/transaction"
)

const nextPaymentLayout = "20060102"

var errMalformedOrder = errors.New("malformed report order")

// ToTransaction maps one ledger entry to the row stored for it. Multi-item
// orders keep their per-item columns comma-joined in item order.
func ToTransaction(order steam.ReportOrder, policy Policy) (*transaction.Transaction, error) {
	if order.OrderID == "" || order.TransID == "" {
		return nil, fmt.Errorf("%w: missing orderid or transid", errMalformedOrder)
	}
	if !order.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", errMalformedOrder, order.Status)
	}

	updated, err := parseReportTime(order.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: time: %v", errMalformedOrder, err)
	}
	created := updated
	if order.TimeCreated != "" {
		if created, err = parseReportTime(order.TimeCreated); err != nil {
			return nil, fmt.Errorf("%w: timecreated: %v", errMalformedOrder, err)
		}
	}

	tx := &transaction.Transaction{
		OrderID:            order.OrderID,
		TransID:            order.TransID,
		SteamID:            order.SteamID,
		Status:             order.Status,
		Currency:           order.Currency,
		Country:            order.Country,
		USState:            order.USState,
		TimeCreated:        created,
		TimeUpdated:        updated,
		AgreementID:        order.AgreementID,
		AgreementStatus:    order.AgreementStatus,
		SubscriptionStatus: policy.SubscriptionStatus(order.AgreementStatus),
	}

	if order.NextPayment != "" {
		next, err := time.ParseInLocation(nextPaymentLayout, order.NextPayment, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: nextpayment: %v", errMalformedOrder, err)
		}
		tx.NextPayment = &next
	}

	ids := make([]string, 0, len(order.Items))
	amounts := make([]string, 0, len(order.Items))
	vats := make([]string, 0, len(order.Items))
	items := make([]transaction.Item, 0, len(order.Items))
	for _, it := range order.Items {
		ids = append(ids, it.ItemID.String())
		amounts = append(amounts, it.Amount.String())
		vats = append(vats, it.VAT.String())
		items = append(items, transaction.Item{
			ItemID:     it.ItemID.String(),
			Qty:        it.Qty,
			Amount:     it.Amount.String(),
			VAT:        it.VAT.String(),
			ItemStatus: it.ItemStatus,
		})
	}
	tx.ItemID = strings.Join(ids, ",")
	tx.Amount = strings.Join(amounts, ",")
	tx.VAT = strings.Join(vats, ",")

	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("%w: items: %v", errMalformedOrder, err)
	}
	tx.Items = datatypes.JSON(raw)

	return tx, nil
}

func parseReportTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
