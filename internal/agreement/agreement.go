// Package agreement correlates a user's recurring-billing agreement with the
// locally reconciled transactions that paid for it.
package agreement

import (
	"github.com/ksred/steam-billing-api/internal/transaction"
)

// Outcome of resolving an agreement against stored transactions
type Outcome string

const (
	Found               Outcome = "found"
	NoTransactions      Outcome = "no_transactions"
	NoValidTransactions Outcome = "no_valid_transactions"
)

// Resolution always carries the agreement id. Transaction is set only when
// the outcome is Found.
type Resolution struct {
	Outcome     Outcome                  `json:"outcome"`
	AgreementID string                   `json:"agreementid"`
	Transaction *transaction.Transaction `json:"transaction,omitempty"`
}

// Resolve picks the most recently updated settled (Approved or Succeeded)
// transaction. Input order does not matter.
func Resolve(agreementID string, txs []transaction.Transaction) Resolution {
	res := Resolution{AgreementID: agreementID}
	if len(txs) == 0 {
		res.Outcome = NoTransactions
		return res
	}

	var latest *transaction.Transaction
	for i := range txs {
		if !txs[i].Status.Settled() {
			continue
		}
		if latest == nil || txs[i].TimeUpdated.After(latest.TimeUpdated) {
			latest = &txs[i]
		}
	}

	if latest == nil {
		res.Outcome = NoValidTransactions
		return res
	}
	res.Outcome = Found
	res.Transaction = latest
	return res
}
