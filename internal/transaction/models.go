package transaction

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ksred/steam-billing-api/internal/types"
)

// Transaction is the local copy of one platform ledger entry. It is written
// only by reconciliation and keyed on (OrderID, TransID).
type Transaction struct {
	gorm.Model         `json:"-"`
	OrderID            string                  `gorm:"size:32;not null;uniqueIndex:idx_transactions_order_trans,priority:1" json:"orderid"`
	TransID            string                  `gorm:"size:32;not null;uniqueIndex:idx_transactions_order_trans,priority:2" json:"transid"`
	SteamID            string                  `gorm:"size:32;index:idx_transactions_agreement,priority:1" json:"steamid"`
	Status             types.TransactionStatus `gorm:"size:32" json:"status"`
	Currency           string                  `gorm:"size:3" json:"currency"`
	Country            string                  `gorm:"size:2" json:"country"`
	USState            string                  `gorm:"size:2" json:"usstate,omitempty"`
	TimeCreated        time.Time               `json:"timecreated"`
	TimeUpdated        time.Time               `gorm:"index" json:"timeupdated"`
	AgreementID        string                  `gorm:"size:32;index:idx_transactions_agreement,priority:2" json:"agreementid"`
	AgreementStatus    string                  `gorm:"size:32" json:"agreementstatus"`
	SubscriptionStatus string                  `gorm:"size:32" json:"subscription_status"`
	NextPayment        *time.Time              `gorm:"type:date" json:"nextpayment,omitempty"`
	ItemID             string                  `json:"itemid"` // comma-joined, one entry per line item
	Amount             string                  `json:"amount"`
	VAT                string                  `json:"vat"`
	Items              datatypes.JSON          `json:"items"`
}

// Item is one line item as kept in the Items column
type Item struct {
	ItemID     string `json:"itemid"`
	Qty        int    `json:"qty"`
	Amount     string `json:"amount"`
	VAT        string `json:"vat"`
	ItemStatus string `json:"itemstatus"`
}
