package steam

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ksred/steam-billing-api/internal/types"
)

// Gateway is the billing platform as seen by the orchestrator and the
// reconciliation engine. Every call either returns a fully populated result
// or an error; a non-OK platform result is always a *PlatformError.
type Gateway interface {
	CheckAppOwnership(ctx context.Context, steamID, appID string) (*Ownership, error)
	AuthenticateUserTicket(ctx context.Context, ticket, appID string) (*TicketAuth, error)
	GetUserInfo(ctx context.Context, steamID string) (*UserInfo, error)
	InitTxn(ctx context.Context, req InitTxnRequest) (*InitTxnResult, error)
	QueryTxn(ctx context.Context, orderID, transID string) (*TxnDetails, error)
	FinalizeTxn(ctx context.Context, orderID string) error
	CancelAgreement(ctx context.Context, steamID, agreementID string) (*CancelResult, error)
	GetUserAgreementInfo(ctx context.Context, steamID string) (*Agreement, error)
	GetReport(ctx context.Context, query ReportQuery) (*Report, error)
}

// Ownership is the result of an app ownership check
type Ownership struct {
	OwnsApp      bool   `json:"ownsapp"`
	Permanent    bool   `json:"permanent"`
	Timestamp    string `json:"timestamp"`
	OwnerSteamID string `json:"ownersteamid"`
	SiteLicense  bool   `json:"sitelicense"`
}

// TicketAuth is the identity behind a session ticket
type TicketAuth struct {
	SteamID         string `json:"steamid"`
	OwnerSteamID    string `json:"ownersteamid"`
	VACBanned       bool   `json:"vacbanned"`
	PublisherBanned bool   `json:"publisherbanned"`
}

// UserInfo is the platform's trust view of a user
type UserInfo struct {
	State    string `json:"state"`
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// Reliable reports whether the platform trusts the user to transact
func (u UserInfo) Reliable() bool {
	return u.Status == "Active" || u.Status == "Trusted"
}

// InitTxnRequest opens a single-item transaction. Period and Frequency are
// only sent for recurring products.
type InitTxnRequest struct {
	OrderID     string
	SteamID     string
	ItemID      int
	Amount      int64
	Currency    string
	Language    string
	Description string
	Period      string
	Frequency   int
}

// InitTxnResult identifies the transaction the platform opened
type InitTxnResult struct {
	OrderID      string   `json:"orderid"`
	TransID      string   `json:"transid"`
	AgreementIDs []string `json:"agreement_ids,omitempty"`
}

// LineItem is one item of a transaction. Numeric fields are kept as the
// platform sends them.
type LineItem struct {
	ItemID     json.Number `json:"itemid"`
	Qty        int         `json:"qty"`
	Amount     json.Number `json:"amount"`
	VAT        json.Number `json:"vat"`
	ItemStatus string      `json:"itemstatus"`
}

// TxnDetails is the platform's current view of a transaction
type TxnDetails struct {
	OrderID  string                  `json:"orderid"`
	TransID  string                  `json:"transid"`
	SteamID  string                  `json:"steamid"`
	Status   types.TransactionStatus `json:"status"`
	Currency string                  `json:"currency"`
	Time     string                  `json:"time"`
	Country  string                  `json:"country"`
	USState  string                  `json:"usstate"`
	Items    []LineItem              `json:"items"`
}

// CancelResult confirms an agreement cancellation
type CancelResult struct {
	AgreementID string `json:"agreementid"`
}

// Agreement is a recurring-billing subscription
type Agreement struct {
	AgreementID    string `json:"agreementid"`
	ItemID         int64  `json:"itemid"`
	Status         string `json:"status"`
	Period         string `json:"period"`
	Frequency      int64  `json:"frequency"`
	StartDate      string `json:"startdate"`
	EndDate        string `json:"enddate"`
	RecurringAmt   int64  `json:"recurringamt"`
	Currency       string `json:"currency"`
	TimeCreated    string `json:"timecreated"`
	LastPayment    string `json:"lastpayment"`
	LastAmount     int64  `json:"lastamount"`
	LastAmountVAT  int64  `json:"lastamountvat"`
	NextPayment    string `json:"nextpayment"`
	Outstanding    int64  `json:"outstanding"`
	FailedAttempts int64  `json:"failedattempts"`
}

// Report types accepted by GetReport
const (
	ReportTypeGameSales    = "GAMESALES"
	ReportTypeSteamStore   = "STEAMSTORESALES"
	ReportTypeSettlement   = "SETTLEMENT"
	ReportTypeSubscription = "SUBSCRIPTION"
)

// ReportTimeFormat is the timestamp layout GetReport expects
const ReportTimeFormat = "2006-01-02T15:04:05Z"

// ReportQuery selects the orders updated since a point in time
type ReportQuery struct {
	Type       string
	Since      time.Time
	MaxResults int
}

// Report is one page of the platform ledger
type Report struct {
	Count  int           `json:"count"`
	Orders []ReportOrder `json:"orders"`
}

// ReportOrder is one ledger entry
type ReportOrder struct {
	OrderID         string                  `json:"orderid"`
	TransID         string                  `json:"transid"`
	SteamID         string                  `json:"steamid"`
	Status          types.TransactionStatus `json:"status"`
	Currency        string                  `json:"currency"`
	Time            string                  `json:"time"`
	Country         string                  `json:"country"`
	USState         string                  `json:"usstate"`
	TimeCreated     string                  `json:"timecreated"`
	AgreementID     string                  `json:"agreementid"`
	AgreementStatus string                  `json:"agreementstatus"`
	NextPayment     string                  `json:"nextpayment,omitempty"`
	Items           []LineItem              `json:"items"`
}
