package purchase

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ksred/steam-billing-api/internal/catalog"
	"github.com/ksred/steam-billing-api/internal/steam"
	"github.com/ksred/steam-billing-api/internal/transaction"
)

// fakeGateway answers with canned results and records which calls were made
type fakeGateway struct {
	mu    sync.Mutex
	calls []string

	ownership    *steam.Ownership
	ownershipErr error
	ticket       *steam.TicketAuth
	ticketErr    error
	userInfo     *steam.UserInfo
	userInfoErr  error
	initResult   *steam.InitTxnResult
	initErr      error
	lastInit     steam.InitTxnRequest
	details      *steam.TxnDetails
	detailsErr   error
	finalizeErr  error
	cancelErr    error
	agreement    *steam.Agreement
	agreementErr error
}

var _ steam.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		ownership:  &steam.Ownership{OwnsApp: true, OwnerSteamID: "7656"},
		ticket:     &steam.TicketAuth{SteamID: "7656"},
		userInfo:   &steam.UserInfo{Status: "Active", Country: "US", Currency: "USD"},
		initResult: &steam.InitTxnResult{OrderID: "ignored", TransID: "T1"},
		details:    &steam.TxnDetails{OrderID: "O1", TransID: "T1", SteamID: "7656", Status: "Approved"},
		agreement:  &steam.Agreement{AgreementID: "AG1", Status: "Active"},
	}
}

func (f *fakeGateway) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeGateway) called(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeGateway) CheckAppOwnership(_ context.Context, _, _ string) (*steam.Ownership, error) {
	f.record("CheckAppOwnership")
	return f.ownership, f.ownershipErr
}

func (f *fakeGateway) AuthenticateUserTicket(_ context.Context, _, _ string) (*steam.TicketAuth, error) {
	f.record("AuthenticateUserTicket")
	return f.ticket, f.ticketErr
}

func (f *fakeGateway) GetUserInfo(_ context.Context, _ string) (*steam.UserInfo, error) {
	f.record("GetUserInfo")
	return f.userInfo, f.userInfoErr
}

func (f *fakeGateway) InitTxn(_ context.Context, req steam.InitTxnRequest) (*steam.InitTxnResult, error) {
	f.record("InitTxn")
	f.mu.Lock()
	f.lastInit = req
	f.mu.Unlock()
	return f.initResult, f.initErr
}

func (f *fakeGateway) QueryTxn(_ context.Context, _, _ string) (*steam.TxnDetails, error) {
	f.record("QueryTxn")
	return f.details, f.detailsErr
}

func (f *fakeGateway) FinalizeTxn(_ context.Context, _ string) error {
	f.record("FinalizeTxn")
	return f.finalizeErr
}

func (f *fakeGateway) CancelAgreement(_ context.Context, _, agreementID string) (*steam.CancelResult, error) {
	f.record("CancelAgreement")
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &steam.CancelResult{AgreementID: agreementID}, nil
}

func (f *fakeGateway) GetUserAgreementInfo(_ context.Context, _ string) (*steam.Agreement, error) {
	f.record("GetUserAgreementInfo")
	return f.agreement, f.agreementErr
}

func (f *fakeGateway) GetReport(_ context.Context, _ steam.ReportQuery) (*steam.Report, error) {
	f.record("GetReport")
	return &steam.Report{}, nil
}

// memoryStore is a Store over a slice
type memoryStore struct {
	txs []transaction.Transaction
	err error
}

func (m *memoryStore) Upsert(_ context.Context, tx *transaction.Transaction) error {
	m.txs = append(m.txs, *tx)
	return nil
}

func (m *memoryStore) Find(_ context.Context, orderID, transID string) (*transaction.Transaction, error) {
	for i := range m.txs {
		if m.txs[i].OrderID == orderID && m.txs[i].TransID == transID {
			return &m.txs[i], nil
		}
	}
	return nil, transaction.ErrNotFound
}

func (m *memoryStore) ForAgreement(_ context.Context, steamID, agreementID string) ([]transaction.Transaction, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []transaction.Transaction
	for _, tx := range m.txs {
		if tx.SteamID == steamID && tx.AgreementID == agreementID {
			out = append(out, tx)
		}
	}
	return out, nil
}

type fixedIDs struct{ id string }

func (f fixedIDs) Generate() string { return f.id }

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Product{
		{ID: 42, Description: "Premium", PricePerCurrency: map[string]int64{"USD": 500, "EUR": 450}, Period: "Month", Frequency: 1},
		{ID: 7, Description: "Gems", PricePerCurrency: map[string]int64{"USD": 99}},
		{ID: 8, Description: "Euro only", PricePerCurrency: map[string]int64{"EUR": 100}},
	}, "USD")
	require.NoError(t, err)
	return c
}

func newTestService(t *testing.T, gw *fakeGateway, store *memoryStore) *Service {
	t.Helper()
	return NewService(gw, testCatalog(t), fixedIDs{id: "1000"}, store, Config{AppID: "480"})
}
