package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ksred/steam-billing-api/internal/types"
)

// SandboxTicketPrefix prefixes the session tickets the sandbox accepts:
// "sandbox:<steamid>"
const SandboxTicketPrefix = "sandbox:"

// Sandbox is an in-process billing platform used for local runs and the
// purchase simulation. It keeps a ledger in memory and approves purchases
// with a configurable probability after a simulated latency.
type Sandbox struct {
	MinLatency   time.Duration
	MaxLatency   time.Duration
	ApprovalRate float64 // 0-1, probability the user approves the purchase overlay

	mu         sync.Mutex
	rng        *rand.Rand
	now        func() time.Time
	nextTrans  int64
	nonOwners  map[string]bool
	orders     map[string]*sandboxOrder
	agreements map[string]*Agreement // by steam id
}

type sandboxOrder struct {
	details     TxnDetails
	timeCreated time.Time
	updated     time.Time
	agreementID string
	period      string
	frequency   int
}

var _ Gateway = (*Sandbox)(nil)

// NewSandbox creates a sandbox that approves every purchase instantly
func NewSandbox() *Sandbox {
	return &Sandbox{
		ApprovalRate: 1,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		nextTrans:    time.Now().UnixMilli(),
		now:          time.Now,
		nonOwners:    make(map[string]bool),
		orders:       make(map[string]*sandboxOrder),
		agreements:   make(map[string]*Agreement),
	}
}

// Disown makes ownership checks for steamID fail
func (s *Sandbox) Disown(steamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonOwners[steamID] = true
}

// SetClock replaces the sandbox time source
func (s *Sandbox) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetStatus forces a transaction into a status, as a refund or chargeback
// on the platform side would
func (s *Sandbox) SetStatus(orderID string, status types.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	o.details.Status = status
	o.updated = s.now()
	return nil
}

func (s *Sandbox) latency(ctx context.Context) error {
	if s.MaxLatency <= 0 {
		if err := ctx.Err(); err != nil {
			return unreachable("sandbox", err)
		}
		return nil
	}

	s.mu.Lock()
	d := s.MinLatency
	if spread := s.MaxLatency - s.MinLatency; spread > 0 {
		d += time.Duration(s.rng.Int63n(int64(spread)))
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return unreachable("sandbox", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// CheckAppOwnership treats every user as an owner unless disowned
func (s *Sandbox) CheckAppOwnership(ctx context.Context, steamID, appID string) (*Ownership, error) {
	if err := s.latency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owns := !s.nonOwners[steamID]
	o := &Ownership{OwnsApp: owns, Permanent: owns, Timestamp: s.now().UTC().Format(time.RFC3339)}
	if owns {
		o.OwnerSteamID = steamID
	}
	return o, nil
}

// AuthenticateUserTicket accepts tickets of the form "sandbox:<steamid>"
func (s *Sandbox) AuthenticateUserTicket(ctx context.Context, ticket, appID string) (*TicketAuth, error) {
	if err := s.latency(ctx); err != nil {
		return nil, err
	}

	steamID, ok := strings.CutPrefix(ticket, SandboxTicketPrefix)
	if !ok || steamID == "" {
		return nil, rejected("AuthenticateUserTicket", "101", "Invalid ticket")
	}
	return &TicketAuth{SteamID: steamID, OwnerSteamID: steamID}, nil
}

// GetUserInfo reports every user as active
func (s *Sandbox) GetUserInfo(ctx context.Context, steamID string) (*UserInfo, error) {
	if err := s.latency(ctx); err != nil {
		return nil, err
	}
	return &UserInfo{Country: "US", Currency: "USD", Status: "Active"}, nil
}

// InitTxn opens the transaction and settles the user's overlay decision
// immediately: Approved with ApprovalRate probability, Failed otherwise
func (s *Sandbox) InitTxn(ctx context.Context, req InitTxnRequest) (*InitTxnResult, error) {
	const op = "InitTxn"
	if err := s.latency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[req.OrderID]; exists {
		return nil, rejected(op, "8", "Order already exists")
	}
	if req.Amount <= 0 {
		return nil, rejected(op, "3", "Invalid amount")
	}

	status := types.StatusApproved
	if s.rng.Float64() >= s.ApprovalRate {
		status = types.StatusFailed
	}

	now := s.now()
	s.nextTrans++
	o := &sandboxOrder{
		details: TxnDetails{
			OrderID:  req.OrderID,
			TransID:  strconv.FormatInt(s.nextTrans, 10),
			SteamID:  req.SteamID,
			Status:   status,
			Currency: req.Currency,
			Time:     now.UTC().Format(ReportTimeFormat),
			Country:  "US",
			Items: []LineItem{{
				ItemID:     jsonNumber(int64(req.ItemID)),
				Qty:        1,
				Amount:     jsonNumber(req.Amount),
				VAT:        "0",
				ItemStatus: string(status),
			}},
		},
		timeCreated: now,
		updated:     now,
		period:      req.Period,
		frequency:   req.Frequency,
	}
	s.orders[req.OrderID] = o

	log.Debug().
		Str("component", "steam_sandbox").
		Str("order_id", req.OrderID).
		Str("trans_id", o.details.TransID).
		Str("status", string(status)).
		Msg("sandbox transaction opened")

	return &InitTxnResult{OrderID: req.OrderID, TransID: o.details.TransID}, nil
}

// QueryTxn returns the stored transaction
func (s *Sandbox) QueryTxn(ctx context.Context, orderID, transID string) (*TxnDetails, error) {
	if err := s.latency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok || (transID != "" && o.details.TransID != transID) {
		return nil, rejected("QueryTxn", "7", "Transaction not found")
	}
	details := o.details
	details.Items = append([]LineItem(nil), o.details.Items...)
	return &details, nil
}

// FinalizeTxn moves an approved transaction to Succeeded and, for recurring
// items, activates the user's agreement
func (s *Sandbox) FinalizeTxn(ctx context.Context, orderID string) error {
	const op = "FinalizeTxn"
	if err := s.latency(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return rejected(op, "7", "Transaction not found")
	}
	if o.details.Status != types.StatusApproved {
		return rejected(op, "2", "Transaction not approved")
	}

	now := s.now()
	o.details.Status = types.StatusSucceeded
	o.details.Time = now.UTC().Format(ReportTimeFormat)
	o.updated = now
	for i := range o.details.Items {
		o.details.Items[i].ItemStatus = string(types.StatusSucceeded)
	}

	if o.period != "" && o.frequency > 0 {
		amount, _ := o.details.Items[0].Amount.Int64()
		itemID, _ := o.details.Items[0].ItemID.Int64()
		a := &Agreement{
			AgreementID:  strconv.FormatUint(uint64(uuid.New().ID()), 10),
			ItemID:       itemID,
			Status:       "Active",
			Period:       o.period,
			Frequency:    int64(o.frequency),
			StartDate:    now.UTC().Format("20060102"),
			RecurringAmt: amount,
			Currency:     o.details.Currency,
			TimeCreated:  now.UTC().Format(ReportTimeFormat),
			LastPayment:  now.UTC().Format("20060102"),
			LastAmount:   amount,
			NextPayment:  nextPayment(now, o.period, o.frequency).UTC().Format("20060102"),
		}
		s.agreements[o.details.SteamID] = a
		o.agreementID = a.AgreementID
	}
	return nil
}

func nextPayment(from time.Time, period string, frequency int) time.Time {
	switch strings.ToLower(period) {
	case "day":
		return from.AddDate(0, 0, frequency)
	case "week":
		return from.AddDate(0, 0, 7*frequency)
	case "year":
		return from.AddDate(frequency, 0, 0)
	default:
		return from.AddDate(0, frequency, 0)
	}
}

// CancelAgreement marks the user's agreement inactive
func (s *Sandbox) CancelAgreement(ctx context.Context, steamID, agreementID string) (*CancelResult, error) {
	if err := s.latency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agreements[steamID]
	if !ok || a.AgreementID != agreementID {
		return nil, rejected("CancelAgreement", "7", "Agreement not found")
	}
	a.Status = "Inactive"
	a.NextPayment = ""

	now := s.now()
	for _, o := range s.orders {
		if o.agreementID == agreementID {
			o.updated = now
		}
	}
	return &CancelResult{AgreementID: agreementID}, nil
}

// GetUserAgreementInfo returns the user's agreement
func (s *Sandbox) GetUserAgreementInfo(ctx context.Context, steamID string) (*Agreement, error) {
	if err := s.latency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agreements[steamID]
	if !ok {
		return nil, rejected("GetUserAgreementInfo", "7", "No agreement found for user")
	}
	agreement := *a
	return &agreement, nil
}

// GetReport lists orders updated at or after the query time, oldest first
func (s *Sandbox) GetReport(ctx context.Context, query ReportQuery) (*Report, error) {
	if err := s.latency(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*sandboxOrder, 0, len(s.orders))
	for _, o := range s.orders {
		if !o.updated.Before(query.Since) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].updated.Before(matched[j].updated)
	})
	if query.MaxResults > 0 && len(matched) > query.MaxResults {
		matched = matched[:query.MaxResults]
	}

	report := &Report{Count: len(matched), Orders: make([]ReportOrder, 0, len(matched))}
	for _, o := range matched {
		entry := ReportOrder{
			OrderID:     o.details.OrderID,
			TransID:     o.details.TransID,
			SteamID:     o.details.SteamID,
			Status:      o.details.Status,
			Currency:    o.details.Currency,
			Time:        o.updated.UTC().Format(ReportTimeFormat),
			Country:     o.details.Country,
			TimeCreated: o.timeCreated.UTC().Format(ReportTimeFormat),
			AgreementID: o.agreementID,
			Items:       append([]LineItem(nil), o.details.Items...),
		}
		if a, ok := s.agreements[o.details.SteamID]; ok && a.AgreementID == o.agreementID {
			entry.AgreementStatus = a.Status
			entry.NextPayment = a.NextPayment
		}
		report.Orders = append(report.Orders, entry)
	}
	return report, nil
}

func jsonNumber(n int64) json.Number {
	return json.Number(strconv.FormatInt(n, 10))
}
