package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/steam-billing-api/internal/agreement"
	"github.com/ksred/steam-billing-api/internal/catalog"
	"github.com/ksred/steam-billing-api/internal/steam"
	"github.com/ksred/steam-billing-api/internal/transaction"
	"github.com/ksred/steam-billing-api/internal/types"
)

// IDGenerator issues order ids
type IDGenerator interface {
	Generate() string
}

// Config holds the per-deployment purchase settings
type Config struct {
	AppID    string
	Language string // used when a purchase request names none
}

// Service orchestrates purchases against the billing platform. Every step
// re-checks its precondition with the platform; nothing is cached between
// requests.
type Service struct {
	gateway steam.Gateway
	catalog *catalog.Catalog
	ids     IDGenerator
	store   transaction.Store
	cfg     Config
	logger  zerolog.Logger
}

// NewService creates a purchase service
func NewService(gateway steam.Gateway, products *catalog.Catalog, ids IDGenerator, store transaction.Store, cfg Config) *Service {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Service{
		gateway: gateway,
		catalog: products,
		ids:     ids,
		store:   store,
		cfg:     cfg,
		logger:  log.With().Str("service", "purchase").Logger(),
	}
}

// InitRequest is a purchase of one catalog item
type InitRequest struct {
	SteamID  string
	ItemID   int
	Currency string
	Language string
}

// InitResult identifies the opened transaction and what it was priced at
type InitResult struct {
	OrderID           string   `json:"orderid"`
	TransID           string   `json:"transid"`
	ItemID            int      `json:"itemid"`
	Currency          string   `json:"currency"`
	Amount            int64    `json:"amount"`
	RequestedCurrency string   `json:"requested_currency,omitempty"`
	AgreementIDs      []string `json:"agreement_ids,omitempty"`
}

// FinalizeResult mirrors the platform's verdict on a finalize call
type FinalizeResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// UserAgreement is the user's current agreement correlated with the stored
// transactions that paid for it
type UserAgreement struct {
	Agreement  *steam.Agreement     `json:"agreement"`
	Resolution agreement.Resolution `json:"resolution"`
}

// notEntitled turns a non-OK platform verdict into ErrNotEntitled. Transport,
// HTTP-level and garbled responses stay platform errors.
func notEntitled(err error, reason string) error {
	var pe *steam.PlatformError
	if errors.As(err, &pe) && pe.Rejected {
		return fmt.Errorf("%w: %s: %s", types.ErrNotEntitled, reason, pe.Error())
	}
	return err
}

// VerifyOwnership succeeds only when the platform answers OK and reports
// that steamID owns the app
func (s *Service) VerifyOwnership(ctx context.Context, steamID, appID string) (*steam.Ownership, error) {
	if appID == "" {
		appID = s.cfg.AppID
	}

	ownership, err := s.gateway.CheckAppOwnership(ctx, steamID, appID)
	if err != nil {
		return nil, notEntitled(err, "ownership check failed")
	}
	if !ownership.OwnsApp {
		return nil, fmt.Errorf("%w: steam id %s has not purchased app %s", types.ErrNotEntitled, steamID, appID)
	}
	return ownership, nil
}

// Initiate prices the item, issues an order id, re-verifies ownership and
// opens the platform transaction
func (s *Service) Initiate(ctx context.Context, req InitRequest) (*InitResult, error) {
	logger := s.logger.With().Str("steam_id", req.SteamID).Int("item_id", req.ItemID).Logger()

	product, err := s.catalog.Find(req.ItemID)
	if err != nil {
		return nil, err
	}
	price, err := s.catalog.Resolve(product, req.Currency)
	if err != nil {
		return nil, err
	}

	orderID := s.ids.Generate()
	logger = logger.With().Str("order_id", orderID).Logger()
	logger.Info().
		Str("currency", price.Currency).
		Int64("amount", price.Amount).
		Msg("generated order id")

	if _, err := s.VerifyOwnership(ctx, req.SteamID, s.cfg.AppID); err != nil {
		logger.Warn().Err(err).Msg("ownership check failed, purchase not initiated")
		return nil, err
	}

	language := req.Language
	if language == "" {
		language = s.cfg.Language
	}

	txn := steam.InitTxnRequest{
		OrderID:     orderID,
		SteamID:     req.SteamID,
		ItemID:      product.ID,
		Amount:      price.Amount,
		Currency:    price.Currency,
		Language:    language,
		Description: product.Description,
	}
	if product.Recurring() {
		txn.Period = product.Period
		txn.Frequency = product.Frequency
	}

	opened, err := s.gateway.InitTxn(ctx, txn)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initiate transaction")
		return nil, err
	}

	logger.Info().Str("trans_id", opened.TransID).Msg("transaction initiated")

	result := &InitResult{
		OrderID:      orderID,
		TransID:      opened.TransID,
		ItemID:       product.ID,
		Currency:     price.Currency,
		Amount:       price.Amount,
		AgreementIDs: opened.AgreementIDs,
	}
	if price.FellBack {
		result.RequestedCurrency = price.Requested
	}
	return result, nil
}

// CheckStatus returns the platform's view of a transaction
func (s *Service) CheckStatus(ctx context.Context, orderID, transID string) (*steam.TxnDetails, error) {
	return s.gateway.QueryTxn(ctx, orderID, transID)
}

// Finalize asks the platform to complete an order. A platform refusal is
// reported in the result; only an unreachable platform is an error.
func (s *Service) Finalize(ctx context.Context, orderID string) (*FinalizeResult, error) {
	err := s.gateway.FinalizeTxn(ctx, orderID)
	if err == nil {
		s.logger.Info().Str("order_id", orderID).Msg("transaction finalized")
		return &FinalizeResult{Success: true}, nil
	}

	var pe *steam.PlatformError
	if errors.As(err, &pe) {
		s.logger.Warn().Str("order_id", orderID).Str("error_code", pe.Code).Msg("platform refused finalize")
		return &FinalizeResult{Success: false, Error: pe.Description}, nil
	}
	return nil, err
}

// CancelAgreement stops the user's recurring billing
func (s *Service) CancelAgreement(ctx context.Context, steamID, agreementID string) (*steam.CancelResult, error) {
	result, err := s.gateway.CancelAgreement(ctx, steamID, agreementID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("steam_id", steamID).Str("agreement_id", agreementID).Msg("agreement cancelled")
	return result, nil
}

// GetUserAgreement reads the live agreement from the platform and pairs it
// with the latest settled transaction stored for it
func (s *Service) GetUserAgreement(ctx context.Context, steamID string) (*UserAgreement, error) {
	current, err := s.gateway.GetUserAgreementInfo(ctx, steamID)
	if err != nil {
		return nil, err
	}

	txs, err := s.store.ForAgreement(ctx, steamID, current.AgreementID)
	if err != nil {
		return nil, err
	}

	return &UserAgreement{
		Agreement:  current,
		Resolution: agreement.Resolve(current.AgreementID, txs),
	}, nil
}

// AuthenticateUser checks that ticket belongs to steamID
func (s *Service) AuthenticateUser(ctx context.Context, ticket, steamID string) (*steam.TicketAuth, error) {
	identity, err := s.gateway.AuthenticateUserTicket(ctx, ticket, s.cfg.AppID)
	if err != nil {
		return nil, notEntitled(err, "ticket rejected")
	}
	if identity.SteamID != steamID {
		return nil, fmt.Errorf("%w: ticket does not belong to steam id %s", types.ErrNotEntitled, steamID)
	}
	return identity, nil
}

// GetReliableUserInfo returns the user's platform profile when the platform
// trusts them to transact
func (s *Service) GetReliableUserInfo(ctx context.Context, steamID string) (*steam.UserInfo, error) {
	info, err := s.gateway.GetUserInfo(ctx, steamID)
	if err != nil {
		return nil, err
	}
	if !info.Reliable() {
		return nil, fmt.Errorf("%w: user status %q", types.ErrNotEntitled, info.Status)
	}
	return info, nil
}
