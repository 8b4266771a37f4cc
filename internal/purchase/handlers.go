package purchase

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ksred/steam-billing-api/internal/agreement"
	"github.com/ksred/steam-billing-api/internal/auth"
	"github.com/ksred/steam-billing-api/internal/steam"
	"github.com/ksred/steam-billing-api/internal/types"
	"github.com/ksred/steam-billing-api/pkg/response"
)

// SessionIssuer issues player sessions once a ticket is verified
type SessionIssuer interface {
	IssuePlayerToken(steamID string) (*auth.TokenResponse, error)
}

type TicketRequest struct {
	Ticket  string `json:"ticket" binding:"required"`
	SteamID string `json:"steamId" binding:"required"`
}

type UserRequest struct {
	SteamID string `json:"steamId" binding:"required"`
}

type OwnershipRequest struct {
	SteamID string `json:"steamId" binding:"required"`
	AppID   string `json:"appId"`
}

type InitPurchaseRequest struct {
	SteamID  string `json:"steamId" binding:"required"`
	ItemID   int    `json:"itemId" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Language string `json:"language"`
}

type TransactionRequest struct {
	OrderID string `json:"orderId" binding:"required"`
	TransID string `json:"transId" binding:"required"`
}

type OrderRequest struct {
	OrderID string `json:"orderId" binding:"required"`
}

type AgreementRequest struct {
	SteamID     string `json:"steamId" binding:"required"`
	AgreementID string `json:"agreementId" binding:"required"`
}

// SessionResponse is returned after a successful ticket authentication
type SessionResponse struct {
	SteamID string              `json:"steamid"`
	Session *auth.TokenResponse `json:"session"`
}

// GinHandlers contains HTTP handlers for the purchase endpoints
type GinHandlers struct {
	service  *Service
	sessions SessionIssuer
}

// NewGinHandlers creates a new set of HTTP handlers for purchase endpoints
func NewGinHandlers(service *Service, sessions SessionIssuer) *GinHandlers {
	return &GinHandlers{
		service:  service,
		sessions: sessions,
	}
}

// bind decodes the body and rejects missing fields before any platform call
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Handle(c, nil, fmt.Errorf("%w: %s", types.ErrValidation, bindMessage(err)))
		return false
	}
	return true
}

func bindMessage(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "required") {
		return "missing required fields"
	}
	return "malformed request body"
}

// sameUser rejects requests acting on a steam id other than the session's
func sameUser(c *gin.Context, steamID string) bool {
	if auth.GetSteamID(c) != steamID {
		response.Handle(c, nil, fmt.Errorf("%w: session does not belong to steam id %s", types.ErrNotEntitled, steamID))
		return false
	}
	return true
}

// ownedOrder looks the order up and writes a 403 unless the session's player
// placed it
func (h *GinHandlers) ownedOrder(c *gin.Context, orderID, transID string) (*steam.TxnDetails, bool) {
	details, err := h.service.CheckStatus(c.Request.Context(), orderID, transID)
	if err != nil {
		response.Handle(c, nil, err)
		return nil, false
	}
	if details.SteamID != auth.GetSteamID(c) {
		response.Handle(c, nil, fmt.Errorf("%w: order %s belongs to another player", types.ErrNotEntitled, orderID))
		return nil, false
	}
	return details, true
}

// AuthenticateHandler handles POST requests that exchange a session ticket
// for a player session
func (h *GinHandlers) AuthenticateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TicketRequest
		if !bind(c, &req) {
			return
		}

		if _, err := h.service.AuthenticateUser(c.Request.Context(), req.Ticket, req.SteamID); err != nil {
			response.Handle(c, nil, err)
			return
		}

		session, err := h.sessions.IssuePlayerToken(req.SteamID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, SessionResponse{SteamID: req.SteamID, Session: session})
	}
}

// UserInfoHandler handles POST requests for the caller's platform profile
func (h *GinHandlers) UserInfoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UserRequest
		if !bind(c, &req) || !sameUser(c, req.SteamID) {
			return
		}

		info, err := h.service.GetReliableUserInfo(c.Request.Context(), req.SteamID)
		response.Handle(c, info, err)
	}
}

// OwnershipHandler handles POST requests checking app ownership
func (h *GinHandlers) OwnershipHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OwnershipRequest
		if !bind(c, &req) || !sameUser(c, req.SteamID) {
			return
		}

		ownership, err := h.service.VerifyOwnership(c.Request.Context(), req.SteamID, req.AppID)
		response.Handle(c, ownership, err)
	}
}

// InitPurchaseHandler handles POST requests opening a purchase
func (h *GinHandlers) InitPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InitPurchaseRequest
		if !bind(c, &req) || !sameUser(c, req.SteamID) {
			return
		}

		result, err := h.service.Initiate(c.Request.Context(), InitRequest{
			SteamID:  req.SteamID,
			ItemID:   req.ItemID,
			Currency: req.Currency,
			Language: req.Language,
		})
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Created(c, result)
	}
}

// StatusHandler handles POST requests for a transaction's status
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransactionRequest
		if !bind(c, &req) {
			return
		}

		details, ok := h.ownedOrder(c, req.OrderID, req.TransID)
		if !ok {
			return
		}
		response.Success(c, details)
	}
}

// FinalizeHandler handles POST requests completing an approved order
func (h *GinHandlers) FinalizeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OrderRequest
		if !bind(c, &req) {
			return
		}
		if _, ok := h.ownedOrder(c, req.OrderID, ""); !ok {
			return
		}

		result, err := h.service.Finalize(c.Request.Context(), req.OrderID)
		response.Handle(c, result, err)
	}
}

// CancelAgreementHandler handles POST requests cancelling recurring billing
func (h *GinHandlers) CancelAgreementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AgreementRequest
		if !bind(c, &req) || !sameUser(c, req.SteamID) {
			return
		}

		result, err := h.service.CancelAgreement(c.Request.Context(), req.SteamID, req.AgreementID)
		response.Handle(c, result, err)
	}
}

// AgreementInfoHandler handles POST requests for the caller's agreement and
// the latest settled transaction behind it
func (h *GinHandlers) AgreementInfoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UserRequest
		if !bind(c, &req) || !sameUser(c, req.SteamID) {
			return
		}

		info, err := h.service.GetUserAgreement(c.Request.Context(), req.SteamID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		switch info.Resolution.Outcome {
		case agreement.NoTransactions:
			response.Unsuccessful(c, "NO_TRANSACTIONS", "No transactions found", info)
		case agreement.NoValidTransactions:
			response.Unsuccessful(c, "NO_VALID_TRANSACTIONS", "No valid transactions found", info)
		default:
			response.Success(c, info)
		}
	}
}
