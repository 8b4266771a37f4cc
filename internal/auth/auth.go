package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ksred/steam-billing-api/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrInvalidToken       = errors.New("invalid token")
)

// Session roles
const (
	RolePlayer   = "player"
	RoleInternal = "internal"
)

const DefaultTTL = 24 * time.Hour

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure. Player sessions carry the
// steam id proven by ticket authentication; internal sessions carry the API
// client id.
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	SteamID  string `json:"steam_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Service issues and validates session tokens
type Service struct {
	jwtSecret []byte
	ttl       time.Duration

	mu             sync.RWMutex
	apiCredentials map[string]string // map[APIKey]APISecret
}

// NewService creates a new authentication service with the given JWT secret
func NewService(jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		jwtSecret:      []byte(jwtSecret),
		ttl:            ttl,
		apiCredentials: make(map[string]string),
	}
}

// RegisterAPICredentials allows an internal client to exchange its key and
// secret for a token
func (s *Service) RegisterAPICredentials(apiKey, apiSecret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiCredentials[apiKey] = apiSecret
}

// GenerateToken issues an internal session for valid API credentials
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	if !s.validateCredentials(creds) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(Claims{Role: RoleInternal, ClientID: creds.APIKey})
}

// IssuePlayerToken issues a player session. Callers must have verified the
// steam id against a session ticket first.
func (s *Service) IssuePlayerToken(steamID string) (*TokenResponse, error) {
	if steamID == "" {
		return nil, ErrTokenGeneration
	}
	return s.issue(Claims{Role: RolePlayer, SteamID: steamID})
}

func (s *Service) issue(claims Claims) (*TokenResponse, error) {
	now := time.Now()
	expiration := now.Add(s.ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiration),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken verifies the signature and expiry and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	switch claims.Role {
	case RolePlayer:
		if claims.SteamID == "" {
			return nil, ErrInvalidToken
		}
	case RoleInternal:
		if claims.ClientID == "" {
			return nil, ErrInvalidToken
		}
	default:
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) validateCredentials(creds Credentials) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, exists := s.apiCredentials[creds.APIKey]
	return exists && creds.APIKey != "" && secret == creds.APISecret
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate internal JWT tokens
// Request body should contain API credentials
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// Context keys set by the auth middleware
const (
	ContextClaims   = "claims"
	ContextSteamID  = "steamID"
	ContextClientID = "clientID"
)

// GetSteamID returns the steam id of the player session on the request, or
// "" when the request is not a player session
func GetSteamID(c *gin.Context) string {
	return c.GetString(ContextSteamID)
}

// GetClientID returns the internal client id on the request
func GetClientID(c *gin.Context) string {
	return c.GetString(ContextClientID)
}
