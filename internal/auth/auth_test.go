package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerToken(t *testing.T) {
	s := NewService("secret", time.Hour)

	tok, err := s.IssuePlayerToken("7656")
	require.NoError(t, err)

	claims, err := s.ValidateToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, RolePlayer, claims.Role)
	assert.Equal(t, "7656", claims.SteamID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiration, time.Minute)
}

func TestPlayerToken_RequiresSteamID(t *testing.T) {
	_, err := NewService("secret", 0).IssuePlayerToken("")
	assert.ErrorIs(t, err, ErrTokenGeneration)
}

func TestInternalToken(t *testing.T) {
	s := NewService("secret", time.Hour)
	s.RegisterAPICredentials("key", "shh")

	_, err := s.GenerateToken(Credentials{APIKey: "key", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	tok, err := s.GenerateToken(Credentials{APIKey: "key", APISecret: "shh"})
	require.NoError(t, err)

	claims, err := s.ValidateToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, RoleInternal, claims.Role)
	assert.Equal(t, "key", claims.ClientID)
}

func TestValidateToken_Rejects(t *testing.T) {
	s := NewService("secret", time.Hour)
	other := NewService("other-secret", time.Hour)

	foreign, err := other.IssuePlayerToken("7656")
	require.NoError(t, err)
	_, err = s.ValidateToken(foreign.Token)
	assert.Error(t, err, "wrong signing key")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		Role:             RolePlayer,
		SteamID:          "7656",
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = s.ValidateToken(signed)
	assert.Error(t, err, "expired")

	noRole := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
		SteamID:          "7656",
	})
	signed, err = noRole.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = s.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateTokenHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewService("secret", time.Hour)
	s.RegisterAPICredentials("key", "shh")

	r := gin.New()
	r.POST("/auth/token", NewGinHandlers(s).GenerateTokenHandler())

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := post(`{"api_key":"key","api_secret":"shh"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool          `json:"success"`
		Data    TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.Token)

	assert.Equal(t, http.StatusUnauthorized, post(`{"api_key":"key","api_secret":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"api_key":"key"}`).Code)
}
