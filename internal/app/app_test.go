package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/steam-billing-api/internal/config"
)

const (
	testSteamID   = "76561198000000001"
	testAPIKey    = "ops"
	testAPISecret = "ops-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	products := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(products, []byte(`[
		{"id": 42, "description": "Premium", "price_per_currency": {"USD": 500, "EUR": 450}, "period": "Month", "frequency": 1},
		{"id": 7, "description": "Coins", "price_per_currency": {"USD": 99}}
	]`), 0o600))

	return &config.Config{
		Env:       "test",
		Steam:     config.SteamConfig{Mock: true, AppID: "480", Currency: "USD", ItemLocale: "en"},
		Products:  config.ProductsConfig{File: products},
		Order:     config.OrderConfig{Shard: 1},
		Report:    config.ReportConfig{Interval: time.Minute, SafetyMargin: time.Second, MaxResults: 100},
		DB:        config.DBConfig{Driver: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"},
		Store:     config.StoreConfig{Backend: config.BackendSQL},
		JWT:       config.JWTConfig{Secret: "secret", TTL: time.Hour},
		API:       config.APIConfig{Key: testAPIKey, Secret: testAPISecret},
		RateLimit: config.RateLimitConfig{},
	}
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func call(t *testing.T, r http.Handler, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestNew_UnknownProductsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Products.File = filepath.Join(t.TempDir(), "missing.json")

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_InvalidPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agreement.StatusPolicy = "broken"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	code, env := call(t, a.Router(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", env.Data["status"])
}

func TestPurchaseFlow(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()
	r := a.Router()

	code, env := call(t, r, http.MethodPost, "/api/v1/auth/ticket", "", map[string]string{
		"ticket": "sandbox:" + testSteamID, "steamId": testSteamID,
	})
	require.Equal(t, http.StatusOK, code)
	player := env.Data["session"].(map[string]interface{})["jwt_token"].(string)

	code, _ = call(t, r, http.MethodPost, "/api/v1/purchases", "", map[string]interface{}{
		"steamId": testSteamID, "itemId": 42, "currency": "EUR",
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = call(t, r, http.MethodPost, "/api/v1/purchases", player, map[string]interface{}{
		"steamId": testSteamID, "itemId": 42, "currency": "EUR",
	})
	require.Equal(t, http.StatusCreated, code)
	orderID := env.Data["orderid"].(string)
	transID := env.Data["transid"].(string)
	assert.Equal(t, "EUR", env.Data["currency"])
	assert.Equal(t, float64(450), env.Data["amount"])

	code, env = call(t, r, http.MethodPost, "/api/v1/purchases/status", player, map[string]string{
		"orderId": orderID, "transId": transID,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Approved", env.Data["status"])

	code, env = call(t, r, http.MethodPost, "/api/v1/purchases/finalize", player, map[string]string{"orderId": orderID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, env.Data["success"])

	code, env = call(t, r, http.MethodPost, "/api/v1/auth/token", "", map[string]string{
		"api_key": testAPIKey, "api_secret": testAPISecret,
	})
	require.Equal(t, http.StatusOK, code)
	internal := env.Data["jwt_token"].(string)

	code, _ = call(t, r, http.MethodPost, "/api/v1/internal/reconcile", player, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = call(t, r, http.MethodPost, "/api/v1/internal/reconcile", internal, map[string]string{
		"since": "2020-01-01T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), env.Data["reported"])
	assert.Equal(t, float64(1), env.Data["upserted"])

	code, env = call(t, r, http.MethodGet, "/api/v1/internal/transactions/"+orderID+"/"+transID, internal, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Succeeded", env.Data["status"])
	assert.Equal(t, testSteamID, env.Data["steamid"])

	code, env = call(t, r, http.MethodPost, "/api/v1/agreements/info", player, map[string]string{"steamId": testSteamID})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	resolution := env.Data["resolution"].(map[string]interface{})
	assert.Equal(t, "found", resolution["outcome"])
}

func TestPlayerCannotActForAnotherUser(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()
	r := a.Router()

	_, env := call(t, r, http.MethodPost, "/api/v1/auth/ticket", "", map[string]string{
		"ticket": "sandbox:" + testSteamID, "steamId": testSteamID,
	})
	player := env.Data["session"].(map[string]interface{})["jwt_token"].(string)

	code, env := call(t, r, http.MethodPost, "/api/v1/purchases", player, map[string]interface{}{
		"steamId": "76561198000000002", "itemId": 42, "currency": "USD",
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NOT_ENTITLED", env.Error.Code)
}
