package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/auth"
	"github.com/xtrntr/papertrade/internal/config"
	"github.com/xtrntr/papertrade/internal/prices"
	"github.com/xtrntr/papertrade/internal/testutils"
	"github.com/xtrntr/papertrade/internal/trading"
)

type testEnv struct {
	router http.Handler
	auth   *auth.AuthService
	ledger *testutils.MemStore
	cache  *prices.Cache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	ledger := testutils.NewMemStore()
	users := testutils.NewMemUsers(ledger)
	authService := auth.NewAuthService(users, config.AuthConfig{
		JWTSecret:       "test-secret",
		TokenTTL:        time.Hour,
		StartingBalance: 1000,
	})
	cache := prices.NewCache(logger)
	svc := trading.NewService(ledger, cache, &testutils.RecordingEvents{}, "USDT", logger)

	h := NewHandler(svc, authService, cache, "USDT", logger)
	return &testEnv{
		router: NewRouter(h, nil),
		auth:   authService,
		ledger: ledger,
		cache:  cache,
	}
}

// login registers username and returns a bearer token
func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	_, err := e.auth.Register(context.Background(), username, "testpass")
	require.NoError(t, err)
	token, err := e.auth.Login(context.Background(), username, "testpass")
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestHandler_Register(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		expectedBody   map[string]interface{}
	}{
		{
			name: "Success",
			requestBody: map[string]interface{}{
				"username": "testuser",
				"password": "testpass",
			},
			expectedStatus: http.StatusCreated,
			expectedBody: map[string]interface{}{
				"id":       float64(1), // JSON numbers are float64
				"username": "testuser",
				"balance":  "1000",
			},
		},
		{
			name: "Duplicate",
			requestBody: map[string]interface{}{
				"username": "testuser",
				"password": "other",
			},
			expectedStatus: http.StatusConflict,
			expectedBody: map[string]interface{}{
				"error": "Username already taken",
			},
		},
		{
			name: "Missing Password",
			requestBody: map[string]interface{}{
				"username": "someone",
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody: map[string]interface{}{
				"error": "invalid input: password cannot be empty",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/auth/register", tt.requestBody, "")
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, decode(t, w))
		})
	}
}

func TestHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "testuser")

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		expectToken    bool
	}{
		{
			name:           "Success",
			requestBody:    map[string]interface{}{"username": "testuser", "password": "testpass"},
			expectedStatus: http.StatusOK,
			expectToken:    true,
		},
		{
			name:           "Invalid Credentials",
			requestBody:    map[string]interface{}{"username": "testuser", "password": "wrongpass"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Unknown User",
			requestBody:    map[string]interface{}{"username": "nobody", "password": "testpass"},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/auth/login", tt.requestBody, "")
			assert.Equal(t, tt.expectedStatus, w.Code)

			response := decode(t, w)
			if tt.expectToken {
				assert.Contains(t, response, "token")
			} else {
				assert.Contains(t, response, "error")
			}
		})
	}
}

func TestHandler_AuthRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/orders", "/portfolio"} {
		w := env.do("GET", path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)

		w = env.do("GET", path, nil, "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestHandler_PlaceOrder(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "trader")
	env.cache.Update("BTC", 100)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
		expectedBody   map[string]interface{}
	}{
		{
			name:           "Buy",
			requestBody:    map[string]interface{}{"asset_symbol": "BTCUSDT", "amount": 2, "order_type": "BUY"},
			expectedStatus: http.StatusCreated,
			expectedBody:   map[string]interface{}{"asset": "BTCUSDT", "price": float64(100), "total": float64(200)},
		},
		{
			name:           "Sell",
			requestBody:    map[string]interface{}{"asset_symbol": "BTCUSDT", "amount": 1, "order_type": "SELL"},
			expectedStatus: http.StatusCreated,
			expectedBody:   map[string]interface{}{"asset": "BTCUSDT", "price": float64(100), "total": float64(100)},
		},
		{
			name:           "Insufficient Balance",
			requestBody:    map[string]interface{}{"asset_symbol": "BTCUSDT", "amount": 100, "order_type": "BUY"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Insufficient Holdings",
			requestBody:    map[string]interface{}{"asset_symbol": "BTCUSDT", "amount": 5, "order_type": "SELL"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "No Price",
			requestBody:    map[string]interface{}{"asset_symbol": "ETHUSDT", "amount": 1, "order_type": "BUY"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Invalid Type",
			requestBody:    map[string]interface{}{"asset_symbol": "BTCUSDT", "amount": 1, "order_type": "HOLD"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Non-numeric Amount",
			requestBody:    map[string]interface{}{"asset_symbol": "BTCUSDT", "amount": "lots", "order_type": "BUY"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/orders", tt.requestBody, token)
			assert.Equal(t, tt.expectedStatus, w.Code)

			response := decode(t, w)
			if tt.expectedBody != nil {
				assert.Equal(t, tt.expectedBody, response)
			} else {
				assert.Contains(t, response, "error")
			}
		})
	}

	// Two fills recorded, one BUY 2 then one SELL 1
	holding, ok := env.ledger.HoldingOf(1, "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "1", holding.String())
	assert.Equal(t, "900", env.ledger.BalanceOf(1).String())
}

func TestHandler_GetUserOrders(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "trader")
	env.cache.Update("ETH", 10)

	w := env.do("POST", "/orders", map[string]interface{}{"asset_symbol": "ETHUSDT", "amount": 3, "order_type": "BUY"}, token)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do("GET", "/orders", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	var orders []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "ETHUSDT", orders[0]["asset_symbol"])
	assert.Equal(t, "BUY", orders[0]["order_type"])
	assert.Equal(t, "10", orders[0]["price_at_transaction"])
}

func TestHandler_GetPortfolio(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "trader")
	env.cache.Update("BTC", 100)

	w := env.do("POST", "/orders", map[string]interface{}{"asset_symbol": "BTCUSDT", "amount": 2, "order_type": "BUY"}, token)
	require.Equal(t, http.StatusCreated, w.Code)
	env.cache.Update("BTC", 150)

	w = env.do("GET", "/portfolio", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	response := decode(t, w)
	assert.Equal(t, "800", response["balance"])
	assert.Equal(t, "300", response["holdings_value"])
	assert.Equal(t, "1100", response["equity"])

	positions, ok := response["positions"].([]interface{})
	require.True(t, ok)
	require.Len(t, positions, 1)
}

func TestHandler_Prices(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Update("BTC", 65000.5)
	env.cache.Update("ETH", 3200)

	w := env.do("GET", "/prices", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"BTC": 65000.5, "ETH": float64(3200)}, decode(t, w))

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedBody   map[string]interface{}
	}{
		{
			name:           "BaseSymbol",
			path:           "/prices/BTC",
			expectedStatus: http.StatusOK,
			expectedBody:   map[string]interface{}{"symbol": "BTC", "price": 65000.5},
		},
		{
			name:           "PairSymbol",
			path:           "/prices/ethusdt",
			expectedStatus: http.StatusOK,
			expectedBody:   map[string]interface{}{"symbol": "ETH", "price": float64(3200)},
		},
		{
			name:           "Unknown",
			path:           "/prices/SOL",
			expectedStatus: http.StatusNotFound,
			expectedBody:   map[string]interface{}{"error": trading.ErrPriceUnavailable.Error()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("GET", tt.path, nil, "")
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, decode(t, w))
		})
	}
}
