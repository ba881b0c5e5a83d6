package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/auth"
	"github.com/xtrntr/papertrade/internal/db"
	"github.com/xtrntr/papertrade/internal/prices"
	"github.com/xtrntr/papertrade/internal/trading"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Trading     *trading.Service
	AuthService *auth.AuthService
	Prices      *prices.Cache
	Quote       string
	Logger      *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(svc *trading.Service, authService *auth.AuthService, cache *prices.Cache, quote string, logger *zap.Logger) *Handler {
	return &Handler{Trading: svc, AuthService: authService, Prices: cache, Quote: quote, Logger: logger}
}

// UserIDFromContext returns the user id set by JWTAuthMiddleware
func UserIDFromContext(ctx context.Context) (int, bool) {
	userID, ok := ctx.Value(userIDKey).(int)
	return userID, ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, db.ErrUsernameTaken):
			writeError(w, http.StatusConflict, "Username already taken")
		default:
			h.Logger.Error("Failed to register user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to register user")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"balance":  user.Balance,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.Logger.Error("Login failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Login failed")
			return
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PlaceOrder executes a market order at the current cached price
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req trading.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	exec, err := h.Trading.PlaceOrder(r.Context(), userID, req)
	if err != nil {
		var oe *trading.OrderError
		if errors.As(err, &oe) && oe.StatusCode() != http.StatusInternalServerError {
			writeError(w, oe.StatusCode(), oe.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to execute order")
		return
	}

	writeJSON(w, http.StatusCreated, exec)
}

// GetUserOrders retrieves a user's orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orders, err := h.Trading.Orders(r.Context(), userID)
	if err != nil {
		h.Logger.Error("Failed to retrieve orders", zap.Int("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve orders")
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

// GetPortfolio returns the user's holdings valued at current prices
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	p, err := h.Trading.Portfolio(r.Context(), userID)
	if err != nil {
		if errors.Is(err, trading.ErrUnknownUser) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.Logger.Error("Failed to load portfolio", zap.Int("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load portfolio")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// GetPrices returns every cached price
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Prices.GetAll())
}

// GetPrice returns the cached price of one symbol. Both BTC and BTCUSDT
// resolve to the same entry.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := prices.BaseSymbol(chi.URLParam(r, "symbol"), h.Quote)

	price := h.Prices.Get(symbol)
	if price <= 0 {
		writeError(w, http.StatusNotFound, trading.ErrPriceUnavailable.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"price":  price,
	})
}
