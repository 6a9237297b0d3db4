// Package order provides the HTTP handlers for submitting lending orders
// and querying orders, trades, and wallets.
//
// Submission persists the order as pending and publishes an order-created
// event; matching and settlement happen in the match engine, never in the
// request path. All monetary values use shopspring/decimal — never float64
// for money.
package order

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendmatch/match-engine/internal/metrics"
	"github.com/lendmatch/match-engine/internal/model"
	"github.com/lendmatch/match-engine/internal/risk"
	"github.com/lendmatch/match-engine/internal/store"
)

// Publisher delivers order-created events to the match engine.
type Publisher interface {
	Publish(orderID string)
}

// Service handles order submission and read queries.
type Service struct {
	store     store.Store
	limiter   *risk.ExposureLimiter
	publisher Publisher
}

// NewService creates a new order service.
func NewService(st store.Store, limiter *risk.ExposureLimiter, pub Publisher) *Service {
	return &Service{
		store:     st,
		limiter:   limiter,
		publisher: pub,
	}
}

// --- Request/Response types ---

// CreateOrderRequest is the JSON body for POST /orders.
type CreateOrderRequest struct {
	UserID string          `json:"user_id"`
	Side   model.Side      `json:"side"`   // "investment" or "loan"
	Amount decimal.Decimal `json:"amount"` // positive
}

// --- HTTP Handlers ---

// CreateOrder handles POST /api/v1/orders
func (s *Service) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be investment or loan", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// --- Exposure limit check ---
	open, err := s.store.GetUserOpenExposure(ctx, req.UserID, req.Side)
	if err != nil {
		writeError(w, "failed to check exposure limits", http.StatusInternalServerError)
		return
	}
	if err := s.limiter.CheckLimit(req.Amount, open); err != nil {
		metrics.ExposureRejections.Inc()
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	order := &model.Order{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Side:      req.Side,
		Amount:    req.Amount,
		Status:    model.OrderPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		writeError(w, "failed to create order", http.StatusInternalServerError)
		return
	}

	metrics.OrdersCreated.WithLabelValues(string(order.Side)).Inc()
	slog.Info("order created",
		"order_id", order.ID,
		"user", order.UserID,
		"side", string(order.Side),
		"amount", order.Amount.String(),
	)

	s.publisher.Publish(order.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "order not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load order", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// ListOrders handles GET /api/v1/orders?user_id=<id>
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id query parameter is required", http.StatusBadRequest)
		return
	}

	orders, err := s.store.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// GetTrade handles GET /api/v1/trades/{tradeID}
func (s *Service) GetTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	trade, err := s.store.GetTrade(r.Context(), tradeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "trade not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load trade", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trade)
}

// ListTrades handles GET /api/v1/trades?user_id=<id>
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id query parameter is required", http.StatusBadRequest)
		return
	}

	trades, err := s.store.ListTradesByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetWallet handles GET /api/v1/wallets/{userID}
// A user whose wallet has never been touched by a settlement reads as zero.
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	wallet, err := s.store.GetWallet(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load wallet", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
