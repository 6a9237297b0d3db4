package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendmatch/match-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]*model.Order
	trades  map[string]*model.Trade
	wallets map[string]*model.Wallet
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]*model.Order),
		trades:  make(map[string]*model.Trade),
		wallets: make(map[string]*model.Wallet),
	}
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

// FindPendingOrder picks the earliest-created candidate; ties on the
// timestamp fall back to the lexically smallest id so the choice is
// deterministic.
func (s *MemoryStore) FindPendingOrder(_ context.Context, side model.Side, amount decimal.Decimal) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.Order
	for _, o := range s.orders {
		if o.Side != side || o.Status != model.OrderPending || !o.Amount.Equal(amount) {
			continue
		}
		if best == nil || o.CreatedAt.Before(best.CreatedAt) ||
			(o.CreatedAt.Equal(best.CreatedAt) && o.ID < best.ID) {
			best = o
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// SettleTrade applies all settlement writes under one lock, re-checking
// that both orders are still pending first. A failed re-check leaves the
// store untouched.
func (s *MemoryStore) SettleTrade(_ context.Context, st *Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.orders[st.Investment.ID]
	if !ok || inv.Status != model.OrderPending {
		return ErrConflict
	}
	loan, ok := s.orders[st.Loan.ID]
	if !ok || loan.Status != model.OrderPending {
		return ErrConflict
	}

	now := st.Trade.CreatedAt

	inv.Status = model.OrderMatched
	inv.MatchedAt = &now
	inv.CounterpartID = loan.ID
	inv.TradeID = st.Trade.ID

	loan.Status = model.OrderMatched
	loan.MatchedAt = &now
	loan.CounterpartID = inv.ID
	loan.TradeID = st.Trade.ID

	trade := *st.Trade
	s.trades[trade.ID] = &trade

	s.adjustWallet(st.Trade.InvestorID, st.Trade.TradeAmount.Neg(), now)
	s.adjustWallet(st.Trade.BorrowerID, st.Trade.TradeAmount, now)
	return nil
}

// adjustWallet applies a signed increment, creating the wallet lazily.
// Caller holds the write lock.
func (s *MemoryStore) adjustWallet(userID string, delta decimal.Decimal, now time.Time) {
	w, ok := s.wallets[userID]
	if !ok {
		w = &model.Wallet{UserID: userID, Balance: decimal.Zero}
		s.wallets[userID] = w
	}
	w.Balance = w.Balance.Add(delta)
	w.LastUpdated = now
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []model.Trade
	for _, t := range s.trades {
		if t.InvestorID == userID || t.BorrowerID == userID {
			trades = append(trades, *t)
		}
	}
	return trades, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return &model.Wallet{UserID: userID, Balance: decimal.Zero}, nil
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetUserOpenExposure(_ context.Context, userID string, side model.Side) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, o := range s.orders {
		if o.UserID == userID && o.Side == side && o.Status == model.OrderPending {
			total = total.Add(o.Amount)
		}
	}
	return total, nil
}
