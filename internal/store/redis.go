package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/lendmatch/match-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for point reads. Writes go to the primary store and invalidate the
// cache. Matching reads (FindPendingOrder, GetUserOpenExposure) always hit
// the primary: settlement correctness depends on seeing its truth.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.CreateOrder(ctx, o); err != nil {
		return err
	}
	s.cacheJSON(ctx, orderKey(o.ID), o)
	return nil
}

func (s *CachedStore) SettleTrade(ctx context.Context, st *Settlement) error {
	if err := s.primary.SettleTrade(ctx, st); err != nil {
		return err
	}
	// Invalidate everything the settlement touched; next read re-populates.
	s.rdb.Del(ctx,
		orderKey(st.Investment.ID),
		orderKey(st.Loan.ID),
		walletKey(st.Trade.InvestorID),
		walletKey(st.Trade.BorrowerID),
	)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	data, err := s.rdb.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var o model.Order
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	o, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, orderKey(id), o)
	return o, nil
}

func (s *CachedStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	data, err := s.rdb.Get(ctx, tradeKey(id)).Bytes()
	if err == nil {
		var t model.Trade
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTrade(ctx, id)
	if err != nil {
		return nil, err
	}

	// Trades are immutable, so the cached copy can never go stale.
	s.cacheJSON(ctx, tradeKey(id), t)
	return t, nil
}

func (s *CachedStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	data, err := s.rdb.Get(ctx, walletKey(userID)).Bytes()
	if err == nil {
		var w model.Wallet
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	w, err := s.primary.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, walletKey(userID), w)
	return w, nil
}

// --- Passthrough (never cached) ---

func (s *CachedStore) FindPendingOrder(ctx context.Context, side model.Side, amount decimal.Decimal) (*model.Order, error) {
	return s.primary.FindPendingOrder(ctx, side, amount)
}

func (s *CachedStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.primary.ListOrdersByUser(ctx, userID)
}

func (s *CachedStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListTradesByUser(ctx, userID)
}

func (s *CachedStore) GetUserOpenExposure(ctx context.Context, userID string, side model.Side) (decimal.Decimal, error) {
	return s.primary.GetUserOpenExposure(ctx, userID, side)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func orderKey(id string) string    { return fmt.Sprintf("order:%s", id) }
func tradeKey(id string) string    { return fmt.Sprintf("trade:%s", id) }
func walletKey(uid string) string  { return fmt.Sprintf("wallet:%s", uid) }
