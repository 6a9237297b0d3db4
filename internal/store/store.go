// Package store defines the persistence interface for the match engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/lendmatch/match-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a settlement transaction finds that one
	// of its orders is no longer pending. The transaction is rolled back
	// with no partial writes; callers treat this as a benign no-match.
	ErrConflict = errors.New("store: settlement conflict")
)

// Settlement is the complete set of writes applied atomically when two
// orders are bound into a trade: both orders flip pending → matched with
// cross-references and the trade id, the trade record is created, and the
// two wallet balances move by ±Trade.TradeAmount. Either every write lands
// or none does.
type Settlement struct {
	Investment *model.Order
	Loan       *model.Order
	Trade      *model.Trade
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Order operations ---

	// CreateOrder persists a new pending order.
	CreateOrder(ctx context.Context, order *model.Order) error

	// GetOrder retrieves an order by its ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrdersByUser returns all orders submitted by a user.
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// FindPendingOrder returns the earliest-created pending order of the
	// given side with exactly the given amount, or ErrNotFound. Never
	// served from a cache: matching must see the primary's truth.
	FindPendingOrder(ctx context.Context, side model.Side, amount decimal.Decimal) (*model.Order, error)

	// --- Settlement ---

	// SettleTrade applies a settlement as one atomic transaction,
	// re-validating inside the transaction that both orders are still
	// pending. Returns ErrConflict (and writes nothing) if either order
	// was already claimed.
	SettleTrade(ctx context.Context, s *Settlement) error

	// --- Trade queries ---

	// GetTrade retrieves a trade by its ID.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// ListTradesByUser returns all trades a user participates in,
	// on either side.
	ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Wallet queries ---

	// GetWallet returns a user's wallet; a wallet that has never been
	// touched by a settlement is returned with zero balance.
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)

	// GetUserOpenExposure returns the summed amount of a user's pending
	// orders on one side. Used by the exposure limiter at submission time.
	GetUserOpenExposure(ctx context.Context, userID string, side model.Side) (decimal.Decimal, error)
}
