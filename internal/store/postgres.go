package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lendmatch/match-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const orderColumns = `id, user_id, side, amount::TEXT, status,
        COALESCE(counterpart_id, ''), COALESCE(trade_id, ''),
        created_at, matched_at`

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, side, amount, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		o.ID, o.UserID, string(o.Side), o.Amount.String(), o.Status, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// FindPendingOrder selects the earliest-created candidate; the id column
// breaks timestamp ties so the choice is deterministic.
func (s *PostgresStore) FindPendingOrder(ctx context.Context, side model.Side, amount decimal.Decimal) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE side = $1 AND status = $2 AND amount = $3::NUMERIC
		 ORDER BY created_at, id
		 LIMIT 1`,
		string(side), model.OrderPending, amount.String())

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find pending %s order: %w", side, err)
	}
	return o, nil
}

// SettleTrade runs the full settlement in one transaction. The conditional
// UPDATEs are the in-transaction re-validation: zero rows affected means a
// racing settlement already claimed the order, and the whole transaction
// rolls back with ErrConflict. Wallet rows are upserted with an atomic
// balance increment, never a read-modify-write.
func (s *PostgresStore) SettleTrade(ctx context.Context, st *Settlement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	t := st.Trade
	if err := matchOrder(ctx, tx, st.Investment.ID, st.Loan.ID, t.ID, t.CreatedAt); err != nil {
		return err
	}
	if err := matchOrder(ctx, tx, st.Loan.ID, st.Investment.ID, t.ID, t.CreatedAt); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, investor_id, borrower_id, investment_id, loan_id, trade_amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)`,
		t.ID, t.InvestorID, t.BorrowerID, t.InvestmentID, t.LoanID,
		t.TradeAmount.String(), t.Status, t.CreatedAt,
	); err != nil {
		return err
	}

	if err := adjustWallet(ctx, tx, t.InvestorID, t.TradeAmount.Neg(), t.CreatedAt); err != nil {
		return err
	}
	if err := adjustWallet(ctx, tx, t.BorrowerID, t.TradeAmount, t.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// matchOrder flips one order to matched, linking its counterpart and trade.
// The status predicate makes the update conditional on the order still
// being pending.
func matchOrder(ctx context.Context, tx pgx.Tx, orderID, counterpartID, tradeID string, now time.Time) error {
	tag, err := tx.Exec(ctx,
		`UPDATE orders
		 SET status = $2, matched_at = $3, counterpart_id = $4, trade_id = $5
		 WHERE id = $1 AND status = $6`,
		orderID, model.OrderMatched, now, counterpartID, tradeID, model.OrderPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	return nil
}

// adjustWallet applies a signed increment, creating the wallet lazily.
func adjustWallet(ctx context.Context, tx pgx.Tx, userID string, delta decimal.Decimal, now time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO wallets (user_id, balance, last_updated)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (user_id)
		 DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, last_updated = EXCLUDED.last_updated`,
		userID, delta.String(), now,
	)
	return err
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, investor_id, borrower_id, investment_id, loan_id,
		        trade_amount::TEXT, status, created_at
		 FROM trades WHERE id = $1`, id)

	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, investor_id, borrower_id, investment_id, loan_id,
		        trade_amount::TEXT, status, created_at
		 FROM trades
		 WHERE investor_id = $1 OR borrower_id = $1
		 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, last_updated FROM wallets WHERE user_id = $1`, userID).
		Scan(&w.UserID, &balance, &w.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lazily-created wallets read as zero until first settlement.
		return &model.Wallet{UserID: userID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", userID, err)
	}

	w.Balance, _ = decimal.NewFromString(balance)
	return &w, nil
}

func (s *PostgresStore) GetUserOpenExposure(ctx context.Context, userID string, side model.Side) (decimal.Decimal, error) {
	var total string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT
		 FROM orders
		 WHERE user_id = $1 AND side = $2 AND status = $3`,
		userID, string(side), model.OrderPending).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	d, _ := decimal.NewFromString(total)
	return d, nil
}

// pgxRow abstracts QueryRow results and Query rows for the scan helpers.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row pgxRow) (*model.Order, error) {
	var o model.Order
	var side, amount string

	if err := row.Scan(&o.ID, &o.UserID, &side, &amount, &o.Status,
		&o.CounterpartID, &o.TradeID, &o.CreatedAt, &o.MatchedAt); err != nil {
		return nil, err
	}

	o.Side = model.Side(side)
	o.Amount, _ = decimal.NewFromString(amount)
	return &o, nil
}

func scanTrade(row pgxRow) (*model.Trade, error) {
	var t model.Trade
	var amount string

	if err := row.Scan(&t.ID, &t.InvestorID, &t.BorrowerID, &t.InvestmentID,
		&t.LoanID, &amount, &t.Status, &t.CreatedAt); err != nil {
		return nil, err
	}

	t.TradeAmount, _ = decimal.NewFromString(amount)
	return &t, nil
}
