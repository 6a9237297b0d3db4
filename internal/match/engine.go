// Package match implements the matching-and-settlement core: given a newly
// created order, find a pending counter-order of the opposite side with the
// same amount and atomically bind the two into a trade, moving the trade
// amount between the two parties' wallets.
//
// One symmetric algorithm serves both sides; the side tag decides which
// pool is searched and which party is investor versus borrower.
package match

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lendmatch/match-engine/internal/metrics"
	"github.com/lendmatch/match-engine/internal/model"
	"github.com/lendmatch/match-engine/internal/notify"
	"github.com/lendmatch/match-engine/internal/store"
)

// Engine processes order-created events. It holds no state of its own;
// every settlement is a conflict-checked transaction against the store, so
// concurrent events for the same orders resolve to exactly one winner.
type Engine struct {
	store    store.Store
	notifier notify.Notifier // optional; nil disables settlement notifications
}

// NewEngine creates a match engine. Pass nil for notifier if settlement
// notifications are not needed.
func NewEngine(st store.Store, notifier notify.Notifier) *Engine {
	return &Engine{store: st, notifier: notifier}
}

// OnOrderCreated handles one order-created event. Delivery is at-least-once
// with no ordering guarantee, so the handler is idempotent: a re-delivered
// event finds the order no longer pending and performs no writes.
//
// Benign outcomes — malformed order, no counterpart, counterpart claimed by
// a racing settlement — return nil so the event completes; only
// infrastructure failures are returned, for the caller's retry policy.
func (e *Engine) OnOrderCreated(ctx context.Context, orderID string) error {
	order, err := e.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("order event for unknown order", "order_id", orderID)
		return nil
	}
	if err != nil {
		return err
	}

	// Malformed documents are ignored rather than failing the event stream.
	if order.UserID == "" || !order.Side.Valid() || !order.Amount.IsPositive() {
		slog.Warn("ignoring invalid order",
			"order_id", orderID,
			"side", string(order.Side),
			"amount", order.Amount.String(),
		)
		return nil
	}

	// Re-delivered event after a prior settlement: nothing to do.
	if order.Status != model.OrderPending {
		return nil
	}

	counterpart, err := e.store.FindPendingOrder(ctx, order.Side.Opposite(), order.Amount)
	if errors.Is(err, store.ErrNotFound) {
		// Normal outcome: the order stays pending until a counter-order
		// with the same amount arrives.
		return nil
	}
	if err != nil {
		return err
	}

	trade := newTrade(order, counterpart)

	start := time.Now()
	err = e.store.SettleTrade(ctx, &store.Settlement{
		Investment: model.Investment(order, counterpart),
		Loan:       model.Loan(order, counterpart),
		Trade:      trade,
	})
	if errors.Is(err, store.ErrConflict) {
		// The counterpart was claimed by a racing settlement, or this order
		// was settled between the status check and the transaction. Not
		// retried against the same counterpart; this order, if still
		// pending, remains matchable by a later event.
		metrics.SettlementConflicts.Inc()
		slog.Info("settlement conflict, leaving order pending",
			"order_id", order.ID,
			"counterpart_id", counterpart.ID,
		)
		return nil
	}
	if err != nil {
		return err
	}

	metrics.TradesSettled.Inc()
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())

	slog.Info("trade settled",
		"trade_id", trade.ID,
		"investor", trade.InvestorID,
		"borrower", trade.BorrowerID,
		"investment_id", trade.InvestmentID,
		"loan_id", trade.LoanID,
		"amount", trade.TradeAmount.String(),
	)

	// Fire-and-forget: notification failures never affect settlement.
	if e.notifier != nil {
		go e.notifier.TradeSettled(trade)
	}
	return nil
}

// newTrade builds the trade record for a matched pair, resolving the
// investor and borrower roles by order side. The matcher guarantees the
// two amounts are equal.
func newTrade(a, b *model.Order) *model.Trade {
	inv, loan := model.Investment(a, b), model.Loan(a, b)
	return &model.Trade{
		ID:           uuid.New().String(),
		InvestorID:   inv.UserID,
		BorrowerID:   loan.UserID,
		InvestmentID: inv.ID,
		LoanID:       loan.ID,
		TradeAmount:  a.Amount,
		Status:       model.TradeActive,
		CreatedAt:    time.Now().UTC(),
	}
}
