package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendmatch/match-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func pending(id, userID string, side model.Side, amount decimal.Decimal, createdAt time.Time) *model.Order {
	return &model.Order{
		ID:        id,
		UserID:    userID,
		Side:      side,
		Amount:    amount,
		Status:    model.OrderPending,
		CreatedAt: createdAt,
	}
}

func TestFindPendingOrder_EarliestFirst(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	ms.CreateOrder(ctx, pending("b", "U2", model.SideLoan, d(100), now.Add(time.Minute)))
	ms.CreateOrder(ctx, pending("a", "U1", model.SideLoan, d(100), now))
	ms.CreateOrder(ctx, pending("c", "U3", model.SideLoan, d(200), now.Add(-time.Minute)))

	got, err := ms.FindPendingOrder(ctx, model.SideLoan, d(100))
	if err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if got.ID != "a" {
		t.Errorf("earliest-created order should win, got %s", got.ID)
	}
}

func TestFindPendingOrder_TimestampTieBreaksOnID(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	ms.CreateOrder(ctx, pending("z", "U1", model.SideLoan, d(100), now))
	ms.CreateOrder(ctx, pending("a", "U2", model.SideLoan, d(100), now))

	got, err := ms.FindPendingOrder(ctx, model.SideLoan, d(100))
	if err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if got.ID != "a" {
		t.Errorf("timestamp tie should break on smallest id, got %s", got.ID)
	}
}

func TestFindPendingOrder_SkipsMatched(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	o := pending("a", "U1", model.SideLoan, d(100), now)
	o.Status = model.OrderMatched
	ms.CreateOrder(ctx, o)

	_, err := ms.FindPendingOrder(ctx, model.SideLoan, d(100))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("matched orders must not be candidates, got %v", err)
	}
}

func TestSettleTrade_ConflictLeavesStoreUntouched(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	inv := pending("inv1", "U1", model.SideInvestment, d(100), now)
	loan := pending("loan1", "U2", model.SideLoan, d(100), now)
	ms.CreateOrder(ctx, inv)
	ms.CreateOrder(ctx, loan)

	trade := &model.Trade{
		ID: "t1", InvestorID: "U1", BorrowerID: "U2",
		InvestmentID: "inv1", LoanID: "loan1",
		TradeAmount: d(100), Status: model.TradeActive, CreatedAt: now,
	}

	if err := ms.SettleTrade(ctx, &Settlement{Investment: inv, Loan: loan, Trade: trade}); err != nil {
		t.Fatalf("first settlement should succeed: %v", err)
	}

	// A second settlement against the claimed loan must abort entirely.
	inv2 := pending("inv2", "U3", model.SideInvestment, d(100), now)
	ms.CreateOrder(ctx, inv2)
	trade2 := &model.Trade{
		ID: "t2", InvestorID: "U3", BorrowerID: "U2",
		InvestmentID: "inv2", LoanID: "loan1",
		TradeAmount: d(100), Status: model.TradeActive, CreatedAt: now,
	}

	err := ms.SettleTrade(ctx, &Settlement{Investment: inv2, Loan: loan, Trade: trade2})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, _ := ms.GetOrder(ctx, "inv2")
	if got.Status != model.OrderPending {
		t.Errorf("losing order must stay pending, got %s", got.Status)
	}
	if _, err := ms.GetTrade(ctx, "t2"); !errors.Is(err, ErrNotFound) {
		t.Error("aborted settlement must not create a trade")
	}
	w3, _ := ms.GetWallet(ctx, "U3")
	if !w3.Balance.IsZero() {
		t.Errorf("aborted settlement must not touch wallets, got %s", w3.Balance)
	}
	w2, _ := ms.GetWallet(ctx, "U2")
	if !w2.Balance.Equal(d(100)) {
		t.Errorf("borrower balance should reflect only the first trade, got %s", w2.Balance)
	}
}

func TestGetUserOpenExposure_SumsPendingOnly(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	ms.CreateOrder(ctx, pending("a", "U1", model.SideInvestment, d(100), now))
	ms.CreateOrder(ctx, pending("b", "U1", model.SideInvestment, d(50), now))
	ms.CreateOrder(ctx, pending("c", "U1", model.SideLoan, d(999), now)) // other side

	matched := pending("e", "U1", model.SideInvestment, d(77), now)
	matched.Status = model.OrderMatched
	ms.CreateOrder(ctx, matched)

	total, err := ms.GetUserOpenExposure(ctx, "U1", model.SideInvestment)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !total.Equal(d(150)) {
		t.Errorf("expected open exposure 150, got %s", total)
	}
}
