package match_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendmatch/match-engine/internal/match"
	"github.com/lendmatch/match-engine/internal/model"
	"github.com/lendmatch/match-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEngine creates an engine over a fresh in-memory store.
func newTestEngine(t *testing.T) (*match.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return match.NewEngine(ms, nil), ms
}

// seedOrder creates a pending order directly in the store.
func seedOrder(t *testing.T, ms *store.MemoryStore, id, userID string, side model.Side, amount decimal.Decimal, createdAt time.Time) *model.Order {
	t.Helper()
	o := &model.Order{
		ID:        id,
		UserID:    userID,
		Side:      side,
		Amount:    amount,
		Status:    model.OrderPending,
		CreatedAt: createdAt,
	}
	if err := ms.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}
	return o
}

func balance(t *testing.T, ms *store.MemoryStore, userID string) decimal.Decimal {
	t.Helper()
	w, err := ms.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to get wallet: %v", err)
	}
	return w.Balance
}

// --- Matching tests ---

func TestOnOrderCreated_NoCounterpart(t *testing.T) {
	engine, ms := newTestEngine(t)
	now := time.Now().UTC()
	inv := seedOrder(t, ms, "inv1", "U1", model.SideInvestment, d(100), now)

	if err := engine.OnOrderCreated(context.Background(), inv.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, _ := ms.GetOrder(context.Background(), inv.ID)
	if got.Status != model.OrderPending {
		t.Errorf("order should remain pending, got %s", got.Status)
	}
	if got.TradeID != "" {
		t.Errorf("no trade should be created, got trade_id %s", got.TradeID)
	}
	if !balance(t, ms, "U1").IsZero() {
		t.Error("wallet should be untouched without a match")
	}
}

func TestOnOrderCreated_ExactMatch(t *testing.T) {
	engine, ms := newTestEngine(t)
	now := time.Now().UTC()
	inv := seedOrder(t, ms, "inv1", "U1", model.SideInvestment, d(100), now)
	loan := seedOrder(t, ms, "loan1", "U2", model.SideLoan, d(100), now.Add(time.Second))

	if err := engine.OnOrderCreated(context.Background(), loan.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	gotInv, _ := ms.GetOrder(context.Background(), inv.ID)
	gotLoan, _ := ms.GetOrder(context.Background(), loan.ID)

	if gotInv.Status != model.OrderMatched || gotLoan.Status != model.OrderMatched {
		t.Fatalf("both orders should be matched, got %s / %s", gotInv.Status, gotLoan.Status)
	}
	if gotInv.TradeID == "" || gotInv.TradeID != gotLoan.TradeID {
		t.Errorf("orders should share a trade id, got %q / %q", gotInv.TradeID, gotLoan.TradeID)
	}
	if gotInv.CounterpartID != loan.ID || gotLoan.CounterpartID != inv.ID {
		t.Errorf("counterpart links wrong: %q / %q", gotInv.CounterpartID, gotLoan.CounterpartID)
	}
	if gotInv.MatchedAt == nil || gotLoan.MatchedAt == nil {
		t.Error("matched_at should be stamped on both orders")
	}

	trade, err := ms.GetTrade(context.Background(), gotInv.TradeID)
	if err != nil {
		t.Fatalf("trade should exist: %v", err)
	}
	if trade.InvestorID != "U1" || trade.BorrowerID != "U2" {
		t.Errorf("roles wrong: investor=%s borrower=%s", trade.InvestorID, trade.BorrowerID)
	}
	if trade.InvestmentID != inv.ID || trade.LoanID != loan.ID {
		t.Errorf("order refs wrong: %s / %s", trade.InvestmentID, trade.LoanID)
	}
	if !trade.TradeAmount.Equal(d(100)) {
		t.Errorf("trade amount should be 100, got %s", trade.TradeAmount)
	}
	if trade.Status != model.TradeActive {
		t.Errorf("trade status should be active, got %s", trade.Status)
	}

	// Conservation: investor down 100, borrower up 100.
	if !balance(t, ms, "U1").Equal(d(-100)) {
		t.Errorf("investor balance should be -100, got %s", balance(t, ms, "U1"))
	}
	if !balance(t, ms, "U2").Equal(d(100)) {
		t.Errorf("borrower balance should be +100, got %s", balance(t, ms, "U2"))
	}
}

func TestOnOrderCreated_InvestmentTriggersMatch(t *testing.T) {
	// Symmetric direction: the loan is resting and the investment arrives.
	engine, ms := newTestEngine(t)
	now := time.Now().UTC()
	loan := seedOrder(t, ms, "loan1", "U2", model.SideLoan, d(250), now)
	inv := seedOrder(t, ms, "inv1", "U1", model.SideInvestment, d(250), now.Add(time.Second))

	if err := engine.OnOrderCreated(context.Background(), inv.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	gotLoan, _ := ms.GetOrder(context.Background(), loan.ID)
	if gotLoan.Status != model.OrderMatched {
		t.Fatalf("loan should be matched, got %s", gotLoan.Status)
	}

	trade, _ := ms.GetTrade(context.Background(), gotLoan.TradeID)
	if trade.InvestorID != "U1" || trade.BorrowerID != "U2" {
		t.Errorf("roles must follow side, not arrival order: investor=%s borrower=%s",
			trade.InvestorID, trade.BorrowerID)
	}
	if !balance(t, ms, "U1").Equal(d(-250)) || !balance(t, ms, "U2").Equal(d(250)) {
		t.Errorf("balances wrong: U1=%s U2=%s", balance(t, ms, "U1"), balance(t, ms, "U2"))
	}
}

func TestOnOrderCreated_AmountMismatch(t *testing.T) {
	engine, ms := newTestEngine(t)
	now := time.Now().UTC()
	seedOrder(t, ms, "inv1", "U1", model.SideInvestment, d(100), now)
	loan := seedOrder(t, ms, "loan1", "U2", model.SideLoan, d(100.01), now.Add(time.Second))

	if err := engine.OnOrderCreated(context.Background(), loan.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, _ := ms.GetOrder(context.Background(), loan.ID)
	if got.Status != model.OrderPending {
		t.Errorf("amounts differ, loan should stay pending, got %s", got.Status)
	}
}

func TestOnOrderCreated_SameSideNeverMatches(t *testing.T) {
	engine, ms := newTestEngine(t)
	now := time.Now().UTC()
	seedOrder(t, ms, "inv1", "U1", model.SideInvestment, d(100), now)
	inv2 := seedOrder(t, ms, "inv2", "U3", model.SideInvestment, d(100), now.Add(time.Second))

	if err := engine.OnOrderCreated(context.Background(), inv2.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, _ := ms.GetOrder(context.Background(), inv2.ID)
	if got.Status != model.OrderPending {
		t.Errorf("two investments must not match each other, got %s", got.Status)
	}
}

// --- Malformed input ---

func TestOnOrderCreated_MissingUserID(t *testing.T) {
	engine, ms := newTestEngine(t)
	now := time.Now().UTC()
	seedOrder(t, ms, "loan1", "U2", model.SideLoan, d(100), now)
	bad := seedOrder(t, ms, "inv1", "", model.SideInvestment, d(100), now.Add(time.Second))

	if err := engine.OnOrderCreated(context.Background(), bad.ID); err != nil {
		t.Fatalf("malformed order should be a no-op, got %v", err)
	}

	got, _ := ms.GetOrder(context.Background(), "loan1")
	if got.Status != model.OrderPending {
		t.Errorf("counterpart must stay pending after ignored order, got %s", got.Status)
	}
}

func TestOnOrderCreated_UnknownOrder(t *testing.T) {
	engine, _ := newTestEngine(t)

	if err := engine.OnOrderCreated(context.Background(), "missing"); err != nil {
		t.Fatalf("unknown order should be a no-op, got %v", err)
	}
}

// --- Idempotence under redelivery ---

func TestOnOrderCreated_IdempotentRedelivery(t *testing.T) {
	engine, ms := newTestEngine(t)
	now := time.Now().UTC()
	seedOrder(t, ms, "inv1", "U1", model.SideInvestment, d(100), now)
	loan := seedOrder(t, ms, "loan1", "U2", model.SideLoan, d(100), now.Add(time.Second))

	if err := engine.OnOrderCreated(context.Background(), loan.ID); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	first, _ := ms.GetOrder(context.Background(), loan.ID)

	// Replay the same event twice more.
	for i := 0; i < 2; i++ {
		if err := engine.OnOrderCreated(context.Background(), loan.ID); err != nil {
			t.Fatalf("redelivery %d failed: %v", i, err)
		}
	}

	after, _ := ms.GetOrder(context.Background(), loan.ID)
	if after.TradeID != first.TradeID {
		t.Errorf("trade id changed on redelivery: %s → %s", first.TradeID, after.TradeID)
	}

	trades, _ := ms.ListTradesByUser(context.Background(), "U2")
	if len(trades) != 1 {
		t.Fatalf("expected exactly 1 trade after redelivery, got %d", len(trades))
	}
	if !balance(t, ms, "U1").Equal(d(-100)) || !balance(t, ms, "U2").Equal(d(100)) {
		t.Errorf("balances must not move on redelivery: U1=%s U2=%s",
			balance(t, ms, "U1"), balance(t, ms, "U2"))
	}
}

// --- Tie-break policy ---

func TestOnOrderCreated_EarliestCandidateWins(t *testing.T) {
	engine, ms := newTestEngine(t)
	now := time.Now().UTC()
	seedOrder(t, ms, "inv-late", "U3", model.SideInvestment, d(50), now.Add(time.Minute))
	seedOrder(t, ms, "inv-early", "U1", model.SideInvestment, d(50), now)
	loan := seedOrder(t, ms, "loan1", "U2", model.SideLoan, d(50), now.Add(2*time.Minute))

	if err := engine.OnOrderCreated(context.Background(), loan.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	early, _ := ms.GetOrder(context.Background(), "inv-early")
	late, _ := ms.GetOrder(context.Background(), "inv-late")

	if early.Status != model.OrderMatched {
		t.Errorf("earliest-created investment should win, got %s", early.Status)
	}
	if late.Status != model.OrderPending {
		t.Errorf("later investment should stay pending, got %s", late.Status)
	}
}

// --- Concurrency safety ---

func TestOnOrderCreated_ConcurrentRaceForOneCounterpart(t *testing.T) {
	// Two investments race to match the same loan: exactly one wins, the
	// other stays pending, and money moves exactly once.
	engine, ms := newTestEngine(t)
	now := time.Now().UTC()
	seedOrder(t, ms, "loanC", "U2", model.SideLoan, d(100), now)
	seedOrder(t, ms, "invA", "U1", model.SideInvestment, d(100), now.Add(time.Second))
	seedOrder(t, ms, "invB", "U3", model.SideInvestment, d(100), now.Add(time.Second))

	var wg sync.WaitGroup
	for _, id := range []string{"invA", "invB"} {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			if err := engine.OnOrderCreated(context.Background(), orderID); err != nil {
				t.Errorf("event for %s failed: %v", orderID, err)
			}
		}(id)
	}
	wg.Wait()

	a, _ := ms.GetOrder(context.Background(), "invA")
	b, _ := ms.GetOrder(context.Background(), "invB")
	c, _ := ms.GetOrder(context.Background(), "loanC")

	matched := 0
	if a.Status == model.OrderMatched {
		matched++
	}
	if b.Status == model.OrderMatched {
		matched++
	}
	if matched != 1 {
		t.Fatalf("exactly one investment should match, got %d", matched)
	}
	if c.Status != model.OrderMatched {
		t.Fatalf("loan should be matched, got %s", c.Status)
	}

	if !balance(t, ms, "U2").Equal(d(100)) {
		t.Errorf("borrower should receive exactly 100, got %s", balance(t, ms, "U2"))
	}
	sum := balance(t, ms, "U1").Add(balance(t, ms, "U2")).Add(balance(t, ms, "U3"))
	if !sum.IsZero() {
		t.Errorf("money must be conserved, balance sum = %s", sum)
	}
}

func TestOnOrderCreated_ConcurrentDuplicateEvents(t *testing.T) {
	// At-least-once delivery: the same event lands multiple times in
	// parallel. One settlement only.
	engine, ms := newTestEngine(t)
	now := time.Now().UTC()
	seedOrder(t, ms, "inv1", "U1", model.SideInvestment, d(75), now)
	seedOrder(t, ms, "loan1", "U2", model.SideLoan, d(75), now.Add(time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := engine.OnOrderCreated(context.Background(), "loan1"); err != nil {
				t.Errorf("duplicate event failed: %v", err)
			}
		}()
	}
	wg.Wait()

	trades, _ := ms.ListTradesByUser(context.Background(), "U2")
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade under duplicate delivery, got %d", len(trades))
	}
	if !balance(t, ms, "U1").Equal(d(-75)) || !balance(t, ms, "U2").Equal(d(75)) {
		t.Errorf("balances wrong under duplicate delivery: U1=%s U2=%s",
			balance(t, ms, "U1"), balance(t, ms, "U2"))
	}
}
