// Package model defines the core domain types shared across the match engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side distinguishes the two halves of the marketplace: lenders submit
// investments, borrowers submit loans. Every order of one side matches
// against a pending order of the opposite side with the same amount.
type Side string

const (
	SideInvestment Side = "investment"
	SideLoan       Side = "loan"
)

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == SideInvestment {
		return SideLoan
	}
	return SideInvestment
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideInvestment || s == SideLoan
}

// Order status values. An order moves pending → matched exactly once and
// is never deleted by this engine.
const (
	OrderPending = "pending"
	OrderMatched = "matched"
)

// TradeActive is the status of every trade this engine creates. Closing
// and repayment flows live outside the engine.
const TradeActive = "active"

// Order is a request to lend (investment) or borrow (loan) a fixed amount.
// Amount is immutable after creation. CounterpartID and TradeID are set
// during settlement and never cleared afterwards.
type Order struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Side          Side            `json:"side" db:"side"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Status        string          `json:"status" db:"status"` // "pending" or "matched"
	CounterpartID string          `json:"counterpart_id,omitempty" db:"counterpart_id"`
	TradeID       string          `json:"trade_id,omitempty" db:"trade_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	MatchedAt     *time.Time      `json:"matched_at,omitempty" db:"matched_at"`
}

// Trade binds one matched investment to one matched loan.
// Once created, trades are never modified by this engine.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	InvestorID   string          `json:"investor_id" db:"investor_id"`
	BorrowerID   string          `json:"borrower_id" db:"borrower_id"`
	InvestmentID string          `json:"investment_id" db:"investment_id"`
	LoanID       string          `json:"loan_id" db:"loan_id"`
	TradeAmount  decimal.Decimal `json:"trade_amount" db:"trade_amount"`
	Status       string          `json:"status" db:"status"` // "active"
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Wallet is a per-user running balance. It is only ever changed by signed
// increments applied inside a settlement transaction; an absent wallet is
// treated as zero balance.
type Wallet struct {
	UserID      string          `json:"user_id" db:"user_id"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	LastUpdated time.Time       `json:"last_updated" db:"last_updated"`
}

// Investment returns the investment-side order of the pair (a, b).
// Exactly one of the two is an investment by construction of the matcher.
func Investment(a, b *Order) *Order {
	if a.Side == SideInvestment {
		return a
	}
	return b
}

// Loan returns the loan-side order of the pair (a, b).
func Loan(a, b *Order) *Order {
	if a.Side == SideLoan {
		return a
	}
	return b
}
