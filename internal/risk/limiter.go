// Package risk enforces exposure limits at order submission.
//
// Matching is all-or-nothing on exact amounts, so a single oversized order
// or a pile of open orders from one user can sit unmatched forever while
// tying up downstream capital checks. The limiter caps both the size of a
// single order and a user's aggregate open (pending) exposure per side.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrOrderTooLarge is returned when a single order exceeds the
	// per-order maximum.
	ErrOrderTooLarge = errors.New("risk: order amount exceeds per-order limit")

	// ErrOpenExposureExceeded is returned when an order would push the
	// user's aggregate pending exposure on that side beyond the maximum.
	ErrOpenExposureExceeded = errors.New("risk: open exposure limit exceeded")
)

// ExposureLimiter enforces per-order and per-user open-exposure limits.
// Limits are checked at submission only; settlement never consults the
// limiter.
type ExposureLimiter struct {
	// MaxOrderAmount is the maximum amount of any single order.
	MaxOrderAmount decimal.Decimal

	// MaxOpenExposure is the maximum summed amount of one user's pending
	// orders on one side.
	MaxOpenExposure decimal.Decimal
}

// NewExposureLimiter creates a limiter with the given per-order and
// open-exposure limits.
func NewExposureLimiter(maxOrderAmount, maxOpenExposure decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{
		MaxOrderAmount:  maxOrderAmount,
		MaxOpenExposure: maxOpenExposure,
	}
}

// CheckLimit validates whether a new order respects the limits.
//
// Parameters:
//   - amount: the new order's amount
//   - openExposure: the user's current summed pending amount on the
//     order's side
//
// Returns nil if the order is within limits, or an error describing the
// violation. Exposure exactly at a limit is allowed.
func (l *ExposureLimiter) CheckLimit(amount, openExposure decimal.Decimal) error {
	if amount.GreaterThan(l.MaxOrderAmount) {
		return ErrOrderTooLarge
	}
	if openExposure.Add(amount).GreaterThan(l.MaxOpenExposure) {
		return ErrOpenExposureExceeded
	}
	return nil
}
