// Package fixed centralizes the exact decimal arithmetic conventions used
// throughout the engine: one fixed scale, explicit division errors, and a
// single rounding direction for monetary outputs.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Rounding on costs and proceeds always favors the book: a taker's cost is
// rounded up, a taker's proceeds are rounded down. This keeps accumulated
// rounding drift on the house side across arbitrarily many fills.
package fixed

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every quantity, price,
// and reserve value. Matches the 18 decimals of the on-chain share tokens.
const Scale int32 = 18

var (
	// ErrDivisionByZero is returned by Div when the divisor is zero.
	ErrDivisionByZero = errors.New("fixed: division by zero")

	// Zero is the additive identity at engine scale.
	Zero = decimal.Zero

	// One is the settlement value of a winning share.
	One = decimal.NewFromInt(1)

	// Half is the no-liquidity price convention (both reserves zero).
	Half = decimal.New(5, -1)
)

// Div divides a by b rounded to Scale, reporting an explicit error on a zero
// divisor instead of panicking.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.DivRound(b, Scale), nil
}

// CostUp returns qty * price rounded up to Scale. Used for amounts a taker
// pays in: rounding up means the book never loses a fractional unit.
func CostUp(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).RoundCeil(Scale)
}

// ProceedsDown returns qty * price rounded down to Scale. Used for amounts
// paid out to a taker.
func ProceedsDown(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).RoundFloor(Scale)
}

// ValidPrice reports whether p is a tradable probability, strictly inside
// (0, 1). Prices of exactly 0 or 1 are settlement values, not quotes.
func ValidPrice(p decimal.Decimal) bool {
	return p.IsPositive() && p.LessThan(One)
}

// Complement returns 1 - p, the price of the opposite outcome.
func Complement(p decimal.Decimal) decimal.Decimal {
	return One.Sub(p)
}
