// Package risk implements per-user exposure limits on open order notional.
//
// Markets in the same category move together: a user bidding YES across
// twenty markets in one election category carries correlated risk. The
// limiter caps both the open notional committed to a single market and the
// aggregate across all markets sharing the target's category.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrMarketLimitExceeded is returned when an order would push a user's
	// open notional in a single market beyond the per-market maximum.
	ErrMarketLimitExceeded = errors.New("risk: per-market exposure limit exceeded")

	// ErrCategoryLimitExceeded is returned when an order would push the
	// aggregate open notional across markets in the same category beyond
	// the category maximum.
	ErrCategoryLimitExceeded = errors.New("risk: category exposure limit exceeded")
)

// Position is one market's share of a user's open commitments.
type Position struct {
	MarketID string
	Category string
	// Notional is the remaining quantity times limit price summed over the
	// user's non-terminal orders in the market.
	Notional decimal.Decimal
}

// ExposureLimiter enforces open-notional limits. A zero limit disables that
// check, so the limiter can run per-market only, per-category only, or both.
type ExposureLimiter struct {
	// MaxPerMarket is the maximum open notional in any single market.
	MaxPerMarket decimal.Decimal

	// MaxPerCategory is the maximum aggregate open notional across all
	// markets sharing the target market's category.
	MaxPerCategory decimal.Decimal
}

// NewExposureLimiter creates a limiter with the given per-market and
// per-category caps.
func NewExposureLimiter(maxPerMarket, maxPerCategory decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{
		MaxPerMarket:   maxPerMarket,
		MaxPerCategory: maxPerCategory,
	}
}

// CheckLimit validates whether adding notionalDelta of open exposure in the
// target market respects the limits, given the user's existing positions.
// Returns nil if the order is within limits, or an error naming the
// violated cap.
func (l *ExposureLimiter) CheckLimit(target Position, notionalDelta decimal.Decimal, existing []Position) error {
	current := decimal.Zero
	for _, p := range existing {
		if p.MarketID == target.MarketID {
			current = current.Add(p.Notional)
		}
	}
	newInMarket := current.Add(notionalDelta)

	if l.MaxPerMarket.IsPositive() && newInMarket.GreaterThan(l.MaxPerMarket) {
		return ErrMarketLimitExceeded
	}

	if !l.MaxPerCategory.IsPositive() || target.Category == "" {
		return nil
	}

	totalInCategory := newInMarket
	for _, p := range existing {
		if p.MarketID == target.MarketID {
			continue // already counted via newInMarket above
		}
		if p.Category == target.Category {
			totalInCategory = totalInCategory.Add(p.Notional)
		}
	}
	if totalInCategory.GreaterThan(l.MaxPerCategory) {
		return ErrCategoryLimitExceeded
	}

	return nil
}
