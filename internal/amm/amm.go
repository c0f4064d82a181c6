// Package amm implements the reserve-pair fallback liquidity for binary
// markets. Pricing is linear (sum-style): the implied YES probability is
// yesReserve / (yesReserve + noReserve), so the two outcome prices always
// sum to 1.
//
// Reserves track outstanding exposure, not pool inventory: a buy of q shares
// at price p adds the currency paid in (q·p) to the bought outcome's
// reserve, so the post-trade reserve sum equals the pre-trade sum plus the
// settlement currency received. A sell removes the proceeds from that
// reserve and fails rather than drive it negative.
//
// All values use shopspring/decimal — never float64 for money.
package amm

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/palpite/clob-engine/internal/fixed"
	"github.com/palpite/clob-engine/internal/model"
)

var bpsDenominator = decimal.NewFromInt(10000)

// Quote returns the AMM execution price for one side/outcome of the market,
// with the market's mirror spread applied: buys pay a markup, sells receive
// a markdown. SpreadBps is zero for natively traded markets, so book-matched
// and native AMM trades are never spread-adjusted.
//
// The returned price may leave (0,1) for extreme spreads or reserves; the
// matching engine only executes when the price satisfies the order's limit,
// which keeps executed prices inside the valid range.
func Quote(m *model.Market, side model.Side, outcome model.Outcome) decimal.Decimal {
	p := m.ImpliedPrice(outcome)
	if m.SpreadBps == 0 {
		return p
	}

	spread := decimal.NewFromInt(m.SpreadBps).DivRound(bpsDenominator, fixed.Scale)
	if side == model.SideBuy {
		return p.Mul(fixed.One.Add(spread)).Round(fixed.Scale)
	}
	return p.Mul(fixed.One.Sub(spread)).Round(fixed.Scale)
}

// Execute applies an AMM fill of qty shares at price to the market's
// reserves and returns the currency amount moved. Buys round the cost up and
// sells round the proceeds down, always in the book's favor.
//
// The caller (the matching engine) holds the market lock; Execute still
// refuses non-open markets so reserves cannot move outside trading hours.
func Execute(m *model.Market, side model.Side, outcome model.Outcome, qty, price decimal.Decimal) (decimal.Decimal, error) {
	switch m.Status {
	case model.MarketOpen:
	case model.MarketFrozen:
		return decimal.Zero, fmt.Errorf("%w: market %s", model.ErrMarketFrozen, m.ID)
	default:
		return decimal.Zero, fmt.Errorf("%w: market %s", model.ErrMarketClosed, m.ID)
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amm fill qty %s price %s", model.ErrInvalidOrder, qty, price)
	}

	if side == model.SideBuy {
		cost := fixed.CostUp(qty, price)
		addReserve(m, outcome, cost)
		return cost, nil
	}

	proceeds := fixed.ProceedsDown(qty, price)
	if reserve(m, outcome).Sub(proceeds).IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: market %s %s reserve %s < proceeds %s",
			model.ErrInsufficientLiquidity, m.ID, outcome, reserve(m, outcome), proceeds)
	}
	addReserve(m, outcome, proceeds.Neg())
	return proceeds, nil
}

func reserve(m *model.Market, o model.Outcome) decimal.Decimal {
	if o == model.OutcomeYes {
		return m.YesReserve
	}
	return m.NoReserve
}

func addReserve(m *model.Market, o model.Outcome, delta decimal.Decimal) {
	if o == model.OutcomeYes {
		m.YesReserve = m.YesReserve.Add(delta)
		return
	}
	m.NoReserve = m.NoReserve.Add(delta)
}
