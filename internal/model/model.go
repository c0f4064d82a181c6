// Package model defines the core domain types shared across the engine:
// markets, orders, and fills, plus the market and order state machines.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/palpite/clob-engine/internal/fixed"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Outcome is one leg of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool { return o == OutcomeYes || o == OutcomeNo }

// Opposite returns the complementary outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "open"
	MarketFrozen   MarketStatus = "frozen"
	MarketClosed   MarketStatus = "closed"
	MarketResolved MarketStatus = "resolved"
)

// marketTransitions enumerates the legal lifecycle edges. Resolved is
// terminal and reachable from every live state, so an oracle report never
// waits on a close step. Frozen is a temporary admin state reachable from
// open or closed and reversible back to either.
var marketTransitions = map[MarketStatus][]MarketStatus{
	MarketOpen:   {MarketClosed, MarketFrozen, MarketResolved},
	MarketFrozen: {MarketOpen, MarketClosed, MarketResolved},
	MarketClosed: {MarketFrozen, MarketResolved},
}

// CanTransition reports whether the lifecycle edge s → next is legal.
func (s MarketStatus) CanTransition(next MarketStatus) bool {
	for _, t := range marketTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// AcceptsOrders reports whether new orders may be submitted.
func (s MarketStatus) AcceptsOrders() bool { return s == MarketOpen }

// AcceptsCancels reports whether resting orders may still be cancelled.
// Frozen and closed markets gate new orders but not cancellations.
func (s MarketStatus) AcceptsCancels() bool { return s != MarketResolved }

// Market is the state of one binary prediction market: its AMM reserve pair,
// cumulative volume, and lifecycle state.
type Market struct {
	ID          string          `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	Category    string          `json:"category" db:"category"`
	YesReserve  decimal.Decimal `json:"yes_reserve" db:"yes_reserve"`
	NoReserve   decimal.Decimal `json:"no_reserve" db:"no_reserve"`
	TotalVolume decimal.Decimal `json:"total_volume" db:"total_volume"`
	// SpreadBps is the AMM markup in basis points for externally mirrored
	// markets. Zero for natively traded markets; never applied to book fills.
	SpreadBps  int64        `json:"spread_bps" db:"spread_bps"`
	Status     MarketStatus `json:"status" db:"status"`
	Resolution *Outcome     `json:"resolution,omitempty" db:"resolution"` // nil until resolved
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// ImpliedYesPrice derives the market's YES probability from the reserve
// pair: yesReserve / (yesReserve + noReserve), 0.5 when both reserves are
// zero (no-liquidity convention).
func (m *Market) ImpliedYesPrice() decimal.Decimal {
	total := m.YesReserve.Add(m.NoReserve)
	if total.IsZero() {
		return fixed.Half
	}
	return m.YesReserve.DivRound(total, fixed.Scale)
}

// ImpliedPrice returns the implied probability of the given outcome.
func (m *Market) ImpliedPrice(o Outcome) decimal.Decimal {
	p := m.ImpliedYesPrice()
	if o == OutcomeNo {
		return fixed.Complement(p)
	}
	return p
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
)

// Terminal reports whether no further transition may leave this status.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// CancelReason records why an order reached the cancelled status.
type CancelReason string

const (
	CancelUserRequested  CancelReason = "user_requested"
	CancelMarketResolved CancelReason = "market_resolved"
)

// Order is a limit order for outcome shares. It is owned by the user who
// placed it and mutated only by the matching engine (fills) or an explicit
// cancel from its owner.
type Order struct {
	ID       string          `json:"id" db:"id"`
	UserID   string          `json:"user_id" db:"user_id"`
	MarketID string          `json:"market_id" db:"market_id"`
	Side     Side            `json:"side" db:"side"`
	Outcome  Outcome         `json:"outcome" db:"outcome"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"` // requested shares, > 0
	Price    decimal.Decimal `json:"price" db:"price"`       // limit, in (0,1)
	Filled   decimal.Decimal `json:"filled" db:"filled"`     // 0 <= filled <= quantity
	Status   OrderStatus     `json:"status" db:"status"`
	// Seq is the engine-assigned monotonic sequence number; ties on
	// timestamp are broken by Seq so price-time priority is a total order.
	Seq          uint64       `json:"seq" db:"seq"`
	CancelReason CancelReason `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// Remaining returns the unfilled share quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// FillKind distinguishes how a fill was sourced.
type FillKind string

const (
	// FillBook is a direct match between two orders on the same outcome.
	FillBook FillKind = "book"
	// FillComplement is a cross-outcome match: a YES buyer paired with a NO
	// buyer (share pair minted) or a YES seller with a NO seller (pair
	// burned). Priced in the taker's outcome terms.
	FillComplement FillKind = "complement"
	// FillAMM is an execution against the market's reserve pool.
	FillAMM FillKind = "amm"
)

// Fill is an immutable record of an execution. MakerOrderID is empty for AMM
// fills. Price and outcome are expressed in the taker's terms.
type Fill struct {
	ID           string          `json:"id" db:"id"`
	MarketID     string          `json:"market_id" db:"market_id"`
	TakerOrderID string          `json:"taker_order_id" db:"taker_order_id"`
	MakerOrderID string          `json:"maker_order_id,omitempty" db:"maker_order_id"`
	TakerUserID  string          `json:"taker_user_id" db:"taker_user_id"`
	MakerUserID  string          `json:"maker_user_id,omitempty" db:"maker_user_id"`
	Kind         FillKind        `json:"kind" db:"kind"`
	Side         Side            `json:"side" db:"side"`       // taker's side
	Outcome      Outcome         `json:"outcome" db:"outcome"` // taker's outcome
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// Value returns the executed notional (quantity × price) of the fill.
func (f *Fill) Value() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}
