// Package ledger is the outbound boundary to the external balance ledger.
// The engine is authoritative for matching: fills and resolutions are
// published after the in-memory commit, never inside the per-market lock,
// and the external ledger settles currency/share balances from the events.
package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/palpite/clob-engine/internal/model"
)

// Redemption is one user's payout at resolution: winning shares redeem at
// one currency unit each, so Payout equals Shares.
type Redemption struct {
	UserID string          `json:"user_id"`
	Shares decimal.Decimal `json:"shares"`
	Payout decimal.Decimal `json:"payout"`
}

// Resolution is the settlement event for a resolved market.
type Resolution struct {
	Market      model.Market `json:"market"`
	Redemptions []Redemption `json:"redemptions"`
}

// Notifier receives settlement-relevant events. Implementations must not
// assume they are called under any engine lock.
type Notifier interface {
	// FillExecuted reports one executed fill so the ledger can debit and
	// credit the counterparties' currency and share balances.
	FillExecuted(ctx context.Context, f *model.Fill) error

	// MarketResolved reports a resolved market together with the per-user
	// redemptions computed from the fill history.
	MarketResolved(ctx context.Context, r *Resolution) error
}

// LogNotifier is the default Notifier: it only records events. Used in
// development and tests, or when no external ledger is configured.
type LogNotifier struct{}

func (LogNotifier) FillExecuted(_ context.Context, f *model.Fill) error {
	slog.Info("fill executed",
		"fill_id", f.ID,
		"market_id", f.MarketID,
		"kind", string(f.Kind),
		"side", string(f.Side),
		"outcome", string(f.Outcome),
		"qty", f.Quantity.String(),
		"price", f.Price.String(),
	)
	return nil
}

func (LogNotifier) MarketResolved(_ context.Context, r *Resolution) error {
	resolution := ""
	if r.Market.Resolution != nil {
		resolution = string(*r.Market.Resolution)
	}
	slog.Info("market resolved",
		"market_id", r.Market.ID,
		"resolution", resolution,
		"redemptions", len(r.Redemptions),
	)
	return nil
}
