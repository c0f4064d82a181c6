package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/palpite/clob-engine/internal/ledger"
	"github.com/palpite/clob-engine/internal/model"
)

// computeRedemptions replays a market's fill history into net share
// positions and returns the payout for every holder of the winning outcome,
// one currency unit per share, ordered by user for deterministic output.
//
// Each fill moves shares as follows. The record is written in the taker's
// terms: a buy adds Quantity of Outcome to the taker, a sell removes it.
// The maker's movement depends on the fill kind: a book fill is the
// opposite action on the same outcome, a complement fill is the same
// action on the opposite outcome (the pair mint/burn), and an AMM fill has
// no maker.
func computeRedemptions(fills []model.Fill, winner model.Outcome) []ledger.Redemption {
	type position struct{ yes, no decimal.Decimal }
	positions := make(map[string]*position)

	at := func(userID string) *position {
		p, ok := positions[userID]
		if !ok {
			p = &position{}
			positions[userID] = p
		}
		return p
	}
	add := func(p *position, outcome model.Outcome, qty decimal.Decimal) {
		if outcome == model.OutcomeYes {
			p.yes = p.yes.Add(qty)
		} else {
			p.no = p.no.Add(qty)
		}
	}

	for _, f := range fills {
		takerQty := f.Quantity
		if f.Side == model.SideSell {
			takerQty = takerQty.Neg()
		}
		add(at(f.TakerUserID), f.Outcome, takerQty)

		if f.MakerUserID == "" {
			continue
		}
		switch f.Kind {
		case model.FillBook:
			add(at(f.MakerUserID), f.Outcome, takerQty.Neg())
		case model.FillComplement:
			add(at(f.MakerUserID), f.Outcome.Opposite(), takerQty)
		}
	}

	var redemptions []ledger.Redemption
	for userID, p := range positions {
		shares := p.yes
		if winner == model.OutcomeNo {
			shares = p.no
		}
		if !shares.IsPositive() {
			continue
		}
		redemptions = append(redemptions, ledger.Redemption{
			UserID: userID,
			Shares: shares,
			Payout: shares,
		})
	}
	sort.Slice(redemptions, func(i, j int) bool {
		return redemptions[i].UserID < redemptions[j].UserID
	})
	return redemptions
}
