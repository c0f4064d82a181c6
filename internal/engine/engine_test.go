package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/palpite/clob-engine/internal/engine"
	"github.com/palpite/clob-engine/internal/ledger"
	"github.com/palpite/clob-engine/internal/metrics"
	"github.com/palpite/clob-engine/internal/model"
	"github.com/palpite/clob-engine/internal/risk"
	"github.com/palpite/clob-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestEngine(t *testing.T) (*engine.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return engine.New(ms, ledger.LogNotifier{}, nil), ms
}

// seedMarket creates an open market with the given reserves.
func seedMarket(t *testing.T, e *engine.Engine, yes, no float64) *model.Market {
	t.Helper()
	m, err := e.CreateMarket(context.Background(), engine.CreateMarketParams{
		Title:      "Will it rain tomorrow?",
		Category:   "weather",
		YesReserve: d(yes),
		NoReserve:  d(no),
	})
	if err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	return m
}

func submit(t *testing.T, e *engine.Engine, marketID, user string, side model.Side, outcome model.Outcome, qty, price float64) *engine.OrderResult {
	t.Helper()
	res, err := e.SubmitOrder(context.Background(), engine.SubmitRequest{
		MarketID: marketID,
		UserID:   user,
		Side:     side,
		Outcome:  outcome,
		Quantity: d(qty),
		Price:    d(price),
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return res
}

// --- Validation ---

func TestSubmitOrder_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 100, 100)

	cases := []struct {
		name string
		req  engine.SubmitRequest
	}{
		{"zero quantity", engine.SubmitRequest{MarketID: m.ID, UserID: "u1", Side: model.SideBuy, Outcome: model.OutcomeYes, Quantity: decimal.Zero, Price: d(0.5)}},
		{"negative quantity", engine.SubmitRequest{MarketID: m.ID, UserID: "u1", Side: model.SideBuy, Outcome: model.OutcomeYes, Quantity: d(-1), Price: d(0.5)}},
		{"price zero", engine.SubmitRequest{MarketID: m.ID, UserID: "u1", Side: model.SideBuy, Outcome: model.OutcomeYes, Quantity: d(1), Price: decimal.Zero}},
		{"price one", engine.SubmitRequest{MarketID: m.ID, UserID: "u1", Side: model.SideBuy, Outcome: model.OutcomeYes, Quantity: d(1), Price: d(1)}},
		{"price above one", engine.SubmitRequest{MarketID: m.ID, UserID: "u1", Side: model.SideBuy, Outcome: model.OutcomeYes, Quantity: d(1), Price: d(1.2)}},
		{"bad side", engine.SubmitRequest{MarketID: m.ID, UserID: "u1", Side: "hold", Outcome: model.OutcomeYes, Quantity: d(1), Price: d(0.5)}},
		{"bad outcome", engine.SubmitRequest{MarketID: m.ID, UserID: "u1", Side: model.SideBuy, Outcome: "maybe", Quantity: d(1), Price: d(0.5)}},
		{"missing user", engine.SubmitRequest{MarketID: m.ID, Side: model.SideBuy, Outcome: model.OutcomeYes, Quantity: d(1), Price: d(0.5)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.SubmitOrder(context.Background(), tc.req); !errors.Is(err, model.ErrInvalidOrder) {
				t.Errorf("expected ErrInvalidOrder, got %v", err)
			}
		})
	}

	// Rejected orders leave no trace.
	snap, err := e.OrderBook(context.Background(), m.ID, 0)
	if err != nil {
		t.Fatalf("orderbook: %v", err)
	}
	if len(snap.Yes.Bids)+len(snap.Yes.Asks)+len(snap.No.Bids)+len(snap.No.Asks) != 0 {
		t.Error("rejected orders must not rest in the book")
	}

	if _, err := e.SubmitOrder(context.Background(), engine.SubmitRequest{
		MarketID: "missing", UserID: "u1", Side: model.SideBuy, Outcome: model.OutcomeYes, Quantity: d(1), Price: d(0.5),
	}); !errors.Is(err, model.ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
}

// --- AMM fallback ---

func TestSubmitOrder_AMMFill(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 100, 100)

	// Empty book: buy 10 YES at limit 0.6 executes against the pool at the
	// implied price 0.5 for a cost of 5.
	res := submit(t, e, m.ID, "u1", model.SideBuy, model.OutcomeYes, 10, 0.6)

	if res.Order.Status != model.OrderFilled {
		t.Fatalf("expected filled, got %s", res.Order.Status)
	}
	if !res.FilledShares.Equal(d(10)) {
		t.Errorf("filled shares: got %s, want 10", res.FilledShares)
	}
	if !res.AveragePrice.Equal(d(0.5)) {
		t.Errorf("average price: got %s, want 0.5", res.AveragePrice)
	}
	if len(res.FillIDs) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(res.FillIDs))
	}

	after, err := e.Market(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	// Reserve sum grows by exactly the currency paid in.
	if !after.YesReserve.Equal(d(105)) || !after.NoReserve.Equal(d(100)) {
		t.Errorf("reserves: got %s/%s, want 105/100", after.YesReserve, after.NoReserve)
	}
	// Implied YES price must rise after a YES buy.
	if !after.ImpliedYesPrice().GreaterThan(d(0.5)) {
		t.Errorf("implied YES price should rise above 0.5, got %s", after.ImpliedYesPrice())
	}
	if !after.TotalVolume.Equal(d(5)) {
		t.Errorf("total volume: got %s, want 5", after.TotalVolume)
	}
}

func TestSubmitOrder_AMMRespectsLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 100, 100)

	// Limit 0.4 is below the 0.5 pool quote: nothing executes, the order
	// rests as a YES bid.
	res := submit(t, e, m.ID, "u1", model.SideBuy, model.OutcomeYes, 10, 0.4)

	if res.Order.Status != model.OrderOpen {
		t.Fatalf("expected open, got %s", res.Order.Status)
	}
	if !res.FilledShares.IsZero() {
		t.Errorf("expected no fill, got %s", res.FilledShares)
	}

	snap, _ := e.OrderBook(context.Background(), m.ID, 0)
	if len(snap.Yes.Bids) != 1 || !snap.Yes.Bids[0].Price.Equal(d(0.4)) {
		t.Fatalf("expected one resting YES bid at 0.4, got %+v", snap.Yes.Bids)
	}
}

func TestSubmitOrder_AMMSellInsufficientLiquidity(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 1, 1)

	// Selling 100 YES at the 0.5 quote would need 50 from a reserve of 1.
	// The pool refuses and the order rests instead of erroring.
	res := submit(t, e, m.ID, "u1", model.SideSell, model.OutcomeYes, 100, 0.5)

	if res.Order.Status != model.OrderOpen {
		t.Fatalf("expected open, got %s", res.Order.Status)
	}
	after, _ := e.Market(context.Background(), m.ID)
	if !after.YesReserve.Equal(d(1)) || !after.NoReserve.Equal(d(1)) {
		t.Errorf("reserves must be untouched, got %s/%s", after.YesReserve, after.NoReserve)
	}
}

// --- Book matching ---

func TestSubmitOrder_RestingPriceWins(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	// Maker asks 5 NO at 0.40; taker bids NO at 0.45. The fill executes at
	// the resting price, not the taker's limit.
	maker := submit(t, e, m.ID, "maker", model.SideSell, model.OutcomeNo, 5, 0.40)
	res := submit(t, e, m.ID, "taker", model.SideBuy, model.OutcomeNo, 5, 0.45)

	if res.Order.Status != model.OrderFilled {
		t.Fatalf("expected filled, got %s", res.Order.Status)
	}
	if !res.AveragePrice.Equal(d(0.40)) {
		t.Errorf("fill price: got %s, want resting 0.40", res.AveragePrice)
	}
	if len(res.FillIDs) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(res.FillIDs))
	}
	_ = maker

	snap, _ := e.OrderBook(context.Background(), m.ID, 0)
	if len(snap.No.Asks) != 0 {
		t.Errorf("maker ask should be consumed, got %+v", snap.No.Asks)
	}
}

func TestSubmitOrder_ComplementMatch(t *testing.T) {
	e, ms := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	// A resting NO bid at 0.45 offers YES buyers liquidity at 1-0.45 = 0.55:
	// matching the two buys mints a share pair funded by both premiums.
	submit(t, e, m.ID, "no-buyer", model.SideBuy, model.OutcomeNo, 8, 0.45)
	res := submit(t, e, m.ID, "yes-buyer", model.SideBuy, model.OutcomeYes, 8, 0.60)

	if res.Order.Status != model.OrderFilled {
		t.Fatalf("expected filled, got %s", res.Order.Status)
	}
	if !res.AveragePrice.Equal(d(0.55)) {
		t.Errorf("fill price: got %s, want 0.55 (complement of resting 0.45)", res.AveragePrice)
	}

	fills, err := ms.ListFillsByMarket(context.Background(), m.ID, 10)
	if err != nil {
		t.Fatalf("fills: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	f := fills[0]
	if f.Kind != model.FillComplement {
		t.Errorf("fill kind: got %s, want complement", f.Kind)
	}
	// Fill is recorded in the taker's outcome terms.
	if f.Outcome != model.OutcomeYes || !f.Price.Equal(d(0.55)) {
		t.Errorf("fill should be YES at 0.55, got %s at %s", f.Outcome, f.Price)
	}

	// Both sides of the pair are done.
	snap, _ := e.OrderBook(context.Background(), m.ID, 0)
	if len(snap.No.Bids) != 0 || len(snap.Yes.Bids) != 0 {
		t.Errorf("both orders should be consumed, got no.bids=%+v yes.bids=%+v", snap.No.Bids, snap.Yes.Bids)
	}
}

func TestSubmitOrder_SellMatchesComplementAsk(t *testing.T) {
	e, ms := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	// A resting NO ask at 0.30 lets YES sellers exit at 1-0.30 = 0.70: the
	// two sells burn a share pair.
	submit(t, e, m.ID, "no-seller", model.SideSell, model.OutcomeNo, 4, 0.30)
	res := submit(t, e, m.ID, "yes-seller", model.SideSell, model.OutcomeYes, 4, 0.65)

	if res.Order.Status != model.OrderFilled {
		t.Fatalf("expected filled, got %s", res.Order.Status)
	}
	if !res.AveragePrice.Equal(d(0.70)) {
		t.Errorf("fill price: got %s, want 0.70", res.AveragePrice)
	}

	fills, _ := ms.ListFillsByMarket(context.Background(), m.ID, 10)
	if len(fills) != 1 || fills[0].Kind != model.FillComplement {
		t.Fatalf("expected one complement fill, got %+v", fills)
	}
}

func TestSubmitOrder_BetterSourceWins(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	// Direct YES ask at 0.52 vs NO bid at 0.50 (effective YES price 0.50):
	// the complement source is cheaper for a YES buyer and must fill first.
	submit(t, e, m.ID, "asker", model.SideSell, model.OutcomeYes, 5, 0.52)
	submit(t, e, m.ID, "no-bidder", model.SideBuy, model.OutcomeNo, 5, 0.50)

	res := submit(t, e, m.ID, "taker", model.SideBuy, model.OutcomeYes, 5, 0.60)

	if !res.AveragePrice.Equal(d(0.50)) {
		t.Errorf("taker should fill at the cheaper 0.50, got %s", res.AveragePrice)
	}
	snap, _ := e.OrderBook(context.Background(), m.ID, 0)
	if len(snap.Yes.Asks) != 1 {
		t.Errorf("direct ask at 0.52 should still rest, got %+v", snap.Yes.Asks)
	}
	if len(snap.No.Bids) != 0 {
		t.Errorf("NO bid should be consumed, got %+v", snap.No.Bids)
	}
}

func TestSubmitOrder_FIFOWithinPriceLevel(t *testing.T) {
	e, ms := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	first := submit(t, e, m.ID, "early", model.SideSell, model.OutcomeYes, 5, 0.50)
	second := submit(t, e, m.ID, "late", model.SideSell, model.OutcomeYes, 5, 0.50)

	// Taker consumes exactly one maker's size; the earlier one must fill.
	submit(t, e, m.ID, "taker", model.SideBuy, model.OutcomeYes, 5, 0.50)

	early, err := ms.GetOrder(context.Background(), first.Order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	late, err := ms.GetOrder(context.Background(), second.Order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if early.Status != model.OrderFilled {
		t.Errorf("earlier maker should be filled, got %s", early.Status)
	}
	if late.Status != model.OrderOpen {
		t.Errorf("later maker should still be open, got %s", late.Status)
	}
}

func TestSubmitOrder_PartialFillRests(t *testing.T) {
	e, ms := newTestEngine(t)
	m := seedMarket(t, e, 100, 100)

	maker := submit(t, e, m.ID, "maker", model.SideSell, model.OutcomeYes, 5, 0.40)
	// Book gives 5 at 0.40; the 0.45 limit is below the 0.5 pool quote, so
	// the remaining 5 rest.
	res := submit(t, e, m.ID, "taker", model.SideBuy, model.OutcomeYes, 10, 0.45)

	if res.Order.Status != model.OrderPartiallyFilled {
		t.Fatalf("expected partially_filled, got %s", res.Order.Status)
	}
	if !res.FilledShares.Equal(d(5)) {
		t.Errorf("filled: got %s, want 5", res.FilledShares)
	}
	if !res.AveragePrice.Equal(d(0.40)) {
		t.Errorf("average price: got %s, want 0.40", res.AveragePrice)
	}

	snap, _ := e.OrderBook(context.Background(), m.ID, 0)
	if len(snap.Yes.Bids) != 1 || !snap.Yes.Bids[0].TotalShares.Equal(d(5)) {
		t.Fatalf("expected remainder of 5 resting, got %+v", snap.Yes.Bids)
	}

	mkOrder, _ := ms.GetOrder(context.Background(), maker.Order.ID)
	if mkOrder.Status != model.OrderFilled {
		t.Errorf("maker should be filled, got %s", mkOrder.Status)
	}
}

func TestSubmitOrder_NoCrossedBookAfterRest(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	submit(t, e, m.ID, "a", model.SideSell, model.OutcomeYes, 5, 0.60)
	submit(t, e, m.ID, "b", model.SideBuy, model.OutcomeYes, 5, 0.55)

	snap, _ := e.OrderBook(context.Background(), m.ID, 0)
	if len(snap.Yes.Bids) == 0 || len(snap.Yes.Asks) == 0 {
		t.Fatal("both orders should rest")
	}
	bestBid := snap.Yes.Bids[0].Price
	bestAsk := snap.Yes.Asks[0].Price
	if bestBid.GreaterThanOrEqual(bestAsk) {
		t.Errorf("book is crossed: bid %s >= ask %s", bestBid, bestAsk)
	}
}

// --- Cancellation ---

func TestCancelOrder(t *testing.T) {
	e, ms := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	res := submit(t, e, m.ID, "u1", model.SideBuy, model.OutcomeYes, 5, 0.30)

	cancelled, err := e.CancelOrder(context.Background(), res.Order.ID, "u1")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.OrderCancelled {
		t.Errorf("status: got %s, want cancelled", cancelled.Status)
	}
	if cancelled.CancelReason != model.CancelUserRequested {
		t.Errorf("reason: got %s, want user_requested", cancelled.CancelReason)
	}

	snap, _ := e.OrderBook(context.Background(), m.ID, 0)
	if len(snap.Yes.Bids) != 0 {
		t.Errorf("cancelled order should leave the book, got %+v", snap.Yes.Bids)
	}

	persisted, _ := ms.GetOrder(context.Background(), res.Order.ID)
	if persisted.Status != model.OrderCancelled {
		t.Errorf("persisted status: got %s, want cancelled", persisted.Status)
	}

	// Cancelling again is rejected, not silently absorbed into a new state.
	if _, err := e.CancelOrder(context.Background(), res.Order.ID, "u1"); !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestCancelOrder_WrongOwner(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	res := submit(t, e, m.ID, "owner", model.SideBuy, model.OutcomeYes, 5, 0.30)

	if _, err := e.CancelOrder(context.Background(), res.Order.ID, "intruder"); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := e.CancelOrder(context.Background(), "no-such-order", "owner"); !errors.Is(err, model.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelOrder_FilledOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 100, 100)

	res := submit(t, e, m.ID, "u1", model.SideBuy, model.OutcomeYes, 10, 0.6)
	if res.Order.Status != model.OrderFilled {
		t.Fatalf("expected filled, got %s", res.Order.Status)
	}

	if _, err := e.CancelOrder(context.Background(), res.Order.ID, "u1"); !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal for filled order, got %v", err)
	}
}

// --- Lifecycle ---

func TestMarketLifecycle_FreezeAndUnfreeze(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	resting := submit(t, e, m.ID, "u1", model.SideBuy, model.OutcomeYes, 5, 0.30)

	if _, err := e.SetStatus(context.Background(), m.ID, model.MarketFrozen); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	if _, err := e.SubmitOrder(context.Background(), engine.SubmitRequest{
		MarketID: m.ID, UserID: "u2", Side: model.SideBuy, Outcome: model.OutcomeYes, Quantity: d(1), Price: d(0.5),
	}); !errors.Is(err, model.ErrMarketFrozen) {
		t.Errorf("expected ErrMarketFrozen, got %v", err)
	}

	// Cancels stay available while frozen.
	if _, err := e.CancelOrder(context.Background(), resting.Order.ID, "u1"); err != nil {
		t.Errorf("cancel during freeze should succeed: %v", err)
	}

	if _, err := e.SetStatus(context.Background(), m.ID, model.MarketOpen); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	submit(t, e, m.ID, "u2", model.SideBuy, model.OutcomeYes, 1, 0.5)
}

func TestMarketLifecycle_InvalidTransitions(t *testing.T) {
	e, _ := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	if _, err := e.SetStatus(context.Background(), m.ID, model.MarketResolved); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("resolved via SetStatus must be rejected, got %v", err)
	}
	if _, err := e.SetStatus(context.Background(), m.ID, model.MarketOpen); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("open -> open must be rejected, got %v", err)
	}
}

func TestResolveMarket(t *testing.T) {
	e, ms := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	o1 := submit(t, e, m.ID, "u1", model.SideBuy, model.OutcomeYes, 5, 0.30)
	o2 := submit(t, e, m.ID, "u2", model.SideSell, model.OutcomeYes, 5, 0.70)
	o3 := submit(t, e, m.ID, "u3", model.SideBuy, model.OutcomeNo, 5, 0.20)

	resolved, err := e.Resolve(context.Background(), m.ID, model.OutcomeYes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != model.MarketResolved {
		t.Errorf("status: got %s, want resolved", resolved.Status)
	}
	if resolved.Resolution == nil || *resolved.Resolution != model.OutcomeYes {
		t.Errorf("resolution: got %v, want yes", resolved.Resolution)
	}

	// Every resting order is cancelled with the resolution reason.
	for _, id := range []string{o1.Order.ID, o2.Order.ID, o3.Order.ID} {
		o, err := ms.GetOrder(context.Background(), id)
		if err != nil {
			t.Fatalf("get order %s: %v", id, err)
		}
		if o.Status != model.OrderCancelled {
			t.Errorf("order %s: got %s, want cancelled", id, o.Status)
		}
		if o.CancelReason != model.CancelMarketResolved {
			t.Errorf("order %s reason: got %s, want market_resolved", id, o.CancelReason)
		}
	}

	// No further submissions, no re-resolution.
	if _, err := e.SubmitOrder(context.Background(), engine.SubmitRequest{
		MarketID: m.ID, UserID: "u4", Side: model.SideBuy, Outcome: model.OutcomeYes, Quantity: d(1), Price: d(0.5),
	}); !errors.Is(err, model.ErrMarketClosed) {
		t.Errorf("expected ErrMarketClosed after resolution, got %v", err)
	}
	if _, err := e.Resolve(context.Background(), m.ID, model.OutcomeNo); !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
}

// captureNotifier records ledger events for assertions.
type captureNotifier struct {
	fills       []*model.Fill
	resolutions []*ledger.Resolution
}

func (c *captureNotifier) FillExecuted(_ context.Context, f *model.Fill) error {
	c.fills = append(c.fills, f)
	return nil
}

func (c *captureNotifier) MarketResolved(_ context.Context, r *ledger.Resolution) error {
	c.resolutions = append(c.resolutions, r)
	return nil
}

func TestResolveMarket_Redemptions(t *testing.T) {
	ms := store.NewMemoryStore()
	notifier := &captureNotifier{}
	e := engine.New(ms, notifier, nil)
	m := seedMarket(t, e, 100, 100)

	// bob's NO bid rests (AMM quotes 0.5 for NO, above his 0.40 limit),
	// then alice's YES buy mints the pair against it: alice +10 YES,
	// bob +10 NO.
	submit(t, e, m.ID, "bob", model.SideBuy, model.OutcomeNo, 10, 0.40)
	res := submit(t, e, m.ID, "alice", model.SideBuy, model.OutcomeYes, 10, 0.60)
	if len(res.Fills) != 1 || res.Fills[0].Kind != model.FillComplement {
		t.Fatalf("expected one complement fill, got %+v", res.Fills)
	}

	// carol buys from the pool with no resting liquidity left: carol +5 YES.
	res = submit(t, e, m.ID, "carol", model.SideBuy, model.OutcomeYes, 5, 0.70)
	if len(res.Fills) != 1 || res.Fills[0].Kind != model.FillAMM {
		t.Fatalf("expected one amm fill, got %+v", res.Fills)
	}

	if _, err := e.Resolve(context.Background(), m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if len(notifier.resolutions) != 1 {
		t.Fatalf("expected 1 resolution event, got %d", len(notifier.resolutions))
	}
	got := notifier.resolutions[0].Redemptions

	// Only YES holders redeem, one currency unit per share, ordered by user.
	want := []struct {
		userID string
		shares float64
	}{
		{"alice", 10},
		{"carol", 5},
	}
	if len(got) != len(want) {
		t.Fatalf("redemptions: got %d, want %d (%+v)", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].UserID != w.userID {
			t.Errorf("redemption %d user: got %s, want %s", i, got[i].UserID, w.userID)
		}
		if !got[i].Shares.Equal(d(w.shares)) {
			t.Errorf("redemption %d shares: got %s, want %v", i, got[i].Shares, w.shares)
		}
		if !got[i].Payout.Equal(got[i].Shares) {
			t.Errorf("redemption %d payout: got %s, want %s", i, got[i].Payout, got[i].Shares)
		}
	}
}

// --- Exposure limits ---

func TestSubmitOrder_ExposureLimits(t *testing.T) {
	ms := store.NewMemoryStore()
	limiter := risk.NewExposureLimiter(d(100), d(150))
	e := engine.New(ms, ledger.LogNotifier{}, limiter)
	m := seedMarket(t, e, 0, 0)

	// 90 notional rests within the 100 per-market cap.
	submit(t, e, m.ID, "u1", model.SideBuy, model.OutcomeYes, 300, 0.3)

	// Another 30 notional would exceed it.
	_, err := e.SubmitOrder(context.Background(), engine.SubmitRequest{
		MarketID: m.ID, UserID: "u1", Side: model.SideBuy, Outcome: model.OutcomeYes,
		Quantity: d(100), Price: d(0.3),
	})
	if !errors.Is(err, risk.ErrMarketLimitExceeded) {
		t.Fatalf("expected ErrMarketLimitExceeded, got %v", err)
	}

	// A second market in the same category hits the 150 category cap.
	m2, err := e.CreateMarket(context.Background(), engine.CreateMarketParams{
		Title: "Second", Category: m.Category, YesReserve: d(0), NoReserve: d(0),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = e.SubmitOrder(context.Background(), engine.SubmitRequest{
		MarketID: m2.ID, UserID: "u1", Side: model.SideBuy, Outcome: model.OutcomeYes,
		Quantity: d(350), Price: d(0.2),
	})
	if !errors.Is(err, risk.ErrCategoryLimitExceeded) {
		t.Fatalf("expected ErrCategoryLimitExceeded, got %v", err)
	}

	// A different user is unaffected.
	submit(t, e, m.ID, "u2", model.SideBuy, model.OutcomeYes, 300, 0.3)
}

// --- Restart recovery ---

func TestEngine_RebuildsBookFromStore(t *testing.T) {
	e, ms := newTestEngine(t)
	m := seedMarket(t, e, 0, 0)

	submit(t, e, m.ID, "u1", model.SideSell, model.OutcomeYes, 5, 0.50)
	submit(t, e, m.ID, "u2", model.SideSell, model.OutcomeYes, 5, 0.50)

	// A fresh engine over the same store must restore resting orders with
	// their original time priority.
	e2 := engine.New(ms, ledger.LogNotifier{}, nil)
	res := submit(t, e2, m.ID, "taker", model.SideBuy, model.OutcomeYes, 5, 0.50)
	if res.Order.Status != model.OrderFilled {
		t.Fatalf("expected filled against rebuilt book, got %s", res.Order.Status)
	}

	orders, err := ms.ListOrdersByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != model.OrderFilled {
		t.Errorf("first-in maker should fill first after rebuild, got %+v", orders)
	}
}

// flakyStore wraps MemoryStore and fails fill writes on demand.
type flakyStore struct {
	*store.MemoryStore
	failFills bool
}

func (s *flakyStore) InsertFill(ctx context.Context, f *model.Fill) error {
	if s.failFills {
		return errors.New("connection reset by peer")
	}
	return s.MemoryStore.InsertFill(ctx, f)
}

func TestSubmitOrder_PersistFailureRollsBack(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore()}
	e := engine.New(fs, ledger.LogNotifier{}, nil)
	m := seedMarket(t, e, 0, 0)

	maker := submit(t, e, m.ID, "maker", model.SideSell, model.OutcomeYes, 5, 0.40)

	fs.failFills = true
	_, err := e.SubmitOrder(context.Background(), engine.SubmitRequest{
		MarketID: m.ID, UserID: "taker", Side: model.SideBuy, Outcome: model.OutcomeYes,
		Quantity: d(5), Price: d(0.5),
	})
	if err == nil {
		t.Fatal("expected an error when fill persistence fails")
	}

	// The maker's liquidity is back on the book and volume is untouched.
	snap, err := e.OrderBook(context.Background(), m.ID, 0)
	if err != nil {
		t.Fatalf("orderbook: %v", err)
	}
	if len(snap.Yes.Asks) != 1 || !snap.Yes.Asks[0].TotalShares.Equal(d(5)) {
		t.Fatalf("yes asks after failed submission: %+v", snap.Yes.Asks)
	}
	mkt, err := e.Market(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if !mkt.TotalVolume.IsZero() {
		t.Errorf("total volume after failed submission: %s, want 0", mkt.TotalVolume)
	}

	// The store saw no fills and the maker row is back to open.
	fills, err := fs.ListFillsByMarket(context.Background(), m.ID, 0)
	if err != nil {
		t.Fatalf("list fills: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("expected no persisted fills, got %d", len(fills))
	}
	row, err := fs.GetOrder(context.Background(), maker.Order.ID)
	if err != nil {
		t.Fatalf("get maker: %v", err)
	}
	if row.Status != model.OrderOpen || !row.Filled.IsZero() {
		t.Errorf("maker row after rollback: status %s, filled %s", row.Status, row.Filled)
	}

	// Once the store recovers the same match settles cleanly.
	fs.failFills = false
	res := submit(t, e, m.ID, "taker", model.SideBuy, model.OutcomeYes, 5, 0.5)
	if !res.FilledShares.Equal(d(5)) {
		t.Fatalf("filled: got %s, want 5", res.FilledShares)
	}
	if len(res.Fills) != 1 || res.Fills[0].Kind != model.FillBook {
		t.Fatalf("expected one book fill, got %+v", res.Fills)
	}
	mkt, err = e.Market(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if !mkt.TotalVolume.Equal(d(2)) {
		t.Errorf("total volume: got %s, want 2", mkt.TotalVolume)
	}
}

// hookStore runs a callback before each GetMarket, letting tests drive
// engine operations from inside a cold-market load.
type hookStore struct {
	*store.MemoryStore
	onGetMarket func(id string)
}

func (s *hookStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	if s.onGetMarket != nil {
		s.onGetMarket(id)
	}
	return s.MemoryStore.GetMarket(ctx, id)
}

func TestColdMarketLoadDoesNotBlockOtherMarkets(t *testing.T) {
	hs := &hookStore{MemoryStore: store.NewMemoryStore()}
	seeder := engine.New(hs, ledger.LogNotifier{}, nil)
	warm := seedMarket(t, seeder, 100, 100)
	cold := seedMarket(t, seeder, 100, 100)

	e := engine.New(hs, ledger.LogNotifier{}, nil)
	if _, err := e.Market(context.Background(), warm.ID); err != nil {
		t.Fatalf("warm load: %v", err)
	}

	// An order on the warm market is matched while the cold market's state
	// is still being read from the store.
	submitted := false
	hs.onGetMarket = func(id string) {
		if id != cold.ID || submitted {
			return
		}
		submitted = true
		submit(t, e, warm.ID, "u1", model.SideBuy, model.OutcomeYes, 2, 0.7)
	}

	if _, err := e.Market(context.Background(), cold.ID); err != nil {
		t.Fatalf("cold load: %v", err)
	}
	if !submitted {
		t.Fatal("cold load never reached the store")
	}
}

func TestActiveMarketsGauge_Reload(t *testing.T) {
	ms := store.NewMemoryStore()
	seeder := engine.New(ms, ledger.LogNotifier{}, nil)
	m := seedMarket(t, seeder, 100, 100)

	// A fresh engine counts the market when it loads it, so the resolve-path
	// decrement stays balanced across restarts.
	e := engine.New(ms, ledger.LogNotifier{}, nil)
	before := testutil.ToFloat64(metrics.ActiveMarkets)
	if _, err := e.Market(context.Background(), m.ID); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := testutil.ToFloat64(metrics.ActiveMarkets); got != before+1 {
		t.Fatalf("gauge after reload: got %v, want %v", got, before+1)
	}

	if _, err := e.Resolve(context.Background(), m.ID, model.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := testutil.ToFloat64(metrics.ActiveMarkets); got != before {
		t.Fatalf("gauge after resolve: got %v, want %v", got, before)
	}

	// A market that is already resolved does not count as active on load.
	e2 := engine.New(ms, ledger.LogNotifier{}, nil)
	if _, err := e2.Market(context.Background(), m.ID); err != nil {
		t.Fatalf("load resolved: %v", err)
	}
	if got := testutil.ToFloat64(metrics.ActiveMarkets); got != before {
		t.Fatalf("gauge after loading resolved market: got %v, want %v", got, before)
	}
}
