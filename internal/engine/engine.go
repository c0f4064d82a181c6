// Package engine implements the matching core: it accepts orders, matches
// them against the book (including cross-outcome complements), routes
// unmatched remainders to the AMM reserve pool, and governs market
// lifecycle and settlement.
//
// Per-market state (book + reserves) is serialized behind a per-market
// RWMutex: mutations on one market never interleave, while distinct markets
// proceed concurrently and snapshot reads share the lock. Store writes
// happen under the lock so persisted history keeps the match ordering;
// external ledger notification happens strictly after release.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/palpite/clob-engine/internal/amm"
	"github.com/palpite/clob-engine/internal/book"
	"github.com/palpite/clob-engine/internal/fixed"
	"github.com/palpite/clob-engine/internal/ledger"
	"github.com/palpite/clob-engine/internal/metrics"
	"github.com/palpite/clob-engine/internal/model"
	"github.com/palpite/clob-engine/internal/risk"
	"github.com/palpite/clob-engine/internal/store"
)

// Engine owns all per-market mutable state. The Order Book and reserve pair
// of a market are mutated only here.
type Engine struct {
	store    store.Store
	notifier ledger.Notifier
	limiter  *risk.ExposureLimiter // nil disables exposure checks

	mu     sync.RWMutex // guards the states map, not the markets themselves
	states map[string]*marketState
	seq    atomic.Uint64
}

// marketState bundles one market's authoritative in-memory state behind its
// exclusive section.
type marketState struct {
	mu     sync.RWMutex
	market *model.Market
	book   *book.Book
}

// New creates an engine. Pass ledger.LogNotifier{} when no external balance
// ledger is wired and nil for limiter to run without exposure caps.
func New(st store.Store, notifier ledger.Notifier, limiter *risk.ExposureLimiter) *Engine {
	return &Engine{
		store:    st,
		notifier: notifier,
		limiter:  limiter,
		states:   make(map[string]*marketState),
	}
}

// --- Market management ---

// CreateMarketParams describes a new market.
type CreateMarketParams struct {
	Title      string
	Category   string
	YesReserve decimal.Decimal
	NoReserve  decimal.Decimal
	SpreadBps  int64
}

// CreateMarket persists a new open market with the given seed reserves.
func (e *Engine) CreateMarket(ctx context.Context, p CreateMarketParams) (*model.Market, error) {
	if p.Title == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidOrder)
	}
	if p.YesReserve.IsNegative() || p.NoReserve.IsNegative() {
		return nil, fmt.Errorf("%w: reserves must be non-negative", model.ErrInvalidOrder)
	}
	if p.SpreadBps < 0 || p.SpreadBps >= 10000 {
		return nil, fmt.Errorf("%w: spread_bps must be in [0,10000)", model.ErrInvalidOrder)
	}

	m := &model.Market{
		ID:          uuid.New().String(),
		Title:       p.Title,
		Category:    p.Category,
		YesReserve:  p.YesReserve,
		NoReserve:   p.NoReserve,
		TotalVolume: decimal.Zero,
		SpreadBps:   p.SpreadBps,
		Status:      model.MarketOpen,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateMarket(ctx, m); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.states[m.ID] = &marketState{market: m, book: book.New()}
	e.mu.Unlock()

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"market_id", m.ID,
		"title", m.Title,
		"yes_reserve", m.YesReserve.String(),
		"no_reserve", m.NoReserve.String(),
		"spread_bps", m.SpreadBps,
	)

	cp := *m
	return &cp, nil
}

// Market returns a copy of the market's current state.
func (e *Engine) Market(ctx context.Context, marketID string) (*model.Market, error) {
	st, err := e.state(ctx, marketID)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	cp := *st.market
	return &cp, nil
}

// state returns the in-memory state for a market, loading it from the store
// (and rebuilding its book from persisted resting orders) on first touch.
// The cold load runs outside the registry lock so one market's store reads
// never stall operations on other markets; when two loaders race, the first
// insert wins and the loser's work is discarded.
func (e *Engine) state(ctx context.Context, marketID string) (*marketState, error) {
	e.mu.RLock()
	st, ok := e.states[marketID]
	e.mu.RUnlock()
	if ok {
		return st, nil
	}

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	b := book.New()
	resting, err := e.store.ListOpenOrdersByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("rebuild book for market %s: %w", marketID, err)
	}
	for i := range resting {
		o := resting[i]
		e.raiseSeq(o.Seq)
		if err := b.Insert(&o); err != nil {
			return nil, fmt.Errorf("rebuild book for market %s: %w", marketID, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[marketID]; ok {
		return st, nil
	}
	st = &marketState{market: m, book: b}
	e.states[marketID] = st
	if m.Status != model.MarketResolved {
		metrics.ActiveMarkets.Inc()
	}
	return st, nil
}

// raiseSeq bumps the sequence counter to at least floor.
func (e *Engine) raiseSeq(floor uint64) {
	for {
		cur := e.seq.Load()
		if cur >= floor || e.seq.CompareAndSwap(cur, floor) {
			return
		}
	}
}

// --- Order submission ---

// SubmitRequest is the input to SubmitOrder.
type SubmitRequest struct {
	MarketID string
	UserID   string
	Side     model.Side
	Outcome  model.Outcome
	Quantity decimal.Decimal
	Price    decimal.Decimal // limit, in (0,1)
}

// OrderResult is the aggregate outcome of one submission.
type OrderResult struct {
	Order        model.Order     `json:"order"`
	FilledShares decimal.Decimal `json:"filled_shares"`
	AveragePrice decimal.Decimal `json:"average_price"` // zero when nothing filled
	FillIDs      []string        `json:"fill_ids"`
	Fills        []*model.Fill   `json:"fills"`
}

// SubmitOrder validates, matches, and either fully executes the order or
// rests its remainder in the book. Validation failures have no side effects.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest) (*OrderResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidOrder)
	}
	if !req.Side.Valid() {
		return nil, fmt.Errorf("%w: side must be buy or sell", model.ErrInvalidOrder)
	}
	if !req.Outcome.Valid() {
		return nil, fmt.Errorf("%w: outcome must be yes or no", model.ErrInvalidOrder)
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive, got %s", model.ErrInvalidOrder, req.Quantity)
	}
	if !fixed.ValidPrice(req.Price) {
		return nil, fmt.Errorf("%w: price must be in (0,1), got %s", model.ErrInvalidOrder, req.Price)
	}

	st, err := e.state(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}

	if err := e.checkExposure(ctx, req); err != nil {
		return nil, err
	}

	start := time.Now()
	st.mu.Lock()

	switch st.market.Status {
	case model.MarketOpen:
	case model.MarketFrozen:
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: market %s", model.ErrMarketFrozen, req.MarketID)
	default:
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: market %s", model.ErrMarketClosed, req.MarketID)
	}

	order := &model.Order{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		MarketID:  req.MarketID,
		Side:      req.Side,
		Outcome:   req.Outcome,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Filled:    decimal.Zero,
		Status:    model.OrderOpen,
		Seq:       e.seq.Add(1),
		CreatedAt: time.Now().UTC(),
	}

	snap := &matchSnapshot{market: *st.market}
	fills, makers := e.match(st, order, snap)

	rested := false
	if order.Remaining().IsPositive() {
		// Remainder rests. Insert cannot fail here: inputs were validated
		// above, but a failure would mean lost liquidity, so surface it.
		if err := st.book.Insert(order); err != nil {
			e.rollbackMatch(ctx, st, snap, order, makers, false)
			st.mu.Unlock()
			return nil, err
		}
		rested = true
	}

	// A submission either fully settles or fully aborts: when persistence
	// fails, the in-memory match is undone before the error surfaces.
	if err := e.persistMatch(ctx, st, order, makers, fills); err != nil {
		e.rollbackMatch(ctx, st, snap, order, makers, rested)
		st.mu.Unlock()
		return nil, err
	}

	result := buildResult(order, fills)
	st.mu.Unlock()

	for _, f := range fills {
		metrics.FillsTotal.WithLabelValues(string(f.Kind)).Inc()
	}
	metrics.OrdersSubmitted.WithLabelValues(string(req.Side), string(req.Outcome)).Inc()
	metrics.MatchLatency.WithLabelValues(string(req.Side)).Observe(time.Since(start).Seconds())
	slog.Info("order submitted",
		"order_id", order.ID,
		"market_id", req.MarketID,
		"user", req.UserID,
		"side", string(req.Side),
		"outcome", string(req.Outcome),
		"qty", req.Quantity.String(),
		"limit", req.Price.String(),
		"filled", order.Filled.String(),
		"status", string(order.Status),
	)

	e.notifyFills(ctx, fills)
	return result, nil
}

// checkExposure enforces the per-user open-notional caps before matching.
// Exposure is read outside the market lock; the window between check and
// execution is tolerated the same way a maker's fill racing a cancel is.
func (e *Engine) checkExposure(ctx context.Context, req SubmitRequest) error {
	if e.limiter == nil {
		return nil
	}

	orders, err := e.store.ListOrdersByUser(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("load exposure for %s: %w", req.UserID, err)
	}

	byMarket := make(map[string]decimal.Decimal)
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		byMarket[o.MarketID] = byMarket[o.MarketID].Add(fixed.CostUp(o.Remaining(), o.Price))
	}

	categories := make(map[string]string, len(byMarket)+1)
	for marketID := range byMarket {
		if m, err := e.Market(ctx, marketID); err == nil {
			categories[marketID] = m.Category
		}
	}
	target, err := e.Market(ctx, req.MarketID)
	if err != nil {
		return err
	}

	existing := make([]risk.Position, 0, len(byMarket))
	for marketID, notional := range byMarket {
		existing = append(existing, risk.Position{
			MarketID: marketID,
			Category: categories[marketID],
			Notional: notional,
		})
	}

	delta := fixed.CostUp(req.Quantity, req.Price)
	return e.limiter.CheckLimit(risk.Position{MarketID: req.MarketID, Category: target.Category}, delta, existing)
}

// matchCandidate is one source of counter-liquidity for the incoming order.
type matchCandidate struct {
	maker      *model.Order
	execPrice  decimal.Decimal // in the taker's outcome terms
	complement bool
}

// matchSnapshot captures the state a submission is about to mutate, so a
// failed persistence can be undone in memory. Maker copies are taken at
// first touch and run parallel to the makers slice match returns.
type matchSnapshot struct {
	market model.Market
	makers []model.Order
}

// match runs the taker against the linked books. Caller holds st.mu.
//
// A buy of YES at limit L crosses the cheaper of the best YES ask (a <= L)
// and the best NO bid b with 1-b <= L: matching two buyers of opposite
// outcomes mints a share pair funded by both premiums. Sells mirror this
// against YES bids and NO asks (pair burn). The resting side's price always
// wins; ties between the two sources break on sequence number.
func (e *Engine) match(st *marketState, taker *model.Order, snap *matchSnapshot) ([]*model.Fill, []*model.Order) {
	var (
		fills  []*model.Fill
		makers []*model.Order
		seen   = make(map[string]bool)
	)

	for taker.Remaining().IsPositive() {
		cand := bestCandidate(st.book, taker)
		if cand == nil {
			break
		}

		qty := decimal.Min(taker.Remaining(), cand.maker.Remaining())
		fill := &model.Fill{
			ID:           uuid.New().String(),
			MarketID:     taker.MarketID,
			TakerOrderID: taker.ID,
			MakerOrderID: cand.maker.ID,
			TakerUserID:  taker.UserID,
			MakerUserID:  cand.maker.UserID,
			Kind:         model.FillBook,
			Side:         taker.Side,
			Outcome:      taker.Outcome,
			Quantity:     qty,
			Price:        cand.execPrice,
			Timestamp:    time.Now().UTC(),
		}
		if cand.complement {
			fill.Kind = model.FillComplement
		}
		fills = append(fills, fill)
		if !seen[cand.maker.ID] {
			seen[cand.maker.ID] = true
			makers = append(makers, cand.maker)
			snap.makers = append(snap.makers, *cand.maker)
		}

		applyFill(taker, qty)
		applyFill(cand.maker, qty)
		if cand.maker.Status == model.OrderFilled {
			st.book.Remove(cand.maker.ID)
		}

		st.market.TotalVolume = st.market.TotalVolume.Add(fill.Value())
	}

	if amFill := e.matchAMM(st, taker); amFill != nil {
		fills = append(fills, amFill)
	}
	return fills, makers
}

// bestCandidate picks the crossable counter-order with the best effective
// price for the taker, or nil when nothing crosses the limit.
func bestCandidate(b *book.Book, taker *model.Order) *matchCandidate {
	var direct, comp *matchCandidate

	if taker.Side == model.SideBuy {
		if ask := b.BestAsk(taker.Outcome); ask != nil && ask.Price.LessThanOrEqual(taker.Price) {
			direct = &matchCandidate{maker: ask, execPrice: ask.Price}
		}
		if bid := b.BestBid(taker.Outcome.Opposite()); bid != nil {
			eff := fixed.Complement(bid.Price)
			if eff.LessThanOrEqual(taker.Price) {
				comp = &matchCandidate{maker: bid, execPrice: eff, complement: true}
			}
		}
		return pick(direct, comp, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
	}

	if bid := b.BestBid(taker.Outcome); bid != nil && bid.Price.GreaterThanOrEqual(taker.Price) {
		direct = &matchCandidate{maker: bid, execPrice: bid.Price}
	}
	if ask := b.BestAsk(taker.Outcome.Opposite()); ask != nil {
		eff := fixed.Complement(ask.Price)
		if eff.GreaterThanOrEqual(taker.Price) {
			comp = &matchCandidate{maker: ask, execPrice: eff, complement: true}
		}
	}
	return pick(direct, comp, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
}

// pick chooses between the direct and complement candidates; better wins per
// price, equal effective prices fall back to FIFO on sequence.
func pick(direct, comp *matchCandidate, better func(a, b decimal.Decimal) bool) *matchCandidate {
	switch {
	case direct == nil:
		return comp
	case comp == nil:
		return direct
	case better(direct.execPrice, comp.execPrice):
		return direct
	case better(comp.execPrice, direct.execPrice):
		return comp
	case direct.maker.Seq < comp.maker.Seq:
		return direct
	default:
		return comp
	}
}

// matchAMM routes the taker's remainder to the reserve pool when the quoted
// price satisfies the limit. An insufficient-liquidity refusal is not an
// error for the submission: the remainder simply rests in the book.
func (e *Engine) matchAMM(st *marketState, taker *model.Order) *model.Fill {
	remaining := taker.Remaining()
	if !remaining.IsPositive() {
		return nil
	}

	quote := amm.Quote(st.market, taker.Side, taker.Outcome)
	if !fixed.ValidPrice(quote) {
		return nil
	}
	if taker.Side == model.SideBuy && quote.GreaterThan(taker.Price) {
		return nil
	}
	if taker.Side == model.SideSell && quote.LessThan(taker.Price) {
		return nil
	}

	value, err := amm.Execute(st.market, taker.Side, taker.Outcome, remaining, quote)
	if err != nil {
		if errors.Is(err, model.ErrInsufficientLiquidity) {
			metrics.AMMRefusals.Inc()
			return nil
		}
		slog.Error("amm execution failed",
			"market_id", st.market.ID, "order_id", taker.ID, "err", err)
		return nil
	}

	fill := &model.Fill{
		ID:           uuid.New().String(),
		MarketID:     taker.MarketID,
		TakerOrderID: taker.ID,
		TakerUserID:  taker.UserID,
		Kind:         model.FillAMM,
		Side:         taker.Side,
		Outcome:      taker.Outcome,
		Quantity:     remaining,
		Price:        quote,
		Timestamp:    time.Now().UTC(),
	}

	applyFill(taker, remaining)
	st.market.TotalVolume = st.market.TotalVolume.Add(value)
	return fill
}

// applyFill advances an order's filled accumulator and status.
func applyFill(o *model.Order, qty decimal.Decimal) {
	o.Filled = o.Filled.Add(qty)
	if o.Filled.GreaterThanOrEqual(o.Quantity) {
		o.Status = model.OrderFilled
	} else {
		o.Status = model.OrderPartiallyFilled
	}
}

// persistMatch writes the submission's outcome: the taker, every touched
// maker, the fill records, and the market row. Caller holds st.mu.
func (e *Engine) persistMatch(ctx context.Context, st *marketState, taker *model.Order, makers []*model.Order, fills []*model.Fill) error {
	if err := e.store.SaveOrder(ctx, taker); err != nil {
		return fmt.Errorf("save order %s: %w", taker.ID, err)
	}
	for _, m := range makers {
		if err := e.store.SaveOrder(ctx, m); err != nil {
			return fmt.Errorf("save maker order %s: %w", m.ID, err)
		}
	}
	for _, f := range fills {
		if err := e.store.InsertFill(ctx, f); err != nil {
			return fmt.Errorf("record fill %s: %w", f.ID, err)
		}
	}
	if err := e.store.UpdateMarket(ctx, st.market); err != nil {
		return fmt.Errorf("update market %s: %w", st.market.ID, err)
	}
	return nil
}

// rollbackMatch undoes a matched-but-unpersisted submission. The market's
// reserves and volume, every touched maker, and the book return to their
// pre-match snapshot; order rows persistMatch may already have written are
// re-saved to their prior state best-effort, so a restart never resurrects
// a submission the caller saw fail. Caller holds st.mu.
func (e *Engine) rollbackMatch(ctx context.Context, st *marketState, snap *matchSnapshot, taker *model.Order, makers []*model.Order, rested bool) {
	*st.market = snap.market

	for i, m := range makers {
		prior := snap.makers[i]
		removed := m.Status == model.OrderFilled
		m.Filled = prior.Filled
		m.Status = prior.Status
		if removed {
			if err := st.book.Insert(m); err != nil {
				slog.Error("rollback could not reinsert maker",
					"order_id", m.ID, "market_id", st.market.ID, "err", err)
			}
		}
		if err := e.store.SaveOrder(ctx, m); err != nil {
			slog.Error("rollback could not restore maker row",
				"order_id", m.ID, "market_id", st.market.ID, "err", err)
		}
	}

	if rested {
		st.book.Remove(taker.ID)
	}

	taker.Filled = decimal.Zero
	taker.Status = model.OrderCancelled
	if err := e.store.SaveOrder(ctx, taker); err != nil {
		slog.Error("rollback could not void taker row",
			"order_id", taker.ID, "market_id", st.market.ID, "err", err)
	}
}

// buildResult aggregates fills into the caller-facing result.
func buildResult(order *model.Order, fills []*model.Fill) *OrderResult {
	res := &OrderResult{
		Order:        *order,
		FilledShares: order.Filled,
		AveragePrice: decimal.Zero,
		FillIDs:      make([]string, 0, len(fills)),
		Fills:        fills,
	}
	notional := decimal.Zero
	for _, f := range fills {
		res.FillIDs = append(res.FillIDs, f.ID)
		notional = notional.Add(f.Value())
	}
	if order.Filled.IsPositive() {
		res.AveragePrice = notional.DivRound(order.Filled, fixed.Scale)
	}
	return res
}

// notifyFills publishes fills to the balance ledger after the market lock is
// released. Failures are logged with identifiers, never swallowed silently.
func (e *Engine) notifyFills(ctx context.Context, fills []*model.Fill) {
	for _, f := range fills {
		if err := e.notifier.FillExecuted(ctx, f); err != nil {
			slog.Error("ledger notification failed",
				"fill_id", f.ID, "market_id", f.MarketID, "err", err)
		}
	}
}

// --- Cancellation ---

// CancelOrder cancels a resting order on behalf of its owner. Removal from
// the book and the status change are atomic under the market lock, so a
// cancel either fully wins or cleanly loses the race against a fill.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID string) (*model.Order, error) {
	persisted, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if persisted.UserID != userID {
		return nil, fmt.Errorf("%w: order %s is not owned by %s", model.ErrForbidden, orderID, userID)
	}

	st, err := e.state(ctx, persisted.MarketID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.market.Status.AcceptsCancels() {
		return nil, fmt.Errorf("%w: order %s", model.ErrAlreadyTerminal, orderID)
	}

	order, err := st.book.Remove(orderID)
	if err != nil {
		// Not resting: either it terminated already or it never existed here.
		if persisted.Status.Terminal() {
			return nil, fmt.Errorf("%w: order %s is %s", model.ErrAlreadyTerminal, orderID, persisted.Status)
		}
		return nil, err
	}

	order.Status = model.OrderCancelled
	order.CancelReason = model.CancelUserRequested
	if err := e.store.SaveOrder(ctx, order); err != nil {
		// Keep memory and store consistent: the book removal stands, the
		// status is recorded, only persistence lagged.
		slog.Error("persist cancel failed", "order_id", orderID, "err", err)
		return nil, fmt.Errorf("save order %s: %w", orderID, err)
	}

	metrics.OrdersCancelled.WithLabelValues(string(model.CancelUserRequested)).Inc()
	slog.Info("order cancelled", "order_id", orderID, "market_id", order.MarketID, "user", userID)

	cp := *order
	return &cp, nil
}

// --- Snapshots ---

// SideSnapshot is one outcome's aggregated book view.
type SideSnapshot struct {
	Bids []book.Level `json:"bids"`
	Asks []book.Level `json:"asks"`
}

// BookSnapshot is a consistent point-in-time view of a market's books and
// implied price, taken under the market's shared lock.
type BookSnapshot struct {
	MarketID   string          `json:"market_id"`
	Yes        SideSnapshot    `json:"yes"`
	No         SideSnapshot    `json:"no"`
	ImpliedYes decimal.Decimal `json:"implied_yes_price"`
	Timestamp  time.Time       `json:"timestamp"`
}

// OrderBook returns the aggregated depth snapshot for a market. depth <= 0
// returns every level.
func (e *Engine) OrderBook(ctx context.Context, marketID string, depth int) (*BookSnapshot, error) {
	st, err := e.state(ctx, marketID)
	if err != nil {
		return nil, err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	return &BookSnapshot{
		MarketID: marketID,
		Yes: SideSnapshot{
			Bids: st.book.Snapshot(model.OutcomeYes, model.SideBuy, depth),
			Asks: st.book.Snapshot(model.OutcomeYes, model.SideSell, depth),
		},
		No: SideSnapshot{
			Bids: st.book.Snapshot(model.OutcomeNo, model.SideBuy, depth),
			Asks: st.book.Snapshot(model.OutcomeNo, model.SideSell, depth),
		},
		ImpliedYes: st.market.ImpliedYesPrice(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// --- Lifecycle ---

// SetStatus applies an admin lifecycle transition (close, freeze, unfreeze).
// Resolution goes through Resolve, never through SetStatus.
func (e *Engine) SetStatus(ctx context.Context, marketID string, next model.MarketStatus) (*model.Market, error) {
	if next == model.MarketResolved {
		return nil, fmt.Errorf("%w: resolution requires an outcome", model.ErrInvalidTransition)
	}

	st, err := e.state(ctx, marketID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.market.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, st.market.Status, next)
	}
	st.market.Status = next
	if err := e.store.UpdateMarket(ctx, st.market); err != nil {
		return nil, fmt.Errorf("update market %s: %w", marketID, err)
	}

	slog.Info("market status changed", "market_id", marketID, "status", string(next))
	cp := *st.market
	return &cp, nil
}

// Resolve settles the market to the given outcome: winning shares become
// redeemable at one currency unit, every resting order is bulk-cancelled
// with reason market_resolved, and no fill can be created once resolution
// begins (same lock as submission). The lifecycle table carries a resolution
// edge from every live state, so an oracle report never waits on a close
// step.
func (e *Engine) Resolve(ctx context.Context, marketID string, outcome model.Outcome) (*model.Market, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: resolution outcome must be yes or no", model.ErrInvalidOrder)
	}

	st, err := e.state(ctx, marketID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()

	if !st.market.Status.CanTransition(model.MarketResolved) {
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: market %s is resolved", model.ErrAlreadyTerminal, marketID)
	}

	cancelled := st.book.Orders()
	for _, o := range cancelled {
		st.book.Remove(o.ID)
		o.Status = model.OrderCancelled
		o.CancelReason = model.CancelMarketResolved
		if err := e.store.SaveOrder(ctx, o); err != nil {
			st.mu.Unlock()
			return nil, fmt.Errorf("cancel order %s at resolution: %w", o.ID, err)
		}
		metrics.OrdersCancelled.WithLabelValues(string(model.CancelMarketResolved)).Inc()
	}

	st.market.Status = model.MarketResolved
	st.market.Resolution = &outcome
	if err := e.store.UpdateMarket(ctx, st.market); err != nil {
		st.mu.Unlock()
		return nil, fmt.Errorf("update market %s: %w", marketID, err)
	}

	fills, err := e.store.ListAllFillsByMarket(ctx, marketID)
	if err != nil {
		st.mu.Unlock()
		return nil, fmt.Errorf("list fills for market %s: %w", marketID, err)
	}

	cp := *st.market
	st.mu.Unlock()

	redemptions := computeRedemptions(fills, outcome)

	metrics.ActiveMarkets.Dec()
	slog.Info("market resolved",
		"market_id", marketID,
		"resolution", string(outcome),
		"orders_cancelled", len(cancelled),
		"redemptions", len(redemptions),
	)

	resolution := &ledger.Resolution{Market: cp, Redemptions: redemptions}
	if err := e.notifier.MarketResolved(ctx, resolution); err != nil {
		slog.Error("ledger resolution notification failed", "market_id", marketID, "err", err)
	}
	return &cp, nil
}
