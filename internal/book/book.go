// Package book maintains the resting limit orders of a single market in
// price-time priority: per outcome, bids sorted by descending price and asks
// by ascending price, FIFO within a price level.
//
// A Book is a pure in-memory structure with no locking of its own; the
// matching engine serializes all access under the owning market's lock.
package book

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/palpite/clob-engine/internal/fixed"
	"github.com/palpite/clob-engine/internal/model"
)

// Level is one aggregated price level of an order-book snapshot.
type Level struct {
	Price       decimal.Decimal `json:"price"`
	TotalShares decimal.Decimal `json:"total_shares"`
	NumOrders   int             `json:"num_orders"`
}

type queueKey struct {
	outcome model.Outcome
	side    model.Side
}

// Book holds the four resting queues of one market (bids and asks for each
// outcome), each kept sorted best-first.
type Book struct {
	queues map[queueKey][]*model.Order
	byID   map[string]*model.Order
}

// New creates an empty book.
func New() *Book {
	return &Book{
		queues: make(map[queueKey][]*model.Order),
		byID:   make(map[string]*model.Order),
	}
}

// Insert adds a resting order. The order must already carry its sequence
// number; price-time priority is (price, seq).
func (b *Book) Insert(o *model.Order) error {
	if !o.Side.Valid() || !o.Outcome.Valid() {
		return fmt.Errorf("%w: side %q outcome %q", model.ErrInvalidOrder, o.Side, o.Outcome)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", model.ErrInvalidOrder, o.Quantity)
	}
	if !fixed.ValidPrice(o.Price) {
		return fmt.Errorf("%w: price must be in (0,1), got %s", model.ErrInvalidOrder, o.Price)
	}
	if _, exists := b.byID[o.ID]; exists {
		return fmt.Errorf("%w: duplicate order id %s", model.ErrInvalidOrder, o.ID)
	}

	k := queueKey{o.Outcome, o.Side}
	q := b.queues[k]
	i := sort.Search(len(q), func(i int) bool {
		return ranksAfter(q[i], o)
	})
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = o
	b.queues[k] = q
	b.byID[o.ID] = o
	return nil
}

// ranksAfter reports whether resting order a has strictly worse priority
// than o: a worse price, or the same price with a later sequence number.
func ranksAfter(a, o *model.Order) bool {
	cmp := a.Price.Cmp(o.Price)
	if cmp != 0 {
		if o.Side == model.SideBuy {
			return cmp < 0 // bids: highest price first
		}
		return cmp > 0 // asks: lowest price first
	}
	return a.Seq > o.Seq
}

// Best returns the top-of-book resting order for (outcome, side), or nil if
// the queue is empty.
func (b *Book) Best(outcome model.Outcome, side model.Side) *model.Order {
	q := b.queues[queueKey{outcome, side}]
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// BestBid returns the highest-priced resting buy for the outcome, or nil.
func (b *Book) BestBid(outcome model.Outcome) *model.Order {
	return b.Best(outcome, model.SideBuy)
}

// BestAsk returns the lowest-priced resting sell for the outcome, or nil.
func (b *Book) BestAsk(outcome model.Outcome) *model.Order {
	return b.Best(outcome, model.SideSell)
}

// Remove takes an order out of the book and returns it. Used both for
// cancellation and for clearing fully filled orders.
func (b *Book) Remove(orderID string) (*model.Order, error) {
	o, ok := b.byID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrOrderNotFound, orderID)
	}
	delete(b.byID, orderID)

	k := queueKey{o.Outcome, o.Side}
	q := b.queues[k]
	for i, resting := range q {
		if resting.ID == orderID {
			b.queues[k] = append(q[:i], q[i+1:]...)
			break
		}
	}
	return o, nil
}

// Contains reports whether the order currently rests in the book.
func (b *Book) Contains(orderID string) bool {
	_, ok := b.byID[orderID]
	return ok
}

// Snapshot aggregates one side of the book into price levels ordered
// best-to-worst, using remaining (unfilled) quantity. depth <= 0 returns all
// levels. Only open and partially filled orders contribute.
func (b *Book) Snapshot(outcome model.Outcome, side model.Side, depth int) []Level {
	q := b.queues[queueKey{outcome, side}]
	levels := make([]Level, 0, len(q))
	for _, o := range q {
		if o.Status != model.OrderOpen && o.Status != model.OrderPartiallyFilled {
			continue
		}
		rem := o.Remaining()
		if !rem.IsPositive() {
			continue
		}
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(o.Price) {
			levels[n-1].TotalShares = levels[n-1].TotalShares.Add(rem)
			levels[n-1].NumOrders++
			continue
		}
		if depth > 0 && len(levels) == depth {
			break
		}
		levels = append(levels, Level{Price: o.Price, TotalShares: rem, NumOrders: 1})
	}
	return levels
}

// Orders returns every resting order, in no particular priority. Used for
// bulk cancellation at resolution.
func (b *Book) Orders() []*model.Order {
	orders := make([]*model.Order, 0, len(b.byID))
	for _, o := range b.byID {
		orders = append(orders, o)
	}
	return orders
}

// Len returns the number of resting orders across all queues.
func (b *Book) Len() int { return len(b.byID) }
