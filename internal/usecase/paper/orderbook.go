package paper

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
)

// OrderBook holds the simulated stop orders. Ids increase monotonically for
// the lifetime of the book. Not safe for concurrent use.
type OrderBook struct {
	lastID  int64
	orders  map[int64]*entity.Order
	pending map[string][]int64 // per symbol, ascending ids
}

// NewOrderBook creates an empty book
func NewOrderBook() *OrderBook {
	return &OrderBook{
		orders:  make(map[int64]*entity.Order),
		pending: make(map[string][]int64),
	}
}

// Place rests a reduce-only stop order and returns a copy of it
func (b *OrderBook) Place(symbol string, side entity.Side, trigger, qty decimal.Decimal, at time.Time) entity.Order {
	b.lastID++
	o := &entity.Order{
		ID:           b.lastID,
		Symbol:       symbol,
		Side:         side,
		Type:         entity.OrderTypeStop,
		TriggerPrice: trigger,
		Quantity:     qty,
		ReduceOnly:   true,
		Status:       entity.OrderStatusPending,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	b.orders[o.ID] = o
	b.pending[symbol] = append(b.pending[symbol], o.ID)
	return *o
}

// Cancel marks a pending order canceled. It reports false, without error,
// for orders that are unknown, filled or already canceled.
func (b *OrderBook) Cancel(id int64, at time.Time) (entity.Order, bool) {
	o, ok := b.orders[id]
	if !ok || !o.IsPending() {
		return entity.Order{}, false
	}
	b.transition(o, entity.OrderStatusCanceled, at)
	return *o, true
}

// CancelSymbol cancels every pending order on symbol
func (b *OrderBook) CancelSymbol(symbol string, at time.Time) []entity.Order {
	ids := b.pending[symbol]
	if len(ids) == 0 {
		return nil
	}
	out := make([]entity.Order, 0, len(ids))
	for _, id := range append([]int64(nil), ids...) {
		o := b.orders[id]
		b.transition(o, entity.OrderStatusCanceled, at)
		out = append(out, *o)
	}
	return out
}

// Evaluate checks the pending orders on symbol against price in id order.
// An order whose position is gone is canceled before its trigger is
// looked at. A triggered order is marked filled before fire runs, so it
// can never fire twice.
func (b *OrderBook) Evaluate(symbol string, price decimal.Decimal, at time.Time, hasPosition func(string) bool, fire func(entity.Order)) (orphans []entity.Order) {
	for _, id := range append([]int64(nil), b.pending[symbol]...) {
		o := b.orders[id]
		if !o.IsPending() {
			continue
		}
		if !hasPosition(symbol) {
			b.transition(o, entity.OrderStatusCanceled, at)
			orphans = append(orphans, *o)
			continue
		}
		if !o.Triggered(price) {
			continue
		}
		b.transition(o, entity.OrderStatusFilled, at)
		fire(*o)
	}
	return orphans
}

// Get looks up an order by id
func (b *OrderBook) Get(id int64) (entity.Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return entity.Order{}, errors.Wrapf(ErrUnknownOrder, "order %d", id)
	}
	return *o, nil
}

// Pending returns the pending orders on symbol, or on every symbol when
// symbol is empty, ordered by id
func (b *OrderBook) Pending(symbol string) []entity.Order {
	var out []entity.Order
	for id := int64(1); id <= b.lastID; id++ {
		o, ok := b.orders[id]
		if !ok || !o.IsPending() {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// All returns every order ever placed, ordered by id
func (b *OrderBook) All() []entity.Order {
	out := make([]entity.Order, 0, len(b.orders))
	for id := int64(1); id <= b.lastID; id++ {
		if o, ok := b.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

func (b *OrderBook) transition(o *entity.Order, status entity.OrderStatus, at time.Time) {
	o.Status = status
	o.UpdatedAt = at

	ids := b.pending[o.Symbol]
	for i, id := range ids {
		if id == o.ID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(b.pending, o.Symbol)
	} else {
		b.pending[o.Symbol] = ids
	}
}
