package paper

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
)

// Epsilon is the residual quantity, in base units, at or below which a
// position counts as fully closed. Every quantity-zero check uses it.
var Epsilon = decimal.New(1, -8)

// OpenResult describes a successful open
type OpenResult struct {
	Margin    decimal.Decimal
	Increased bool // an existing position was extended
}

// CloseResult describes a successful reduce
type CloseResult struct {
	Position       entity.Position // state before the close
	Quantity       decimal.Decimal
	ReleasedMargin decimal.Decimal
	RealizedPnL    decimal.Decimal
	Closed         bool
}

// Ledger owns the account balance and the open positions, at most one per
// symbol. Not safe for concurrent use.
type Ledger struct {
	available decimal.Decimal
	realized  decimal.Decimal
	fees      decimal.Decimal
	positions map[string]*entity.Position
}

// NewLedger creates a ledger funded with initialBalance
func NewLedger(initialBalance decimal.Decimal) *Ledger {
	return &Ledger{
		available: initialBalance,
		positions: make(map[string]*entity.Position),
	}
}

// Open reserves margin for a new position, or extends a same-side one.
// The balance check happens before anything is mutated.
func (l *Ledger) Open(symbol string, side entity.Side, qty, price, leverage, fee decimal.Decimal, at time.Time) (OpenResult, error) {
	if !qty.IsPositive() || !price.IsPositive() || !leverage.IsPositive() || fee.IsNegative() {
		return OpenResult{}, errors.Wrapf(ErrInvalidOrder, "open %s: qty=%s price=%s leverage=%s fee=%s", symbol, qty, price, leverage, fee)
	}

	pos, exists := l.positions[symbol]
	if exists && pos.Side != side {
		return OpenResult{}, &PositionMismatchError{Symbol: symbol, Held: pos.Side, Incoming: side}
	}

	margin := price.Mul(qty).Div(leverage)
	required := margin.Add(fee)
	if l.available.LessThan(required) {
		return OpenResult{}, &InsufficientBalanceError{Required: required, Available: l.available}
	}

	l.available = l.available.Sub(required)
	l.fees = l.fees.Add(fee)

	if exists {
		newQty := pos.Quantity.Add(qty)
		pos.EntryPrice = pos.Notional().Add(price.Mul(qty)).Div(newQty)
		pos.Quantity = newQty
		pos.Margin = pos.Margin.Add(margin)
		pos.Leverage = pos.Notional().Div(pos.Margin)
		pos.UpdatedAt = at
	} else {
		l.positions[symbol] = &entity.Position{
			Symbol:     symbol,
			Side:       side,
			Quantity:   qty,
			EntryPrice: price,
			Margin:     margin,
			Leverage:   leverage,
			OpenedAt:   at,
			UpdatedAt:  at,
		}
	}

	l.checkInvariant()
	return OpenResult{Margin: margin, Increased: exists}, nil
}

// Close reduces the position on symbol by qty using a fill on closingSide,
// which must be opposite to the held side. qty is clamped to the held size.
func (l *Ledger) Close(symbol string, closingSide entity.Side, qty, price, fee decimal.Decimal, at time.Time) (CloseResult, error) {
	pos, ok := l.positions[symbol]
	if !ok {
		return CloseResult{}, errors.Wrapf(ErrNoPosition, "close %s", symbol)
	}
	if closingSide != pos.Side.Opposite() {
		return CloseResult{}, &PositionMismatchError{Symbol: symbol, Held: pos.Side, Incoming: closingSide}
	}
	if !qty.IsPositive() || !price.IsPositive() || fee.IsNegative() {
		return CloseResult{}, errors.Wrapf(ErrInvalidOrder, "close %s: qty=%s price=%s fee=%s", symbol, qty, price, fee)
	}

	before := *pos
	if qty.GreaterThan(pos.Quantity) {
		qty = pos.Quantity
	}

	residual := pos.Quantity.Sub(qty)
	closed := residual.LessThanOrEqual(Epsilon)

	released := pos.Margin
	if closed {
		// dust leaves with the rest
		qty = pos.Quantity
	} else {
		released = pos.Margin.Mul(qty).Div(pos.Quantity)
	}
	pnl := pos.PnLAt(price, qty)

	// No liquidation engine: a loss larger than the remaining collateral is
	// absorbed and the balance floors at zero.
	next := l.available.Add(released).Add(pnl).Sub(fee)
	if next.IsNegative() {
		pnl = pnl.Sub(next)
		next = decimal.Zero
	}

	l.available = next
	l.realized = l.realized.Add(pnl)
	l.fees = l.fees.Add(fee)

	if closed {
		delete(l.positions, symbol)
	} else {
		pos.Quantity = residual
		pos.Margin = pos.Margin.Sub(released)
		pos.UpdatedAt = at
	}

	l.checkInvariant()
	return CloseResult{
		Position:       before,
		Quantity:       qty,
		ReleasedMargin: released,
		RealizedPnL:    pnl,
		Closed:         closed,
	}, nil
}

// checkInvariant panics when a guarded mutation still produced a negative
// balance. That can only be a bug in this file.
func (l *Ledger) checkInvariant() {
	if l.available.IsNegative() {
		panic(fmt.Sprintf("paper: available balance negative after guarded mutation: %s", l.available))
	}
}

// HasPosition reports whether symbol has an open position
func (l *Ledger) HasPosition(symbol string) bool {
	_, ok := l.positions[symbol]
	return ok
}

// Position returns a copy of the position on symbol
func (l *Ledger) Position(symbol string) (entity.Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return entity.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions ordered by symbol
func (l *Ledger) Positions() []entity.Position {
	out := make([]entity.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Available returns the free collateral
func (l *Ledger) Available() decimal.Decimal { return l.available }

// RealizedPnL returns cumulative realized PnL
func (l *Ledger) RealizedPnL() decimal.Decimal { return l.realized }

// TotalFees returns cumulative fees paid
func (l *Ledger) TotalFees() decimal.Decimal { return l.fees }

// MarginUsed returns the collateral reserved across positions
func (l *Ledger) MarginUsed() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range l.positions {
		sum = sum.Add(p.Margin)
	}
	return sum
}

// UnrealizedPnL sums the linear PnL of every position at the given prices.
// Positions without a price contribute nothing.
func (l *Ledger) UnrealizedPnL(prices map[string]decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for s, p := range l.positions {
		price, ok := prices[s]
		if !ok {
			continue
		}
		sum = sum.Add(p.PnLAt(price, p.Quantity))
	}
	return sum
}
