package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents an open leveraged position on one symbol
type Position struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	Margin     decimal.Decimal
	Leverage   decimal.Decimal
	OpenedAt   time.Time
	UpdatedAt  time.Time

	// Valuation fields, filled in on snapshots only
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// IsLong returns true if position is long
func (p *Position) IsLong() bool {
	return p.Side == SideBuy
}

// IsShort returns true if position is short
func (p *Position) IsShort() bool {
	return p.Side == SideSell
}

// Notional returns the position value at entry
func (p *Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.EntryPrice)
}

// PnLAt returns the linear PnL of qty units of the position closed at price
func (p *Position) PnLAt(price, qty decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.IsShort() {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}
