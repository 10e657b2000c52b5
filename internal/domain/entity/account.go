package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a point-in-time view of the simulated account
type Account struct {
	AvailableBalance decimal.Decimal
	RealizedPnL      decimal.Decimal
	TotalFees        decimal.Decimal

	// Derived on read, never stored
	MarginUsed    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Equity        decimal.Decimal

	UpdatedAt time.Time
}
