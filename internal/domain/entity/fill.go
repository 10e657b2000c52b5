package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// FillStatus is the outcome of a settling operation
type FillStatus string

const (
	FillStatusFilled   FillStatus = "filled"
	FillStatusRejected FillStatus = "rejected"
	FillStatusNoop     FillStatus = "noop"
)

// FillReason explains how a report came to be
type FillReason string

const (
	ReasonOpen                FillReason = "open"
	ReasonIncrease            FillReason = "increase"
	ReasonClose               FillReason = "close"
	ReasonStopTriggered       FillReason = "stop_triggered"
	ReasonInsufficientBalance FillReason = "insufficient_balance"
	ReasonNoPosition          FillReason = "no_position"
	ReasonRiskHalted          FillReason = "risk_halted"
)

// FillReport is returned from every settling operation. It is a value;
// the engine keeps no reference to it.
type FillReport struct {
	OrderID     int64 // zero for market orders
	Symbol      string
	Side        Side
	Status      FillStatus
	Reason      FillReason
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Fee         decimal.Decimal
	Margin      decimal.Decimal // reserved on opens, released on closes
	RealizedPnL decimal.Decimal
	Shortfall   decimal.Decimal // set on rejections
	Closed      bool            // position fully closed
	Timestamp   time.Time
}

// IsFilled returns true if the report settled against the account
func (f FillReport) IsFilled() bool {
	return f.Status == FillStatusFilled
}

// StopClose describes one stop-triggered close, for trade history sinks
type StopClose struct {
	OrderID      int64
	Symbol       string
	Side         Side // side of the position that was closed
	EntryPrice   decimal.Decimal
	TriggerPrice decimal.Decimal
	FillPrice    decimal.Decimal
	Quantity     decimal.Decimal
	Fee          decimal.Decimal
	RealizedPnL  decimal.Decimal
	Closed       bool
	OpenedAt     time.Time
	TriggeredAt  time.Time
}

// Duration returns how long the position was held before the stop fired
func (s StopClose) Duration() time.Duration {
	return s.TriggeredAt.Sub(s.OpenedAt)
}

// IsWin returns true if the close realized a positive PnL
func (s StopClose) IsWin() bool {
	return s.RealizedPnL.IsPositive()
}
