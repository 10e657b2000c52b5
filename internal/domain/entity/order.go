package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents order side (buy or sell)
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side that reduces a position held on s
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is a known side
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType represents order type
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeStop   OrderType = "stop"
)

// OrderStatus represents order status
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order is a resting conditional order. Market orders settle synchronously
// and are never stored.
type Order struct {
	ID           int64
	Symbol       string
	Side         Side
	Type         OrderType
	TriggerPrice decimal.Decimal
	Quantity     decimal.Decimal
	ReduceOnly   bool
	Status       OrderStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsPending returns true if the order can still trigger
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

// IsFilled returns true if order is completely filled
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// Triggered reports whether price satisfies the stop predicate.
// Sell stops protect longs and fire at or below the trigger; buy stops
// protect shorts and fire at or above it.
func (o *Order) Triggered(price decimal.Decimal) bool {
	if o.Side == SideSell {
		return price.LessThanOrEqual(o.TriggerPrice)
	}
	return price.GreaterThanOrEqual(o.TriggerPrice)
}
