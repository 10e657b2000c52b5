package paper

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
)

var (
	// ErrPriceUnavailable is returned when no mark price is cached for a
	// symbol. Retry after a fresh tick or a real quote fetch.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrNoPosition is returned when an operation needs an open position
	ErrNoPosition = errors.New("no open position")

	// ErrUnknownOrder is returned by order lookups for ids never issued
	ErrUnknownOrder = errors.New("unknown order")

	// ErrInvalidOrder is returned for malformed order intents
	ErrInvalidOrder = errors.New("invalid order")
)

// InsufficientBalanceError rejects an open that would drive the available
// balance negative
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %s, have %s", e.Required, e.Available)
}

// Shortfall returns how much collateral was missing
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

// PositionMismatchError means an order's side is inconsistent with the held
// position. It indicates a caller bug and should not be retried.
type PositionMismatchError struct {
	Symbol   string
	Held     entity.Side
	Incoming entity.Side
}

func (e *PositionMismatchError) Error() string {
	return fmt.Sprintf("position mismatch on %s: holding %s, got %s order", e.Symbol, e.Held, e.Incoming)
}
