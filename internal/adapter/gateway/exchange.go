package gateway

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
)

// MarketDataSource defines the read-only half of an exchange client.
// The dry-run engine forwards these calls to the real venue untouched.
type MarketDataSource interface {
	// GetAllMids retrieves mid prices for every listed asset
	GetAllMids(ctx context.Context) (map[string]decimal.Decimal, error)

	// GetTicker retrieves current ticker
	GetTicker(ctx context.Context, symbol string) (*entity.Ticker, error)

	// GetOrderBook retrieves order book
	GetOrderBook(ctx context.Context, symbol string, depth int) (*entity.OrderBook, error)
}

// MarketOrderRequest is an order intent that settles immediately
type MarketOrderRequest struct {
	Symbol     string
	Side       entity.Side
	Quantity   decimal.Decimal
	Notional   decimal.Decimal // used to size the order when Quantity is zero
	ReduceOnly bool

	// Per-call overrides; unset values fall back to venue defaults
	Leverage     decimal.NullDecimal
	FeeRate      decimal.NullDecimal
	SlippageRate decimal.NullDecimal
}

// StopOrderRequest is a reduce-only stop protecting an open position
type StopOrderRequest struct {
	Symbol       string
	Side         entity.Side
	TriggerPrice decimal.Decimal
	Quantity     decimal.Decimal // zero means the whole position
}

// OrderSink defines the order-execution half of an exchange client
type OrderSink interface {
	// SubmitMarketOrder settles a market order and reports the fill
	SubmitMarketOrder(ctx context.Context, req MarketOrderRequest) (entity.FillReport, error)

	// SubmitStopOrder rests a stop order and returns its id
	SubmitStopOrder(ctx context.Context, req StopOrderRequest) (int64, error)

	// CancelOrder cancels an order
	CancelOrder(ctx context.Context, orderID int64) error

	// CancelAllOrders cancels all orders for a symbol
	CancelAllOrders(ctx context.Context, symbol string) error

	// SetLeverage sets the default leverage for later orders on a symbol
	SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error

	// GetOrder retrieves order by ID
	GetOrder(ctx context.Context, orderID int64) (*entity.Order, error)

	// GetOpenOrders retrieves pending orders for a symbol, all symbols if empty
	GetOpenOrders(ctx context.Context, symbol string) ([]*entity.Order, error)

	// GetPosition retrieves current position, nil if flat
	GetPosition(ctx context.Context, symbol string) (*entity.Position, error)

	// GetAccount retrieves the account snapshot
	GetAccount(ctx context.Context) (*entity.Account, error)
}
