// Package paper simulates a leveraged perpetuals venue. Market data calls
// pass through to a real source; orders settle against a local account.
package paper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/zono819/hyperliquid-dryrun/internal/adapter/gateway"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/logger"
)

var (
	_ gateway.OrderSink        = (*Engine)(nil)
	_ gateway.MarketDataSource = (*Engine)(nil)
)

var one = decimal.NewFromInt(1)

// Observer is notified of every settlement and order state change.
// Calls are made while the engine lock is held and must not block.
type Observer interface {
	ObserveFill(report entity.FillReport)
	ObserveOrder(order entity.Order)
	ObserveAccount(account entity.Account)
}

// Deps are the collaborators injected into an Engine. Only Source is
// needed for passthrough calls; the rest are optional.
type Deps struct {
	Source   gateway.MarketDataSource
	Recorder gateway.TradeRecorder
	Gate     gateway.EntryGate // consulted before opens and increases
	Observer Observer
	Logger   *logger.Logger
	Clock    func() time.Time
}

// Engine is the dry-run venue. Every mutation and every snapshot goes
// through one mutex, so concurrent readers never see a half-applied fill.
type Engine struct {
	cfg      Config
	source   gateway.MarketDataSource
	recorder gateway.TradeRecorder
	gate     gateway.EntryGate
	observer Observer
	log      *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	prices   *PriceCache
	ledger   *Ledger
	book     *OrderBook
	leverage map[string]decimal.Decimal // per-symbol overrides of cfg.Leverage
}

// NewEngine creates a dry-run engine funded with cfg.InitialBalance
func NewEngine(cfg *Config, deps Deps) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	c := *cfg
	if !c.Leverage.IsPositive() {
		c.Leverage = one
	}

	return &Engine{
		cfg:      c,
		source:   deps.Source,
		recorder: deps.Recorder,
		gate:     deps.Gate,
		observer: deps.Observer,
		log:      deps.Logger.WithField("component", "paper"),
		now:      deps.Clock,
		prices:   NewPriceCache(),
		ledger:   NewLedger(c.InitialBalance),
		book:     NewOrderBook(),
		leverage: make(map[string]decimal.Decimal),
	}
}

// SetLeverage sets the leverage used by later opens on symbol when the
// order itself carries none. Existing positions keep their margin.
func (e *Engine) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	if symbol == "" || !leverage.IsPositive() {
		return errors.Wrapf(ErrInvalidOrder, "leverage %s on %q", leverage, symbol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage[symbol] = leverage
	e.log.Info("Leverage on %s set to %sx", symbol, leverage)
	return nil
}

// SubmitMarketOrder settles a market order at the cached mark price moved
// by slippage. Insufficient balance and closing a flat symbol are reported
// in the FillReport; price misses and side mismatches are errors.
func (e *Engine) SubmitMarketOrder(ctx context.Context, req gateway.MarketOrderRequest) (entity.FillReport, error) {
	if req.Symbol == "" || !req.Side.Valid() {
		return entity.FillReport{}, errors.Wrapf(ErrInvalidOrder, "symbol=%q side=%q", req.Symbol, req.Side)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mark, err := e.prices.Get(req.Symbol)
	if err != nil {
		return entity.FillReport{}, err
	}

	qty := req.Quantity
	if qty.IsZero() && req.Notional.IsPositive() {
		qty = req.Notional.Div(mark)
	}
	if !qty.IsPositive() {
		return entity.FillReport{}, errors.Wrapf(ErrInvalidOrder, "quantity must be positive: %s", qty)
	}

	leverage := e.cfg.Leverage
	if lev, ok := e.leverage[req.Symbol]; ok {
		leverage = lev
	}
	leverage = orDefault(req.Leverage, leverage)
	if !leverage.IsPositive() {
		return entity.FillReport{}, errors.Wrapf(ErrInvalidOrder, "leverage must be positive: %s", leverage)
	}
	feeRate := orDefault(req.FeeRate, e.cfg.FeeRate)
	slippage := orDefault(req.SlippageRate, e.cfg.SlippageRate)
	now := e.now()

	if req.ReduceOnly {
		report, _, err := e.reduceLocked(req.Symbol, req.Side, qty, mark, slippage, feeRate, entity.ReasonClose, 0, now)
		return report, err
	}
	return e.openLocked(req.Symbol, req.Side, qty, mark, leverage, slippage, feeRate, now)
}

func (e *Engine) openLocked(symbol string, side entity.Side, qty, mark, leverage, slippage, feeRate decimal.Decimal, now time.Time) (entity.FillReport, error) {
	price := executionPrice(mark, side, slippage)
	fee := price.Mul(qty).Mul(feeRate)

	report := entity.FillReport{
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Timestamp: now,
	}

	if e.gate != nil {
		if ok, why := e.gate.AllowEntry(); !ok {
			report.Status = entity.FillStatusRejected
			report.Reason = entity.ReasonRiskHalted
			e.log.Warn("Rejected %s %s %s: %s", side, qty, symbol, why)
			e.observeFill(report)
			return report, nil
		}
	}

	res, err := e.ledger.Open(symbol, side, qty, price, leverage, fee, now)
	if err != nil {
		var insufficient *InsufficientBalanceError
		if errors.As(err, &insufficient) {
			report.Status = entity.FillStatusRejected
			report.Reason = entity.ReasonInsufficientBalance
			report.Shortfall = insufficient.Shortfall()
			e.log.Warn("Rejected %s %s %s: %v", side, qty, symbol, err)
			e.observeFill(report)
			return report, nil
		}
		var mismatch *PositionMismatchError
		if errors.As(err, &mismatch) {
			e.log.Error("Open rejected, %v", err)
		}
		return entity.FillReport{}, err
	}

	report.Status = entity.FillStatusFilled
	report.Reason = entity.ReasonOpen
	if res.Increased {
		report.Reason = entity.ReasonIncrease
	}
	report.Fee = fee
	report.Margin = res.Margin

	e.log.Info("Opened %s %s %s @ %s (margin=%s, fee=%s)", side, qty, symbol, price, res.Margin, fee)
	e.observeFill(report)
	return report, nil
}

// reduceLocked settles a reduce-only fill. A flat symbol yields a noop
// report rather than an error.
func (e *Engine) reduceLocked(symbol string, side entity.Side, qty, mark, slippage, feeRate decimal.Decimal, reason entity.FillReason, orderID int64, now time.Time) (entity.FillReport, CloseResult, error) {
	pos, ok := e.ledger.Position(symbol)
	if !ok {
		report := entity.FillReport{
			OrderID:   orderID,
			Symbol:    symbol,
			Side:      side,
			Status:    entity.FillStatusNoop,
			Reason:    entity.ReasonNoPosition,
			Quantity:  decimal.Zero,
			Timestamp: now,
		}
		e.log.Debug("Close %s ignored, no open position", symbol)
		return report, CloseResult{}, nil
	}
	if side != pos.Side.Opposite() {
		err := &PositionMismatchError{Symbol: symbol, Held: pos.Side, Incoming: side}
		e.log.Error("Close rejected, %v", err)
		return entity.FillReport{}, CloseResult{}, err
	}
	if qty.GreaterThan(pos.Quantity) {
		qty = pos.Quantity
	}

	price := executionPrice(mark, side, slippage)
	fee := price.Mul(qty).Mul(feeRate)

	res, err := e.ledger.Close(symbol, side, qty, price, fee, now)
	if err != nil {
		return entity.FillReport{}, CloseResult{}, err
	}

	report := entity.FillReport{
		OrderID:     orderID,
		Symbol:      symbol,
		Side:        side,
		Status:      entity.FillStatusFilled,
		Reason:      reason,
		Price:       price,
		Quantity:    res.Quantity,
		Fee:         fee,
		Margin:      res.ReleasedMargin,
		RealizedPnL: res.RealizedPnL,
		Closed:      res.Closed,
		Timestamp:   now,
	}

	e.log.Info("Closed %s %s %s @ %s (pnl=%s, fee=%s, full=%v, reason=%s)",
		side, res.Quantity, symbol, price, res.RealizedPnL, fee, res.Closed, reason)

	if res.Closed {
		for _, o := range e.book.CancelSymbol(symbol, now) {
			e.log.Info("Canceled orphaned stop %d on %s", o.ID, symbol)
			e.observeOrder(o)
		}
	}
	e.observeFill(report)
	return report, res, nil
}

// SubmitStopOrder rests a reduce-only stop against the open position.
// No margin is reserved; the position already holds it.
func (e *Engine) SubmitStopOrder(ctx context.Context, req gateway.StopOrderRequest) (int64, error) {
	if req.Symbol == "" || !req.Side.Valid() || !req.TriggerPrice.IsPositive() || req.Quantity.IsNegative() {
		return 0, errors.Wrapf(ErrInvalidOrder, "stop symbol=%q side=%q trigger=%s qty=%s",
			req.Symbol, req.Side, req.TriggerPrice, req.Quantity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.ledger.Position(req.Symbol)
	if !ok {
		return 0, errors.Wrapf(ErrNoPosition, "stop on %s", req.Symbol)
	}
	if req.Side != pos.Side.Opposite() {
		return 0, &PositionMismatchError{Symbol: req.Symbol, Held: pos.Side, Incoming: req.Side}
	}

	qty := req.Quantity
	if qty.IsZero() {
		qty = pos.Quantity
	}

	o := e.book.Place(req.Symbol, req.Side, req.TriggerPrice, qty, e.now())
	e.log.Info("Placed stop %d: %s %s %s trigger %s", o.ID, o.Side, o.Quantity, o.Symbol, o.TriggerPrice)
	e.observeOrder(o)
	return o.ID, nil
}

// CancelOrder cancels a pending stop. Unknown, filled and already canceled
// ids are accepted silently so the call can be repeated.
func (e *Engine) CancelOrder(ctx context.Context, orderID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, changed := e.book.Cancel(orderID, e.now())
	if changed {
		e.log.Info("Canceled stop %d on %s", o.ID, o.Symbol)
		e.observeOrder(o)
	}
	return nil
}

// CancelAllOrders cancels every pending stop on symbol
func (e *Engine) CancelAllOrders(ctx context.Context, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, o := range e.book.CancelSymbol(symbol, e.now()) {
		e.log.Info("Canceled stop %d on %s", o.ID, o.Symbol)
		e.observeOrder(o)
	}
	return nil
}

// Sync applies ticks in the given order. For each tick the price cache is
// updated first and the stops on that symbol are evaluated against that
// same price. This is the only way a stop can fire. Recorders are called
// after the lock is released, so they may query the engine.
func (e *Engine) Sync(ctx context.Context, ticks []entity.Tick) []entity.FillReport {
	reports, closes := e.syncLocked(ticks)

	if e.recorder != nil {
		for _, sc := range closes {
			if err := e.recorder.RecordStopClose(ctx, sc); err != nil {
				e.log.Error("Failed to record stop close %d on %s: %v", sc.OrderID, sc.Symbol, err)
			}
		}
	}
	return reports
}

func (e *Engine) syncLocked(ticks []entity.Tick) ([]entity.FillReport, []entity.StopClose) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		reports []entity.FillReport
		closes  []entity.StopClose
	)

	for _, tick := range ticks {
		if tick.Symbol == "" || !tick.Price.IsPositive() {
			e.log.Warn("Skipping invalid tick %q @ %s", tick.Symbol, tick.Price)
			continue
		}
		at := tick.Time
		if at.IsZero() {
			at = e.now()
		}
		e.prices.Set(tick.Symbol, tick.Price)

		fire := func(o entity.Order) {
			e.observeOrder(o)
			report, res, err := e.reduceLocked(o.Symbol, o.Side, o.Quantity, tick.Price,
				e.cfg.SlippageRate, e.cfg.FeeRate, entity.ReasonStopTriggered, o.ID, at)
			if err != nil {
				e.log.Error("Stop %d on %s failed to settle: %v", o.ID, o.Symbol, err)
				return
			}
			reports = append(reports, report)
			if !report.IsFilled() {
				return
			}
			e.log.Info("Stop %d triggered on %s at %s (trigger %s)", o.ID, o.Symbol, tick.Price, o.TriggerPrice)
			closes = append(closes, entity.StopClose{
				OrderID:      o.ID,
				Symbol:       o.Symbol,
				Side:         res.Position.Side,
				EntryPrice:   res.Position.EntryPrice,
				TriggerPrice: o.TriggerPrice,
				FillPrice:    report.Price,
				Quantity:     report.Quantity,
				Fee:          report.Fee,
				RealizedPnL:  report.RealizedPnL,
				Closed:       report.Closed,
				OpenedAt:     res.Position.OpenedAt,
				TriggeredAt:  at,
			})
		}

		orphans := e.book.Evaluate(tick.Symbol, tick.Price, at, e.ledger.HasPosition, fire)
		for _, o := range orphans {
			e.log.Info("Canceled orphaned stop %d on %s", o.ID, o.Symbol)
			e.observeOrder(o)
		}
	}

	if e.observer != nil {
		e.observer.ObserveAccount(e.accountLocked())
	}
	return reports, closes
}

// GetOrder retrieves order by ID
func (e *Engine) GetOrder(ctx context.Context, orderID int64) (*entity.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.book.Get(orderID)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOpenOrders retrieves pending stops on symbol, all symbols if empty
func (e *Engine) GetOpenOrders(ctx context.Context, symbol string) ([]*entity.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending := e.book.Pending(symbol)
	out := make([]*entity.Order, len(pending))
	for i := range pending {
		out[i] = &pending[i]
	}
	return out, nil
}

// Orders returns every order placed so far, in id order
func (e *Engine) Orders() []entity.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.All()
}

// GetPosition retrieves the position on symbol valued at the cached mark.
// It returns nil when flat.
func (e *Engine) GetPosition(ctx context.Context, symbol string) (*entity.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.ledger.Position(symbol)
	if !ok {
		return nil, nil
	}
	e.value(&pos)
	return &pos, nil
}

// Positions returns all open positions valued at cached marks
func (e *Engine) Positions() []entity.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions := e.ledger.Positions()
	for i := range positions {
		e.value(&positions[i])
	}
	return positions
}

func (e *Engine) value(pos *entity.Position) {
	if mark, err := e.prices.Get(pos.Symbol); err == nil {
		pos.MarkPrice = mark
		pos.UnrealizedPnL = pos.PnLAt(mark, pos.Quantity)
	}
}

// GetAccount retrieves the account snapshot
func (e *Engine) GetAccount(ctx context.Context) (*entity.Account, error) {
	acct := e.Account()
	return &acct, nil
}

// Account returns a consistent account snapshot. Unrealized PnL is
// computed from cached marks on every call.
func (e *Engine) Account() entity.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accountLocked()
}

func (e *Engine) accountLocked() entity.Account {
	unrealized := e.ledger.UnrealizedPnL(e.prices.Snapshot())
	marginUsed := e.ledger.MarginUsed()
	return entity.Account{
		AvailableBalance: e.ledger.Available(),
		RealizedPnL:      e.ledger.RealizedPnL(),
		TotalFees:        e.ledger.TotalFees(),
		MarginUsed:       marginUsed,
		UnrealizedPnL:    unrealized,
		Equity:           e.ledger.Available().Add(marginUsed).Add(unrealized),
		UpdatedAt:        e.now(),
	}
}

// MarkPrice returns the cached mark price for symbol
func (e *Engine) MarkPrice(symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prices.Get(symbol)
}

// GetAllMids forwards to the real market data source
func (e *Engine) GetAllMids(ctx context.Context) (map[string]decimal.Decimal, error) {
	if e.source == nil {
		return nil, errors.Wrap(ErrPriceUnavailable, "no market data source")
	}
	return e.source.GetAllMids(ctx)
}

// GetTicker forwards to the real market data source. The result is not
// cached; feed it back through Sync to make it tradable.
func (e *Engine) GetTicker(ctx context.Context, symbol string) (*entity.Ticker, error) {
	if e.source == nil {
		return nil, errors.Wrapf(ErrPriceUnavailable, "no market data source for %s", symbol)
	}
	return e.source.GetTicker(ctx, symbol)
}

// GetOrderBook forwards to the real market data source
func (e *Engine) GetOrderBook(ctx context.Context, symbol string, depth int) (*entity.OrderBook, error) {
	if e.source == nil {
		return nil, errors.Wrapf(ErrPriceUnavailable, "no market data source for %s", symbol)
	}
	return e.source.GetOrderBook(ctx, symbol, depth)
}

func (e *Engine) observeFill(r entity.FillReport) {
	if e.observer != nil {
		e.observer.ObserveFill(r)
	}
}

func (e *Engine) observeOrder(o entity.Order) {
	if e.observer != nil {
		e.observer.ObserveOrder(o)
	}
}

// executionPrice moves mark against the trader: buys pay up, sells
// receive less. Closing fills use the closing side.
func executionPrice(mark decimal.Decimal, side entity.Side, slippage decimal.Decimal) decimal.Decimal {
	if slippage.IsZero() {
		return mark
	}
	if side == entity.SideBuy {
		return mark.Mul(one.Add(slippage))
	}
	return mark.Mul(one.Sub(slippage))
}

func orDefault(v decimal.NullDecimal, def decimal.Decimal) decimal.Decimal {
	if v.Valid {
		return v.Decimal
	}
	return def
}
