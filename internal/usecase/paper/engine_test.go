package paper

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zono819/hyperliquid-dryrun/internal/adapter/gateway"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/logger"
	"github.com/zono819/hyperliquid-dryrun/internal/usecase/risk"
)

type recorderStub struct {
	mu     sync.Mutex
	engine *Engine
	events []entity.StopClose
	seen   []entity.Account
	err    error
}

func (r *recorderStub) RecordStopClose(ctx context.Context, sc entity.StopClose) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sc)
	if r.engine != nil {
		r.seen = append(r.seen, r.engine.Account())
	}
	return r.err
}

type observerStub struct {
	fills    []entity.FillReport
	orders   []entity.Order
	accounts int
}

func (o *observerStub) ObserveFill(r entity.FillReport) { o.fills = append(o.fills, r) }
func (o *observerStub) ObserveOrder(ord entity.Order)   { o.orders = append(o.orders, ord) }
func (o *observerStub) ObserveAccount(entity.Account)   { o.accounts++ }

type sourceStub struct {
	mids map[string]decimal.Decimal
}

func (s *sourceStub) GetAllMids(ctx context.Context) (map[string]decimal.Decimal, error) {
	return s.mids, nil
}

func (s *sourceStub) GetTicker(ctx context.Context, symbol string) (*entity.Ticker, error) {
	p, ok := s.mids[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return &entity.Ticker{Symbol: symbol, LastPrice: p, BidPrice: p, AskPrice: p}, nil
}

func (s *sourceStub) GetOrderBook(ctx context.Context, symbol string, depth int) (*entity.OrderBook, error) {
	return &entity.OrderBook{Symbol: symbol}, nil
}

func newTestEngine(t *testing.T, balance string, deps Deps) *Engine {
	t.Helper()
	cfg := &Config{
		InitialBalance: d(balance),
		Leverage:       d("5"),
		FeeRate:        d("0.0004"),
		SlippageRate:   decimal.Zero,
	}
	deps.Logger = logger.Discard()
	deps.Clock = func() time.Time { return t0 }
	return NewEngine(cfg, deps)
}

func tick(symbol, price string) entity.Tick {
	return entity.Tick{Symbol: symbol, Price: d(price), Time: t0}
}

func buy(symbol, qty string) gateway.MarketOrderRequest {
	return gateway.MarketOrderRequest{Symbol: symbol, Side: entity.SideBuy, Quantity: d(qty)}
}

func closeLong(symbol, qty string) gateway.MarketOrderRequest {
	return gateway.MarketOrderRequest{Symbol: symbol, Side: entity.SideSell, Quantity: d(qty), ReduceOnly: true}
}

func TestEngine_OpenAndCloseScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})

	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})
	open, err := e.SubmitMarketOrder(ctx, buy("BTC", "10"))
	require.NoError(t, err)

	assert.Equal(t, entity.FillStatusFilled, open.Status)
	assert.Equal(t, entity.ReasonOpen, open.Reason)
	assertDec(t, "100", open.Price)
	assertDec(t, "0.4", open.Fee)
	assertDec(t, "200", open.Margin)
	assertDec(t, "799.6", e.Account().AvailableBalance)

	e.Sync(ctx, []entity.Tick{tick("BTC", "110")})
	acct := e.Account()
	assertDec(t, "100", acct.UnrealizedPnL)
	assertDec(t, "200", acct.MarginUsed)
	assertDec(t, "1099.6", acct.Equity)

	closed, err := e.SubmitMarketOrder(ctx, closeLong("BTC", "10"))
	require.NoError(t, err)

	assert.True(t, closed.Closed)
	assert.Equal(t, entity.ReasonClose, closed.Reason)
	assertDec(t, "100", closed.RealizedPnL)
	assertDec(t, "0.44", closed.Fee)
	assertDec(t, "1099.16", e.Account().AvailableBalance)
	assertDec(t, "100", e.Account().RealizedPnL)
	assert.Empty(t, e.Positions())
}

func TestEngine_RoundTripWithoutCosts(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("ETH", "2500")})

	req := buy("ETH", "0.2")
	req.FeeRate = decimal.NewNullDecimal(decimal.Zero)
	req.Leverage = decimal.NewNullDecimal(d("3"))
	_, err := e.SubmitMarketOrder(ctx, req)
	require.NoError(t, err)

	cl := closeLong("ETH", "0.2")
	cl.FeeRate = decimal.NewNullDecimal(decimal.Zero)
	report, err := e.SubmitMarketOrder(ctx, cl)
	require.NoError(t, err)

	assert.True(t, report.RealizedPnL.IsZero())
	assertDec(t, "1000", e.Account().AvailableBalance)
}

func TestEngine_SlippageIsAdverseToHolder(t *testing.T) {
	ctx := context.Background()
	slip := decimal.NewNullDecimal(d("0.01"))
	zeroFee := decimal.NewNullDecimal(decimal.Zero)

	tests := []struct {
		name      string
		openSide  entity.Side
		wantOpen  string
		wantClose string
	}{
		{"long", entity.SideBuy, "101", "99"},
		{"short", entity.SideSell, "99", "101"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, "1000", Deps{})
			e.Sync(ctx, []entity.Tick{tick("BTC", "100")})

			open, err := e.SubmitMarketOrder(ctx, gateway.MarketOrderRequest{
				Symbol: "BTC", Side: tt.openSide, Quantity: d("1"), SlippageRate: slip, FeeRate: zeroFee,
			})
			require.NoError(t, err)
			assertDec(t, tt.wantOpen, open.Price)

			cl, err := e.SubmitMarketOrder(ctx, gateway.MarketOrderRequest{
				Symbol: "BTC", Side: tt.openSide.Opposite(), Quantity: d("1"), ReduceOnly: true,
				SlippageRate: slip, FeeRate: zeroFee,
			})
			require.NoError(t, err)
			assertDec(t, tt.wantClose, cl.Price)
			assertDec(t, "-2", cl.RealizedPnL)
		})
	}
}

func TestEngine_InsufficientBalanceIsReported(t *testing.T) {
	ctx := context.Background()
	obs := &observerStub{}
	e := newTestEngine(t, "100", Deps{Observer: obs})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})

	report, err := e.SubmitMarketOrder(ctx, buy("BTC", "10"))
	require.NoError(t, err)

	assert.Equal(t, entity.FillStatusRejected, report.Status)
	assert.Equal(t, entity.ReasonInsufficientBalance, report.Reason)
	assertDec(t, "100.4", report.Shortfall)
	assertDec(t, "100", e.Account().AvailableBalance)
	assert.Empty(t, e.Positions())
	require.Len(t, obs.fills, 1)
	assert.Equal(t, entity.FillStatusRejected, obs.fills[0].Status)
}

func TestEngine_PriceUnavailableFailsFast(t *testing.T) {
	e := newTestEngine(t, "1000", Deps{})

	_, err := e.SubmitMarketOrder(context.Background(), buy("BTC", "1"))
	assert.ErrorIs(t, err, ErrPriceUnavailable)
	assertDec(t, "1000", e.Account().AvailableBalance)
}

func TestEngine_CloseWithoutPositionIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})

	report, err := e.SubmitMarketOrder(ctx, closeLong("BTC", "1"))
	require.NoError(t, err)

	assert.Equal(t, entity.FillStatusNoop, report.Status)
	assert.Equal(t, entity.ReasonNoPosition, report.Reason)
	assertDec(t, "1000", e.Account().AvailableBalance)
}

func TestEngine_CloseWrongDirectionIsMismatch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})
	_, err := e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)

	_, err = e.SubmitMarketOrder(ctx, gateway.MarketOrderRequest{
		Symbol: "BTC", Side: entity.SideBuy, Quantity: d("1"), ReduceOnly: true,
	})

	var mismatch *PositionMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestEngine_InvalidOrders(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})

	_, err := e.SubmitMarketOrder(ctx, gateway.MarketOrderRequest{Symbol: "BTC", Side: "hold", Quantity: d("1")})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = e.SubmitMarketOrder(ctx, gateway.MarketOrderRequest{Symbol: "BTC", Side: entity.SideBuy})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestEngine_NotionalSizing(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("BTC", "250")})

	report, err := e.SubmitMarketOrder(ctx, gateway.MarketOrderRequest{
		Symbol: "BTC", Side: entity.SideBuy, Notional: d("500"),
	})
	require.NoError(t, err)

	assertDec(t, "2", report.Quantity)
	assertDec(t, "100", report.Margin)
}

func TestEngine_PartialCloseKeepsEntry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})
	_, err := e.SubmitMarketOrder(ctx, buy("BTC", "10"))
	require.NoError(t, err)

	report, err := e.SubmitMarketOrder(ctx, closeLong("BTC", "5"))
	require.NoError(t, err)
	assert.False(t, report.Closed)
	assertDec(t, "100", report.Margin)

	pos, err := e.GetPosition(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assertDec(t, "5", pos.Quantity)
	assertDec(t, "100", pos.EntryPrice)
	assertDec(t, "100", pos.Margin)
	assertDec(t, "100", pos.MarkPrice)
}

func TestEngine_StopScenario(t *testing.T) {
	ctx := context.Background()
	rec := &recorderStub{}
	e := newTestEngine(t, "1000", Deps{Recorder: rec})
	rec.engine = e

	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})
	_, err := e.SubmitMarketOrder(ctx, buy("BTC", "10"))
	require.NoError(t, err)

	id, err := e.SubmitStopOrder(ctx, gateway.StopOrderRequest{
		Symbol: "BTC", Side: entity.SideSell, TriggerPrice: d("95"),
	})
	require.NoError(t, err)
	assertDec(t, "799.6", e.Account().AvailableBalance)

	reports := e.Sync(ctx, []entity.Tick{tick("BTC", "96")})
	assert.Empty(t, reports)
	o, err := e.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusPending, o.Status)
	assertDec(t, "10", o.Quantity)

	reports = e.Sync(ctx, []entity.Tick{tick("BTC", "94")})
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, id, r.OrderID)
	assert.Equal(t, entity.ReasonStopTriggered, r.Reason)
	assertDec(t, "94", r.Price)
	assertDec(t, "-60", r.RealizedPnL)
	assertDec(t, "0.376", r.Fee)
	assert.True(t, r.Closed)
	assertDec(t, "939.224", e.Account().AvailableBalance)

	o, _ = e.GetOrder(ctx, id)
	assert.Equal(t, entity.OrderStatusFilled, o.Status)

	assert.Empty(t, e.Sync(ctx, []entity.Tick{tick("BTC", "90")}))

	require.Len(t, rec.events, 1)
	sc := rec.events[0]
	assert.Equal(t, "BTC", sc.Symbol)
	assert.Equal(t, entity.SideBuy, sc.Side)
	assertDec(t, "100", sc.EntryPrice)
	assertDec(t, "95", sc.TriggerPrice)
	assertDec(t, "94", sc.FillPrice)
	assertDec(t, "10", sc.Quantity)
	assertDec(t, "-60", sc.RealizedPnL)
	assert.Equal(t, t0, sc.OpenedAt)
	assert.Equal(t, t0, sc.TriggeredAt)

	require.Len(t, rec.seen, 1, "recorder runs outside the engine lock")
	assertDec(t, "939.224", rec.seen[0].AvailableBalance)
}

func TestEngine_ShortStopFiresAtOrAboveTrigger(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("ETH", "50")})
	_, err := e.SubmitMarketOrder(ctx, gateway.MarketOrderRequest{Symbol: "ETH", Side: entity.SideSell, Quantity: d("4")})
	require.NoError(t, err)

	_, err = e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "ETH", Side: entity.SideBuy, TriggerPrice: d("55"), Quantity: d("2")})
	require.NoError(t, err)

	assert.Empty(t, e.Sync(ctx, []entity.Tick{tick("ETH", "54.9")}))
	reports := e.Sync(ctx, []entity.Tick{tick("ETH", "56")})
	require.Len(t, reports, 1)
	assertDec(t, "56", reports[0].Price)
	assertDec(t, "2", reports[0].Quantity)
	assert.False(t, reports[0].Closed)

	pos, _ := e.GetPosition(ctx, "ETH")
	require.NotNil(t, pos)
	assertDec(t, "2", pos.Quantity)
}

func TestEngine_StopPlacementValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})

	_, err := e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "BTC", Side: entity.SideSell, TriggerPrice: d("95")})
	assert.ErrorIs(t, err, ErrNoPosition)

	_, err = e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "BTC", Side: entity.SideSell})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})
	_, err = e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)

	_, err = e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "BTC", Side: entity.SideBuy, TriggerPrice: d("95")})
	var mismatch *PositionMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestEngine_CancelOrderTwice(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})
	_, err := e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)
	id, err := e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "BTC", Side: entity.SideSell, TriggerPrice: d("95")})
	require.NoError(t, err)

	require.NoError(t, e.CancelOrder(ctx, id))
	require.NoError(t, e.CancelOrder(ctx, id))
	require.NoError(t, e.CancelOrder(ctx, 999))

	o, err := e.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCanceled, o.Status)
	assert.Empty(t, e.Sync(ctx, []entity.Tick{tick("BTC", "90")}))

	_, err = e.GetOrder(ctx, 999)
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestEngine_CancelAllOrders(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100"), tick("ETH", "10")})
	_, err := e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)
	_, err = e.SubmitMarketOrder(ctx, buy("ETH", "1"))
	require.NoError(t, err)

	for _, trigger := range []string{"95", "90"} {
		_, err := e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "BTC", Side: entity.SideSell, TriggerPrice: d(trigger)})
		require.NoError(t, err)
	}
	ethStop, err := e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "ETH", Side: entity.SideSell, TriggerPrice: d("9")})
	require.NoError(t, err)

	require.NoError(t, e.CancelAllOrders(ctx, "BTC"))
	require.NoError(t, e.CancelAllOrders(ctx, "BTC"))

	open, err := e.GetOpenOrders(ctx, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, ethStop, open[0].ID)

	pos, err := e.GetPosition(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, pos, "canceling stops leaves the position alone")
}

func TestEngine_SetLeverage(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100"), tick("ETH", "100")})

	require.NoError(t, e.SetLeverage(ctx, "BTC", d("10")))
	assert.ErrorIs(t, e.SetLeverage(ctx, "BTC", d("0")), ErrInvalidOrder)
	assert.ErrorIs(t, e.SetLeverage(ctx, "", d("2")), ErrInvalidOrder)

	// symbol override beats the engine default of 5
	report, err := e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)
	assertDec(t, "10", report.Margin)

	// other symbols keep the default
	report, err = e.SubmitMarketOrder(ctx, buy("ETH", "1"))
	require.NoError(t, err)
	assertDec(t, "20", report.Margin)

	// a per-order value beats both
	report, err = e.SubmitMarketOrder(ctx, gateway.MarketOrderRequest{
		Symbol: "BTC", Side: entity.SideBuy, Quantity: d("1"), Leverage: decimal.NewNullDecimal(d("2")),
	})
	require.NoError(t, err)
	assertDec(t, "50", report.Margin)

	_, err = e.SubmitMarketOrder(ctx, gateway.MarketOrderRequest{
		Symbol: "BTC", Side: entity.SideBuy, Quantity: d("1"), Leverage: decimal.NewNullDecimal(decimal.Zero),
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestEngine_ManualCloseCancelsOrphanedStops(t *testing.T) {
	ctx := context.Background()
	rec := &recorderStub{}
	e := newTestEngine(t, "1000", Deps{Recorder: rec})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})
	_, err := e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)
	id, err := e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "BTC", Side: entity.SideSell, TriggerPrice: d("95")})
	require.NoError(t, err)

	_, err = e.SubmitMarketOrder(ctx, closeLong("BTC", "1"))
	require.NoError(t, err)

	o, _ := e.GetOrder(ctx, id)
	assert.Equal(t, entity.OrderStatusCanceled, o.Status)

	// A new long at a lower price must not be closed by the old stop.
	e.Sync(ctx, []entity.Tick{tick("BTC", "90")})
	_, err = e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)
	assert.Empty(t, e.Sync(ctx, []entity.Tick{tick("BTC", "89")}))
	assert.Empty(t, rec.events)

	open, err := e.GetOpenOrders(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestEngine_SyncAppliesTicksInOrder(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})
	_, err := e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)
	_, err = e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "BTC", Side: entity.SideSell, TriggerPrice: d("95")})
	require.NoError(t, err)

	// The dip is evaluated with its own price even though a recovery tick
	// follows in the same batch.
	reports := e.Sync(ctx, []entity.Tick{tick("BTC", "93"), tick("BTC", "101"), {Symbol: "ETH", Price: d("-1")}})

	require.Len(t, reports, 1)
	assertDec(t, "93", reports[0].Price)
	mark, err := e.MarkPrice("BTC")
	require.NoError(t, err)
	assertDec(t, "101", mark)
	_, err = e.MarkPrice("ETH")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestEngine_RecorderErrorDoesNotUndoFill(t *testing.T) {
	ctx := context.Background()
	rec := &recorderStub{err: errors.New("disk full")}
	e := newTestEngine(t, "1000", Deps{Recorder: rec})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})
	_, err := e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)
	_, err = e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "BTC", Side: entity.SideSell, TriggerPrice: d("95")})
	require.NoError(t, err)

	reports := e.Sync(ctx, []entity.Tick{tick("BTC", "95")})

	require.Len(t, reports, 1)
	assert.Len(t, rec.events, 1)
	assert.Empty(t, e.Positions())
}

func TestEngine_ObserverSeesLifecycle(t *testing.T) {
	ctx := context.Background()
	obs := &observerStub{}
	e := newTestEngine(t, "1000", Deps{Observer: obs})

	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})
	_, _ = e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	_, _ = e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "BTC", Side: entity.SideSell, TriggerPrice: d("95")})
	e.Sync(ctx, []entity.Tick{tick("BTC", "94")})

	require.Len(t, obs.fills, 2)
	assert.Equal(t, entity.ReasonStopTriggered, obs.fills[1].Reason)
	require.Len(t, obs.orders, 2)
	assert.Equal(t, entity.OrderStatusPending, obs.orders[0].Status)
	assert.Equal(t, entity.OrderStatusFilled, obs.orders[1].Status)
	assert.Equal(t, 2, obs.accounts)
}

func TestEngine_PassthroughToSource(t *testing.T) {
	ctx := context.Background()
	src := &sourceStub{mids: map[string]decimal.Decimal{"BTC": d("64000")}}
	e := newTestEngine(t, "1000", Deps{Source: src})

	ticker, err := e.GetTicker(ctx, "BTC")
	require.NoError(t, err)
	assertDec(t, "64000", ticker.LastPrice)

	_, err = e.MarkPrice("BTC")
	assert.ErrorIs(t, err, ErrPriceUnavailable, "passthrough must not seed the cache")

	mids, err := e.GetAllMids(ctx)
	require.NoError(t, err)
	assert.Len(t, mids, 1)

	bare := newTestEngine(t, "1000", Deps{})
	_, err = bare.GetTicker(ctx, "BTC")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestEngine_BalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	e := newTestEngine(t, "500", Deps{})
	price := 100.0

	for i := 0; i < 2000; i++ {
		price *= 1 + (rng.Float64()-0.5)*0.08
		if price < 1 {
			price = 1
		}
		e.Sync(ctx, []entity.Tick{{Symbol: "BTC", Price: decimal.NewFromFloat(price).Round(4), Time: t0}})

		before := e.Account().AvailableBalance
		qty := decimal.NewFromFloat(rng.Float64() * 5).Round(3).Add(d("0.001"))
		side := entity.SideBuy
		if rng.Intn(2) == 0 {
			side = entity.SideSell
		}

		report, err := e.SubmitMarketOrder(ctx, gateway.MarketOrderRequest{
			Symbol: "BTC", Side: side, Quantity: qty, ReduceOnly: rng.Intn(3) == 0,
		})
		if err != nil {
			var mismatch *PositionMismatchError
			require.ErrorAs(t, err, &mismatch)
			continue
		}

		after := e.Account().AvailableBalance
		require.False(t, after.IsNegative(), "step %d: balance %s", i, after)
		if report.IsFilled() && (report.Reason == entity.ReasonOpen || report.Reason == entity.ReasonIncrease) {
			assert.True(t, before.Sub(report.Margin).Sub(report.Fee).Equal(after), "step %d", i)
		}
	}
}

func TestEngine_ConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "1000000", Deps{})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = e.SubmitMarketOrder(ctx, buy("BTC", "1"))
			_, _ = e.SubmitMarketOrder(ctx, closeLong("BTC", "1"))
		}
	}()

	for i := 0; i < 200; i++ {
		acct := e.Account()
		total := acct.AvailableBalance.Add(acct.MarginUsed).Add(acct.TotalFees)
		assert.True(t, total.Equal(d("1000000")), "available+margin+fees = %s", total)
	}
	wg.Wait()
}

func TestEngine_HaltedGateBlocksEntriesButNotExits(t *testing.T) {
	ctx := context.Background()
	checker := risk.NewChecker(nil)
	obs := &observerStub{}
	e := newTestEngine(t, "1000", Deps{Gate: checker, Observer: obs})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})

	_, err := e.SubmitMarketOrder(ctx, buy("BTC", "2"))
	require.NoError(t, err)
	before := e.Account()

	checker.Halt("manual")

	report, err := e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)
	assert.Equal(t, entity.FillStatusRejected, report.Status)
	assert.Equal(t, entity.ReasonRiskHalted, report.Reason)
	assertDec(t, before.AvailableBalance.String(), e.Account().AvailableBalance)
	assert.Equal(t, entity.ReasonRiskHalted, obs.fills[len(obs.fills)-1].Reason)

	closed, err := e.SubmitMarketOrder(ctx, closeLong("BTC", "2"))
	require.NoError(t, err)
	assert.Equal(t, entity.FillStatusFilled, closed.Status)
	assert.True(t, closed.Closed)

	checker.Resume()
	report, err = e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)
	assert.Equal(t, entity.FillStatusFilled, report.Status)
}

func TestEngine_LosingStopStartsCooldown(t *testing.T) {
	ctx := context.Background()
	checker := risk.NewChecker(&risk.Config{MaxConsecutiveLoss: 1, CooldownDuration: time.Hour})
	e := newTestEngine(t, "1000", Deps{Gate: checker, Recorder: checker})
	e.Sync(ctx, []entity.Tick{tick("BTC", "100")})

	_, err := e.SubmitMarketOrder(ctx, buy("BTC", "10"))
	require.NoError(t, err)
	_, err = e.SubmitStopOrder(ctx, gateway.StopOrderRequest{Symbol: "BTC", Side: entity.SideSell, TriggerPrice: d("95")})
	require.NoError(t, err)

	reports := e.Sync(ctx, []entity.Tick{tick("BTC", "94")})
	require.Len(t, reports, 1)
	require.True(t, checker.Status().InCooldown)

	report, err := e.SubmitMarketOrder(ctx, buy("BTC", "1"))
	require.NoError(t, err)
	assert.Equal(t, entity.FillStatusRejected, report.Status)
	assert.Equal(t, entity.ReasonRiskHalted, report.Reason)
	assert.Empty(t, e.Positions())
}
