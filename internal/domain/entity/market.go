package entity

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one mark price observation fed into the simulated venue
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	Time   time.Time
}

// Ticker represents market ticker data (exchange-agnostic)
type Ticker struct {
	Symbol    string
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	LastPrice decimal.Decimal
	Timestamp time.Time
}

// MidPrice returns mid price
func (t *Ticker) MidPrice() decimal.Decimal {
	return t.BidPrice.Add(t.AskPrice).Div(decimal.NewFromInt(2))
}

// Spread returns bid-ask spread
func (t *Ticker) Spread() decimal.Decimal {
	return t.AskPrice.Sub(t.BidPrice)
}

// OrderBookLevel represents a single level in order book
type OrderBookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook represents order book data (exchange-agnostic)
type OrderBook struct {
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
}

// BestBid returns best bid price and size
func (ob *OrderBook) BestBid() (decimal.Decimal, decimal.Decimal) {
	if len(ob.Bids) == 0 {
		return decimal.Zero, decimal.Zero
	}
	return ob.Bids[0].Price, ob.Bids[0].Size
}

// BestAsk returns best ask price and size
func (ob *OrderBook) BestAsk() (decimal.Decimal, decimal.Decimal) {
	if len(ob.Asks) == 0 {
		return decimal.Zero, decimal.Zero
	}
	return ob.Asks[0].Price, ob.Asks[0].Size
}

// TicksFromMids selects the watched symbols from a mids snapshot, ordered
// by symbol. Symbols missing from the snapshot are skipped; an empty watch
// list selects every symbol.
func TicksFromMids(mids map[string]decimal.Decimal, symbols []string, at time.Time) []Tick {
	if len(symbols) == 0 {
		symbols = make([]string, 0, len(mids))
		for s := range mids {
			symbols = append(symbols, s)
		}
	}
	ticks := make([]Tick, 0, len(symbols))
	for _, s := range symbols {
		px, ok := mids[s]
		if !ok {
			continue
		}
		ticks = append(ticks, Tick{Symbol: s, Price: px, Time: at})
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Symbol < ticks[j].Symbol })
	return ticks
}
