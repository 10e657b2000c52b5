package paper

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// PriceCache holds the latest mark price per symbol. It is not safe for
// concurrent use; the Engine serializes access.
type PriceCache struct {
	marks map[string]decimal.Decimal
}

// NewPriceCache creates an empty cache
func NewPriceCache() *PriceCache {
	return &PriceCache{marks: make(map[string]decimal.Decimal)}
}

// Set stores price as the latest mark for symbol
func (c *PriceCache) Set(symbol string, price decimal.Decimal) {
	c.marks[symbol] = price
}

// Get returns the cached mark price or ErrPriceUnavailable
func (c *PriceCache) Get(symbol string) (decimal.Decimal, error) {
	p, ok := c.marks[symbol]
	if !ok {
		return decimal.Zero, errors.Wrapf(ErrPriceUnavailable, "symbol %s", symbol)
	}
	return p, nil
}

// Snapshot copies all cached prices
func (c *PriceCache) Snapshot() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.marks))
	for s, p := range c.marks {
		out[s] = p
	}
	return out
}
