package paper

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Config holds the simulated venue parameters. Per-order overrides win
// over these defaults; stop-triggered closes always use them.
type Config struct {
	InitialBalance decimal.Decimal
	Leverage       decimal.Decimal
	FeeRate        decimal.Decimal // fraction of notional, e.g. 0.0004
	SlippageRate   decimal.Decimal // fraction of price, e.g. 0.0005
}

// DefaultConfig returns default venue parameters
func DefaultConfig() *Config {
	return &Config{
		InitialBalance: decimal.NewFromInt(10000),
		Leverage:       decimal.NewFromInt(1),
		FeeRate:        decimal.RequireFromString("0.0005"),
		SlippageRate:   decimal.Zero,
	}
}

// Validate checks the parameters are usable
func (c *Config) Validate() error {
	if c.InitialBalance.IsNegative() {
		return errors.Errorf("initial balance must not be negative: %s", c.InitialBalance)
	}
	if !c.Leverage.IsPositive() {
		return errors.Errorf("leverage must be positive: %s", c.Leverage)
	}
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Errorf("fee rate out of range: %s", c.FeeRate)
	}
	if c.SlippageRate.IsNegative() || c.SlippageRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Errorf("slippage rate out of range: %s", c.SlippageRate)
	}
	return nil
}
