package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zono819/hyperliquid-dryrun/internal/adapter/gateway"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
)

var (
	_ gateway.TradeRecorder = (*Checker)(nil)
	_ gateway.EntryGate     = (*Checker)(nil)
)

// Config holds risk management configuration
type Config struct {
	MaxDailyLoss       decimal.Decimal // absolute quote amount, zero disables
	MaxConsecutiveLoss int
	CooldownDuration   time.Duration
}

// DefaultConfig returns default risk configuration
func DefaultConfig() *Config {
	return &Config{
		MaxDailyLoss:       decimal.Zero,
		MaxConsecutiveLoss: 3,
		CooldownDuration:   5 * time.Minute,
	}
}

// CheckResult represents the result of a risk check
type CheckResult struct {
	Allowed bool
	Reason  string
}

// Status is a snapshot of the checker state
type Status struct {
	Halted          bool
	HaltReason      string
	DailyPnL        decimal.Decimal
	ConsecutiveLoss int
	Wins            int
	Losses          int
	InCooldown      bool
	CooldownUntil   time.Time
}

// Checker tracks trade outcomes and gates new entries on them
type Checker struct {
	config *Config
	now    func() time.Time

	mu              sync.RWMutex
	dailyPnL        decimal.Decimal
	consecutiveLoss int
	wins, losses    int
	cooldownUntil   time.Time
	halted          bool
	haltReason      string
	day             time.Time // UTC midnight of the day dailyPnL covers
}

// NewChecker creates a new risk checker
func NewChecker(cfg *Config) *Checker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Checker{
		config: cfg,
		now:    time.Now,
	}
	c.day = utcDay(c.now())
	return c
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// CanTrade checks if opening new positions is allowed
func (c *Checker) CanTrade() CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.halted {
		return CheckResult{Allowed: false, Reason: "trading halted: " + c.haltReason}
	}

	if c.now().Before(c.cooldownUntil) {
		return CheckResult{Allowed: false, Reason: "in cooldown until " + c.cooldownUntil.Format(time.RFC3339)}
	}

	if c.config.MaxDailyLoss.IsPositive() && c.dailyPnL.LessThan(c.config.MaxDailyLoss.Neg()) {
		return CheckResult{Allowed: false, Reason: "daily loss limit exceeded"}
	}

	return CheckResult{Allowed: true}
}

// AllowEntry adapts CanTrade to the engine's entry gate
func (c *Checker) AllowEntry() (bool, string) {
	res := c.CanTrade()
	return res.Allowed, res.Reason
}

// RecordTrade records a realized trade result
func (c *Checker) RecordTrade(pnl decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dailyPnL = c.dailyPnL.Add(pnl)

	if pnl.IsNegative() {
		c.losses++
		c.consecutiveLoss++
		if c.consecutiveLoss >= c.config.MaxConsecutiveLoss {
			c.cooldownUntil = c.now().Add(c.config.CooldownDuration)
			c.consecutiveLoss = 0
		}
	} else {
		c.wins++
		c.consecutiveLoss = 0
	}
}

// RecordStopClose feeds a stop-triggered close into the loss tracking
func (c *Checker) RecordStopClose(ctx context.Context, sc entity.StopClose) error {
	c.RecordTrade(sc.RealizedPnL.Sub(sc.Fee))
	return nil
}

// Halt stops trading
func (c *Checker) Halt(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halted = true
	c.haltReason = reason
}

// Resume resumes trading
func (c *Checker) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halted = false
	c.haltReason = ""
	c.consecutiveLoss = 0
}

// ResetDaily resets daily statistics
func (c *Checker) ResetDaily() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyPnL = decimal.Zero
	c.day = utcDay(c.now())
}

// RollDay resets the daily statistics once the UTC date has changed since
// the last reset. It returns true when a reset happened.
func (c *Checker) RollDay() bool {
	c.mu.RLock()
	same := utcDay(c.now()).Equal(c.day)
	c.mu.RUnlock()
	if same {
		return false
	}
	c.ResetDaily()
	return true
}

// Status returns current risk status
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		Halted:          c.halted,
		HaltReason:      c.haltReason,
		DailyPnL:        c.dailyPnL,
		ConsecutiveLoss: c.consecutiveLoss,
		Wins:            c.wins,
		Losses:          c.losses,
		InCooldown:      c.now().Before(c.cooldownUntil),
		CooldownUntil:   c.cooldownUntil,
	}
}
