package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zono819/hyperliquid-dryrun/internal/adapter/gateway"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/logger"
)

// TickSink consumes ordered tick batches; paper.Engine satisfies it
type TickSink interface {
	Sync(ctx context.Context, ticks []entity.Tick) []entity.FillReport
}

// Poller feeds the dry-run venue from periodic allMids snapshots
type Poller struct {
	source   gateway.MarketDataSource
	sink     TickSink
	symbols  []string
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

// NewPoller creates a new poller
func NewPoller(source gateway.MarketDataSource, sink TickSink, symbols []string, interval time.Duration, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		source:   source,
		sink:     sink,
		symbols:  symbols,
		interval: interval,
		log:      log.WithField("component", "poller"),
		now:      time.Now,
	}
}

// Run polls until ctx is canceled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller is already running")
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.log.Info("Polling %v every %s", p.symbols, p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("Poll failed: %v", err)
		}

		select {
		case <-ctx.Done():
			p.log.Info("Poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// IsRunning returns true while Run is active
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// PollOnce fetches one mids snapshot and syncs the watched symbols
func (p *Poller) PollOnce(ctx context.Context) ([]entity.FillReport, error) {
	mids, err := p.source.GetAllMids(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all mids: %w", err)
	}

	ticks := entity.TicksFromMids(mids, p.symbols, p.now())
	if len(ticks) < len(p.symbols) {
		p.log.Debug("Snapshot covered %d of %d symbols", len(ticks), len(p.symbols))
	}
	if len(ticks) == 0 {
		return nil, nil
	}

	reports := p.sink.Sync(ctx, ticks)
	for _, r := range reports {
		p.log.WithFields(map[string]interface{}{
			"order_id": r.OrderID,
			"symbol":   r.Symbol,
			"price":    r.Price.String(),
			"pnl":      r.RealizedPnL.String(),
		}).Info("Stop %s: %s", r.Reason, r.Status)
	}
	return reports, nil
}
