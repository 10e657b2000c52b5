package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zono819/hyperliquid-dryrun/internal/adapter/gateway"
	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/config"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/hyperliquid"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/journal"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/logger"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/metrics"
	"github.com/zono819/hyperliquid-dryrun/internal/usecase"
	"github.com/zono819/hyperliquid-dryrun/internal/usecase/paper"
	"github.com/zono819/hyperliquid-dryrun/internal/usecase/risk"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const statusInterval = time.Minute

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hyperliquid-dryrun %s (built: %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Default().Error("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewWithFile(logger.ParseLevel(cfg.LogLevel()), logger.FileConfig{
		Path:       cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		logger.Default().Error("Failed to open log file: %v", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Bot error: %v", err)
		os.Exit(1)
	}
}

// App holds the wired dry-run venue and its collaborators
type App struct {
	config  *config.Config
	log     *logger.Logger
	client  *hyperliquid.Client
	engine  *paper.Engine
	risk    *risk.Checker
	journal *journal.Journal
	metrics *metrics.Metrics
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("Starting %s %s in %s mode", cfg.App.Name, version, cfg.App.Environment)
	log.Info("Paper venue: symbols=%v feed=%s balance=%.2f leverage=%.1f fee=%.4f%% slippage=%.4f%%",
		cfg.Paper.Symbols, cfg.Paper.Feed, cfg.Paper.InitialBalance, cfg.Paper.Leverage,
		cfg.Paper.FeeRate*100, cfg.Paper.SlippageRate*100)

	app, err := newApp(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer app.close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.runFeed(gctx) })
	g.Go(func() error { return app.runStatus(gctx) })
	g.Go(func() error { return app.runRiskSignals(gctx) })
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return app.metrics.Serve(gctx, cfg.Metrics.Addr, log) })
	}

	err = g.Wait()

	log.Info("Shutting down...")
	app.logStatus()
	app.logJournalSummary()
	log.Info("Bot stopped")
	return err
}

func newApp(cfg *config.Config, log *logger.Logger) (*App, error) {
	client := hyperliquid.NewClient(hyperliquid.ClientConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		Testnet:    cfg.Exchange.Testnet,
		Timeout:    cfg.Exchange.Timeout,
		RetryCount: 2,
	})

	app := &App{
		config:  cfg,
		log:     log,
		client:  client,
		risk:    risk.NewChecker(cfg.RiskChecker()),
		metrics: metrics.NewMetrics(),
	}

	recorders := gateway.MultiRecorder{app.risk}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		app.journal = j
		recorders = append(recorders, j)
	}

	app.engine = paper.NewEngine(cfg.PaperEngine(), paper.Deps{
		Source:   client,
		Recorder: recorders,
		Gate:     app.risk,
		Observer: app.metrics,
		Logger:   log,
	})
	return app, nil
}

// runFeed drives Engine.Sync from the configured price source
func (a *App) runFeed(ctx context.Context) error {
	switch a.config.Paper.Feed {
	case "ws":
		feed := hyperliquid.NewMidFeed(hyperliquid.FeedConfig{
			WSURL:   a.config.Exchange.WSURL,
			Testnet: a.config.Exchange.Testnet,
			Symbols: a.config.Paper.Symbols,
		}, a.log)
		return feed.Run(ctx, func(ticks []entity.Tick) {
			a.engine.Sync(ctx, ticks)
		})
	default:
		poller := usecase.NewPoller(a.client, a.engine, a.config.Paper.Symbols, a.config.Paper.PollInterval, a.log)
		return poller.Run(ctx)
	}
}

func (a *App) runStatus(ctx context.Context) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if a.risk.RollDay() {
				a.log.Info("New UTC day, daily risk totals reset")
			}
			a.logStatus()
		}
	}
}

// runRiskSignals lets an operator halt (SIGUSR1) and resume (SIGUSR2)
// new entries without restarting the venue
func (a *App) runRiskSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			a.handleRiskSignal(sig)
		}
	}
}

func (a *App) handleRiskSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGUSR1:
		a.risk.Halt("operator signal")
		a.log.Warn("Entries halted by operator")
	case syscall.SIGUSR2:
		a.risk.Resume()
		a.log.Info("Entries resumed by operator")
	}
}

func (a *App) logStatus() {
	acct := a.engine.Account()
	a.log.WithFields(map[string]interface{}{
		"available":  acct.AvailableBalance.StringFixed(4),
		"margin":     acct.MarginUsed.StringFixed(4),
		"unrealized": acct.UnrealizedPnL.StringFixed(4),
		"realized":   acct.RealizedPnL.StringFixed(4),
		"fees":       acct.TotalFees.StringFixed(4),
	}).Info("Equity %s", acct.Equity.StringFixed(2))

	for _, pos := range a.engine.Positions() {
		a.log.Info("Position %s %s %s @ %s (mark %s, upnl %s)",
			pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.MarkPrice, pos.UnrealizedPnL.StringFixed(4))
	}

	st := a.risk.Status()
	if st.InCooldown || st.Halted {
		a.log.Warn("Risk: halted=%v cooldown_until=%s daily_pnl=%s",
			st.Halted, st.CooldownUntil.Format(time.RFC3339), st.DailyPnL.StringFixed(4))
	}
}

func (a *App) logJournalSummary() {
	if a.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.config.App.GracePeriod)
	defer cancel()

	s, err := a.journal.Summarize(ctx)
	if err != nil {
		a.log.Error("Failed to summarize journal: %v", err)
		return
	}
	a.log.Info("Session %s: %d stop closes (%d wins, %d losses), net pnl %s",
		a.journal.SessionID(), s.Count, s.Wins, s.Losses, s.NetPnL().StringFixed(4))
}

func (a *App) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Error("Failed to close journal: %v", err)
		}
	}
}
