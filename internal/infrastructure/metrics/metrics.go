package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zono819/hyperliquid-dryrun/internal/domain/entity"
	"github.com/zono819/hyperliquid-dryrun/internal/infrastructure/logger"
	"github.com/zono819/hyperliquid-dryrun/internal/usecase/paper"
)

var _ paper.Observer = (*Metrics)(nil)

// Metrics holds the Prometheus collectors for the simulated venue
type Metrics struct {
	registry *prometheus.Registry

	FillsTotal  *prometheus.CounterVec // labels: symbol, status, reason
	FeesTotal   *prometheus.CounterVec // labels: symbol
	OrdersTotal *prometheus.CounterVec // labels: type, status

	AvailableBalance prometheus.Gauge
	MarginUsed       prometheus.Gauge
	RealizedPnL      prometheus.Gauge
	UnrealizedPnL    prometheus.Gauge
	Equity           prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dryrun_fills_total",
			Help: "Settlement reports by outcome",
		}, []string{"symbol", "status", "reason"}),
		FeesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dryrun_fees_total",
			Help: "Fees charged on simulated fills",
		}, []string{"symbol"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dryrun_order_transitions_total",
			Help: "Order state transitions",
		}, []string{"type", "status"}),

		AvailableBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dryrun_available_balance",
			Help: "Free collateral",
		}),
		MarginUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dryrun_margin_used",
			Help: "Collateral locked in open positions",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dryrun_realized_pnl",
			Help: "Cumulative realized PnL before fees",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dryrun_unrealized_pnl",
			Help: "Open position PnL at the cached mark",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dryrun_equity",
			Help: "Available balance plus margin plus unrealized PnL",
		}),
	}

	m.registry.MustRegister(
		m.FillsTotal,
		m.FeesTotal,
		m.OrdersTotal,
		m.AvailableBalance,
		m.MarginUsed,
		m.RealizedPnL,
		m.UnrealizedPnL,
		m.Equity,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFill counts a settlement report
func (m *Metrics) ObserveFill(r entity.FillReport) {
	m.FillsTotal.WithLabelValues(r.Symbol, string(r.Status), string(r.Reason)).Inc()
	if r.IsFilled() {
		m.FeesTotal.WithLabelValues(r.Symbol).Add(r.Fee.InexactFloat64())
	}
}

// ObserveOrder counts an order state transition
func (m *Metrics) ObserveOrder(o entity.Order) {
	m.OrdersTotal.WithLabelValues(string(o.Type), string(o.Status)).Inc()
}

// ObserveAccount refreshes the balance gauges
func (m *Metrics) ObserveAccount(a entity.Account) {
	m.AvailableBalance.Set(a.AvailableBalance.InexactFloat64())
	m.MarginUsed.Set(a.MarginUsed.InexactFloat64())
	m.RealizedPnL.Set(a.RealizedPnL.InexactFloat64())
	m.UnrealizedPnL.Set(a.UnrealizedPnL.InexactFloat64())
	m.Equity.Set(a.Equity.InexactFloat64())
}

// Handler returns the /metrics handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is canceled
func (m *Metrics) Serve(ctx context.Context, addr string, log *logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Metrics listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "metrics server")
	}
}
