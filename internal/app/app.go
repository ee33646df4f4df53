package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"algotrader/internal/backtest"
	"algotrader/internal/config"
	"algotrader/internal/driver"
	"algotrader/internal/fanout"
	"algotrader/internal/logger"
	"algotrader/internal/report"
	"algotrader/internal/stats"
	"algotrader/internal/store/ledger"
	"algotrader/internal/store/strategystore"
	"algotrader/internal/strategy"
	transporthttp "algotrader/internal/transport/http"
	"algotrader/internal/types"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App owns application-level orchestration: open stores, assemble the
// controller and its collaborators, and run the HTTP surface plus the
// optional in-process driver.
type App struct {
	cfg *config.Config

	ledger     *ledger.Store
	strategies *strategystore.Store
	hub        *fanout.Hub
	server     *transporthttp.Server
	driver     *driver.Driver
}

// New builds the application object from config without starting it.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	ledgerStore, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	stratStore, err := strategystore.Open(cfg.Storage.StrategyPath)
	if err != nil {
		ledgerStore.Close()
		return nil, fmt.Errorf("open strategy store: %w", err)
	}
	schemas, err := strategy.NewSchemaRegistry(cfg.Strategy.SchemaPath)
	if err != nil {
		stratStore.Close()
		ledgerStore.Close()
		return nil, fmt.Errorf("load indicator schemas: %w", err)
	}

	hub := fanout.NewHub(originChecker(cfg.HTTP.AllowedOrigins))
	engine := stats.NewEngine(ledgerStore)
	session := backtest.NewSession()
	ctrl := backtest.NewController(ledgerStore, engine, hub, session)
	strategies := strategy.NewService(stratStore, schemas, ctrl, session)
	reports := report.NewBuilder(ledgerStore, engine)

	server, err := transporthttp.NewServer(transporthttp.Config{
		Addr:           cfg.HTTP.Addr,
		Version:        Version,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Controller:     ctrl,
		Ledger:         ledgerStore,
		Stats:          engine,
		Strategies:     strategies,
		Hub:            hub,
		Reports:        reports,
		Events:         hub,
	})
	if err != nil {
		stratStore.Close()
		ledgerStore.Close()
		return nil, fmt.Errorf("build http server: %w", err)
	}

	a := &App{
		cfg:        cfg,
		ledger:     ledgerStore,
		strategies: stratStore,
		hub:        hub,
		server:     server,
	}
	if cfg.Driver.Enabled {
		a.driver, err = buildDriver(cfg, ctrl, ledgerStore, stratStore, hub)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Run starts the fanout hub, the HTTP server and, when configured, the
// simulation driver, and blocks until the first failure or ctx
// cancellation.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.driver != nil {
		group.Go(func() error {
			if err := a.driver.Run(ctx); err != nil {
				return fmt.Errorf("driver error: %w", err)
			}
			logger.Infof("driver finished replaying %s", a.cfg.Driver.Symbol)
			return nil
		})
	}

	err := group.Wait()
	a.Close()
	return err
}

// Close releases the stores. Safe to call more than once.
func (a *App) Close() {
	if a.strategies != nil {
		if err := a.strategies.Close(); err != nil {
			logger.Warnf("close strategy store: %v", err)
		}
		a.strategies = nil
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			logger.Warnf("close ledger: %v", err)
		}
		a.ledger = nil
	}
}

func buildDriver(cfg *config.Config, ctrl *backtest.Controller, store *ledger.Store, strats *strategystore.Store, events types.Publisher) (*driver.Driver, error) {
	start, end := cfg.Driver.Dates()

	var source driver.Source
	switch cfg.Driver.Source {
	case "binance":
		source = driver.NewBinanceSource()
	default:
		// Static runs need history before the window for indicator
		// warmup, so generate a little extra in front.
		source = &driver.StaticSource{
			Candles: driver.SyntheticCandles(start.AddDate(0, 0, -120), end, cfg.Driver.StartBalance/100),
		}
	}

	var strategyID *int64
	eval := driver.NewEvaluator(nil)
	if cfg.Driver.StrategyID > 0 {
		id := cfg.Driver.StrategyID
		strat, err := strats.Get(context.Background(), id)
		if err != nil {
			return nil, fmt.Errorf("driver strategy %d: %w", id, err)
		}
		strategyID = &id
		eval = driver.NewEvaluator(strat.TechnicalAnalysis)
	}

	return driver.New(driver.Config{
		Symbol:           cfg.Driver.Symbol,
		Start:            start,
		End:              end,
		StartBalance:     cfg.Driver.StartBalance,
		PositionFraction: cfg.Driver.PositionFraction,
		TickInterval:     time.Duration(cfg.Driver.TickIntervalMS) * time.Millisecond,
		StrategyID:       strategyID,
	}, source, ctrl, store, events, eval), nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
