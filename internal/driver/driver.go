package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"algotrader/internal/backtest"
	"algotrader/internal/logger"
	"algotrader/internal/pkg/money"
	"algotrader/internal/store/ledger"
	"algotrader/internal/types"
)

// Config controls one simulated run.
type Config struct {
	Symbol       string
	Start        time.Time
	End          time.Time
	StartBalance float64

	// PositionFraction is the share of the available balance committed
	// per entry. Zero means 25%.
	PositionFraction float64

	// TickInterval throttles the simulated clock so observers can
	// follow along. Zero runs as fast as the limiter allows.
	TickInterval time.Duration

	StrategyID *int64
}

// Driver replays a candle feed against the backtest controller: it
// advances the simulated date, ticks open positions, and opens or
// closes trades on indicator signals. It registers itself as the
// session's driver link so availability and stop signals reach it.
type Driver struct {
	cfg    Config
	source Source
	ctrl   *backtest.Controller
	store  *ledger.Store
	events types.Publisher
	eval   Evaluator
	pace   *rate.Limiter

	stopOnce sync.Once
	stop     chan struct{}
}

func New(cfg Config, source Source, ctrl *backtest.Controller, store *ledger.Store, events types.Publisher, eval Evaluator) *Driver {
	if cfg.PositionFraction <= 0 || cfg.PositionFraction > 1 {
		cfg.PositionFraction = 0.25
	}
	if events == nil {
		events = types.PublisherFunc(func(types.Event) {})
	}
	interval := cfg.TickInterval
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Driver{
		cfg:    cfg,
		source: source,
		ctrl:   ctrl,
		store:  store,
		events: events,
		eval:   eval,
		pace:   rate.NewLimiter(limit, 1),
		stop:   make(chan struct{}),
	}
}

// Stop asks the run loop to halt after the current bar.
func (d *Driver) Stop(context.Context) error {
	d.stopOnce.Do(func() { close(d.stop) })
	return nil
}

// Close is Stop without a context; it satisfies the session's link
// contract.
func (d *Driver) Close() error {
	return d.Stop(context.Background())
}

// Run initialises a fresh backtest and replays the feed until the
// candles run out or a stop arrives. On natural exhaustion the run is
// finalised; on an external stop it is left active for inspection.
func (d *Driver) Run(ctx context.Context) error {
	warmup := d.eval.minBars() * 2
	fetchStart := d.cfg.Start.AddDate(0, 0, -warmup*2)
	candles, err := d.source.Daily(ctx, d.cfg.Symbol, fetchStart, d.cfg.End)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("driver: no candles for %s between %s and %s",
			d.cfg.Symbol, d.cfg.Start.Format("2006-01-02"), d.cfg.End.Format("2006-01-02"))
	}

	props, err := d.ctrl.Initialise(ctx, d.cfg.Start, d.cfg.StartBalance, d.cfg.StrategyID)
	if err != nil {
		return err
	}
	d.ctrl.Session().Register(d)
	defer d.ctrl.Session().Clear()

	run := &runState{
		backtestID: props.BacktestID,
		available:  d.cfg.StartBalance,
		start:      d.cfg.StartBalance,
	}

	closes := make([]float64, 0, len(candles))
	for _, candle := range candles {
		closes = append(closes, candle.Close)
		if candle.Date.Before(d.cfg.Start) {
			continue
		}
		if halted, err := d.waitTurn(ctx); halted || err != nil {
			logger.Infof("driver stopped at %s", candle.Date.Format("2006-01-02"))
			return err
		}
		if err := d.step(ctx, run, candle, closes); err != nil {
			return err
		}
	}

	if _, err := d.ctrl.Finalise(ctx); err != nil {
		return err
	}
	logger.Infof("driver finished %s run: final balance %s", d.cfg.Symbol, money.FormatGBP(run.lastEquity))
	return nil
}

type runState struct {
	backtestID string
	available  float64
	start      float64
	lastEquity float64

	graphDates  []string
	graphValues []float64
}

// waitTurn blocks until the next simulated tick is due, honouring
// pause, stop, and context cancellation. Returns halted=true when the
// run should end without error.
func (d *Driver) waitTurn(ctx context.Context) (halted bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-d.stop:
			return true, nil
		default:
		}
		props, err := d.ctrl.Properties(ctx)
		if err != nil {
			return false, err
		}
		if !props.IsPaused {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-d.stop:
			return true, nil
		case <-time.After(250 * time.Millisecond):
		}
	}
	return false, d.pace.Wait(ctx)
}

func (d *Driver) step(ctx context.Context, run *runState, candle Candle, closes []float64) error {
	if _, err := d.ctrl.AdvanceDate(ctx, candle.Date); err != nil {
		return err
	}

	list, err := d.store.ListTrades(ctx, run.backtestID, 0)
	if err != nil {
		return err
	}
	if len(list.Open) > 0 {
		ticks := make([]types.TradeTick, 0, len(list.Open))
		for _, open := range list.Open {
			ticks = append(ticks, types.TradeTick{
				TradeID:       open.TradeID,
				CurrentPrice:  candle.Close,
				ProfitLossPct: money.PctChange(open.BuyPrice, candle.Close),
			})
		}
		if _, err := d.store.UpdateOpenTrades(ctx, ticks); err != nil {
			return err
		}
		d.events.Publish(types.Event{Name: types.EventTradesUpdated, Payload: nil})
	}

	// Take-profit and stop-loss fire before the indicator verdict.
	forced := make([]types.OpenTrade, 0)
	remaining := make([]types.OpenTrade, 0, len(list.Open))
	for _, open := range list.Open {
		if (open.TakeProfit > 0 && candle.Close >= open.TakeProfit) ||
			(open.StopLoss > 0 && candle.Close <= open.StopLoss) {
			forced = append(forced, open)
			continue
		}
		remaining = append(remaining, open)
	}
	if len(forced) > 0 {
		if err := d.exit(ctx, run, candle, forced); err != nil {
			return err
		}
	}

	switch d.eval.Evaluate(closes) {
	case Buy:
		if len(remaining) == 0 && len(forced) == 0 {
			if err := d.enter(ctx, run, candle); err != nil {
				return err
			}
		}
	case Sell:
		if len(remaining) > 0 {
			if err := d.exit(ctx, run, candle, remaining); err != nil {
				return err
			}
		}
	}

	return d.settle(ctx, run, candle)
}

func (d *Driver) enter(ctx context.Context, run *runState, candle Candle) error {
	investment := run.available * d.cfg.PositionFraction
	if investment <= 0 || candle.Close <= 0 {
		return nil
	}
	qty := investment / candle.Close
	_, err := d.store.OpenTrade(ctx, types.NewTrade{
		BacktestID:      run.backtestID,
		Ticker:          d.cfg.Symbol,
		BuyDate:         candle.Date,
		ShareQty:        qty,
		InvestmentTotal: investment,
		BuyPrice:        candle.Close,
		CurrentPrice:    candle.Close,
	})
	if err != nil {
		return err
	}
	run.available -= investment
	d.events.Publish(types.Event{Name: types.EventTradesUpdated, Payload: nil})
	logger.Debugf("driver entered %s: qty=%.4f price=%.2f", d.cfg.Symbol, qty, candle.Close)
	return nil
}

func (d *Driver) exit(ctx context.Context, run *runState, candle Candle, open []types.OpenTrade) error {
	closesReq := make([]types.TradeClose, 0, len(open))
	for _, o := range open {
		closesReq = append(closesReq, types.TradeClose{
			TradeID:   o.TradeID,
			SellDate:  candle.Date,
			SellPrice: candle.Close,
		})
		run.available += o.ShareQty * candle.Close
	}
	if err := d.store.CloseTrades(ctx, closesReq); err != nil {
		return err
	}
	d.events.Publish(types.Event{Name: types.EventTradesUpdated, Payload: nil})
	logger.Debugf("driver exited %d position(s) at %.2f", len(open), candle.Close)
	return nil
}

// settle recomputes the marked-to-market totals for the bar and pushes
// them through the controller so observers see the same numbers the
// ledger does.
func (d *Driver) settle(ctx context.Context, run *runState, candle Candle) error {
	list, err := d.store.ListTrades(ctx, run.backtestID, 0)
	if err != nil {
		return err
	}
	equity := run.available
	for _, open := range list.Open {
		equity += open.ShareQty * candle.Close
	}
	run.lastEquity = equity

	totalPL := equity - run.start
	totalPLPct := 0.0
	if run.start > 0 {
		totalPLPct = 100 * totalPL / run.start
	}
	run.graphDates = append(run.graphDates, candle.Date.Format("2006-01-02"))
	run.graphValues = append(run.graphValues, totalPL)
	graph, err := json.Marshal(map[string]any{
		"dates":  run.graphDates,
		"values": run.graphValues,
	})
	if err != nil {
		return err
	}
	_, err = d.ctrl.UpdateBalances(ctx, types.BalanceUpdate{
		TotalBalance:         equity,
		AvailableBalance:     run.available,
		TotalProfitLoss:      totalPL,
		TotalProfitLossPct:   totalPLPct,
		TotalProfitLossGraph: graph,
	})
	return err
}
