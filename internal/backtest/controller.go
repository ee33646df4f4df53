package backtest

import (
	"context"
	"math"
	"sync"
	"time"

	"algotrader/internal/logger"
	"algotrader/internal/stats"
	"algotrader/internal/store/ledger"
	"algotrader/internal/types"

	"github.com/google/uuid"
)

// broadcastDateLayout matches what the dashboard has always rendered.
const broadcastDateLayout = "02/01/2006"

// Controller owns the coarse backtest state machine
// (Uninitialized → Active(running) ⇄ Active(paused) → Finished) and
// serializes lifecycle mutations. It is a reconciliation sink for
// balances: the simulation driver owns the arithmetic, the controller
// commits, recomputes the cached success rate and rebroadcasts.
type Controller struct {
	mu      sync.Mutex
	store   *ledger.Store
	stats   *stats.Engine
	events  types.Publisher
	session *Session
}

func NewController(store *ledger.Store, engine *stats.Engine, events types.Publisher, session *Session) *Controller {
	if events == nil {
		events = types.PublisherFunc(func(types.Event) {})
	}
	return &Controller{store: store, stats: engine, events: events, session: session}
}

func (c *Controller) Session() *Session { return c.session }

// Initialise starts a fresh Active(running) backtest: any unfinished
// run is retired, the ledger is truncated and every scalar metric is
// reset. Emits a full-state broadcast on success.
func (c *Controller) Initialise(ctx context.Context, startDate time.Time, startBalance float64, strategyID *int64) (types.BacktestProperties, error) {
	if startDate.IsZero() {
		return types.BacktestProperties{}, &types.ValidationError{Field: "backtest_date", Reason: "required"}
	}
	if math.IsNaN(startBalance) || math.IsInf(startBalance, 0) || startBalance <= 0 {
		return types.BacktestProperties{}, &types.ValidationError{Field: "start_balance", Reason: "must be a positive finite number"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.ResetLedger(ctx); err != nil {
		return types.BacktestProperties{}, err
	}
	props := types.BacktestProperties{
		BacktestID:       uuid.NewString(),
		StrategyID:       strategyID,
		BacktestDate:     startDate,
		StartBalance:     startBalance,
		TotalBalance:     startBalance,
		AvailableBalance: startBalance,
		Active:           true,
		DatetimeStarted:  time.Now(),
	}
	if err := c.store.InsertProperties(ctx, props); err != nil {
		return types.BacktestProperties{}, err
	}
	stored, err := c.store.PropertiesByID(ctx, props.BacktestID)
	if err != nil {
		return types.BacktestProperties{}, err
	}
	logger.Infof("backtest %s initialised: start=%s balance=%.2f", stored.BacktestID, startDate.Format("2006-01-02"), startBalance)
	c.events.Publish(types.Event{Name: types.EventBacktestInitialised, Payload: stored})
	return stored, nil
}

// Properties returns the active run's state.
func (c *Controller) Properties(ctx context.Context) (types.BacktestProperties, error) {
	return c.store.ActiveProperties(ctx)
}

// AdvanceDate moves the simulation-clock cursor. Balance recompute is
// deliberately not triggered here; the driver follows up with its own
// balance update.
func (c *Controller) AdvanceDate(ctx context.Context, newDate time.Time) (types.BacktestProperties, error) {
	if newDate.IsZero() {
		return types.BacktestProperties{}, &types.ValidationError{Field: "backtest_date", Reason: "required"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.store.ActiveProperties(ctx)
	if err != nil {
		return types.BacktestProperties{}, err
	}
	if err := c.store.SetDate(ctx, active.BacktestID, newDate); err != nil {
		return types.BacktestProperties{}, err
	}
	active.BacktestDate = newDate
	c.events.Publish(types.Event{
		Name:    types.EventDateUpdated,
		Payload: map[string]string{"backtest_date": newDate.Format(broadcastDateLayout)},
	})
	return active, nil
}

// UpdateBalances overwrites the scalar metrics; the success rate is
// recomputed from the closed set inside the same storage commit.
func (c *Controller) UpdateBalances(ctx context.Context, upd types.BalanceUpdate) (types.BacktestProperties, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.store.ActiveProperties(ctx)
	if err != nil {
		return types.BacktestProperties{}, err
	}
	updated, err := c.store.UpdateBalances(ctx, active.BacktestID, upd)
	if err != nil {
		return types.BacktestProperties{}, err
	}
	c.events.Publish(types.Event{Name: types.EventBacktestUpdated, Payload: updated})
	return updated, nil
}

// SetAvailableBalance adjusts only the spendable balance.
func (c *Controller) SetAvailableBalance(ctx context.Context, available float64) (types.BacktestProperties, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.store.ActiveProperties(ctx)
	if err != nil {
		return types.BacktestProperties{}, err
	}
	if err := c.store.SetAvailableBalance(ctx, active.BacktestID, available); err != nil {
		return types.BacktestProperties{}, err
	}
	updated, err := c.store.PropertiesByID(ctx, active.BacktestID)
	if err != nil {
		return types.BacktestProperties{}, err
	}
	c.events.Publish(types.Event{Name: types.EventBacktestUpdated, Payload: updated})
	return updated, nil
}

// SetPaused toggles Active(running) ⇄ Active(paused). The pause event
// is distinct from the general update so UI layers can react
// differently.
func (c *Controller) SetPaused(ctx context.Context, paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.store.ActiveProperties(ctx)
	if err != nil {
		return err
	}
	if err := c.store.SetPaused(ctx, active.BacktestID, paused); err != nil {
		return err
	}
	c.events.Publish(types.Event{
		Name:    types.EventPauseToggled,
		Payload: map[string]bool{"is_paused": paused},
	})
	return nil
}

// SetAvailability flips the driver-availability flag. Marking the
// driver unavailable also drops the live control-channel reference,
// which is no longer trusted to respond.
func (c *Controller) SetAvailability(_ context.Context, available bool) {
	if c.session != nil {
		c.session.SetAvailable(available)
		if !available {
			c.session.Clear()
		}
	}
	c.events.Publish(types.Event{
		Name:    types.EventAvailabilityChanged,
		Payload: map[string]bool{"available": available},
	})
}

// Finalise terminates the active run: stamps datetime_finished, clears
// the active flag. Calling it again yields InvalidStateError.
func (c *Controller) Finalise(ctx context.Context) (types.BacktestProperties, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest, err := c.store.LatestProperties(ctx)
	if err != nil {
		return types.BacktestProperties{}, err
	}
	if !latest.Active {
		return types.BacktestProperties{}, &types.InvalidStateError{Op: "finalise", State: "finished"}
	}
	if err := c.store.Finalise(ctx, latest.BacktestID, time.Now()); err != nil {
		return types.BacktestProperties{}, err
	}
	finished, err := c.store.PropertiesByID(ctx, latest.BacktestID)
	if err != nil {
		return types.BacktestProperties{}, err
	}
	logger.Infof("backtest %s finalised", finished.BacktestID)
	c.events.Publish(types.Event{Name: types.EventBacktestFinished, Payload: finished})
	return finished, nil
}
