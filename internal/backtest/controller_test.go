package backtest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"algotrader/internal/stats"
	"algotrader/internal/store/ledger"
	"algotrader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *eventRecorder) Publish(event types.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

func (r *eventRecorder) last() types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return types.Event{}
	}
	return r.events[len(r.events)-1]
}

type stubDriver struct {
	mu      sync.Mutex
	stopped bool
	closed  bool
}

func (d *stubDriver) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *stubDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func date(s string) time.Time {
	t, _ := time.ParseInLocation("2006-01-02", s, time.UTC)
	return t
}

func newController(t *testing.T) (*Controller, *ledger.Store, *eventRecorder) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	rec := &eventRecorder{}
	ctrl := NewController(store, stats.NewEngine(store), rec, NewSession())
	return ctrl, store, rec
}

func TestInitialiseResetsStateAndBroadcasts(t *testing.T) {
	ctrl, store, rec := newController(t)
	ctx := context.Background()

	// Leftover ledger rows from a previous run must be wiped.
	_, err := store.OpenTrade(ctx, types.NewTrade{
		Ticker: "MSFT", BuyDate: date("2023-12-01"),
		ShareQty: 1, InvestmentTotal: 300, BuyPrice: 300, CurrentPrice: 300,
	})
	require.NoError(t, err)

	props, err := ctrl.Initialise(ctx, date("2024-01-01"), 10000, nil)
	require.NoError(t, err)
	assert.True(t, props.Active)
	assert.False(t, props.IsPaused)
	assert.InDelta(t, 10000, props.TotalBalance, 1e-9)
	assert.InDelta(t, 10000, props.AvailableBalance, 1e-9)
	assert.Zero(t, props.SuccessRate)

	list, err := store.ListTrades(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, list.Open)
	assert.Empty(t, list.Closed)

	assert.Equal(t, []string{types.EventBacktestInitialised}, rec.names())
}

func TestInitialiseRetiresPriorRun(t *testing.T) {
	ctrl, store, _ := newController(t)
	ctx := context.Background()

	first, err := ctrl.Initialise(ctx, date("2024-01-01"), 10000, nil)
	require.NoError(t, err)
	second, err := ctrl.Initialise(ctx, date("2024-06-01"), 5000, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.BacktestID, second.BacktestID)

	retired, err := store.PropertiesByID(ctx, first.BacktestID)
	require.NoError(t, err)
	assert.False(t, retired.Active)

	active, err := ctrl.Properties(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.BacktestID, active.BacktestID)
}

func TestInitialiseValidation(t *testing.T) {
	ctrl, _, rec := newController(t)

	_, err := ctrl.Initialise(context.Background(), time.Time{}, 10000, nil)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = ctrl.Initialise(context.Background(), date("2024-01-01"), -5, nil)
	require.ErrorAs(t, err, &verr)

	assert.Empty(t, rec.names(), "failed operations must not broadcast")
}

func TestAdvanceDateBroadcastsFormattedDate(t *testing.T) {
	ctrl, _, rec := newController(t)
	ctx := context.Background()

	_, err := ctrl.Initialise(ctx, date("2024-01-01"), 10000, nil)
	require.NoError(t, err)

	_, err = ctrl.AdvanceDate(ctx, date("2024-03-09"))
	require.NoError(t, err)

	last := rec.last()
	assert.Equal(t, types.EventDateUpdated, last.Name)
	payload, ok := last.Payload.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "09/03/2024", payload["backtest_date"])
}

func TestUpdateBalancesRecomputesSuccessRate(t *testing.T) {
	ctrl, store, rec := newController(t)
	ctx := context.Background()

	props, err := ctrl.Initialise(ctx, date("2024-01-01"), 10000, nil)
	require.NoError(t, err)

	id, err := store.OpenTrade(ctx, types.NewTrade{
		BacktestID: props.BacktestID, Ticker: "AAPL", BuyDate: date("2024-01-02"),
		ShareQty: 10, InvestmentTotal: 1000, BuyPrice: 100, CurrentPrice: 100,
	})
	require.NoError(t, err)
	require.NoError(t, store.CloseTrades(ctx, []types.TradeClose{
		{TradeID: id, SellDate: date("2024-01-05"), SellPrice: 110},
	}))

	updated, err := ctrl.UpdateBalances(ctx, types.BalanceUpdate{
		TotalBalance:       10100,
		AvailableBalance:   10100,
		TotalProfitLoss:    100,
		TotalProfitLossPct: 1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100, updated.SuccessRate, 1e-9)
	assert.Equal(t, types.EventBacktestUpdated, rec.last().Name)
}

func TestPauseEmitsDistinctEvent(t *testing.T) {
	ctrl, _, rec := newController(t)
	ctx := context.Background()

	_, err := ctrl.Initialise(ctx, date("2024-01-01"), 10000, nil)
	require.NoError(t, err)

	require.NoError(t, ctrl.SetPaused(ctx, true))
	last := rec.last()
	assert.Equal(t, types.EventPauseToggled, last.Name)
	payload, ok := last.Payload.(map[string]bool)
	require.True(t, ok)
	assert.True(t, payload["is_paused"])

	props, err := ctrl.Properties(ctx)
	require.NoError(t, err)
	assert.True(t, props.IsPaused)

	require.NoError(t, ctrl.SetPaused(ctx, false))
	props, err = ctrl.Properties(ctx)
	require.NoError(t, err)
	assert.False(t, props.IsPaused)
}

func TestSetAvailabilityDropsDriverLink(t *testing.T) {
	ctrl, _, rec := newController(t)

	driver := &stubDriver{}
	ctrl.Session().Register(driver)
	assert.True(t, ctrl.Session().Available())

	ctrl.SetAvailability(context.Background(), false)
	assert.False(t, ctrl.Session().Available())
	assert.True(t, driver.closed)
	assert.Equal(t, types.EventAvailabilityChanged, rec.last().Name)

	// Clearing again must be harmless.
	ctrl.SetAvailability(context.Background(), false)
}

func TestFinaliseLifecycle(t *testing.T) {
	ctrl, _, rec := newController(t)
	ctx := context.Background()

	t.Run("without initialise reports NotFound", func(t *testing.T) {
		_, err := ctrl.Finalise(ctx)
		var nerr *types.NotFoundError
		require.ErrorAs(t, err, &nerr)
	})

	_, err := ctrl.Initialise(ctx, date("2024-01-01"), 10000, nil)
	require.NoError(t, err)

	t.Run("active run transitions to finished", func(t *testing.T) {
		finished, err := ctrl.Finalise(ctx)
		require.NoError(t, err)
		assert.False(t, finished.Active)
		require.NotNil(t, finished.DatetimeFinished)
		assert.Equal(t, types.EventBacktestFinished, rec.last().Name)
	})

	t.Run("second finalise yields InvalidState", func(t *testing.T) {
		_, err := ctrl.Finalise(ctx)
		var serr *types.InvalidStateError
		require.ErrorAs(t, err, &serr)
	})
}

func TestSessionRegisterSupersedes(t *testing.T) {
	session := NewSession()
	first := &stubDriver{}
	second := &stubDriver{}

	session.Register(first)
	session.Register(second)
	assert.True(t, first.closed, "superseded link must be closed")
	assert.False(t, second.closed)

	stopped, err := session.StopDriver(context.Background())
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.True(t, second.stopped)

	session.Clear()
	session.Clear() // idempotent
	stopped, err = session.StopDriver(context.Background())
	require.NoError(t, err)
	assert.False(t, stopped)
}
