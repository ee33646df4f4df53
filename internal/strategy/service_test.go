package strategy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"algotrader/internal/store/strategystore"
	"algotrader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemaYAML = `indicators:
  sma:
    description: Simple moving average crossover
    schema:
      type: object
      required: [period]
      properties:
        period:
          type: number
          minimum: 2
      additionalProperties: false
  rsi:
    description: Relative strength index bands
    schema:
      type: object
      required: [period, oversold, overbought]
      properties:
        period:
          type: number
          minimum: 2
        oversold:
          type: number
        overbought:
          type: number
`

func writeSchemaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "indicators.yaml")
	require.NoError(t, os.WriteFile(path, []byte(schemaYAML), 0o644))
	return path
}

type stubRun struct {
	props types.BacktestProperties
	err   error
}

func (r *stubRun) Properties(context.Context) (types.BacktestProperties, error) {
	return r.props, r.err
}

type stubSignaler struct {
	mu    sync.Mutex
	calls int
}

func (d *stubSignaler) StopDriver(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return true, nil
}

func (d *stubSignaler) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newService(t *testing.T, run ActiveRun, driver DriverSignaler) (*Service, *strategystore.Store) {
	t.Helper()
	store, err := strategystore.Open(filepath.Join(t.TempDir(), "strategies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	schemas, err := NewSchemaRegistry(writeSchemaFile(t))
	require.NoError(t, err)
	return NewService(store, schemas, run, driver), store
}

func validStrategy() types.Strategy {
	return types.Strategy{
		StrategyName:       "golden cross",
		TechnicalAnalysis:  json.RawMessage(`{"sma":{"period":20}}`),
		LookbackRangeWeeks: 12,
		MaxWeekPeriod:      4,
	}
}

func TestSchemaRegistryValidatesIndicators(t *testing.T) {
	reg, err := NewSchemaRegistry(writeSchemaFile(t))
	require.NoError(t, err)

	t.Run("known indicator passes", func(t *testing.T) {
		assert.NoError(t, reg.ValidateAnalysis(json.RawMessage(`{"sma":{"period":20}}`)))
	})

	t.Run("numeric strings are coerced", func(t *testing.T) {
		assert.NoError(t, reg.ValidateAnalysis(json.RawMessage(`{"sma":{"period":"20"}}`)))
	})

	t.Run("unknown indicator fails", func(t *testing.T) {
		err := reg.ValidateAnalysis(json.RawMessage(`{"macd":{"fast":12}}`))
		var verr *types.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("schema violation fails", func(t *testing.T) {
		err := reg.ValidateAnalysis(json.RawMessage(`{"sma":{"period":1}}`))
		var verr *types.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "technical_analysis.sma", verr.Field)
	})

	t.Run("missing required parameter fails", func(t *testing.T) {
		err := reg.ValidateAnalysis(json.RawMessage(`{"rsi":{"period":14}}`))
		var verr *types.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("empty document passes", func(t *testing.T) {
		assert.NoError(t, reg.ValidateAnalysis(nil))
	})
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	svc, _ := newService(t, nil, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, validStrategy())
	require.NoError(t, err)
	assert.NotZero(t, created.StrategyID)

	got, err := svc.Get(ctx, created.StrategyID)
	require.NoError(t, err)
	assert.Equal(t, "golden cross", got.StrategyName)
	assert.JSONEq(t, `{"sma":{"period":20}}`, string(got.TechnicalAnalysis))
	assert.Equal(t, 12, got.LookbackRangeWeeks)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t, nil, nil)
	ctx := context.Background()
	var verr *types.ValidationError

	blank := validStrategy()
	blank.StrategyName = "  "
	_, err := svc.Create(ctx, blank)
	require.ErrorAs(t, err, &verr)

	badLookback := validStrategy()
	badLookback.LookbackRangeWeeks = 0
	_, err = svc.Create(ctx, badLookback)
	require.ErrorAs(t, err, &verr)

	badAnalysis := validStrategy()
	badAnalysis.TechnicalAnalysis = json.RawMessage(`{"sma":{"period":0}}`)
	_, err = svc.Create(ctx, badAnalysis)
	require.ErrorAs(t, err, &verr)
}

func TestCreateDuplicateNameRejected(t *testing.T) {
	svc, _ := newService(t, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, validStrategy())
	require.NoError(t, err)
	_, err = svc.Create(ctx, validStrategy())
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "strategy_name", verr.Field)
}

func TestUpdatePersistsNewDefinition(t *testing.T) {
	svc, _ := newService(t, nil, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, validStrategy())
	require.NoError(t, err)

	created.StrategyName = "golden cross v2"
	created.TechnicalAnalysis = json.RawMessage(`{"rsi":{"period":14,"oversold":30,"overbought":70}}`)
	updated, err := svc.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "golden cross v2", updated.StrategyName)
	assert.JSONEq(t, `{"rsi":{"period":14,"oversold":30,"overbought":70}}`, string(updated.TechnicalAnalysis))

	missing := validStrategy()
	missing.StrategyID = 9999
	missing.StrategyName = "ghost"
	_, err = svc.Update(ctx, missing)
	var nerr *types.NotFoundError
	require.ErrorAs(t, err, &nerr)
}

// orderedSignaler re-fetches its strategy at stop time so the test can
// tell whether the signal arrived before or after the row was deleted.
type orderedSignaler struct {
	store *strategystore.Store
	id    int64

	mu              sync.Mutex
	calls           int
	presentAtSignal bool
}

func (d *orderedSignaler) StopDriver(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	_, err := d.store.Get(ctx, d.id)
	d.presentAtSignal = err == nil
	return true, nil
}

func TestDeleteSignalsDriverForReferencedStrategy(t *testing.T) {
	run := &stubRun{}
	driver := &orderedSignaler{}
	svc, store := newService(t, run, driver)
	driver.store = store
	ctx := context.Background()

	created, err := svc.Create(ctx, validStrategy())
	require.NoError(t, err)
	other, err := svc.Create(ctx, types.Strategy{
		StrategyName: "mean reversion", LookbackRangeWeeks: 8, MaxWeekPeriod: 2,
	})
	require.NoError(t, err)

	driver.id = created.StrategyID
	run.props = types.BacktestProperties{StrategyID: &created.StrategyID, Active: true}

	require.NoError(t, svc.Delete(ctx, other.StrategyID))
	assert.Zero(t, driver.calls, "unreferenced strategy must not signal the driver")

	require.NoError(t, svc.Delete(ctx, created.StrategyID))
	assert.Equal(t, 1, driver.calls)
	assert.True(t, driver.presentAtSignal,
		"driver must be stopped while its strategy still exists")

	_, err = svc.Get(ctx, created.StrategyID)
	var nerr *types.NotFoundError
	require.ErrorAs(t, err, &nerr)
}

func TestDeleteUnknownStrategy(t *testing.T) {
	driver := &stubSignaler{}
	svc, _ := newService(t, &stubRun{}, driver)

	err := svc.Delete(context.Background(), 404)
	var nerr *types.NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.Zero(t, driver.count())
}

func TestDeleteWithoutActiveRun(t *testing.T) {
	driver := &stubSignaler{}
	run := &stubRun{err: &types.NotFoundError{Entity: "backtest", ID: "active"}}
	svc, _ := newService(t, run, driver)
	ctx := context.Background()

	created, err := svc.Create(ctx, validStrategy())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, created.StrategyID))
	assert.Zero(t, driver.count())
}

func TestListOrdersByID(t *testing.T) {
	svc, _ := newService(t, nil, nil)
	ctx := context.Background()

	first, err := svc.Create(ctx, validStrategy())
	require.NoError(t, err)
	second, err := svc.Create(ctx, types.Strategy{
		StrategyName: "breakout", LookbackRangeWeeks: 6, MaxWeekPeriod: 3,
	})
	require.NoError(t, err)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.StrategyID, all[0].StrategyID)
	assert.Equal(t, second.StrategyID, all[1].StrategyID)
}
