package transporthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algotrader/internal/backtest"
	"algotrader/internal/fanout"
	"algotrader/internal/report"
	"algotrader/internal/stats"
	"algotrader/internal/store/ledger"
	"algotrader/internal/store/strategystore"
	"algotrader/internal/strategy"
	"algotrader/internal/types"
)

const testSchemaYAML = `indicators:
  sma:
    schema:
      type: object
      required: [period]
      properties:
        period:
          type: number
          minimum: 2
`

type harness struct {
	server *Server
	ts     *httptest.Server
	ctrl   *backtest.Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stratStore, err := strategystore.Open(filepath.Join(dir, "strategies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { stratStore.Close() })

	schemaPath := filepath.Join(dir, "indicators.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(testSchemaYAML), 0o644))
	schemas, err := strategy.NewSchemaRegistry(schemaPath)
	require.NoError(t, err)

	hub := fanout.NewHub(func(*http.Request) bool { return true })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	engine := stats.NewEngine(store)
	session := backtest.NewSession()
	ctrl := backtest.NewController(store, engine, hub, session)
	strategies := strategy.NewService(stratStore, schemas, ctrl, session)

	srv, err := NewServer(Config{
		Version:    "test",
		Controller: ctrl,
		Ledger:     store,
		Stats:      engine,
		Strategies: strategies,
		Hub:        hub,
		Reports:    report.NewBuilder(store, engine),
		Events:     hub,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &harness{server: srv, ts: ts, ctrl: ctrl}
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func (h *harness) initialise(t *testing.T) types.BacktestProperties {
	t.Helper()
	resp := h.do(t, http.MethodPut, "/backtest_properties/initialise", map[string]any{
		"backtest_date": "2024-01-01",
		"start_balance": 10000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var props types.BacktestProperties
	decode(t, resp, &props)
	return props
}

func TestRootAndHealth(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var root map[string]string
	decode(t, resp, &root)
	assert.Equal(t, "algotrader", root["service"])

	resp = h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestPropertiesBeforeInitialise(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/backtest_properties", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var envelope map[string]string
	decode(t, resp, &envelope)
	assert.NotEmpty(t, envelope["devErrorMsg"])
	assert.NotEmpty(t, envelope["clientErrorMsg"])
}

func TestInitialiseAndDateRoundTrip(t *testing.T) {
	h := newHarness(t)
	props := h.initialise(t)
	assert.True(t, props.Active)

	resp := h.do(t, http.MethodPatch, "/backtest_properties/date", map[string]any{
		"backtest_date": "2024-03-09",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodGet, "/backtest_properties/date", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var date map[string]string
	decode(t, resp, &date)
	assert.Equal(t, "09/03/2024", date["backtest_date"])
}

func TestInitialiseRejectsMalformedDate(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPut, "/backtest_properties/initialise", map[string]any{
		"backtest_date": "01/01/2024",
		"start_balance": 10000,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope map[string]string
	decode(t, resp, &envelope)
	assert.Contains(t, envelope["devErrorMsg"], "YYYY-MM-DD")
}

func TestAvailableBalanceCannotExceedTotal(t *testing.T) {
	h := newHarness(t)
	h.initialise(t)

	resp := h.do(t, http.MethodPatch, "/backtest_properties/available_balance", map[string]any{
		"available_balance": 999999,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope map[string]string
	decode(t, resp, &envelope)
	assert.NotEmpty(t, envelope["clientErrorMsg"])
}

func TestTradeLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.initialise(t)

	resp := h.do(t, http.MethodPost, "/trades", map[string]any{
		"ticker":           "AAPL",
		"buy_date":         "2024-01-02",
		"share_qty":        10,
		"investment_total": 1000,
		"buy_price":        100,
		"current_price":    100,
		"figure":           map[string]any{"series": []int{1, 2, 3}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]int64
	decode(t, resp, &created)
	tradeID := created["trade_id"]
	require.NotZero(t, tradeID)

	resp = h.do(t, http.MethodPatch, "/trades", []map[string]any{
		{"trade_id": tradeID, "current_price": 105, "profit_loss_pct": 5},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodPut, "/trades/close", []map[string]any{
		{"trade_id": tradeID, "sell_date": "2024-01-05", "sell_price": 110},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodGet, "/trades", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list types.TradeList
	decode(t, resp, &list)
	assert.Empty(t, list.Open)
	require.Len(t, list.Closed, 1)
	assert.InDelta(t, 100, list.Closed[0].ProfitLoss, 1e-9)

	// Closing again must surface the reconciliation failure.
	resp = h.do(t, http.MethodPut, "/trades/close", []map[string]any{
		{"trade_id": tradeID, "sell_date": "2024-01-06", "sell_price": 120},
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestFinaliseTwiceConflicts(t *testing.T) {
	h := newHarness(t)
	h.initialise(t)

	resp := h.do(t, http.MethodPost, "/backtest_properties/finalise", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodPost, "/backtest_properties/finalise", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var envelope map[string]string
	decode(t, resp, &envelope)
	assert.NotEmpty(t, envelope["devErrorMsg"])
}

func TestStrategyCRUDOverHTTP(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/strategies", map[string]any{
		"strategy_name":        "golden cross",
		"technical_analysis":   map[string]any{"sma": map[string]any{"period": 20}},
		"lookback_range_weeks": 12,
		"max_week_period":      4,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created types.Strategy
	decode(t, resp, &created)
	require.NotZero(t, created.StrategyID)

	resp = h.do(t, http.MethodPost, "/strategies", map[string]any{
		"strategy_name":        "bad",
		"technical_analysis":   map[string]any{"sma": map[string]any{"period": 1}},
		"lookback_range_weeks": 12,
		"max_week_period":      4,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodGet, "/strategies", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing map[string][]types.Strategy
	decode(t, resp, &listing)
	assert.Len(t, listing["strategies"], 1)

	resp = h.do(t, http.MethodDelete, "/strategies/9999", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodDelete, "/strategies/"+itoa(created.StrategyID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = h.do(t, http.MethodGet, "/strategies/"+itoa(created.StrategyID), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStatsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.initialise(t)

	resp := h.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary stats.Summary
	decode(t, resp, &summary)
	assert.Zero(t, summary.SuccessRate)

	resp = h.do(t, http.MethodGet, "/stats?since=not-a-date", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestReportEndpointServesHTML(t *testing.T) {
	h := newHarness(t)
	h.initialise(t)

	resp := h.do(t, http.MethodGet, "/backtest_properties/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestDriverWebsocketControlsSession(t *testing.T) {
	h := newHarness(t)
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/driver"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration happens in the handler goroutine after the upgrade.
	require.Eventually(t, func() bool {
		stopped, err := h.ctrl.Session().StopDriver(context.Background())
		return err == nil && stopped
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var event types.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "stop", event.Name)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
