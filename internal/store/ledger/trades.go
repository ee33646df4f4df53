package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"algotrader/internal/pkg/money"
	"algotrader/internal/types"
)

func validateNewTrade(t types.NewTrade) error {
	if strings.TrimSpace(t.Ticker) == "" {
		return &types.ValidationError{Field: "ticker", Reason: "required"}
	}
	if t.BuyDate.IsZero() {
		return &types.ValidationError{Field: "buy_date", Reason: "required"}
	}
	numeric := map[string]float64{
		"share_qty":        t.ShareQty,
		"investment_total": t.InvestmentTotal,
		"buy_price":        t.BuyPrice,
		"current_price":    t.CurrentPrice,
		"take_profit":      t.TakeProfit,
		"stop_loss":        t.StopLoss,
		"profit_loss_pct":  t.ProfitLossPct,
	}
	for field, v := range numeric {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &types.ValidationError{Field: field, Reason: "must be finite"}
		}
	}
	if t.ShareQty <= 0 {
		return &types.ValidationError{Field: "share_qty", Reason: "must be positive"}
	}
	if t.BuyPrice <= 0 {
		return &types.ValidationError{Field: "buy_price", Reason: "must be positive"}
	}
	if t.InvestmentTotal <= 0 {
		return &types.ValidationError{Field: "investment_total", Reason: "must be positive"}
	}
	return nil
}

// OpenTrade validates and inserts a new open position, returning the
// store-assigned trade id.
func (s *Store) OpenTrade(ctx context.Context, t types.NewTrade) (int64, error) {
	if err := validateNewTrade(t); err != nil {
		return 0, err
	}
	figure, err := opaqueParam("figure", t.Figure)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO open_trades
			(backtest_id, ticker, buy_date, share_qty, investment_total, buy_price,
			 current_price, take_profit, stop_loss, figure, profit_loss_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.BacktestID, t.Ticker, encodeDate(t.BuyDate), t.ShareQty, t.InvestmentTotal,
		t.BuyPrice, t.CurrentPrice, t.TakeProfit, t.StopLoss, figure, t.ProfitLossPct)
	if err != nil {
		return 0, storageErr("open trade", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("open trade", err)
	}
	return id, nil
}

// UpdateOpenTrades applies a price-tick batch to the mutable fields of
// each named trade. Ticks referencing unknown ids are skipped and the
// per-item outcome is reported so callers can spot drift.
func (s *Store) UpdateOpenTrades(ctx context.Context, ticks []types.TradeTick) ([]types.TickOutcome, error) {
	outcomes := make([]types.TickOutcome, 0, len(ticks))
	for _, tick := range ticks {
		if tick.TradeID <= 0 {
			return nil, &types.ValidationError{Field: "trade_id", Reason: "must be positive"}
		}
		if math.IsNaN(tick.CurrentPrice) || math.IsInf(tick.CurrentPrice, 0) {
			return nil, &types.ValidationError{Field: "current_price", Reason: "must be finite"}
		}
		var res sql.Result
		var err error
		if len(tick.Figure) > 0 {
			figure, ferr := opaqueParam("figure", tick.Figure)
			if ferr != nil {
				return nil, ferr
			}
			res, err = s.db.ExecContext(ctx, `
				UPDATE open_trades
				SET current_price = ?, profit_loss_pct = ?, figure = ?
				WHERE trade_id = ?`,
				tick.CurrentPrice, tick.ProfitLossPct, figure, tick.TradeID)
		} else {
			res, err = s.db.ExecContext(ctx, `
				UPDATE open_trades
				SET current_price = ?, profit_loss_pct = ?
				WHERE trade_id = ?`,
				tick.CurrentPrice, tick.ProfitLossPct, tick.TradeID)
		}
		if err != nil {
			return nil, storageErr("update open trades", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, storageErr("update open trades", err)
		}
		outcomes = append(outcomes, types.TickOutcome{TradeID: tick.TradeID, Applied: affected > 0})
	}
	return outcomes, nil
}

// CloseTrades moves each referenced trade from the open set to the
// closed set. Each move is one transaction: the closed row insert and
// the open row delete either both commit or neither does. A close for
// a trade that is not in the open set fails with ReconciliationError:
// it means a concurrent close already won.
func (s *Store) CloseTrades(ctx context.Context, closes []types.TradeClose) error {
	for _, c := range closes {
		if err := s.closeOne(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) closeOne(ctx context.Context, c types.TradeClose) error {
	if c.TradeID <= 0 {
		return &types.ValidationError{Field: "trade_id", Reason: "must be positive"}
	}
	if c.SellDate.IsZero() {
		return &types.ValidationError{Field: "sell_date", Reason: "required"}
	}
	if math.IsNaN(c.SellPrice) || math.IsInf(c.SellPrice, 0) {
		return &types.ValidationError{Field: "sell_price", Reason: "must be finite"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("close trade", err)
	}
	defer tx.Rollback()

	var open types.OpenTrade
	var buyDate, figure sql.NullString
	row := tx.QueryRowContext(ctx, `
		SELECT backtest_id, ticker, buy_date, share_qty, investment_total, buy_price,
		       take_profit, stop_loss, figure, profit_loss_pct
		FROM open_trades WHERE trade_id = ?`, c.TradeID)
	err = row.Scan(&open.BacktestID, &open.Ticker, &buyDate, &open.ShareQty,
		&open.InvestmentTotal, &open.BuyPrice, &open.TakeProfit, &open.StopLoss,
		&figure, &open.ProfitLossPct)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.ReconciliationError{TradeID: c.TradeID, Reason: "not in open set (already closed or never opened)"}
	}
	if err != nil {
		return storageErr("close trade", err)
	}

	profitLoss := money.ProfitLoss(open.BuyPrice, c.SellPrice, open.ShareQty)
	if c.ProfitLoss != nil {
		profitLoss = *c.ProfitLoss
	}
	profitLossPct := money.PctChange(open.BuyPrice, c.SellPrice)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO closed_trades
			(trade_id, backtest_id, ticker, buy_date, share_qty, investment_total, buy_price,
			 sell_date, sell_price, profit_loss, profit_loss_pct, take_profit, stop_loss, figure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TradeID, open.BacktestID, open.Ticker, buyDate.String, open.ShareQty,
		open.InvestmentTotal, open.BuyPrice, encodeDate(c.SellDate), c.SellPrice,
		profitLoss, profitLossPct, open.TakeProfit, open.StopLoss, nullIfEmpty(figure)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: closed_trades.trade_id") {
			return &types.ReconciliationError{TradeID: c.TradeID, Reason: "already present in closed set"}
		}
		return storageErr("close trade", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM open_trades WHERE trade_id = ?`, c.TradeID)
	if err != nil {
		return storageErr("close trade", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("close trade", err)
	}
	if affected != 1 {
		return &types.ReconciliationError{TradeID: c.TradeID, Reason: fmt.Sprintf("open row delete affected %d rows", affected)}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("close trade", err)
	}
	return nil
}

func nullIfEmpty(s sql.NullString) interface{} {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil
	}
	return s.String
}

// ListTrades returns every open trade plus the most recent closed
// trades, newest sell date first with insertion order as tie-break.
func (s *Store) ListTrades(ctx context.Context, backtestID string, limit int) (types.TradeList, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	open, err := s.listOpen(ctx, backtestID)
	if err != nil {
		return types.TradeList{}, err
	}
	closed, err := s.listClosed(ctx, backtestID, limit)
	if err != nil {
		return types.TradeList{}, err
	}
	return types.TradeList{Open: open, Closed: closed}, nil
}

func (s *Store) listOpen(ctx context.Context, backtestID string) ([]types.OpenTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, backtest_id, ticker, buy_date, share_qty, investment_total,
		       buy_price, current_price, take_profit, stop_loss, figure, profit_loss_pct
		FROM open_trades
		WHERE backtest_id = ? OR ? = ''
		ORDER BY trade_id ASC`, backtestID, backtestID)
	if err != nil {
		return nil, storageErr("list open trades", err)
	}
	defer rows.Close()
	var out []types.OpenTrade
	for rows.Next() {
		var t types.OpenTrade
		var buyDate string
		var figure sql.NullString
		if err := rows.Scan(&t.TradeID, &t.BacktestID, &t.Ticker, &buyDate, &t.ShareQty,
			&t.InvestmentTotal, &t.BuyPrice, &t.CurrentPrice, &t.TakeProfit, &t.StopLoss,
			&figure, &t.ProfitLossPct); err != nil {
			return nil, storageErr("list open trades", err)
		}
		t.BuyDate = decodeDate(buyDate)
		t.Figure = opaqueFromColumn(figure.String)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) listClosed(ctx context.Context, backtestID string, limit int) ([]types.ClosedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, backtest_id, ticker, buy_date, share_qty, investment_total,
		       buy_price, sell_date, sell_price, profit_loss, profit_loss_pct,
		       take_profit, stop_loss, figure
		FROM closed_trades
		WHERE backtest_id = ? OR ? = ''
		ORDER BY sell_date DESC, id DESC
		LIMIT ?`, backtestID, backtestID, limit)
	if err != nil {
		return nil, storageErr("list closed trades", err)
	}
	defer rows.Close()
	return scanClosedRows(rows)
}

// ClosedTrades returns the closed set for a backtest with sell date on
// or after since; a zero since returns everything. Used by the stats
// engine.
func (s *Store) ClosedTrades(ctx context.Context, backtestID string, since time.Time) ([]types.ClosedTrade, error) {
	sinceStr := ""
	if !since.IsZero() {
		sinceStr = encodeDate(since)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, backtest_id, ticker, buy_date, share_qty, investment_total,
		       buy_price, sell_date, sell_price, profit_loss, profit_loss_pct,
		       take_profit, stop_loss, figure
		FROM closed_trades
		WHERE (backtest_id = ? OR ? = '') AND (sell_date >= ? OR ? = '')
		ORDER BY sell_date ASC, id ASC`, backtestID, backtestID, sinceStr, sinceStr)
	if err != nil {
		return nil, storageErr("query closed trades", err)
	}
	defer rows.Close()
	return scanClosedRows(rows)
}

// ClosedCounts returns winner (profit_loss >= 0) and total counts over
// the full closed set of the backtest.
func (s *Store) ClosedCounts(ctx context.Context, backtestID string) (winners, total int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN profit_loss >= 0 THEN 1 ELSE 0 END), 0)
		FROM closed_trades
		WHERE backtest_id = ? OR ? = ''`, backtestID, backtestID)
	if err := row.Scan(&total, &winners); err != nil {
		return 0, 0, storageErr("count closed trades", err)
	}
	return winners, total, nil
}

func scanClosedRows(rows *sql.Rows) ([]types.ClosedTrade, error) {
	var out []types.ClosedTrade
	for rows.Next() {
		var t types.ClosedTrade
		var buyDate, sellDate string
		var figure sql.NullString
		if err := rows.Scan(&t.TradeID, &t.BacktestID, &t.Ticker, &buyDate, &t.ShareQty,
			&t.InvestmentTotal, &t.BuyPrice, &sellDate, &t.SellPrice, &t.ProfitLoss,
			&t.ProfitLossPct, &t.TakeProfit, &t.StopLoss, &figure); err != nil {
			return nil, storageErr("scan closed trades", err)
		}
		t.BuyDate = decodeDate(buyDate)
		t.SellDate = decodeDate(sellDate)
		t.Figure = opaqueFromColumn(figure.String)
		out = append(out, t)
	}
	return out, rows.Err()
}
