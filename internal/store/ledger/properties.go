package ledger

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"algotrader/internal/types"
)

// InsertProperties writes the row for a freshly initialised backtest.
// Any previously active run is retired in the same transaction, so at
// most one row carries active=1.
func (s *Store) InsertProperties(ctx context.Context, p types.BacktestProperties) error {
	graph, err := opaqueParam("total_profit_loss_graph", p.TotalProfitLossGraph)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("insert properties", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
		UPDATE backtest_properties
		SET active = 0, datetime_finished = ?
		WHERE active = 1`, time.Now().UnixMilli()); err != nil {
		return storageErr("insert properties", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO backtest_properties
			(backtest_id, strategy_id, backtest_date, start_balance, total_balance,
			 available_balance, total_profit_loss, total_profit_loss_pct,
			 total_profit_loss_graph, success_rate, is_paused, active,
			 datetime_started, datetime_finished)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, NULL)`,
		p.BacktestID, nullableID(p.StrategyID), encodeDate(p.BacktestDate),
		p.StartBalance, p.TotalBalance, p.AvailableBalance, p.TotalProfitLoss,
		p.TotalProfitLossPct, graph, p.SuccessRate,
		boolToInt(p.IsPaused), p.DatetimeStarted.UnixMilli()); err != nil {
		return storageErr("insert properties", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("insert properties", err)
	}
	return nil
}

func nullableID(id *int64) interface{} {
	if id == nil || *id <= 0 {
		return nil
	}
	return *id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ActiveProperties returns the single active backtest row, or
// NotFoundError when no backtest has been initialised.
func (s *Store) ActiveProperties(ctx context.Context) (types.BacktestProperties, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT backtest_id, strategy_id, backtest_date, start_balance, total_balance,
		       available_balance, total_profit_loss, total_profit_loss_pct,
		       total_profit_loss_graph, success_rate, is_paused, active,
		       datetime_started, datetime_finished
		FROM backtest_properties
		WHERE active = 1
		ORDER BY datetime_started DESC
		LIMIT 1`)
	return scanProperties(row)
}

// LatestProperties returns the most recent run regardless of whether
// it has finished.
func (s *Store) LatestProperties(ctx context.Context) (types.BacktestProperties, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT backtest_id, strategy_id, backtest_date, start_balance, total_balance,
		       available_balance, total_profit_loss, total_profit_loss_pct,
		       total_profit_loss_graph, success_rate, is_paused, active,
		       datetime_started, datetime_finished
		FROM backtest_properties
		ORDER BY datetime_started DESC
		LIMIT 1`)
	return scanProperties(row)
}

// PropertiesByID looks a run up regardless of active state.
func (s *Store) PropertiesByID(ctx context.Context, backtestID string) (types.BacktestProperties, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT backtest_id, strategy_id, backtest_date, start_balance, total_balance,
		       available_balance, total_profit_loss, total_profit_loss_pct,
		       total_profit_loss_graph, success_rate, is_paused, active,
		       datetime_started, datetime_finished
		FROM backtest_properties
		WHERE backtest_id = ?`, backtestID)
	return scanProperties(row)
}

func scanProperties(row *sql.Row) (types.BacktestProperties, error) {
	var p types.BacktestProperties
	var strategyID sql.NullInt64
	var date string
	var graph sql.NullString
	var isPaused, active int
	var started int64
	var finished sql.NullInt64
	err := row.Scan(&p.BacktestID, &strategyID, &date, &p.StartBalance, &p.TotalBalance,
		&p.AvailableBalance, &p.TotalProfitLoss, &p.TotalProfitLossPct, &graph,
		&p.SuccessRate, &isPaused, &active, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return types.BacktestProperties{}, &types.NotFoundError{Entity: "backtest", ID: "active"}
	}
	if err != nil {
		return types.BacktestProperties{}, storageErr("read properties", err)
	}
	if strategyID.Valid {
		p.StrategyID = &strategyID.Int64
	}
	p.BacktestDate = decodeDate(date)
	p.TotalProfitLossGraph = opaqueFromColumn(graph.String)
	p.IsPaused = isPaused != 0
	p.Active = active != 0
	p.DatetimeStarted = timeFromMillis(started)
	if finished.Valid {
		t := timeFromMillis(finished.Int64)
		p.DatetimeFinished = &t
	}
	return p, nil
}

// SetDate advances the simulation-clock cursor.
func (s *Store) SetDate(ctx context.Context, backtestID string, date time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtest_properties SET backtest_date = ?
		WHERE backtest_id = ?`, encodeDate(date), backtestID)
	if err != nil {
		return storageErr("set date", err)
	}
	return requireRow(res, backtestID)
}

// SetAvailableBalance updates only the spendable balance, guarding the
// available ≤ total invariant.
func (s *Store) SetAvailableBalance(ctx context.Context, backtestID string, available float64) error {
	if math.IsNaN(available) || math.IsInf(available, 0) {
		return &types.ValidationError{Field: "available_balance", Reason: "must be finite"}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtest_properties SET available_balance = ?
		WHERE backtest_id = ? AND ? <= total_balance`,
		available, backtestID, available)
	if err != nil {
		return storageErr("set available balance", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("set available balance", err)
	}
	if affected == 0 {
		if _, lookupErr := s.PropertiesByID(ctx, backtestID); lookupErr != nil {
			return lookupErr
		}
		return &types.ValidationError{Field: "available_balance", Reason: "cannot exceed total balance"}
	}
	return nil
}

// UpdateBalances overwrites the scalar metrics and recomputes
// success_rate from the closed set inside the same transaction, so the
// cached rate is never stale relative to the committed balances.
func (s *Store) UpdateBalances(ctx context.Context, backtestID string, upd types.BalanceUpdate) (types.BacktestProperties, error) {
	for field, v := range map[string]float64{
		"total_balance":         upd.TotalBalance,
		"available_balance":     upd.AvailableBalance,
		"total_profit_loss":     upd.TotalProfitLoss,
		"total_profit_loss_pct": upd.TotalProfitLossPct,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.BacktestProperties{}, &types.ValidationError{Field: field, Reason: "must be finite"}
		}
	}
	if upd.AvailableBalance > upd.TotalBalance {
		return types.BacktestProperties{}, &types.ValidationError{Field: "available_balance", Reason: "cannot exceed total balance"}
	}
	graph, err := opaqueParam("total_profit_loss_graph", upd.TotalProfitLossGraph)
	if err != nil {
		return types.BacktestProperties{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.BacktestProperties{}, storageErr("update balances", err)
	}
	defer tx.Rollback()

	var total, winners int
	row := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN profit_loss >= 0 THEN 1 ELSE 0 END), 0)
		FROM closed_trades
		WHERE backtest_id = ? OR ? = ''`, backtestID, backtestID)
	if err := row.Scan(&total, &winners); err != nil {
		return types.BacktestProperties{}, storageErr("update balances", err)
	}
	successRate := 0.0
	if total > 0 {
		successRate = 100 * float64(winners) / float64(total)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE backtest_properties
		SET total_balance = ?, available_balance = ?, total_profit_loss = ?,
		    total_profit_loss_pct = ?, total_profit_loss_graph = ?, success_rate = ?
		WHERE backtest_id = ?`,
		upd.TotalBalance, upd.AvailableBalance, upd.TotalProfitLoss,
		upd.TotalProfitLossPct, graph, successRate, backtestID)
	if err != nil {
		return types.BacktestProperties{}, storageErr("update balances", err)
	}
	if err := requireRow(res, backtestID); err != nil {
		return types.BacktestProperties{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.BacktestProperties{}, storageErr("update balances", err)
	}
	return s.PropertiesByID(ctx, backtestID)
}

// SetPaused toggles the pause flag.
func (s *Store) SetPaused(ctx context.Context, backtestID string, paused bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtest_properties SET is_paused = ?
		WHERE backtest_id = ?`, boolToInt(paused), backtestID)
	if err != nil {
		return storageErr("set paused", err)
	}
	return requireRow(res, backtestID)
}

// Finalise stamps datetime_finished and clears the active flag. The
// WHERE clause enforces the Active→Finished transition; zero affected
// rows on an existing run means it was already finished.
func (s *Store) Finalise(ctx context.Context, backtestID string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtest_properties
		SET active = 0, datetime_finished = ?
		WHERE backtest_id = ? AND active = 1`,
		finishedAt.UnixMilli(), backtestID)
	if err != nil {
		return storageErr("finalise", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("finalise", err)
	}
	if affected == 0 {
		if _, lookupErr := s.PropertiesByID(ctx, backtestID); lookupErr != nil {
			return lookupErr
		}
		return &types.InvalidStateError{Op: "finalise", State: "finished"}
	}
	return nil
}
