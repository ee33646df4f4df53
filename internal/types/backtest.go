package types

import (
	"encoding/json"
	"time"
)

// BacktestProperties is the scalar state of the single active backtest
// run. Exactly one row may have Active=true at a time; SuccessRate is
// derived from the closed-trade set and cached here.
type BacktestProperties struct {
	BacktestID           string          `json:"backtest_id"`
	StrategyID           *int64          `json:"strategy_id,omitempty"`
	BacktestDate         time.Time       `json:"backtest_date"`
	StartBalance         float64         `json:"start_balance"`
	TotalBalance         float64         `json:"total_balance"`
	AvailableBalance     float64         `json:"available_balance"`
	TotalProfitLoss      float64         `json:"total_profit_loss"`
	TotalProfitLossPct   float64         `json:"total_profit_loss_pct"`
	TotalProfitLossGraph json.RawMessage `json:"total_profit_loss_graph,omitempty"`
	SuccessRate          float64         `json:"success_rate"`
	IsPaused             bool            `json:"is_paused"`
	Active               bool            `json:"active"`
	DatetimeStarted      time.Time       `json:"datetime_started"`
	DatetimeFinished     *time.Time      `json:"datetime_finished,omitempty"`
}

// BalanceUpdate overwrites the scalar metrics in one commit. The
// simulation driver owns the balance arithmetic; the tracker only
// reconciles and rebroadcasts.
type BalanceUpdate struct {
	TotalBalance         float64         `json:"total_balance"`
	AvailableBalance     float64         `json:"available_balance"`
	TotalProfitLoss      float64         `json:"total_profit_loss"`
	TotalProfitLossPct   float64         `json:"total_profit_loss_pct"`
	TotalProfitLossGraph json.RawMessage `json:"total_profit_loss_graph,omitempty"`
}
