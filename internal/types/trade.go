package types

import (
	"encoding/json"
	"time"
)

// OpenTrade is a position bought but not yet sold within the current
// backtest. CurrentPrice, ProfitLossPct and Figure are the only fields
// that change after insertion.
type OpenTrade struct {
	TradeID         int64           `json:"trade_id"`
	BacktestID      string          `json:"backtest_id,omitempty"`
	Ticker          string          `json:"ticker"`
	BuyDate         time.Time       `json:"buy_date"`
	ShareQty        float64         `json:"share_qty"`
	InvestmentTotal float64         `json:"investment_total"`
	BuyPrice        float64         `json:"buy_price"`
	CurrentPrice    float64         `json:"current_price"`
	TakeProfit      float64         `json:"take_profit"`
	StopLoss        float64         `json:"stop_loss"`
	Figure          json.RawMessage `json:"figure,omitempty"`
	ProfitLossPct   float64         `json:"profit_loss_pct"`
}

// ClosedTrade is the immutable record written when an open trade is
// sold. It carries every open field plus the sell leg.
type ClosedTrade struct {
	TradeID         int64           `json:"trade_id"`
	BacktestID      string          `json:"backtest_id,omitempty"`
	Ticker          string          `json:"ticker"`
	BuyDate         time.Time       `json:"buy_date"`
	ShareQty        float64         `json:"share_qty"`
	InvestmentTotal float64         `json:"investment_total"`
	BuyPrice        float64         `json:"buy_price"`
	SellDate        time.Time       `json:"sell_date"`
	SellPrice       float64         `json:"sell_price"`
	ProfitLoss      float64         `json:"profit_loss"`
	ProfitLossPct   float64         `json:"profit_loss_pct"`
	TakeProfit      float64         `json:"take_profit"`
	StopLoss        float64         `json:"stop_loss"`
	Figure          json.RawMessage `json:"figure,omitempty"`
}

// NewTrade is the validated input for opening a position. The store
// assigns the trade id.
type NewTrade struct {
	BacktestID      string          `json:"backtest_id"`
	Ticker          string          `json:"ticker"`
	BuyDate         time.Time       `json:"buy_date"`
	ShareQty        float64         `json:"share_qty"`
	InvestmentTotal float64         `json:"investment_total"`
	BuyPrice        float64         `json:"buy_price"`
	CurrentPrice    float64         `json:"current_price"`
	TakeProfit      float64         `json:"take_profit"`
	StopLoss        float64         `json:"stop_loss"`
	Figure          json.RawMessage `json:"figure"`
	ProfitLossPct   float64         `json:"profit_loss_pct"`
}

// TradeTick is one entry of a price-tick batch applied to an open
// trade's mutable fields.
type TradeTick struct {
	TradeID       int64           `json:"trade_id"`
	CurrentPrice  float64         `json:"current_price"`
	ProfitLossPct float64         `json:"profit_loss_pct"`
	Figure        json.RawMessage `json:"figure,omitempty"`
}

// TickOutcome reports the per-item result of a tick batch; ticks for
// unknown trade ids are skipped rather than failing the batch.
type TickOutcome struct {
	TradeID int64 `json:"trade_id"`
	Applied bool  `json:"applied"`
}

// TradeClose requests the open→closed transition for one trade. When
// ProfitLoss is nil the store derives it as (sell - buy) * qty.
type TradeClose struct {
	TradeID    int64     `json:"trade_id"`
	SellDate   time.Time `json:"sell_date"`
	SellPrice  float64   `json:"sell_price"`
	ProfitLoss *float64  `json:"profit_loss,omitempty"`
}

// TradeList is the combined ledger view returned to callers.
type TradeList struct {
	Open   []OpenTrade   `json:"open_trades"`
	Closed []ClosedTrade `json:"closed_trades"`
}
