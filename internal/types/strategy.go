package types

import "encoding/json"

// Strategy is a named, reusable technical-analysis configuration.
// Backtests reference strategies but never own them.
type Strategy struct {
	StrategyID         int64           `json:"strategy_id"`
	StrategyName       string          `json:"strategy_name"`
	TechnicalAnalysis  json.RawMessage `json:"technical_analysis"`
	LookbackRangeWeeks int             `json:"lookback_range_weeks"`
	MaxWeekPeriod      int             `json:"max_week_period"`
}
