package stats

import (
	"context"
	"time"

	"algotrader/internal/store/ledger"
	"algotrader/internal/types"
)

// Summary aggregates the closed-trade set, optionally windowed by sell
// date. Pointer fields are nil when the underlying set is empty, meaning
// "insufficient data", which callers must not flatten to zero.
// ProfitFactor is the ratio of winning to losing trade counts; nil is
// the documented sentinel for a window with no losers (JSON cannot
// carry +Inf).
type Summary struct {
	HighestProfitTrade *types.ClosedTrade `json:"highest_profit_trade,omitempty"`
	HighestLossTrade   *types.ClosedTrade `json:"highest_loss_trade,omitempty"`
	AvgProfitPct       *float64           `json:"avg_profit_pct"`
	AvgLossPct         *float64           `json:"avg_loss_pct"`
	AvgProfitLossPct   *float64           `json:"avg_profit_loss_pct"`
	ProfitFactor       *float64           `json:"profit_factor"`
	TotalProfitLossPct float64            `json:"total_profit_loss_pct"`
	SuccessRate        float64            `json:"success_rate"`
}

// Engine derives aggregate metrics from the ledger's closed set.
type Engine struct {
	store *ledger.Store
}

func NewEngine(store *ledger.Store) *Engine {
	return &Engine{store: store}
}

// Compute builds the windowed summary plus the all-time success rate
// for the backtest. An empty window never errors; it simply leaves the
// pointer fields nil.
func (e *Engine) Compute(ctx context.Context, backtestID string, since time.Time) (Summary, error) {
	closed, err := e.store.ClosedTrades(ctx, backtestID, since)
	if err != nil {
		return Summary{}, err
	}
	summary := summarize(closed)
	rate, err := e.SuccessRate(ctx, backtestID)
	if err != nil {
		return Summary{}, err
	}
	summary.SuccessRate = rate
	return summary, nil
}

// SuccessRate is 100 * winners / total over every closed trade of the
// backtest, with an explicit zero fallback for an empty history.
func (e *Engine) SuccessRate(ctx context.Context, backtestID string) (float64, error) {
	winners, total, err := e.store.ClosedCounts(ctx, backtestID)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return 100 * float64(winners) / float64(total), nil
}

func summarize(closed []types.ClosedTrade) Summary {
	var s Summary
	var (
		winners, losers []types.ClosedTrade
		sumProfitPct    float64
		sumLossPct      float64
		sumAllPct       float64
		sumProfitLoss   float64
		sumInvested     float64
	)
	for i := range closed {
		t := closed[i]
		sumAllPct += t.ProfitLossPct
		sumProfitLoss += t.ProfitLoss
		sumInvested += t.InvestmentTotal
		switch {
		case t.ProfitLoss > 0:
			winners = append(winners, t)
			sumProfitPct += t.ProfitLossPct
			if s.HighestProfitTrade == nil || t.ProfitLossPct > s.HighestProfitTrade.ProfitLossPct {
				trade := t
				s.HighestProfitTrade = &trade
			}
		case t.ProfitLoss < 0:
			losers = append(losers, t)
			sumLossPct += t.ProfitLossPct
			if s.HighestLossTrade == nil || t.ProfitLossPct < s.HighestLossTrade.ProfitLossPct {
				trade := t
				s.HighestLossTrade = &trade
			}
		}
	}
	if len(winners) > 0 {
		avg := sumProfitPct / float64(len(winners))
		s.AvgProfitPct = &avg
	}
	if len(losers) > 0 {
		avg := sumLossPct / float64(len(losers))
		s.AvgLossPct = &avg
	}
	if len(closed) > 0 {
		avg := sumAllPct / float64(len(closed))
		s.AvgProfitLossPct = &avg
	}
	if len(losers) > 0 {
		pf := float64(len(winners)) / float64(len(losers))
		s.ProfitFactor = &pf
	}
	if sumInvested > 0 {
		s.TotalProfitLossPct = 100 * sumProfitLoss / sumInvested
	}
	return s
}
