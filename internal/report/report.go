package report

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	echartstypes "github.com/go-echarts/go-echarts/v2/types"

	"algotrader/internal/pkg/money"
	"algotrader/internal/stats"
	"algotrader/internal/store/ledger"
	"algotrader/internal/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"

	chartWidthPx  = 1200
	chartHeightPx = 420
)

// Builder renders a self-contained HTML performance report for a
// backtest run: realized equity curve, per-trade outcomes, and a
// headline summary.
type Builder struct {
	store  *ledger.Store
	engine *stats.Engine
}

func NewBuilder(store *ledger.Store, engine *stats.Engine) *Builder {
	return &Builder{store: store, engine: engine}
}

// Render writes the report page for backtestID to w. An empty
// backtestID reports over the whole ledger.
func (b *Builder) Render(ctx context.Context, w io.Writer, backtestID string) error {
	closed, err := b.store.ClosedTrades(ctx, backtestID, time.Time{})
	if err != nil {
		return err
	}
	summary, err := b.engine.Compute(ctx, backtestID, time.Time{})
	if err != nil {
		return err
	}

	sort.SliceStable(closed, func(i, j int) bool {
		if closed[i].SellDate.Equal(closed[j].SellDate) {
			return closed[i].TradeID < closed[j].TradeID
		}
		return closed[i].SellDate.Before(closed[j].SellDate)
	})

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		buildEquityCurve(closed, summary),
		buildTradeOutcomes(closed),
	)
	return page.Render(w)
}

func buildEquityCurve(closed []types.ClosedTrade, summary stats.Summary) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           echartstypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         "Realized P&L",
			Subtitle:      summaryLine(summary, closed),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
	)

	xAxis := make([]string, len(closed))
	data := make([]opts.LineData, len(closed))
	var running float64
	for i, t := range closed {
		running += t.ProfitLoss
		xAxis[i] = t.SellDate.Format("02/01/2006")
		data[i] = opts.LineData{Value: round(running, 2)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Cumulative P&L", data)
	return line
}

func buildTradeOutcomes(closed []types.ClosedTrade) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           echartstypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "Trade Outcomes",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary, Rotate: 45},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)

	xAxis := make([]string, len(closed))
	data := make([]opts.BarData, len(closed))
	for i, t := range closed {
		color := colorBear
		if t.ProfitLoss >= 0 {
			color = colorBull
		}
		xAxis[i] = fmt.Sprintf("%s #%d", strings.ToUpper(t.Ticker), t.TradeID)
		data[i] = opts.BarData{
			Value:     round(t.ProfitLoss, 2),
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("P&L", data)
	return bar
}

func summaryLine(summary stats.Summary, closed []types.ClosedTrade) string {
	var total float64
	for _, t := range closed {
		total += t.ProfitLoss
	}
	parts := []string{
		fmt.Sprintf("%d closed trades", len(closed)),
		"Total " + money.FormatGBP(total),
		"Success " + money.FormatPct(summary.SuccessRate),
	}
	if summary.ProfitFactor != nil {
		parts = append(parts, fmt.Sprintf("Profit factor %.2f", *summary.ProfitFactor))
	}
	if summary.HighestProfitTrade != nil {
		parts = append(parts, fmt.Sprintf("Best %s %s",
			strings.ToUpper(summary.HighestProfitTrade.Ticker),
			money.FormatGBP(summary.HighestProfitTrade.ProfitLoss)))
	}
	return strings.Join(parts, " | ")
}

func round(val float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
