package money

import (
	"math"

	"github.com/shopspring/decimal"
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

// ProfitLoss computes (sell - buy) * qty in decimal space so that
// repeated small fills do not accumulate float error, rounded to 2dp.
func ProfitLoss(buyPrice, sellPrice, qty float64) float64 {
	diff := decFromFloat(sellPrice).Sub(decFromFloat(buyPrice))
	out, _ := diff.Mul(decFromFloat(qty)).Round(2).Float64()
	return out
}

// PctChange returns the percentage move from buy to sell, rounded to
// 2dp. Zero buy price yields zero rather than a division blow-up.
func PctChange(buyPrice, sellPrice float64) float64 {
	buy := decFromFloat(buyPrice)
	if buy.IsZero() {
		return 0
	}
	change := decFromFloat(sellPrice).Sub(buy).Div(buy).Mul(decimal.NewFromInt(100))
	out, _ := change.Round(2).Float64()
	return out
}

// FormatGBP renders a currency value the way the UI expects, e.g.
// "£1234.56" and "-£12.30".
func FormatGBP(v float64) string {
	d := decFromFloat(v).Round(2)
	if d.IsNegative() {
		return "-£" + d.Abs().StringFixed(2)
	}
	return "£" + d.StringFixed(2)
}

// FormatPct renders a percentage with one decimal place, e.g. "0.0%".
func FormatPct(v float64) string {
	return decFromFloat(v).Round(1).StringFixed(1) + "%"
}
