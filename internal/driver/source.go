package driver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"
)

// Candle is one daily bar of the simulated price feed.
type Candle struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Source yields daily candles for a symbol over a date range, oldest
// first.
type Source interface {
	Daily(ctx context.Context, symbol string, start, end time.Time) ([]Candle, error)
}

// BinanceSource pulls daily klines through the Binance REST API. Spot
// daily bars are a convenient free feed for driving simulations; the
// ledger itself does not care where prices come from.
type BinanceSource struct {
	client  *binance.Client
	limiter *rate.Limiter
}

func NewBinanceSource() *BinanceSource {
	return &BinanceSource{
		// Public market-data endpoints need no credentials.
		client: binance.NewClient("", ""),
		// Binance weights klines heavily; stay far below the ban
		// threshold.
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

func (s *BinanceSource) Daily(ctx context.Context, symbol string, start, end time.Time) ([]Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("candle source: symbol required")
	}
	var out []Candle
	cursor := start
	for !cursor.After(end) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		klines, err := s.client.NewKlinesService().
			Symbol(symbol).
			Interval("1d").
			StartTime(cursor.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(1000).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			out = append(out, Candle{
				Date:   time.UnixMilli(k.OpenTime).UTC().Truncate(24 * time.Hour),
				Open:   parseFloat(k.Open),
				High:   parseFloat(k.High),
				Low:    parseFloat(k.Low),
				Close:  parseFloat(k.Close),
				Volume: parseFloat(k.Volume),
			})
		}
		next := time.UnixMilli(klines[len(klines)-1].CloseTime).UTC()
		if !next.After(cursor) {
			break
		}
		cursor = next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// StaticSource replays a fixed candle slice. Used for offline runs and
// tests.
type StaticSource struct {
	Candles []Candle
}

func (s *StaticSource) Daily(_ context.Context, _ string, start, end time.Time) ([]Candle, error) {
	out := make([]Candle, 0, len(s.Candles))
	for _, c := range s.Candles {
		if c.Date.Before(start) || c.Date.After(end) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// SyntheticCandles builds a deterministic daily series for offline
// runs: a slow drift with a superimposed cycle, so indicator crossings
// actually occur. The same window always yields the same bars.
func SyntheticCandles(start, end time.Time, base float64) []Candle {
	if base <= 0 {
		base = 100
	}
	var out []Candle
	for day, d := 0, start; !d.After(end); day, d = day+1, d.AddDate(0, 0, 1) {
		cycle := math.Sin(float64(day) / 9.0)
		drift := float64(day) * 0.05
		closePx := base + drift + base*0.04*cycle
		openPx := closePx - base*0.005*math.Cos(float64(day)/4.0)
		out = append(out, Candle{
			Date:   d,
			Open:   openPx,
			High:   math.Max(openPx, closePx) * 1.005,
			Low:    math.Min(openPx, closePx) * 0.995,
			Close:  closePx,
			Volume: 1000 + 50*float64(day%7),
		})
	}
	return out
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
