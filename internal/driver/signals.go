package driver

import (
	"encoding/json"

	talib "github.com/markcheno/go-talib"
	"github.com/tidwall/gjson"
)

// Signal is the per-bar verdict of the indicator evaluation.
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "hold"
	}
}

const (
	defaultSMAPeriod  = 20
	defaultRSIPeriod  = 14
	defaultOversold   = 30
	defaultOverbought = 70
)

// Evaluator turns a strategy's technical_analysis document into
// concrete indicator parameters. Unconfigured indicators fall back to
// conventional defaults.
type Evaluator struct {
	smaPeriod  int
	rsiPeriod  int
	oversold   float64
	overbought float64
	useSMA     bool
	useRSI     bool
}

// NewEvaluator reads indicator parameters out of the analysis
// document. An empty document enables both indicators with defaults.
func NewEvaluator(analysis json.RawMessage) Evaluator {
	e := Evaluator{
		smaPeriod:  defaultSMAPeriod,
		rsiPeriod:  defaultRSIPeriod,
		oversold:   defaultOversold,
		overbought: defaultOverbought,
	}
	doc := string(analysis)
	if !gjson.Valid(doc) || gjson.Parse(doc).Type != gjson.JSON {
		e.useSMA, e.useRSI = true, true
		return e
	}
	if sma := gjson.Get(doc, "sma"); sma.Exists() {
		e.useSMA = true
		if p := sma.Get("period"); p.Exists() && p.Int() >= 2 {
			e.smaPeriod = int(p.Int())
		}
	}
	if rsi := gjson.Get(doc, "rsi"); rsi.Exists() {
		e.useRSI = true
		if p := rsi.Get("period"); p.Exists() && p.Int() >= 2 {
			e.rsiPeriod = int(p.Int())
		}
		if v := rsi.Get("oversold"); v.Exists() {
			e.oversold = v.Float()
		}
		if v := rsi.Get("overbought"); v.Exists() {
			e.overbought = v.Float()
		}
	}
	if !e.useSMA && !e.useRSI {
		e.useSMA, e.useRSI = true, true
	}
	return e
}

// Evaluate examines the close series up to and including the current
// bar. Each enabled indicator votes; any sell vote wins, otherwise any
// buy vote wins.
func (e Evaluator) Evaluate(closes []float64) Signal {
	n := len(closes)
	if n < e.minBars() {
		return Hold
	}
	var buy, sell bool

	if e.useSMA {
		sma := talib.Sma(closes, e.smaPeriod)
		price, prev := closes[n-1], closes[n-2]
		// Signal on the cross, not on every bar above or below.
		if price > sma[n-1] && prev <= sma[n-2] {
			buy = true
		}
		if price < sma[n-1] && prev >= sma[n-2] {
			sell = true
		}
	}
	if e.useRSI {
		rsi := talib.Rsi(closes, e.rsiPeriod)
		if rsi[n-1] <= e.oversold {
			buy = true
		}
		if rsi[n-1] >= e.overbought {
			sell = true
		}
	}

	switch {
	case sell:
		return Sell
	case buy:
		return Buy
	default:
		return Hold
	}
}

func (e Evaluator) minBars() int {
	min := 2
	if e.useSMA && e.smaPeriod+1 > min {
		min = e.smaPeriod + 1
	}
	if e.useRSI && e.rsiPeriod+1 > min {
		min = e.rsiPeriod + 1
	}
	return min
}
