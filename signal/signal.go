// Package signal declares the external contracts for market data and composite
// trading signals. Both are out of core scope — concrete strategy
// implementations (technical indicators, sentiment models) are supplied by the host
// application, not by this engine.
package signal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradecycle/pricing"
)

// Indicator names the handful of indicators the Regime Detector and Risk Manager
// consume. The value carried alongside it is the lookback period, e.g. EMA(50).
type Indicator string

const (
	EMA   Indicator = "EMA"
	ADX   Indicator = "ADX"
	ATR   Indicator = "ATR"
	SMAOf Indicator = "SMA" // SMA(ATR, n) — composed via IndicatorRequest.Of
)

// IndicatorRequest names one indicator query: e.g. {Name: EMA, Period: 50} or
// {Name: SMAOf, Period: 100, Of: ATR, OfPeriod: 14} for SMA(ATR(14),100).
type IndicatorRequest struct {
	Name   Indicator
	Period int
	Of     Indicator // only meaningful when Name == SMAOf
	OfPeriod int
}

// Bar is one OHLCV candle.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// DataEngine is the market-data contract: tickers, OHLCV bars, and named
// indicators. pricing.TickerFetcher is a structural subset of this interface so
// a DataEngine value satisfies it directly.
type DataEngine interface {
	GetTicker(ctx context.Context, symbol string) (pricing.Ticker, error)
	GetOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)
	GetIndicator(ctx context.Context, symbol string, req IndicatorRequest) (decimal.Decimal, bool, error)
}

// SubSignal is one strategy's contribution to a symbol's composite score.
type SubSignal struct {
	StrategyName string
	Score        decimal.Decimal // in [-1, 1]; sign is direction, magnitude is conviction
	Confidence   decimal.Decimal
}

// Composite is the aggregated per-symbol signal the entry gate consumes.
type Composite struct {
	Symbol          string
	CompositeScore  decimal.Decimal
	Confidence      decimal.Decimal
	PerStrategy     map[string]SubSignal
	WinningStrategy string
	WinningScore    decimal.Decimal
	// StopLoss/TakeProfit are optional strategy-supplied levels (tier 1 of the
	// three-tier SL/TP derivation); zero means "not supplied".
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	HasSLTP    bool
}

// Engine is the composite-signal contract the orchestrator depends on.
type Engine interface {
	Evaluate(ctx context.Context, symbol string) (Composite, error)
}

// Window is the bounded rolling history of a signal's recent values for
// (symbol, timeframe, strategyName), capped at MaxWindow entries.
type Window struct {
	Symbol       string
	Timeframe    string
	StrategyName string
	values       []decimal.Decimal
}

// MaxWindow is the cap on retained values per (symbol, timeframe, strategy) tuple.
const MaxWindow = 200

// NewWindow returns an empty rolling window.
func NewWindow(symbol, timeframe, strategyName string) *Window {
	return &Window{Symbol: symbol, Timeframe: timeframe, StrategyName: strategyName}
}

// Push appends a value, evicting the oldest entry once MaxWindow is exceeded.
func (w *Window) Push(v decimal.Decimal) {
	w.values = append(w.values, v)
	if len(w.values) > MaxWindow {
		w.values = w.values[len(w.values)-MaxWindow:]
	}
}

// Values returns the retained values, oldest first.
func (w *Window) Values() []decimal.Decimal {
	out := make([]decimal.Decimal, len(w.values))
	copy(out, w.values)
	return out
}

// Len returns the number of retained values.
func (w *Window) Len() int { return len(w.values) }
