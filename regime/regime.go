// Package regime classifies each symbol into a trend/range/unknown regime and
// derives the regime-specific score/RR floors the entry gate enforces, plus the
// ATR-ratio risk-on trigger and its decaying window.
package regime

import (
	"github.com/shopspring/decimal"
)

// Kind is the regime classification for a symbol.
type Kind string

const (
	Trend   Kind = "trend"
	Range   Kind = "range"
	Unknown Kind = "unknown"
)

// Thresholds are the minimum composite score and minimum RR required to admit an
// entry for a given regime.
type Thresholds struct {
	MinScore decimal.Decimal
	MinRR    decimal.Decimal
}

// Default threshold tables per regime.
var (
	TrendThresholds   = Thresholds{MinScore: dec("0.50"), MinRR: dec("1.4")}
	RangeThresholds   = Thresholds{MinScore: dec("0.48"), MinRR: dec("1.2")}
	WarmupThresholds  = Thresholds{MinScore: dec("0.60"), MinRR: dec("1.5")}
	ADXTrendThreshold = dec("20.0")
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Inputs bundles the indicator values Detect needs. Present reports whether each
// value was available this cycle (a missing/NaN indicator from the data engine is
// represented as Present=false, not as a zero value, so zero is never silently
// mistaken for "no signal").
type Inputs struct {
	EMA50        decimal.Decimal
	EMA50Present bool

	EMA200        decimal.Decimal
	EMA200Present bool

	ADX14        decimal.Decimal
	ADX14Present bool

	ATR14        decimal.Decimal
	ATR14Present bool

	ATRSMA100        decimal.Decimal
	ATRSMA100Present bool

	// BarCount is how many OHLCV bars are available for this symbol; warmup
	// needs max(200, ATR_SMA_period) bars before warmup is considered complete.
	BarCount int
}

// WarmupBarsNeeded is max(200, ATR_SMA_period) with ATR_SMA_period fixed at 100.
const WarmupBarsNeeded = 200

// Result is the outcome of classifying one symbol.
type Result struct {
	Regime   Kind
	Reason   string
	Excluded bool // true for Unknown: the symbol must be excluded from entries
	Thresholds
}

// Detect classifies a symbol's regime from its indicator inputs. Regime logic:
//   - EMA(50) > EMA(200) and ADX(14) > 20 -> trend
//   - indicators present and valid but the trend condition fails -> range
//   - any required indicator missing/NaN/<=0, or insufficient bars -> unknown (excluded)
func Detect(in Inputs) Result {
	if in.BarCount < WarmupBarsNeeded {
		return Result{Regime: Unknown, Reason: "warmup_insufficient_bars", Excluded: true, Thresholds: WarmupThresholds}
	}
	if !in.EMA50Present || !in.EMA200Present || !in.ADX14Present {
		return Result{Regime: Unknown, Reason: "missing_indicator", Excluded: true, Thresholds: WarmupThresholds}
	}
	if in.EMA50.Sign() <= 0 || in.EMA200.Sign() <= 0 || in.ADX14.Sign() <= 0 {
		return Result{Regime: Unknown, Reason: "invalid_indicator", Excluded: true, Thresholds: WarmupThresholds}
	}

	if in.EMA50.GreaterThan(in.EMA200) && in.ADX14.GreaterThan(ADXTrendThreshold) {
		return Result{Regime: Trend, Reason: "ema_cross_and_adx", Thresholds: TrendThresholds}
	}
	return Result{Regime: Range, Reason: "default_range", Thresholds: RangeThresholds}
}

// RiskOnThreshold is the default ATR(14)/SMA(ATR,100) ratio that activates a risk-on
// window.
var RiskOnThreshold = dec("1.15")

// RiskOnWindowCycles is the default number of cycles a risk-on window stays active.
const RiskOnWindowCycles = 3

// RiskOnOverride is the relaxed gate floor and risk-per-trade percentage applied
// while a risk-on window is active.
type RiskOnOverride struct {
	FloorOverride   decimal.Decimal
	RiskPctOverride decimal.Decimal
}

// DefaultRiskOnOverride matches the reference config's sample risk-on values.
var DefaultRiskOnOverride = RiskOnOverride{FloorOverride: dec("0.35"), RiskPctOverride: dec("0.015")}

// DetectRiskOn reports whether the ATR-ratio risk-on trigger fires this cycle. It
// returns false during warmup (insufficient ATR_SMA history).
func DetectRiskOn(in Inputs, threshold decimal.Decimal) bool {
	if !in.ATR14Present || !in.ATRSMA100Present || in.BarCount < WarmupBarsNeeded {
		return false
	}
	if in.ATRSMA100.Sign() <= 0 {
		return false
	}
	ratio := in.ATR14.Div(in.ATRSMA100)
	return ratio.GreaterThanOrEqual(threshold)
}

// Window tracks a decaying risk-on activation for one symbol, persisted by the
// engine in session_metadata so a restart does not lose how many cycles remain.
type Window struct {
	Symbol          string
	CyclesRemaining int
	Override        RiskOnOverride
}

// Activate starts (or refreshes) a risk-on window of cycles cycles; a
// non-positive cycles falls back to RiskOnWindowCycles.
func Activate(symbol string, override RiskOnOverride, cycles int) Window {
	if cycles <= 0 {
		cycles = RiskOnWindowCycles
	}
	return Window{Symbol: symbol, CyclesRemaining: cycles, Override: override}
}

// Active reports whether the window still has cycles remaining.
func (w Window) Active() bool { return w.CyclesRemaining > 0 }

// Tick decrements the window by one cycle, to be called once per completed cycle. A
// window with zero cycles remaining has auto-expired and Tick is a no-op.
func (w Window) Tick() Window {
	if w.CyclesRemaining <= 0 {
		return w
	}
	w.CyclesRemaining--
	return w
}
