package risk

import (
	"github.com/shopspring/decimal"

	"tradecycle/money"
)

// MinStopFracFloor is the floor applied to stop_frac to prevent an unbounded target
// notional when entry and stop are nearly equal.
var MinStopFracFloor = dec("0.00001") // 1e-5

// SizingConfig parameterizes risk-based position sizing and slicing.
type SizingConfig struct {
	RiskPerTradePct  decimal.Decimal
	PerSymbolCapPct  decimal.Decimal
	SessionCapPct    decimal.Decimal
	MinSliceNotional decimal.Decimal
	DefaultSlice     decimal.Decimal
	MaxSlices        int
}

// SizingResult is the outcome of risk-based sizing before slicing/quantization.
type SizingResult struct {
	RiskDollars    decimal.Decimal
	StopFrac       decimal.Decimal
	TargetNotional decimal.Decimal
	PlannedSlices  int
	SliceNotional  decimal.Decimal
}

// CalculateTargetNotional implements sizing formula:
//
//	risk_dollars = equity * risk_per_trade_pct
//	stop_frac = |entry - sl| / max(entry, eps), floored at 1e-5
//	target_notional = risk_dollars / stop_frac, capped by per-symbol and session caps
//	slices = ceil(target / default_slice), bounded by max_slices
func CalculateTargetNotional(equity, entry, sl, deployedCapital decimal.Decimal, cfg SizingConfig) SizingResult {
	riskDollars := equity.Mul(cfg.RiskPerTradePct)

	denominator := money.Max(entry, money.Epsilon)
	stopFrac := entry.Sub(sl).Abs().Div(denominator)
	stopFrac = money.Max(stopFrac, MinStopFracFloor)

	target := riskDollars.Div(stopFrac)

	perSymbolCap := cfg.PerSymbolCapPct.Mul(equity)
	target = money.Min(target, perSymbolCap)

	sessionRemaining := money.Max(decimal.Zero, cfg.SessionCapPct.Mul(equity).Sub(deployedCapital))
	target = money.Min(target, sessionRemaining)

	result := SizingResult{RiskDollars: riskDollars, StopFrac: stopFrac, TargetNotional: target}

	if target.LessThan(cfg.MinSliceNotional) {
		result.PlannedSlices = 1
		result.SliceNotional = target
		return result
	}

	slices := ceilDiv(target, cfg.DefaultSlice)
	if cfg.MaxSlices > 0 && slices > cfg.MaxSlices {
		slices = cfg.MaxSlices
	}
	if slices < 1 {
		slices = 1
	}
	result.PlannedSlices = slices
	result.SliceNotional = money.Max(target.Div(decimal.NewFromInt(int64(slices))), cfg.MinSliceNotional)
	return result
}

func ceilDiv(target, slice decimal.Decimal) int {
	if !money.IsPositive(slice) {
		return 1
	}
	q := target.Div(slice)
	whole := q.Truncate(0)
	if q.GreaterThan(whole) {
		whole = whole.Add(decimal.NewFromInt(1))
	}
	n := int(whole.IntPart())
	if n < 1 {
		n = 1
	}
	return n
}
