package risk

import (
	"github.com/shopspring/decimal"

	"tradecycle/money"
	"tradecycle/pricing"
)

// SLTPConfig parameterizes the three-tier SL/TP derivation.
type SLTPConfig struct {
	ATRKStop       decimal.Decimal // k_atr: stop distance in ATR multiples
	ATRMTarget     decimal.Decimal // m_atr: target distance in ATR multiples
	EnableFallback bool
	FallbackSLPct  decimal.Decimal // e.g. 0.02
	FallbackTPPct  decimal.Decimal // e.g. 0.04
}

// SLTP is a derived stop-loss/take-profit pair and which tier produced it.
type SLTP struct {
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Tier       string // "strategy", "atr", "fallback"
}

// DeriveSLTP implements three-tier derivation:
//  1. strategy-supplied SL/TP, if present.
//  2. ATR-based: long sl = entry - k*ATR, tp = entry + m*ATR (mirrored for short).
//  3. fixed-percentage fallback, if enabled; otherwise reject no_atr_no_fallback.
func DeriveSLTP(side pricing.Side, entry decimal.Decimal, strategySL, strategyTP decimal.Decimal, hasStrategySLTP bool, atr decimal.Decimal, hasATR bool, cfg SLTPConfig) (SLTP, error) {
	if hasStrategySLTP {
		return SLTP{StopLoss: strategySL, TakeProfit: strategyTP, Tier: "strategy"}, nil
	}

	if hasATR && money.IsPositive(atr) {
		if side == pricing.Long {
			return SLTP{
				StopLoss:   entry.Sub(cfg.ATRKStop.Mul(atr)),
				TakeProfit: entry.Add(cfg.ATRMTarget.Mul(atr)),
				Tier:       "atr",
			}, nil
		}
		return SLTP{
			StopLoss:   entry.Add(cfg.ATRKStop.Mul(atr)),
			TakeProfit: entry.Sub(cfg.ATRMTarget.Mul(atr)),
			Tier:       "atr",
		}, nil
	}

	if !cfg.EnableFallback {
		return SLTP{}, reject(RejectNoATRNoFallback, "no strategy SL/TP, no ATR, fallback disabled")
	}

	if side == pricing.Long {
		return SLTP{
			StopLoss:   entry.Mul(decimal.NewFromInt(1).Sub(cfg.FallbackSLPct)),
			TakeProfit: entry.Mul(decimal.NewFromInt(1).Add(cfg.FallbackTPPct)),
			Tier:       "fallback",
		}, nil
	}
	return SLTP{
		StopLoss:   entry.Mul(decimal.NewFromInt(1).Add(cfg.FallbackSLPct)),
		TakeProfit: entry.Mul(decimal.NewFromInt(1).Sub(cfg.FallbackTPPct)),
		Tier:       "fallback",
	}, nil
}

// ComputeRR returns (|tp-entry|)/(|entry-sl|); ok is false when the denominator is
// zero or any input is non-positive, matching "undefined" case.
func ComputeRR(entry, sl, tp decimal.Decimal) (rr decimal.Decimal, ok bool) {
	if !money.IsPositive(entry) || !money.IsPositive(sl) || !money.IsPositive(tp) {
		return decimal.Zero, false
	}
	stopDist := entry.Sub(sl).Abs()
	if money.IsZero(stopDist) {
		return decimal.Zero, false
	}
	targetDist := tp.Sub(entry).Abs()
	return targetDist.Div(stopDist), true
}
