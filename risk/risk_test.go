package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradecycle/pricing"
)

func TestDeriveSLTPStrategyTierTakesPrecedence(t *testing.T) {
	cfg := SLTPConfig{ATRKStop: dec("1.5"), ATRMTarget: dec("3"), EnableFallback: true, FallbackSLPct: dec("0.02"), FallbackTPPct: dec("0.04")}
	got, err := DeriveSLTP(pricing.Long, dec("100"), dec("95"), dec("110"), true, dec("2"), true, cfg)
	require.NoError(t, err)
	require.Equal(t, "strategy", got.Tier)
	require.True(t, got.StopLoss.Equal(dec("95")))
}

func TestDeriveSLTPATRFallsBackToFallbackOrRejects(t *testing.T) {
	cfg := SLTPConfig{ATRKStop: dec("1.5"), ATRMTarget: dec("3"), EnableFallback: false}
	_, err := DeriveSLTP(pricing.Long, dec("100"), decimal.Zero, decimal.Zero, false, decimal.Zero, false, cfg)
	var rej Rejection
	require.True(t, errors.As(err, &rej))
	require.Equal(t, RejectNoATRNoFallback, rej.Reason)

	cfg.EnableFallback = true
	cfg.FallbackSLPct = dec("0.02")
	cfg.FallbackTPPct = dec("0.04")
	got, err := DeriveSLTP(pricing.Long, dec("100"), decimal.Zero, decimal.Zero, false, decimal.Zero, false, cfg)
	require.NoError(t, err)
	require.Equal(t, "fallback", got.Tier)
	require.True(t, got.StopLoss.Equal(dec("98")))
	require.True(t, got.TakeProfit.Equal(dec("104")))
}

func TestComputeRRBoundary(t *testing.T) {
	rr, ok := ComputeRR(dec("100"), dec("95"), dec("107")) // 7/5 = 1.4
	require.True(t, ok)
	require.True(t, rr.Equal(dec("1.4")))

	_, ok = ComputeRR(dec("100"), dec("100"), dec("110"))
	require.False(t, ok)
}

func TestScenario1SizingMatchesSpecExample(t *testing.T) {
	// equity=10000, risk_per_trade_pct=0.01 -> risk_dollars=100.
	// entry=50000, sl=49000 -> stop_frac=1000/50000=0.02 -> target=100/0.02=5000.
	cfg := SizingConfig{
		RiskPerTradePct:  dec("0.01"),
		PerSymbolCapPct:  dec("1.0"),
		SessionCapPct:    dec("1.0"),
		MinSliceNotional: dec("10"),
		DefaultSlice:     dec("5000"),
		MaxSlices:        20,
	}
	result := CalculateTargetNotional(dec("10000"), dec("50000"), dec("49000"), decimal.Zero, cfg)
	require.True(t, result.TargetNotional.Equal(dec("5000")), "got %s", result.TargetNotional)
	require.Equal(t, 1, result.PlannedSlices)

	rules := SymbolRules{PriceTick: dec("0.01"), QtyStep: dec("0.0001"), MinQty: dec("0.0001"), MinNotional: dec("10")}
	order, err := BuildOrder(dec("50000"), result.TargetNotional, rules, decimal.Zero, false)
	require.NoError(t, err)
	require.True(t, order.Quantity.Equal(dec("0.1")), "got qty %s", order.Quantity)
}

func TestScenario3PrecisionBumpThenReject(t *testing.T) {
	rules := SymbolRules{PriceTick: dec("0.0001"), QtyStep: dec("0.001"), MinQty: dec("0.001"), MinNotional: dec("10")}

	order, err := BuildOrder(dec("0.1234"), dec("8"), rules, decimal.Zero, false)
	require.NoError(t, err)
	require.True(t, order.Notional.GreaterThanOrEqual(dec("10")))
	require.True(t, money_isAlignedStep(t, order.Quantity, rules.QtyStep))

	_, err = buildQuantized(dec("0.1234"), dec("5"), rules, maxBumps) // simulate max_retries=0
	var rej Rejection
	require.True(t, errors.As(err, &rej))
	require.Equal(t, RejectMinNotional, rej.Reason)
}

func money_isAlignedStep(t *testing.T, qty, step decimal.Decimal) bool {
	t.Helper()
	rem := qty.Mod(step).Abs()
	return rem.LessThan(dec("0.000001")) || rem.Sub(step).Abs().LessThan(dec("0.000001"))
}

func TestBoundaryExactMinQtyAndNotionalAccepted(t *testing.T) {
	rules := SymbolRules{PriceTick: dec("1"), QtyStep: dec("1"), MinQty: dec("1"), MinNotional: dec("10")}
	order, err := BuildOrder(dec("10"), dec("10"), rules, decimal.Zero, false)
	require.NoError(t, err)
	require.True(t, order.Quantity.Equal(dec("1")))
}

func TestScenario4DailyLossHalt(t *testing.T) {
	halt, reason := CheckDailyLossLimit(dec("10000"), dec("9490"), dec("0.05"))
	require.True(t, halt)
	require.Equal(t, string(RejectDailyLossLimit), reason)

	halt, _ = CheckDailyLossLimit(dec("10000"), dec("9600"), dec("0.05"))
	require.False(t, halt)
}

func TestPreflightStopFracBoundary(t *testing.T) {
	in := PreflightInput{Entry: dec("100"), StopLoss: dec("99.9"), MinStopFrac: dec("0.001"), ShortEnabled: true, SymbolAllowShort: true}
	require.NoError(t, PreflightEntryCheck(in))

	in.StopLoss = dec("99.95") // stop_frac = 0.0005 < 0.001
	err := PreflightEntryCheck(in)
	var rej Rejection
	require.True(t, errors.As(err, &rej))
	require.Equal(t, RejectInvalidStopDist, rej.Reason)
}

func TestPreflightShortFromFlatRequiresBothFlags(t *testing.T) {
	in := PreflightInput{Entry: dec("100"), StopLoss: dec("98"), IsShort: true, IsFlat: true, ShortEnabled: false, SymbolAllowShort: true, MinStopFrac: dec("0.001")}
	err := PreflightEntryCheck(in)
	var rej Rejection
	require.True(t, errors.As(err, &rej))
	require.Equal(t, RejectShortNotAllowed, rej.Reason)
}
