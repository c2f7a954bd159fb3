package regime

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func full(ema50, ema200, adx, atr, atrsma decimal.Decimal, bars int) Inputs {
	return Inputs{
		EMA50: ema50, EMA50Present: true,
		EMA200: ema200, EMA200Present: true,
		ADX14: adx, ADX14Present: true,
		ATR14: atr, ATR14Present: true,
		ATRSMA100: atrsma, ATRSMA100Present: true,
		BarCount: bars,
	}
}

func TestDetectTrendRegime(t *testing.T) {
	in := full(dec("105"), dec("100"), dec("25"), dec("2"), dec("1.8"), 250)
	result := Detect(in)
	require.Equal(t, Trend, result.Regime)
	require.True(t, result.MinScore.Equal(TrendThresholds.MinScore))
	require.False(t, result.Excluded)
}

func TestDetectRangeRegimeWhenADXLow(t *testing.T) {
	in := full(dec("105"), dec("100"), dec("15"), dec("2"), dec("1.8"), 250)
	result := Detect(in)
	require.Equal(t, Range, result.Regime)
}

func TestDetectUnknownOnWarmup(t *testing.T) {
	in := full(dec("105"), dec("100"), dec("25"), dec("2"), dec("1.8"), 50)
	result := Detect(in)
	require.Equal(t, Unknown, result.Regime)
	require.True(t, result.Excluded)
	require.Equal(t, WarmupThresholds.MinScore, result.MinScore)
}

func TestDetectUnknownOnMissingIndicator(t *testing.T) {
	in := full(dec("105"), dec("100"), dec("25"), dec("2"), dec("1.8"), 250)
	in.ADX14Present = false
	result := Detect(in)
	require.Equal(t, Unknown, result.Regime)
	require.Equal(t, "missing_indicator", result.Reason)
}

func TestDetectRiskOnTriggerAndWarmupGuard(t *testing.T) {
	in := full(dec("105"), dec("100"), dec("25"), dec("2.0"), dec("1.6"), 250)
	require.True(t, DetectRiskOn(in, RiskOnThreshold)) // 2.0/1.6 = 1.25 >= 1.15

	warmup := full(dec("105"), dec("100"), dec("25"), dec("2.0"), dec("1.6"), 50)
	require.False(t, DetectRiskOn(warmup, RiskOnThreshold))
}

func TestRiskOnWindowDecaysAndExpires(t *testing.T) {
	w := Activate("BTC/USDT", DefaultRiskOnOverride, 0) // 0 falls back to the default window length
	require.True(t, w.Active())
	require.Equal(t, 3, w.CyclesRemaining)

	require.Equal(t, 5, Activate("BTC/USDT", DefaultRiskOnOverride, 5).CyclesRemaining)

	w = w.Tick()
	require.True(t, w.Active())
	w = w.Tick()
	require.True(t, w.Active())
	w = w.Tick()
	require.False(t, w.Active())
}
