package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestQuantizePriceHalfUp(t *testing.T) {
	require.Equal(t, d("50000.01"), QuantizePrice(d("50000.006"), d("0.01")))
	require.Equal(t, d("50000.00"), QuantizePrice(d("50000.004"), d("0.01")))
}

func TestQuantizePriceIdempotent(t *testing.T) {
	once := QuantizePrice(d("123.4567"), d("0.01"))
	twice := QuantizePrice(once, d("0.01"))
	require.True(t, once.Equal(twice))
}

func TestQuantizeQtyDownNeverRoundsUp(t *testing.T) {
	got := QuantizeQtyDown(d("0.1239"), d("0.001"))
	require.Equal(t, d("0.123"), got)
}

func TestQuantizeQtyDownIdempotentAndNonIncreasing(t *testing.T) {
	raw := d("1.23456")
	once := QuantizeQtyDown(raw, d("0.01"))
	twice := QuantizeQtyDown(once, d("0.01"))
	require.True(t, once.Equal(twice))
	require.True(t, once.LessThanOrEqual(raw))
}

func TestIsAlignedToTickAndStep(t *testing.T) {
	assert.True(t, IsAlignedToTick(d("50000.01"), d("0.01")))
	assert.False(t, IsAlignedToTick(d("50000.015"), d("0.01")))
	assert.True(t, IsAlignedToStep(d("0.500"), d("0.001")))
}

func TestSafeDivideZeroDenominator(t *testing.T) {
	got := SafeDivide(d("10"), Zero, d("-1"))
	require.True(t, got.Equal(d("-1")))
}

func TestSignHelpers(t *testing.T) {
	assert.True(t, IsPositive(d("0.01")))
	assert.True(t, IsNegative(d("-0.01")))
	assert.True(t, IsZero(d("0.0000000001")))
	assert.False(t, IsZero(d("0.01")))
}

func TestNotional(t *testing.T) {
	require.True(t, Notional(d("-0.5"), d("100")).Equal(d("50")))
}
