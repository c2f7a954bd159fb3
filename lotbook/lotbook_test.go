package lotbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestFIFOInterleavedLots(t *testing.T) {
	// Scenario 2: Buy 1 @ 100, Buy 1 @ 120, Sell 1.5 @ 130.
	// Expected realized P&L = 1*(130-100) + 0.5*(130-120) = 35; remaining 0.5 @ 120.
	book := New()
	now := time.Now()
	require.NoError(t, book.AddLot("lot-1", "BTC/USDT", d("1"), d("100"), money0(), now, "t1"))
	require.NoError(t, book.AddLot("lot-2", "BTC/USDT", d("1"), d("120"), money0(), now.Add(time.Second), "t2"))

	result, err := book.Consume("BTC/USDT", d("1.5"), d("130"), money0())
	require.NoError(t, err)
	require.True(t, result.RealizedPnL.Equal(d("35")))
	require.True(t, result.ShortOpened.IsZero())

	remaining := book.Lots("BTC/USDT")
	require.Len(t, remaining, 1)
	require.True(t, remaining[0].Quantity.Equal(d("0.5")))
	require.True(t, remaining[0].Price.Equal(d("120")))
}

func TestConsumeWithFeeProration(t *testing.T) {
	book := New()
	now := time.Now()
	require.NoError(t, book.AddLot("lot-1", "ETH/USDT", d("2"), d("1000"), d("4"), now, "t1"))

	result, err := book.Consume("ETH/USDT", d("1"), d("1100"), money0())
	require.NoError(t, err)
	// fee portion for 1 of 2 units = 4 * 1/2 = 2; pnl = (1100-1000)*1 - 2 = 98
	require.True(t, result.RealizedPnL.Equal(d("98")))
	require.True(t, book.AvailableQuantity("ETH/USDT").Equal(d("1")))
}

func TestConsumeExceedingLotsOpensShort(t *testing.T) {
	book := New()
	result, err := book.Consume("SOL/USDT", d("2"), d("50"), money0())
	require.NoError(t, err)
	require.True(t, result.ShortOpened.Equal(d("2")))
	require.True(t, result.RealizedPnL.IsZero())
}

func TestBuySellRoundTripZeroFeesIsNetZero(t *testing.T) {
	book := New()
	now := time.Now()
	require.NoError(t, book.AddLot("lot-1", "BTC/USDT", d("0.1"), d("50000"), money0(), now, "t1"))
	result, err := book.Consume("BTC/USDT", d("0.1"), d("50000"), money0())
	require.NoError(t, err)
	require.True(t, result.RealizedPnL.IsZero())
	require.True(t, book.AvailableQuantity("BTC/USDT").IsZero())
}

func TestPartialSellsSumToAggregateSellPnL(t *testing.T) {
	bookA := New()
	bookB := New()
	now := time.Now()
	for _, book := range []*Book{bookA, bookB} {
		require.NoError(t, book.AddLot("lot-1", "BTC/USDT", d("1"), d("100"), money0(), now, "t1"))
		require.NoError(t, book.AddLot("lot-2", "BTC/USDT", d("1"), d("120"), money0(), now, "t2"))
	}

	r1, err := bookA.Consume("BTC/USDT", d("1"), d("130"), money0())
	require.NoError(t, err)
	r2, err := bookA.Consume("BTC/USDT", d("0.5"), d("130"), money0())
	require.NoError(t, err)
	partialTotal := r1.RealizedPnL.Add(r2.RealizedPnL)

	aggregate, err := bookB.Consume("BTC/USDT", d("1.5"), d("130"), money0())
	require.NoError(t, err)

	require.True(t, partialTotal.Equal(aggregate.RealizedPnL))
}

func money0() decimal.Decimal { return d("0") }
