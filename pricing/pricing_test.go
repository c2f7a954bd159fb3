package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	tickers map[string]Ticker
	errs    map[string]error
}

func (f *fakeFetcher) GetTicker(_ context.Context, symbol string) (Ticker, error) {
	if err, ok := f.errs[symbol]; ok {
		return Ticker{}, err
	}
	return f.tickers[symbol], nil
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCreateSnapshotPartialFailureDoesNotAbort(t *testing.T) {
	fetcher := &fakeFetcher{
		tickers: map[string]Ticker{
			"BTC/USDT": {Price: d("50000"), Bid: d("49999"), Ask: d("50001"), Mid: d("50000"), HasBidAsk: true, HasMid: true, Source: "sim"},
		},
		errs: map[string]error{
			"ETH/USDT": context.DeadlineExceeded,
		},
	}
	mgr := NewManager(fetcher)
	snap, errs := mgr.CreateSnapshot(context.Background(), 1, []string{"BTC/USDT", "ETH/USDT"})
	require.NotNil(t, snap)
	require.Len(t, errs, 1)
	_, ok := snap.Symbol("ETH/USDT")
	require.False(t, ok)
	_, ok = snap.Symbol("BTC/USDT")
	require.True(t, ok)
}

func TestSnapshotImmutableAcrossCycleIDs(t *testing.T) {
	fetcher := &fakeFetcher{tickers: map[string]Ticker{
		"BTC/USDT": {Price: d("100"), HasMid: false},
	}}
	mgr := NewManager(fetcher)
	_, errs := mgr.CreateSnapshot(context.Background(), 7, []string{"BTC/USDT"})
	require.Empty(t, errs)

	_, err := mgr.GetMarkPrice(8, "BTC/USDT")
	require.ErrorIs(t, err, ErrContext)

	price, err := mgr.GetMarkPrice(7, "BTC/USDT")
	require.NoError(t, err)
	require.True(t, price.Equal(d("100")))
}

func TestMarkEntryExitPreferenceOrder(t *testing.T) {
	pd := PriceData{
		Price: d("10"), Last: d("11"), HasLast: true, Mid: d("12"), HasMid: true,
		Bid: d("9"), Ask: d("13"), HasBidAsk: true,
	}
	require.True(t, pd.MarkPrice().Equal(d("12")))
	require.True(t, pd.EntryPrice().Equal(d("12")))
	require.True(t, pd.ExitValue(Long).Equal(d("9")))
	require.True(t, pd.ExitValue(Short).Equal(d("13")))

	noBidAsk := PriceData{Price: d("10"), HasMid: false}
	require.True(t, noBidAsk.MarkPrice().Equal(d("10")))
	require.True(t, noBidAsk.ExitValue(Long).Equal(d("10")))
}

func TestClearSnapshotAllowsNextCycle(t *testing.T) {
	fetcher := &fakeFetcher{tickers: map[string]Ticker{"BTC/USDT": {Price: d("1")}}}
	mgr := NewManager(fetcher)
	_, errs := mgr.CreateSnapshot(context.Background(), 1, []string{"BTC/USDT"})
	require.Empty(t, errs)
	_, errs2 := mgr.CreateSnapshot(context.Background(), 2, []string{"BTC/USDT"})
	require.Len(t, errs2, 1) // second snapshot rejected without ClearSnapshot

	mgr.ClearSnapshot()
	snap, errs3 := mgr.CreateSnapshot(context.Background(), 2, []string{"BTC/USDT"})
	require.Empty(t, errs3)
	require.Equal(t, int64(2), snap.CycleID)
}
