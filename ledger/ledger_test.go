package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradecycle/state"
)

func newTestLedger(t *testing.T) (*Ledger, state.Store) {
	t.Helper()
	store, err := state.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, "s1"), store
}

func TestRecordPersistsAndCaches(t *testing.T) {
	l, store := newTestLedger(t)

	tr := Trade{
		TradeID: "t1", Symbol: "BTCUSDT", Side: "buy",
		Quantity: decimal.NewFromInt(1), FillPrice: decimal.NewFromInt(50000),
		Fees: decimal.NewFromInt(10), NotionalValue: decimal.NewFromInt(50000),
		SessionID: "s1", ExecutedAt: time.Now(),
	}
	require.NoError(t, l.Record(tr))

	trades, err := store.GetTrades("s1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "t1", trades[0].TradeID)
}

func TestTradesFallsBackToCacheOnStoreError(t *testing.T) {
	l, store := newTestLedger(t)
	tr := Trade{TradeID: "t1", Symbol: "BTCUSDT", Side: "buy", SessionID: "s1", ExecutedAt: time.Now()}
	require.NoError(t, l.Record(tr))

	require.NoError(t, store.Close())

	trades, err := l.Trades()
	require.NoError(t, err, "a closed store read should fall back to the in-memory cache")
	require.Len(t, trades, 1)
}

func TestSummaryComputesWinLossVolumeAndAverage(t *testing.T) {
	l, _ := newTestLedger(t)

	require.NoError(t, l.Record(Trade{
		TradeID: "t1", Symbol: "BTCUSDT", Side: "sell",
		Quantity: decimal.NewFromFloat(0.5), FillPrice: decimal.NewFromInt(51000),
		Fees: decimal.NewFromInt(5), NotionalValue: decimal.NewFromInt(25500),
		RealizedPnL: decimal.NewFromInt(490), SessionID: "s1", ExecutedAt: time.Now(),
	}))
	require.NoError(t, l.Record(Trade{
		TradeID: "t2", Symbol: "ETHUSDT", Side: "sell",
		Quantity: decimal.NewFromInt(1), FillPrice: decimal.NewFromInt(2900),
		Fees: decimal.NewFromInt(3), NotionalValue: decimal.NewFromInt(2900),
		RealizedPnL: decimal.NewFromInt(-100), SessionID: "s1", ExecutedAt: time.Now(),
	}))
	require.NoError(t, l.Record(Trade{
		TradeID: "t3", Symbol: "SOLUSDT", Side: "buy",
		Quantity: decimal.NewFromInt(10), FillPrice: decimal.NewFromInt(150),
		Fees: decimal.NewFromInt(1), NotionalValue: decimal.NewFromInt(1500),
		RealizedPnL: decimal.Zero, SessionID: "s1", ExecutedAt: time.Now(),
	}))

	summary, err := l.Summary()
	require.NoError(t, err)
	require.Equal(t, 3, summary.TradeCount)
	require.Equal(t, 1, summary.Wins)
	require.Equal(t, 1, summary.Losses)
	require.True(t, summary.TotalVolume.Equal(decimal.NewFromInt(25500).Add(decimal.NewFromInt(2900)).Add(decimal.NewFromInt(1500))))
	require.True(t, summary.TotalFees.Equal(decimal.NewFromInt(9)))
	require.True(t, summary.TotalRealizedPnL.Equal(decimal.NewFromInt(390)))
	require.True(t, summary.AverageTradeSize.Equal(summary.TotalVolume.Div(decimal.NewFromInt(3))))
}

func TestSummaryOnEmptyLedger(t *testing.T) {
	l, _ := newTestLedger(t)

	summary, err := l.Summary()
	require.NoError(t, err)
	require.Equal(t, 0, summary.TradeCount)
	require.True(t, summary.AverageTradeSize.IsZero())
}
