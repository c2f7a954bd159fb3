package state

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSavePositionUpsertsOnConflict(t *testing.T) {
	s := newTestStore(t)
	pos := Position{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(50000), Strategy: "default", SessionID: "s1"}
	require.NoError(t, s.SavePosition(pos))

	pos.Quantity = decimal.NewFromInt(2)
	require.NoError(t, s.SavePosition(pos))

	got, ok, err := s.GetPosition("BTCUSDT", "default", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Quantity.Equal(decimal.NewFromInt(2)))
}

func TestCashEquityLatestOrdersByID(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveCashEquity(CashEquity{CashBalance: decimal.NewFromInt(100), TotalEquity: decimal.NewFromInt(100), SessionID: "s1"}))
	require.NoError(t, s.SaveCashEquity(CashEquity{CashBalance: decimal.NewFromInt(90), TotalEquity: decimal.NewFromInt(110), SessionID: "s1"}))

	latest, ok, err := s.GetLatestCashEquity("s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, latest.TotalEquity.Equal(decimal.NewFromInt(110)))
}

func TestSaveTradeIsIdempotentOnTradeID(t *testing.T) {
	s := newTestStore(t)
	trade := Trade{TradeID: "t-1", Symbol: "BTCUSDT", Side: "buy", Quantity: decimal.NewFromInt(1), FillPrice: decimal.NewFromInt(100), SessionID: "s1", ExecutedAt: time.Now()}
	require.NoError(t, s.SaveTrade(trade))
	require.NoError(t, s.SaveTrade(trade)) // duplicate trade_id is a no-op

	trades, err := s.GetTrades("s1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestSessionMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetSessionMetadata("s1", "ladder_taken:BTCUSDT", `[0]`))
	val, ok, err := s.GetSessionMetadata("s1", "ladder_taken:BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `[0]`, val)

	_, ok, err = s.GetSessionMetadata("s1", "missing_key")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLotbookRoundTripAndSessionIsolation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveLot(LotRow{Symbol: "BTCUSDT", LotID: "lot-1", Quantity: decimal.NewFromInt(1), CostPrice: decimal.NewFromInt(100), SessionID: "s1", TradeID: "t-1"}))
	require.NoError(t, s.SaveLot(LotRow{Symbol: "BTCUSDT", LotID: "lot-2", Quantity: decimal.NewFromInt(1), CostPrice: decimal.NewFromInt(200), SessionID: "s2", TradeID: "t-2"}))

	lots, err := s.GetLotbook("s1", "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.Equal(t, "lot-1", lots[0].LotID)
}

func TestDeleteLotRemovesOnlyTheNamedRow(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveLot(LotRow{Symbol: "BTCUSDT", LotID: "lot-1", Quantity: decimal.NewFromInt(1), CostPrice: decimal.NewFromInt(100), SessionID: "s1", TradeID: "t-1"}))
	require.NoError(t, s.SaveLot(LotRow{Symbol: "BTCUSDT", LotID: "lot-2", Quantity: decimal.NewFromInt(1), CostPrice: decimal.NewFromInt(110), SessionID: "s1", TradeID: "t-2"}))

	require.NoError(t, s.DeleteLot("s1", "BTCUSDT", "lot-1"))

	lots, err := s.GetLotbook("s1", "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.Equal(t, "lot-2", lots[0].LotID)
}

func TestSignalWindowTrimsToCap(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	for i := 0; i < 205; i++ {
		require.NoError(t, s.SaveSignalWindowPoint(SignalWindowPoint{
			Symbol: "BTCUSDT", Timeframe: "1h", StrategyName: "trend", SessionID: "s1",
			Value: decimal.NewFromInt(int64(i)), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	points, err := s.GetSignalWindow("s1", "BTCUSDT", "1h", "trend", 500)
	require.NoError(t, err)
	require.Len(t, points, 200)
	// The oldest 5 rows were trimmed; the retained window starts at value 5.
	require.True(t, points[0].Value.Equal(decimal.NewFromInt(5)))
}

func TestSignalWindowOrderedOldestFirstAndCapped(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveSignalWindowPoint(SignalWindowPoint{
			Symbol: "BTCUSDT", Timeframe: "1h", StrategyName: "trend", SessionID: "s1",
			Value: decimal.NewFromInt(int64(i)), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	points, err := s.GetSignalWindow("s1", "BTCUSDT", "1h", "trend", 3)
	require.NoError(t, err)
	require.Len(t, points, 3)
	require.True(t, points[0].Value.LessThan(points[2].Value))
}
