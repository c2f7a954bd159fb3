package exits

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradecycle/state"
)

func newTestStore(t *testing.T) state.Store {
	t.Helper()
	s, err := state.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckExitsStopLossTakesPriorityOverLadder(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(Config{TimeStopHours: decimal.NewFromInt(24)}, "s1", store)

	pos := PositionView{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), StopLoss: decimal.NewFromInt(95)}
	marks := map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(94)}

	conds, err := m.CheckExits([]PositionView{pos}, marks, time.Now())
	require.NoError(t, err)
	require.Len(t, conds, 1)
	require.Equal(t, "stop_loss_hit", conds[0].Reason)
}

func TestCheckExitsProfitLadderFiresOncePerLevel(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(Config{
		TimeStopHours: decimal.NewFromInt(24),
		Ladders: []LadderLevel{
			{ProfitPct: decimal.NewFromFloat(0.8), Pct: decimal.NewFromFloat(0.5)},
		},
	}, "s1", store)

	pos := PositionView{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)}
	marks := map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(101)} // +1% profit

	conds, err := m.CheckExits([]PositionView{pos}, marks, time.Now())
	require.NoError(t, err)
	require.Len(t, conds, 1)
	require.Equal(t, "profit_ladder_L1_1.0pct", conds[0].Reason)

	// Second call at the same profit level must not re-fire.
	conds, err = m.CheckExits([]PositionView{pos}, marks, time.Now())
	require.NoError(t, err)
	require.Empty(t, conds)
}

func TestHydrateRestoresTakenLaddersAcrossRestart(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetSessionMetadata("s1", "ladder_taken:BTCUSDT", `[0]`))

	m := NewManager(Config{Ladders: DefaultLadders}, "s1", store)
	require.NoError(t, m.Hydrate([]string{"BTCUSDT"}))

	pos := PositionView{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)}
	marks := map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(101)} // level 0 already taken; level 1 needs 1.5%

	conds, err := m.CheckExits([]PositionView{pos}, marks, time.Now())
	require.NoError(t, err)
	require.Empty(t, conds, "level 0 already taken and level 1 threshold not reached")
}

// farLadder keeps the profit ladder out of the way of tests targeting other
// triggers (an empty Ladders slice would fall back to DefaultLadders).
func farLadder() []LadderLevel {
	return []LadderLevel{{ProfitPct: decimal.NewFromInt(1000), Pct: decimal.NewFromFloat(0.5)}}
}

func TestCheckExitsChandelierTrailingStop(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(Config{
		EnableChandelier: true,
		ChandelierNATR:   decimal.NewFromFloat(2.5),
		Ladders:          farLadder(),
	}, "s1", store)

	// Long from 100, ran up to 120; ATR 4 puts the trail at 120 - 2.5*4 = 110.
	pos := PositionView{
		Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100),
		HighSinceEntry: decimal.NewFromInt(120), LowSinceEntry: decimal.NewFromInt(100),
		ATR: decimal.NewFromInt(4), HasATR: true,
	}

	conds, err := m.CheckExits([]PositionView{pos}, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(111)}, time.Now())
	require.NoError(t, err)
	require.Empty(t, conds, "mark above the trail must not exit")

	conds, err = m.CheckExits([]PositionView{pos}, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(109)}, time.Now())
	require.NoError(t, err)
	require.Len(t, conds, 1)
	require.Equal(t, "chandelier_stop_hit", conds[0].Reason)
	require.True(t, conds[0].Quantity.Equal(decimal.NewFromInt(1)), "chandelier exits the full position")
}

func TestCheckExitsChandelierShortMirrorsOffLowWaterMark(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(Config{
		EnableChandelier: true,
		ChandelierNATR:   decimal.NewFromFloat(2.5),
		Ladders:          farLadder(),
	}, "s1", store)

	// Short from 100, fell to 80; trail at 80 + 2.5*4 = 90.
	pos := PositionView{
		Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(-1), EntryPrice: decimal.NewFromInt(100),
		HighSinceEntry: decimal.NewFromInt(100), LowSinceEntry: decimal.NewFromInt(80),
		ATR: decimal.NewFromInt(4), HasATR: true,
	}

	conds, err := m.CheckExits([]PositionView{pos}, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(89)}, time.Now())
	require.NoError(t, err)
	require.Empty(t, conds)

	conds, err = m.CheckExits([]PositionView{pos}, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(91)}, time.Now())
	require.NoError(t, err)
	require.Len(t, conds, 1)
	require.Equal(t, "chandelier_stop_hit", conds[0].Reason)
}

func TestChandelierDisabledOrMissingATRNeverFires(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(Config{ChandelierNATR: decimal.NewFromFloat(2.5), Ladders: farLadder()}, "s1", store) // not enabled

	pos := PositionView{
		Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100),
		HighSinceEntry: decimal.NewFromInt(120), ATR: decimal.NewFromInt(4), HasATR: true,
	}
	conds, err := m.CheckExits([]PositionView{pos}, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(105)}, time.Now())
	require.NoError(t, err)
	require.Empty(t, conds)

	enabled := NewManager(Config{EnableChandelier: true, ChandelierNATR: decimal.NewFromFloat(2.5), Ladders: farLadder()}, "s1", store)
	pos.HasATR = false
	conds, err = enabled.CheckExits([]PositionView{pos}, map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(105)}, time.Now())
	require.NoError(t, err)
	require.Empty(t, conds)
}

func TestMarkTakenSuppressesLadderAndResetSymbolRearms(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(Config{
		Ladders: []LadderLevel{{ProfitPct: decimal.NewFromFloat(0.8), Pct: decimal.NewFromFloat(0.5)}},
	}, "s1", store)

	// An externally filled resting TP order satisfies the rung before CheckExits
	// ever sees the position.
	require.NoError(t, m.MarkTaken("BTCUSDT", 0))

	pos := PositionView{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)}
	marks := map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(101)}

	conds, err := m.CheckExits([]PositionView{pos}, marks, time.Now())
	require.NoError(t, err)
	require.Empty(t, conds)

	// After the position fully closes the ladder re-arms for the next position.
	require.NoError(t, m.ResetSymbol("BTCUSDT"))
	conds, err = m.CheckExits([]PositionView{pos}, marks, time.Now())
	require.NoError(t, err)
	require.Len(t, conds, 1)
	require.True(t, conds[0].IsLadder)
	require.Equal(t, 0, conds[0].LadderLevel)
}

func TestCheckExitsTimeStop(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(Config{TimeStopHours: decimal.NewFromFloat(1)}, "s1", store)

	pos := PositionView{
		Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100),
		EntryTime: time.Now().Add(-2 * time.Hour), HasEntryTime: true,
	}
	marks := map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(100)}

	conds, err := m.CheckExits([]PositionView{pos}, marks, time.Now())
	require.NoError(t, err)
	require.Len(t, conds, 1)
	require.Contains(t, conds[0].Reason, "time_stop_")
}
