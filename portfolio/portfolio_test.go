package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradecycle/orders"
	"tradecycle/state"
)

func newTestPortfolio(t *testing.T, cash decimal.Decimal) (*Portfolio, state.Store) {
	t.Helper()
	store, err := state.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewPortfolio(cash, store, "s1"), store
}

func TestApplyBuyThenSellFIFOWithPartialAndFullExit(t *testing.T) {
	p, _ := newTestPortfolio(t, decimal.NewFromInt(100000))

	buy := orders.Fill{OrderID: "o1", Symbol: "BTCUSDT", Side: orders.Buy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(50000), Fee: decimal.NewFromInt(10), FilledAt: time.Now()}
	marks := map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)}
	res, err := p.Apply(buy, "default", marks)
	require.NoError(t, err)
	require.True(t, res.NewPosition.Quantity.Equal(decimal.NewFromInt(1)))

	// Partial TP exit at a higher mark.
	sell1 := orders.Fill{OrderID: "o2", Symbol: "BTCUSDT", Side: orders.Sell, Quantity: decimal.NewFromFloat(0.5), Price: decimal.NewFromInt(51000), Fee: decimal.NewFromInt(5), FilledAt: time.Now()}
	marks["BTCUSDT"] = decimal.NewFromInt(51000)
	res, err = p.Apply(sell1, "default", marks)
	require.NoError(t, err)
	require.True(t, res.RealizedPnL.GreaterThan(decimal.Zero), "selling above entry should realize a profit")
	require.True(t, res.NewPosition.Quantity.Equal(decimal.NewFromFloat(0.5)))

	// Full exit of the remainder.
	sell2 := orders.Fill{OrderID: "o3", Symbol: "BTCUSDT", Side: orders.Sell, Quantity: decimal.NewFromFloat(0.5), Price: decimal.NewFromInt(52000), Fee: decimal.NewFromInt(5), FilledAt: time.Now()}
	marks["BTCUSDT"] = decimal.NewFromInt(52000)
	res, err = p.Apply(sell2, "default", marks)
	require.NoError(t, err)
	require.True(t, res.NewPosition.Quantity.IsZero())
	_, stillOpen := p.Positions["BTCUSDT|default"]
	require.False(t, stillOpen)
}

func TestApplyFullSellDeletesExhaustedLotRows(t *testing.T) {
	p, store := newTestPortfolio(t, decimal.NewFromInt(100000))
	marks := map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(100)}

	buy := orders.Fill{OrderID: "o1", Symbol: "BTCUSDT", Side: orders.Buy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), FilledAt: time.Now()}
	_, err := p.Apply(buy, "default", marks)
	require.NoError(t, err)

	sell := orders.Fill{OrderID: "o2", Symbol: "BTCUSDT", Side: orders.Sell, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), FilledAt: time.Now()}
	_, err = p.Apply(sell, "default", marks)
	require.NoError(t, err)

	// The consumed lot's row must be gone, or a restart's rehydration would
	// resurrect quantity the FIFO queue already ate.
	lots, err := store.GetLotbook("s1", "BTCUSDT")
	require.NoError(t, err)
	require.Empty(t, lots)
}

func TestApplyRejectsBudgetExhausted(t *testing.T) {
	p, _ := newTestPortfolio(t, decimal.NewFromInt(100))

	buy := orders.Fill{OrderID: "o1", Symbol: "BTCUSDT", Side: orders.Buy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(50000), Fee: decimal.NewFromInt(10), FilledAt: time.Now()}
	_, err := p.Apply(buy, "default", map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)})
	require.Error(t, err)
	require.Equal(t, decimal.NewFromInt(100).String(), p.CashBalance.String(), "cash must be untouched on a rejected fill")
}

func TestApplyRollsBackOnInvariantViolation(t *testing.T) {
	p, _ := newTestPortfolio(t, decimal.NewFromInt(100000))

	buy := orders.Fill{OrderID: "o1", Symbol: "BTCUSDT", Side: orders.Buy, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Fee: decimal.NewFromFloat(0.1), FilledAt: time.Now()}
	// Mark the symbol wildly away from the fill price, simulating a stale/corrupt
	// mark that would silently mint or destroy equity if not caught.
	marks := map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(200)}

	_, err := p.Apply(buy, "default", marks)
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.True(t, p.CashBalance.Equal(decimal.NewFromInt(100000)), "cash must be rolled back")
	require.Empty(t, p.Positions, "no position should be committed")
	require.Empty(t, p.Lots.Symbols(), "no lot should be committed")
}

func TestEquityFallsBackToEntryPriceWhenMarkMissing(t *testing.T) {
	p, _ := newTestPortfolio(t, decimal.NewFromInt(1000))
	p.Positions["BTCUSDT|default"] = Position{Symbol: "BTCUSDT", Strategy: "default", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100)}

	equity, fellBack := p.Equity(map[string]decimal.Decimal{})
	require.True(t, equity.Equal(decimal.NewFromInt(1100)))
	require.Equal(t, []string{"BTCUSDT"}, fellBack)
}

func TestAssertEquityReconcilesWithinBoundedAttempts(t *testing.T) {
	p, store := newTestPortfolio(t, decimal.NewFromInt(1000))
	require.NoError(t, store.SaveCashEquity(state.CashEquity{CashBalance: decimal.NewFromInt(1000), TotalEquity: decimal.NewFromInt(5000), SessionID: "s1"}))

	report, err := p.AssertEquity(map[string]decimal.Decimal{})
	require.NoError(t, err)
	require.True(t, report.WithinBound, "reconciliation should converge once the stored row is replaced with the recomputed value")
}
