package orders

import (
	"context"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradecycle/connector"
)

func newTestManager(seed int64) *Manager {
	m := NewManager(connector.NewSimConnector(), FeeConfig{
		MakerFeeBps: decimal.NewFromInt(10),
		TakerFeeBps: decimal.NewFromInt(20),
		SlippageBps: decimal.NewFromInt(5),
	})
	m.Rand = rand.New(rand.NewSource(seed))
	return m
}

func TestCalculateFeesUsesTakerForMarket(t *testing.T) {
	m := newTestManager(1)
	// A market order carries no price of its own; fees accrue on the fill price.
	order := Order{Symbol: "BTCUSDT", Type: Market, Quantity: decimal.NewFromInt(1)}
	fee := m.CalculateFees(context.Background(), order, decimal.NewFromInt(100), false)
	require.True(t, fee.Equal(decimal.NewFromFloat(0.2)), "got %s", fee) // 100 * 20/10000
}

func TestCalculateFeesUsesMakerForLimit(t *testing.T) {
	m := newTestManager(1)
	order := Order{Symbol: "BTCUSDT", Type: Limit, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100)}
	fee := m.CalculateFees(context.Background(), order, decimal.NewFromInt(100), false)
	require.True(t, fee.Equal(decimal.NewFromFloat(0.1)), "got %s", fee) // 100 * 10/10000
}

func TestSimulateFillMarketOrderHighProbability(t *testing.T) {
	m := newTestManager(42)
	order := Order{Symbol: "BTCUSDT", Side: Buy, Type: Market, Quantity: decimal.NewFromInt(1)}
	filled, price, fee, _ := m.SimulateFill(context.Background(), order, decimal.NewFromInt(100), DefaultMarketConditions)
	require.True(t, filled)
	require.True(t, price.GreaterThan(decimal.Zero))
	require.True(t, fee.GreaterThanOrEqual(decimal.Zero))
}

func TestSimulateFillStopOnlyTriggersWhenCrossed(t *testing.T) {
	m := newTestManager(7)
	order := Order{Symbol: "BTCUSDT", Side: Sell, Type: Stop, StopPrice: decimal.NewFromInt(90), Quantity: decimal.NewFromInt(1)}
	filled, _, _, _ := m.SimulateFill(context.Background(), order, decimal.NewFromInt(100), DefaultMarketConditions)
	require.False(t, filled, "sell stop at 90 should not trigger at price 100")

	filled, _, _, _ = m.SimulateFill(context.Background(), order, decimal.NewFromInt(85), DefaultMarketConditions)
	require.True(t, filled, "sell stop at 90 should trigger at price 85")
}

func TestBuildTPLadderOrdersProfitPctFormat(t *testing.T) {
	levels := []TPLadderLevel{
		{ProfitPct: decimal.NewFromFloat(0.8), HasProfitPct: true, PctOfPosition: decimal.NewFromFloat(0.5)},
		{ProfitPct: decimal.NewFromFloat(1.5), HasProfitPct: true, PctOfPosition: decimal.NewFromFloat(0.5)},
	}
	orders := BuildTPLadderOrders("BTCUSDT", "default", "s1", decimal.NewFromInt(1), decimal.NewFromInt(50000), decimal.Zero, levels, decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.001))
	require.Len(t, orders, 2)
	require.Equal(t, Sell, orders[0].Side)
	require.True(t, orders[0].ReduceOnly)
	require.True(t, orders[0].Price.GreaterThan(decimal.NewFromInt(50000)))
}

func TestBuildTPLadderOrdersSkipsBelowMinQty(t *testing.T) {
	levels := []TPLadderLevel{{ProfitPct: decimal.NewFromFloat(0.8), HasProfitPct: true, PctOfPosition: decimal.NewFromFloat(0.0001)}}
	orders := BuildTPLadderOrders("BTCUSDT", "default", "s1", decimal.NewFromInt(1), decimal.NewFromInt(50000), decimal.Zero, levels, decimal.NewFromFloat(0.01), decimal.NewFromFloat(0.001))
	require.Empty(t, orders)
}

func TestResolveOrderTypeDowngradesChain(t *testing.T) {
	conn := connector.NewSimConnector()
	conn.SupportedTypes = map[string]bool{"market": true} // only market supported

	order, downgraded := ResolveOrderType(conn, Order{Type: StopLimit})
	require.True(t, downgraded)
	require.Equal(t, Market, order.Type)
}
