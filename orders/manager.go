package orders

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradecycle/connector"
	"tradecycle/money"
)

// FeeConfig carries the configured default fee/slippage knobs (execution.*
// section of config.Config) used when the connector's own FeeInfo lookup fails.
type FeeConfig struct {
	MakerFeeBps  decimal.Decimal
	TakerFeeBps  decimal.Decimal
	SlippageBps  decimal.Decimal
}

// MarketConditions is the volatility/liquidity context the fill simulator needs,
// supplied per-symbol by the data engine or defaulted when unavailable.
type MarketConditions struct {
	Volatility decimal.Decimal // not read directly by the probability model; carried for callers that size slippage off it
	Liquidity  decimal.Decimal // in [0,1]; defaults to 0.8
}

// DefaultMarketConditions is the fallback used when no market data is supplied
// to SimulateFill.
var DefaultMarketConditions = MarketConditions{Volatility: decimal.NewFromFloat(0.02), Liquidity: decimal.NewFromFloat(0.8)}

// Manager simulates fills for the paper/sandbox venue and computes fees.
type Manager struct {
	Connector connector.Connector
	Fees      FeeConfig
	Rand      *rand.Rand
}

// NewManager returns a Manager with a time-seeded random source. Tests should set
// Rand to a fixed-seed source for reproducibility.
func NewManager(conn connector.Connector, fees FeeConfig) *Manager {
	return &Manager{Connector: conn, Fees: fees, Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// CalculateFees returns the fee owed on order.Quantity filled at fillPrice,
// preferring the connector's own FeeInfo and falling back to the configured bps
// defaults. fillPrice is passed explicitly because a market order carries no
// price of its own.
func (m *Manager) CalculateFees(ctx context.Context, order Order, fillPrice decimal.Decimal, isMaker bool) decimal.Decimal {
	makerBps, takerBps := m.Fees.MakerFeeBps, m.Fees.TakerFeeBps
	if m.Connector != nil {
		if fi, err := m.Connector.GetFeeInfo(ctx, order.Symbol); err == nil {
			makerBps, takerBps = fi.MakerFeeBps, fi.TakerFeeBps
		}
	}
	bps := takerBps
	if isMaker || order.Type == Limit {
		bps = makerBps
	}
	notional := money.Notional(order.Quantity, fillPrice)
	return notional.Mul(bps).Div(decimal.NewFromInt(10000))
}

// SimulateFill decides whether order fills against currentPrice this tick, and if
// so at what price and fee, applying the fill-probability and slippage model for
// the order's type and side.
func (m *Manager) SimulateFill(ctx context.Context, order Order, currentPrice decimal.Decimal, mkt MarketConditions) (filled bool, fillPrice, fee decimal.Decimal, isMaker bool) {
	prob := m.fillProbability(order, currentPrice, mkt)
	if m.Rand.Float64() >= prob {
		return false, money.Zero, money.Zero, false
	}

	fillPrice = m.fillPrice(order, currentPrice)
	isMaker = order.Type == Limit && m.isMakerOrder(order, currentPrice)
	fee = m.CalculateFees(ctx, order, fillPrice, isMaker)
	return true, fillPrice, fee, isMaker
}

func (m *Manager) fillProbability(order Order, currentPrice decimal.Decimal, mkt MarketConditions) float64 {
	base, _ := mkt.Liquidity.Float64()

	switch order.Type {
	case Market:
		return minF(0.99, base*1.1)
	case Limit:
		if !money.IsPositive(order.Price) {
			return 0
		}
		priceRatio, _ := order.Price.Div(currentPrice).Float64()
		if order.Side == Buy {
			if priceRatio >= 1.0 {
				return minF(0.95, base*0.8)
			}
			return base * (0.1 + 0.4*priceRatio)
		}
		if priceRatio <= 1.0 {
			return minF(0.95, base*0.8)
		}
		return base * (0.1 + 0.4/priceRatio)
	case Stop, StopLimit:
		if !money.IsPositive(order.StopPrice) {
			return 0
		}
		triggered := false
		if order.Side == Buy {
			triggered = currentPrice.GreaterThanOrEqual(order.StopPrice)
		} else {
			triggered = currentPrice.LessThanOrEqual(order.StopPrice)
		}
		if !triggered {
			return 0
		}
		return minF(0.9, base*0.9)
	default:
		return base * 0.5
	}
}

func (m *Manager) fillPrice(order Order, currentPrice decimal.Decimal) decimal.Decimal {
	switch order.Type {
	case Market, Stop:
		slippage := decimal.NewFromFloat(m.Rand.Float64()).Mul(m.Fees.SlippageBps).Div(decimal.NewFromInt(10000))
		if order.Side == Buy {
			return currentPrice.Mul(decimal.NewFromInt(1).Add(slippage))
		}
		return currentPrice.Mul(decimal.NewFromInt(1).Sub(slippage))
	case Limit, StopLimit:
		improvement := decimal.NewFromFloat(m.Rand.Float64() * 0.001)
		if order.Side == Buy {
			return money.Min(order.Price, currentPrice.Mul(decimal.NewFromInt(1).Sub(improvement)))
		}
		return money.Max(order.Price, currentPrice.Mul(decimal.NewFromInt(1).Add(improvement)))
	default:
		return currentPrice
	}
}

// isMakerOrder reports whether a resting limit order sits on the passive side of
// the market (buy below, sell above) at fill time.
func (m *Manager) isMakerOrder(order Order, currentPrice decimal.Decimal) bool {
	if order.Side == Buy {
		return order.Price.LessThan(currentPrice)
	}
	return order.Price.GreaterThan(currentPrice)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// TPLadderLevel is one configured take-profit-ladder rung. Either ProfitPct (new,
// percentage-of-entry format) or RMult (legacy, risk-unit multiple) may be set;
// ProfitPct takes precedence when both are present, matching
// create_tp_ladder_orders' dual-format support.
type TPLadderLevel struct {
	ProfitPct   decimal.Decimal
	HasProfitPct bool
	RMult       decimal.Decimal
	HasRMult    bool
	PctOfPosition decimal.Decimal // fraction of the position this rung exits, default 0.25
}

// BuildTPLadderOrders generates one reduce-only GTC limit order per configured
// ladder rung, skipping rungs whose quantity would be at or below minQty. positionQty
// is signed (positive = long); oneR is the risk unit (|entry - stop|) used for the
// legacy r_mult format.
func BuildTPLadderOrders(symbol, strategy, sessionID string, positionQty, avgCost, oneR decimal.Decimal, levels []TPLadderLevel, priceTick, minQty decimal.Decimal) []Order {
	if !money.IsPositive(positionQty.Abs()) || money.IsZero(positionQty) {
		return nil
	}
	isLong := positionQty.Sign() > 0

	var out []Order
	for i, lvl := range levels {
		var target decimal.Decimal
		switch {
		case lvl.HasProfitPct:
			pct := lvl.ProfitPct.Div(decimal.NewFromInt(100))
			if isLong {
				target = avgCost.Mul(decimal.NewFromInt(1).Add(pct))
			} else {
				target = avgCost.Mul(decimal.NewFromInt(1).Sub(pct))
			}
		case lvl.HasRMult:
			if !money.IsPositive(oneR) {
				continue
			}
			if isLong {
				target = avgCost.Add(lvl.RMult.Mul(oneR))
			} else {
				target = avgCost.Sub(lvl.RMult.Mul(oneR))
			}
		default:
			continue
		}
		target = money.QuantizePrice(target, priceTick)

		pctOfPosition := lvl.PctOfPosition
		if pctOfPosition.IsZero() {
			pctOfPosition = decimal.NewFromFloat(0.25)
		}
		ladderQty := positionQty.Abs().Mul(pctOfPosition)
		if ladderQty.LessThanOrEqual(minQty) {
			continue
		}

		side := Sell
		if !isLong {
			side = Buy
		}

		out = append(out, Order{
			OrderID:     uuid.NewString(),
			Symbol:      symbol,
			Side:        side,
			Type:        Limit,
			Price:       target,
			Quantity:    ladderQty,
			TimeInForce: GTC,
			ReduceOnly:  true,
			TPLadder:    true,
			TPLadderLvl: i,
			Strategy:    strategy,
			SessionID:   sessionID,
			Status:      StatusPending,
			CreatedAt:   time.Now(),
		})
	}
	return out
}

// ResolveOrderType applies the connector's order-type downgrade chain and returns
// the order with Type replaced if downgraded, along with whether a downgrade
// occurred.
func ResolveOrderType(conn connector.Connector, order Order) (Order, bool) {
	resolved, downgraded := connector.ResolveSupportedType(conn, string(order.Type))
	if downgraded {
		order.Type = Type(resolved)
	}
	return order, downgraded
}

// NewOrderID returns a fresh order identifier.
func NewOrderID() string { return fmt.Sprintf("ord-%s", uuid.NewString()) }
