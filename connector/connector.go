// Package connector declares the venue contract the engine talks to for fee
// schedules, supported order types, and symbol precision rules, plus the mandatory
// pure-Go paper venue (SimConnector) used by every deterministic test and by
// dry-run sessions.
package connector

import (
	"context"

	"github.com/shopspring/decimal"

	"tradecycle/risk"
)

// OrderSide mirrors orders.Side, declared locally to avoid an import cycle
// (orders imports connector to route live submissions).
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// FeeInfo is the maker/taker fee schedule for a symbol, in basis points.
type FeeInfo struct {
	MakerFeeBps decimal.Decimal
	TakerFeeBps decimal.Decimal
}

// Connector is the venue contract: fee info, supported order types (for the
// downgrade chain in orders.Manager), and per-symbol precision rules.
type Connector interface {
	Name() string
	GetFeeInfo(ctx context.Context, symbol string) (FeeInfo, error)
	GetSupportedOrderTypes() map[string]bool
	GetSymbolRules(ctx context.Context, symbol string) (risk.SymbolRules, error)
}

// DowngradeChain maps an unsupported order type to the next type to try:
// stop_limit -> limit, stop -> market,
// take_profit{_limit} -> limit, with market as the universal last resort.
var DowngradeChain = map[string]string{
	"stop_limit":       "limit",
	"stop":             "market",
	"take_profit":      "limit",
	"take_profit_limit": "limit",
	"limit":            "market",
}

// ResolveSupportedType walks DowngradeChain from orderType until it finds a type
// the connector supports, or returns ("market", true) as the universal fallback
// (every connector in this engine is required to support market orders).
func ResolveSupportedType(c Connector, orderType string) (resolved string, downgraded bool) {
	supported := c.GetSupportedOrderTypes()
	if supported[orderType] {
		return orderType, false
	}
	current := orderType
	for i := 0; i < len(DowngradeChain)+1; i++ {
		next, ok := DowngradeChain[current]
		if !ok {
			break
		}
		if supported[next] {
			return next, true
		}
		current = next
	}
	return "market", true
}
