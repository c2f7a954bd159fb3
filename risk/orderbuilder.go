package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecycle/money"
)

// SymbolRules are the exchange-reported precision/minimum rules for one symbol,
// supplied via connector.Connector.GetSymbolRules.
type SymbolRules struct {
	PriceTick   decimal.Decimal
	QtyStep     decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// DefaultSymbolRules is the conservative built-in fallback used when config has no
// entry for a traded symbol.
var DefaultSymbolRules = SymbolRules{
	PriceTick:   dec("0.01"),
	QtyStep:     dec("0.001"),
	MinQty:      dec("0.001"),
	MinNotional: dec("10.0"),
}

// QuantizedOrder is a fully precision-compliant order ready for submission.
type QuantizedOrder struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Notional decimal.Decimal
}

// BuildOrder quantizes (rawPrice, targetNotional) to symbolRules, bumping once to
// meet minimum quantity/notional and rejecting on a second failure.
func BuildOrder(rawPrice, targetNotional decimal.Decimal, rules SymbolRules, perTradeCap decimal.Decimal, hasPerTradeCap bool) (QuantizedOrder, error) {
	if !money.IsPositive(rawPrice) {
		return QuantizedOrder{}, reject(RejectPriceOutOfRange, "price must be > 0")
	}
	if !money.IsPositive(targetNotional) {
		return QuantizedOrder{}, reject(RejectPriceOutOfRange, "target notional must be > 0")
	}
	if hasPerTradeCap && targetNotional.GreaterThan(perTradeCap) {
		return QuantizedOrder{}, reject(RejectPerTradeCapExceeded, fmt.Sprintf("target %s exceeds cap %s", targetNotional, perTradeCap))
	}

	return buildQuantized(rawPrice, targetNotional, rules, 0)
}

// maxBumps is "bump once to meet the minimum; on second failure,
// reject" rule: exactly one automatic retry at a bumped notional is allowed.
const maxBumps = 1

func buildQuantized(rawPrice, targetNotional decimal.Decimal, rules SymbolRules, bumpsUsed int) (QuantizedOrder, error) {
	price := money.QuantizePrice(rawPrice, rules.PriceTick)
	qtyRaw := targetNotional.Div(price)
	qty := money.QuantizeQtyDown(qtyRaw, rules.QtyStep)

	if qty.LessThan(rules.MinQty) {
		if bumpsUsed < maxBumps {
			bumpedNotional := rules.MinQty.Mul(price)
			return buildQuantized(rawPrice, bumpedNotional, rules, bumpsUsed+1)
		}
		return QuantizedOrder{}, reject(RejectPrecisionFail, fmt.Sprintf("qty %s below minimum %s", qty, rules.MinQty))
	}

	notional := qty.Mul(price)
	if notional.LessThan(rules.MinNotional) {
		if bumpsUsed < maxBumps {
			bumped := rules.MinNotional
			if rules.QtyStep.Sign() > 0 {
				// Smallest step-aligned quantity whose notional reaches the minimum.
				bumped = rules.MinNotional.Div(price).Div(rules.QtyStep).Ceil().Mul(rules.QtyStep).Mul(price)
			}
			return buildQuantized(rawPrice, bumped, rules, bumpsUsed+1)
		}
		return QuantizedOrder{}, reject(RejectMinNotional, fmt.Sprintf("notional %s below minimum %s", notional, rules.MinNotional))
	}

	return QuantizedOrder{Price: price, Quantity: qty, Notional: notional}, nil
}

// ValidateOrderPrecision reports whether (price, qty) already satisfies rules,
// without attempting any quantization.
func ValidateOrderPrecision(price, qty decimal.Decimal, rules SymbolRules) (bool, RejectReason) {
	if !money.IsAlignedToTick(price, rules.PriceTick) {
		return false, RejectPrecisionFail
	}
	if !money.IsAlignedToStep(qty, rules.QtyStep) {
		return false, RejectPrecisionFail
	}
	if qty.LessThan(rules.MinQty) {
		return false, RejectPrecisionFail
	}
	if money.Notional(qty, price).LessThan(rules.MinNotional) {
		return false, RejectMinNotional
	}
	return true, RejectNone
}
