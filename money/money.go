// Package money provides fixed-precision decimal arithmetic for all monetary and
// quantity values in the engine. Every price, quantity, and cash figure that crosses
// a package boundary is a decimal.Decimal — never a float64 — so that repeated
// quantization and accumulation across a long-running session cannot drift.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

func init() {
	// 28-digit context, matching the precision the reference implementation's
	// decimal.Decimal(getcontext) carried.
	decimal.DivisionPrecision = 28
}

// USDPlaces is the number of decimal places currency-like quotes are quantized to.
const USDPlaces = 2

// Zero is the canonical zero value, exported so callers never need decimal.NewFromInt(0) inline.
var Zero = decimal.Zero

// Epsilon is the default tolerance used by is-zero style comparisons where an exact
// decimal compare would be too strict because upstream values entered as float64.
var Epsilon = decimal.New(1, -8)

// FromFloat converts a float64 (as received from an external market data feed) into
// a Decimal. Only use this at the boundary where untyped numbers enter the system.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// QuantizeUSD rounds a currency amount to USDPlaces decimals, half-up.
func QuantizeUSD(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(USDPlaces)
}

// QuantizePrice rounds a raw price to the nearest multiple of tick, half-up.
// A non-positive tick is treated as "no rounding" and the price is returned unchanged.
func QuantizePrice(price, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return price
	}
	units := price.DivRound(tick, 0)
	return units.Mul(tick)
}

// QuantizeQtyDown rounds a raw quantity down to the nearest multiple of step. This is
// always the conservative direction for a quantity: it never creates an order larger
// than requested.
func QuantizeQtyDown(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	units := qty.Div(step).Truncate(0)
	return units.Mul(step)
}

// IsAlignedToTick reports whether price is an exact multiple of tick, within Epsilon.
func IsAlignedToTick(price, tick decimal.Decimal) bool {
	return isAligned(price, tick)
}

// IsAlignedToStep reports whether qty is an exact multiple of step, within Epsilon.
func IsAlignedToStep(qty, step decimal.Decimal) bool {
	return isAligned(qty, step)
}

func isAligned(value, unit decimal.Decimal) bool {
	if unit.Sign() <= 0 {
		return true
	}
	remainder := value.Mod(unit).Abs()
	return remainder.LessThan(Epsilon) || remainder.Sub(unit).Abs().LessThan(Epsilon)
}

// Notional returns |qty| * price.
func Notional(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Abs().Mul(price)
}

// SafeDivide divides numerator by denominator, returning fallback when denominator is
// zero rather than panicking.
func SafeDivide(numerator, denominator, fallback decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return fallback
	}
	return numerator.Div(denominator)
}

// IsPositive, IsNegative, and IsZero apply Epsilon-tolerant sign checks, used
// throughout the sizing and lot-book code to avoid float-noise false positives.
func IsPositive(d decimal.Decimal) bool { return d.GreaterThan(Epsilon) }
func IsNegative(d decimal.Decimal) bool { return d.LessThan(Epsilon.Neg()) }
func IsZero(d decimal.Decimal) bool     { return d.Abs().LessThan(Epsilon) }

// Max and Min return the larger/smaller of two decimals.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Sum adds a slice of decimals, returning Zero for an empty slice.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// FormatUSD renders a currency amount with a leading '$' and USDPlaces decimals,
// used throughout log lines.
func FormatUSD(amount decimal.Decimal) string {
	return fmt.Sprintf("$%s", QuantizeUSD(amount).StringFixed(USDPlaces))
}
