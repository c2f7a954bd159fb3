package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecycle/money"
)

// MinStopFracDefault is the default minimum stop distance (as a fraction of entry)
// preflight requires.
var MinStopFracDefault = dec("0.001")

// PreflightInput bundles everything the preflight entry check needs.
type PreflightInput struct {
	Entry            decimal.Decimal
	StopLoss         decimal.Decimal
	IsShort          bool
	IsFlat           bool // true when this entry would open a short from a flat (no existing long/short) position
	ShortEnabled     bool // global config: risk.short_enabled
	SymbolAllowShort bool
	MinStopFrac      decimal.Decimal
}

// PreflightEntryCheck runs preflight checks before any order is
// created: short-from-flat gating and minimum stop distance.
func PreflightEntryCheck(in PreflightInput) error {
	if in.IsShort && in.IsFlat {
		if !in.ShortEnabled || !in.SymbolAllowShort {
			return reject(RejectShortNotAllowed, "short-from-flat requires short_enabled and symbol allow_short")
		}
	}

	if !money.IsPositive(in.Entry) || !money.IsPositive(in.StopLoss) {
		return reject(RejectInvalidStopDist, "entry and stop loss must be positive")
	}

	minFrac := in.MinStopFrac
	if minFrac.IsZero() {
		minFrac = MinStopFracDefault
	}
	stopFrac := in.Entry.Sub(in.StopLoss).Abs().Div(money.Max(in.Entry, money.Epsilon))
	if stopFrac.LessThan(minFrac) {
		return reject(RejectInvalidStopDist, fmt.Sprintf("stop_frac %s below minimum %s", stopFrac, minFrac))
	}

	return nil
}

// CheckRR rejects a candidate whose computed RR is below rrMin.
func CheckRR(rr decimal.Decimal, rrMin decimal.Decimal) error {
	if rr.LessThan(rrMin) {
		return reject(RejectRRTooLow, fmt.Sprintf("rr %s below minimum %s", rr, rrMin))
	}
	return nil
}
