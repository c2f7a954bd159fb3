package risk

import (
	"github.com/shopspring/decimal"

	"tradecycle/money"
)

// CheckDailyLossLimit implements daily loss halt: if the drawdown
// from sessionStartEquity to currentEquity reaches limitPct, new entries halt for
// the rest of the day while exits continue to run.
func CheckDailyLossLimit(sessionStartEquity, currentEquity, limitPct decimal.Decimal) (shouldHalt bool, reason string) {
	if !money.IsPositive(sessionStartEquity) {
		return false, ""
	}
	drawdown := sessionStartEquity.Sub(currentEquity).Div(sessionStartEquity)
	if drawdown.GreaterThanOrEqual(limitPct) {
		return true, string(RejectDailyLossLimit)
	}
	return false, ""
}
