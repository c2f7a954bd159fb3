// Package risk implements SL/TP derivation, RR computation, risk-based position
// sizing and slicing, precision quantization (Order Builder), preflight entry
// checks, and the daily loss limit halt.
package risk

// RejectReason is the machine-readable enum used in place of
// exceptions for sizing/preflight control flow.
type RejectReason string

const (
	RejectNone                RejectReason = ""
	RejectPriceOutOfRange     RejectReason = "price_out_of_range"
	RejectMinNotional         RejectReason = "min_notional"
	RejectPrecisionFail       RejectReason = "precision_fail"
	RejectBudgetExhausted     RejectReason = "budget_exhausted"
	RejectNoATRNoFallback     RejectReason = "no_atr_no_fallback"
	RejectRRTooLow            RejectReason = "rr_too_low"
	RejectDailyLossLimit      RejectReason = "daily_loss_limit_halt"
	RejectShortNotAllowed     RejectReason = "short_not_allowed"
	RejectInvalidStopDist     RejectReason = "invalid_stop_distance"
	RejectPerTradeCapExceeded RejectReason = "per_trade_cap_exceeded"
)

// Rejection pairs a RejectReason with a human-readable detail for logs.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Detail
}

func reject(reason RejectReason, detail string) error {
	return Rejection{Reason: reason, Detail: detail}
}
