// Package engine implements the cycle orchestrator — the top-level loop that
// hydrates state, seals a pricing snapshot, evaluates signals and regime, runs
// the entry gate, sizes and executes orders through the risk/order/portfolio
// pipeline, checks exits, and asserts equity.
package engine

import (
	"github.com/shopspring/decimal"

	"tradecycle/logger"
)

// Action is the final disposition of a symbol evaluated this cycle.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
	ActionSkip Action = "SKIP"
)

// DecisionTrace is the structured per-symbol record emitted every cycle: one
// per evaluated symbol, post-hoc explicable even for a SKIP because EntryPrice is
// always populated from the sealed pricing snapshot when available.
type DecisionTrace struct {
	Symbol          string
	Regime          string
	CompositeScore  decimal.Decimal
	Threshold       decimal.Decimal
	Confidence      decimal.Decimal
	WinningStrategy string
	WinningScore    decimal.Decimal
	FinalAction     Action
	Reason          string

	HasEntryPrice bool
	EntryPrice    decimal.Decimal
	HasSizing     bool
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	Size          decimal.Decimal
}

// round4 and round6 apply the I/O-boundary rounding used for decision-trace
// numbers: prices/scores at 4dp, size at 6dp.
func round4(d decimal.Decimal) decimal.Decimal { return d.Round(4) }
func round6(d decimal.Decimal) decimal.Decimal { return d.Round(6) }

// Emit logs the trace through the structured logger as a DECISION_TRACE record,
// with per-cycle counting handled by the caller via metrics.DecisionTraceTotal.
func (t DecisionTrace) Emit(sessionID string) {
	fields := map[string]interface{}{
		"session_id":       sessionID,
		"symbol":           t.Symbol,
		"regime":           t.Regime,
		"composite_score":  round4(t.CompositeScore).String(),
		"threshold":        round4(t.Threshold).String(),
		"confidence":       round4(t.Confidence).String(),
		"winning_strategy": t.WinningStrategy,
		"winning_score":    round4(t.WinningScore).String(),
		"final_action":     string(t.FinalAction),
		"reason":           t.Reason,
	}
	if t.HasEntryPrice {
		fields["entry_price"] = round4(t.EntryPrice).String()
	}
	if t.HasSizing {
		fields["stop_loss"] = round4(t.StopLoss).String()
		fields["take_profit"] = round4(t.TakeProfit).String()
		fields["size"] = round6(t.Size).String()
	}

	level := "info"
	code := "DECISION_TRACE"
	if t.FinalAction == ActionSkip {
		level = "info"
		code = "SKIP"
	}
	logger.Code(level, code, "decision trace", fields)
}
