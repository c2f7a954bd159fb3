package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradecycle/logger"
	"tradecycle/money"
	"tradecycle/pricing"
	"tradecycle/regime"
	"tradecycle/risk"
	"tradecycle/signal"
	"tradecycle/state"
)

// fetchRegimeInputs pulls the handful of indicators regime.Detect needs for symbol,
// tolerating any individual indicator's absence by leaving its Present flag false.
func (o *Orchestrator) fetchRegimeInputs(ctx context.Context, symbol string) regime.Inputs {
	timeframe := o.Config.Trading.Timeframe
	var in regime.Inputs

	if v, ok, err := o.DataEngine.GetIndicator(ctx, symbol, signal.IndicatorRequest{Name: signal.EMA, Period: 50}); err == nil && ok {
		in.EMA50, in.EMA50Present = v, true
	}
	if v, ok, err := o.DataEngine.GetIndicator(ctx, symbol, signal.IndicatorRequest{Name: signal.EMA, Period: 200}); err == nil && ok {
		in.EMA200, in.EMA200Present = v, true
	}
	if v, ok, err := o.DataEngine.GetIndicator(ctx, symbol, signal.IndicatorRequest{Name: signal.ADX, Period: 14}); err == nil && ok {
		in.ADX14, in.ADX14Present = v, true
	}
	if v, ok, err := o.DataEngine.GetIndicator(ctx, symbol, signal.IndicatorRequest{Name: signal.ATR, Period: 14}); err == nil && ok {
		in.ATR14, in.ATR14Present = v, true
	}
	if v, ok, err := o.DataEngine.GetIndicator(ctx, symbol, signal.IndicatorRequest{Name: signal.SMAOf, Period: 100, Of: signal.ATR, OfPeriod: 14}); err == nil && ok {
		in.ATRSMA100, in.ATRSMA100Present = v, true
	}

	if bars, err := o.DataEngine.GetOHLCV(ctx, symbol, timeframe, regime.WarmupBarsNeeded); err == nil {
		in.BarCount = len(bars)
	}
	return in
}

// evaluateSymbols runs signal evaluation, regime classification, SL/TP derivation,
// RR check, and preflight for every configured symbol, returning the surviving
// Candidate set plus a SKIP DecisionTrace for every symbol that did not survive.
func (o *Orchestrator) evaluateSymbols(ctx context.Context, cycleID int64, symbols []string) (candidates []Candidate, traces []DecisionTrace) {
	for _, sym := range symbols {
		// Resolve the snapshot entry price up front so even early SKIP traces are
		// post-hoc explicable; the hard price_unavailable rejection stays below,
		// after regime classification, so its trace carries the regime too.
		snapPrice, snapPriceErr := o.Pricing.GetEntryPrice(cycleID, sym)
		hasSnapPrice := snapPriceErr == nil

		composite, err := o.Signal.Evaluate(ctx, sym)
		if err != nil {
			traces = append(traces, DecisionTrace{
				Symbol: sym, FinalAction: ActionSkip, Reason: "signal_unavailable",
				HasEntryPrice: hasSnapPrice, EntryPrice: snapPrice,
			})
			continue
		}

		if err := o.Store.SaveSignalWindowPoint(state.SignalWindowPoint{
			Symbol: sym, Timeframe: o.Config.Trading.Timeframe, StrategyName: composite.WinningStrategy,
			Value: composite.CompositeScore, SessionID: o.SessionID, Timestamp: time.Now(),
		}); err != nil {
			logger.Errorf("engine: save signal window point %s: %v", sym, err)
		}

		in := o.fetchRegimeInputs(ctx, sym)
		reg := regime.Detect(in)
		if reg.Excluded {
			traces = append(traces, DecisionTrace{
				Symbol: sym, Regime: string(reg.Regime), CompositeScore: composite.CompositeScore,
				Confidence: composite.Confidence, WinningStrategy: composite.WinningStrategy,
				WinningScore: composite.WinningScore, FinalAction: ActionSkip, Reason: reg.Reason,
				HasEntryPrice: hasSnapPrice, EntryPrice: snapPrice,
			})
			continue
		}

		if w, active := o.riskOnWindows[sym]; !active || !w.Active() {
			if o.Config.Risk.RiskOn.Enabled && regime.DetectRiskOn(in, o.Config.Risk.RiskOn.Trigger.ATROverSMA) {
				o.riskOnWindows[sym] = regime.Activate(sym, regime.RiskOnOverride{
					FloorOverride: o.Config.Risk.RiskOn.MinGateFloor, RiskPctOverride: o.Config.Risk.RiskOn.RiskPerTradePct,
				}, o.Config.Risk.RiskOn.WindowCycles)
				logger.Code("info", "RISK_ON_ACTIVATED", "risk-on window activated", map[string]interface{}{
					"session_id": o.SessionID, "symbol": sym,
				})
			}
		}

		entryPrice := snapPrice
		if !hasSnapPrice {
			traces = append(traces, DecisionTrace{
				Symbol: sym, Regime: string(reg.Regime), CompositeScore: composite.CompositeScore,
				Confidence: composite.Confidence, WinningStrategy: composite.WinningStrategy,
				WinningScore: composite.WinningScore, FinalAction: ActionSkip, Reason: "price_unavailable",
			})
			continue
		}

		side := pricing.Long
		if composite.CompositeScore.Sign() < 0 {
			side = pricing.Short
		}

		sltpCfg := risk.SLTPConfig(o.Config.Risk.SLTP)
		sltp, err := risk.DeriveSLTP(side, entryPrice, composite.StopLoss, composite.TakeProfit, composite.HasSLTP, in.ATR14, in.ATR14Present, sltpCfg)
		if err != nil {
			traces = append(traces, rejectTrace(sym, reg, composite, entryPrice, err))
			continue
		}

		rr, ok := risk.ComputeRR(entryPrice, sltp.StopLoss, sltp.TakeProfit)
		if !ok {
			traces = append(traces, rejectTrace(sym, reg, composite, entryPrice, risk.Rejection{Reason: risk.RejectInvalidStopDist, Detail: "rr undefined"}))
			continue
		}

		rrFloor := reg.MinRR
		if o.Config.Risk.RRMin.GreaterThan(rrFloor) {
			rrFloor = o.Config.Risk.RRMin
		}
		if err := risk.CheckRR(rr, rrFloor); err != nil {
			traces = append(traces, rejectTrace(sym, reg, composite, entryPrice, err))
			continue
		}

		_, isFlat := o.existingPosition(sym)
		symCfg := o.Config.Symbols[sym]
		pfErr := risk.PreflightEntryCheck(risk.PreflightInput{
			Entry: entryPrice, StopLoss: sltp.StopLoss, IsShort: side == pricing.Short, IsFlat: isFlat,
			ShortEnabled: o.Config.Risk.ShortEnabled, SymbolAllowShort: symCfg.AllowShort, MinStopFrac: o.Config.Risk.MinStopFrac,
		})
		if pfErr != nil {
			traces = append(traces, rejectTrace(sym, reg, composite, entryPrice, pfErr))
			continue
		}

		candidates = append(candidates, Candidate{
			Symbol: sym, Score: composite.CompositeScore, Confidence: composite.Confidence,
			WinningStrategy: composite.WinningStrategy, WinningScore: composite.WinningScore,
			Regime: reg, EntryPrice: entryPrice, RR: rr, StopLoss: sltp.StopLoss, TakeProfit: sltp.TakeProfit,
		})
	}
	return candidates, traces
}

func rejectTrace(sym string, reg regime.Result, composite signal.Composite, entryPrice decimal.Decimal, err error) DecisionTrace {
	reason := "rejected"
	if rej, ok := err.(risk.Rejection); ok {
		reason = string(rej.Reason)
	}
	return DecisionTrace{
		Symbol: sym, Regime: string(reg.Regime), CompositeScore: composite.CompositeScore,
		Confidence: composite.Confidence, WinningStrategy: composite.WinningStrategy, WinningScore: composite.WinningScore,
		FinalAction: ActionSkip, Reason: reason, HasEntryPrice: money.IsPositive(entryPrice), EntryPrice: entryPrice,
	}
}

// openPositionCount returns the number of distinct open (non-flat) positions
// across all symbols/strategies, used to enforce trading.max_open_trades.
func (o *Orchestrator) openPositionCount() int {
	count := 0
	for _, pos := range o.Portfolio.Positions {
		if !money.IsZero(pos.Quantity) {
			count++
		}
	}
	return count
}

func (o *Orchestrator) existingPosition(symbol string) (decimal.Decimal, bool) {
	strategy := o.Config.Trading.PrimaryStrategy
	for _, pos := range o.Portfolio.Positions {
		if pos.Symbol == symbol && pos.Strategy == strategy {
			return pos.Quantity, money.IsZero(pos.Quantity)
		}
	}
	return decimal.Zero, true
}

// deployedCapital sums the absolute notional of every open position, valued at
// marks when available and at entry price otherwise.
func (o *Orchestrator) deployedCapital(marks map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range o.Portfolio.Positions {
		mark, ok := marks[pos.Symbol]
		if !ok {
			mark = pos.EntryPrice
		}
		total = total.Add(pos.Quantity.Abs().Mul(mark))
	}
	return total
}

func (o *Orchestrator) symbolRules(ctx context.Context, symbol string) risk.SymbolRules {
	if cfg, ok := o.Config.Symbols[symbol]; ok && money.IsPositive(cfg.PriceTick) {
		return risk.SymbolRules{PriceTick: cfg.PriceTick, QtyStep: cfg.QtyStep, MinQty: cfg.MinQty, MinNotional: cfg.MinNotional}
	}
	if o.Connector != nil {
		if rules, err := o.Connector.GetSymbolRules(ctx, symbol); err == nil {
			return rules
		}
	}
	return risk.DefaultSymbolRules
}
