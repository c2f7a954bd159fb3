package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tradecycle/config"
	"tradecycle/exits"
	"tradecycle/ledger"
	"tradecycle/logger"
	"tradecycle/metrics"
	"tradecycle/money"
	"tradecycle/orders"
	"tradecycle/portfolio"
	"tradecycle/risk"
	"tradecycle/signal"
)

// executeEntry sizes, slices, quantizes, and simulates the fill for one admitted
// entry, then commits it through the portfolio transaction. A rejection at any
// stage is logged and traced as a SKIP; it never aborts the rest of the cycle.
func (o *Orchestrator) executeEntry(ctx context.Context, a AdmittedEntry, equity decimal.Decimal, marks map[string]decimal.Decimal) {
	c := a.Candidate
	strategy := o.Config.Trading.PrimaryStrategy

	// A fallback path (exploration) may tighten the stop: scale the entry-to-stop
	// distance by its multiplier before sizing, so the tighter stop both bounds the
	// trade's loss and feeds the size calculation.
	if money.IsPositive(a.StopMult) && !a.StopMult.Equal(decimal.NewFromInt(1)) {
		dist := c.EntryPrice.Sub(c.StopLoss).Mul(a.StopMult)
		c.StopLoss = c.EntryPrice.Sub(dist)
	}

	riskPct := o.Config.Risk.Sizing.RiskPerTradePct
	if w, active := o.riskOnWindows[c.Symbol]; active && w.Active() && o.Config.Risk.RiskOn.Enabled {
		riskPct = w.Override.RiskPctOverride
	}

	sizingCfg := risk.SizingConfig{
		RiskPerTradePct: riskPct, PerSymbolCapPct: o.Config.Risk.Sizing.PerSymbolCapPct, SessionCapPct: o.Config.Risk.Sizing.SessionCapPct,
		MinSliceNotional: o.Config.Exec.MinSliceNotional, DefaultSlice: o.Config.Exec.DefaultSliceNotional, MaxSlices: o.Config.Exec.MaxSlicesPerOrder,
	}
	sizing := risk.CalculateTargetNotional(equity, c.EntryPrice, c.StopLoss, o.deployedCapital(marks), sizingCfg)
	sliceNotional := sizing.SliceNotional.Mul(a.SizeMult)

	rules := o.symbolRules(ctx, c.Symbol)
	perTradeCap := o.Config.Exec.PerSymbolCapPct.Mul(equity)
	quantized, err := risk.BuildOrder(c.EntryPrice, sliceNotional, rules, perTradeCap, money.IsPositive(perTradeCap))
	if err != nil {
		o.traceRejectedEntry(c, a.Reason, err)
		return
	}

	side := orders.Buy
	if c.Score.Sign() < 0 {
		side = orders.Sell
	}
	order := orders.Order{
		OrderID: orders.NewOrderID(), Symbol: c.Symbol, Side: side, Type: orders.Market,
		Quantity: quantized.Quantity, Strategy: strategy, SessionID: o.SessionID, Status: orders.StatusPending, CreatedAt: time.Now(),
	}
	order, _ = orders.ResolveOrderType(o.Connector, order)

	filled, fillPrice, fee, isMaker := o.Orders.SimulateFill(ctx, order, c.EntryPrice, orders.DefaultMarketConditions)
	if !filled {
		DecisionTrace{
			Symbol: c.Symbol, Regime: string(c.Regime.Regime), CompositeScore: c.Score, Confidence: c.Confidence,
			WinningStrategy: c.WinningStrategy, WinningScore: c.WinningScore, FinalAction: ActionSkip, Reason: "fill_not_simulated",
			HasEntryPrice: true, EntryPrice: c.EntryPrice,
		}.Emit(o.SessionID)
		return
	}

	_, wasFlat := o.existingPosition(c.Symbol)
	fill := orders.Fill{OrderID: order.OrderID, Symbol: c.Symbol, Side: side, Quantity: quantized.Quantity, Price: fillPrice, Fee: fee, IsMaker: isMaker, FilledAt: time.Now()}
	result, err := o.Portfolio.Apply(fill, strategy, marks)
	if err != nil {
		if errors.Is(err, portfolio.ErrInvariantViolation) {
			metrics.InvariantViolationsTotal.WithLabelValues(o.SessionID).Inc()
		}
		o.traceRejectedEntry(c, a.Reason, err)
		return
	}

	if wasFlat {
		// A brand-new position starts with a clean profit ladder.
		if err := o.Exits.ResetSymbol(c.Symbol); err != nil {
			logger.Errorf("engine: reset ladder state %s: %v", c.Symbol, err)
		}
	}

	o.Ledger.Append(ledgerTradeFrom(result, fill, strategy, o.SessionID))

	sideLabel := "buy"
	if side == orders.Sell {
		sideLabel = "sell"
	}
	metrics.FillsTotal.WithLabelValues(o.SessionID, sideLabel).Inc()

	if a.Reason == "exploration" {
		o.day.UsedNotionalToday = o.day.UsedNotionalToday.Add(quantized.Notional)
	}

	if !money.IsZero(result.NewPosition.Quantity) {
		if err := savePositionMeta(o.Store, o.SessionID, c.Symbol, strategy, positionMeta{
			StopLoss: c.StopLoss, TakeProfit: c.TakeProfit, OpenedAtUnix: time.Now().Unix(),
			EntryQuantity:  result.NewPosition.Quantity.Abs(),
			HighSinceEntry: fillPrice, LowSinceEntry: fillPrice,
		}); err != nil {
			logger.Errorf("engine: save position meta %s: %v", c.Symbol, err)
		}
	}

	if result.GeneratedTPOrders {
		oneR := c.EntryPrice.Sub(c.StopLoss).Abs()
		levels := tpLadderLevels(o.Config.Risk.Exits.TPLadders)
		ladder := orders.BuildTPLadderOrders(c.Symbol, strategy, o.SessionID, result.NewPosition.Quantity, result.NewPosition.EntryPrice, oneR, levels, rules.PriceTick, rules.MinQty)
		o.restingOrders = append(o.restingOrders, ladder...)
	}

	DecisionTrace{
		Symbol: c.Symbol, Regime: string(c.Regime.Regime), CompositeScore: c.Score, Confidence: c.Confidence,
		WinningStrategy: c.WinningStrategy, WinningScore: c.WinningScore, FinalAction: actionFor(side), Reason: a.Reason,
		HasEntryPrice: true, EntryPrice: fillPrice, HasSizing: true, StopLoss: c.StopLoss, TakeProfit: c.TakeProfit, Size: quantized.Quantity,
	}.Emit(o.SessionID)
}

func actionFor(side orders.Side) Action {
	if side == orders.Sell {
		return ActionSell
	}
	return ActionBuy
}

func (o *Orchestrator) traceRejectedEntry(c Candidate, gateReason string, err error) {
	reason := "rejected"
	if rej, ok := err.(risk.Rejection); ok {
		reason = string(rej.Reason)
	}
	logger.Code("warn", "REJECTED", "entry rejected during execution", map[string]interface{}{
		"session_id": o.SessionID, "symbol": c.Symbol, "gate_reason": gateReason, "reject_reason": reason, "detail": err.Error(),
	})
	DecisionTrace{
		Symbol: c.Symbol, Regime: string(c.Regime.Regime), CompositeScore: c.Score, Confidence: c.Confidence,
		WinningStrategy: c.WinningStrategy, WinningScore: c.WinningScore, FinalAction: ActionSkip, Reason: reason,
		HasEntryPrice: true, EntryPrice: c.EntryPrice,
	}.Emit(o.SessionID)
}

// ledgerTradeFrom builds the in-memory ledger.Trade mirror of a committed fill —
// the trade row itself was already persisted by portfolio.Portfolio.Apply.
func ledgerTradeFrom(result portfolio.Result, fill orders.Fill, strategy, sessionID string) ledger.Trade {
	side := "buy"
	if fill.Side == orders.Sell {
		side = "sell"
	}
	return ledger.Trade{
		TradeID: result.TradeID, Symbol: fill.Symbol, Side: side, Quantity: fill.Quantity, FillPrice: fill.Price,
		Fees: fill.Fee, NotionalValue: money.Notional(fill.Quantity, fill.Price), RealizedPnL: result.RealizedPnL,
		Strategy: strategy, SessionID: sessionID, ExecutedAt: fill.FilledAt,
	}
}

func tpLadderLevels(cfg []config.LadderConfig) []orders.TPLadderLevel {
	var out []orders.TPLadderLevel
	for _, l := range cfg {
		out = append(out, orders.TPLadderLevel{ProfitPct: l.ProfitPct, HasProfitPct: true, PctOfPosition: l.Pct})
	}
	return out
}

// runExits checks every open position for a triggering exit condition and executes
// it through the same fill-simulation and portfolio-transaction path as an entry.
func (o *Orchestrator) runExits(ctx context.Context, marks map[string]decimal.Decimal) error {
	strategy := o.Config.Trading.PrimaryStrategy
	positions := make([]exits.PositionView, 0, len(o.Portfolio.Positions))
	for _, pos := range o.Portfolio.Positions {
		meta, ok, err := loadPositionMeta(o.Store, o.SessionID, pos.Symbol, pos.Strategy)
		if err != nil {
			return err
		}
		view := exits.PositionView{Symbol: pos.Symbol, Quantity: pos.Quantity, EntryPrice: pos.EntryPrice}
		if ok {
			if mark, has := marks[pos.Symbol]; has {
				// Roll the high/low-water marks forward before the chandelier check
				// reads them.
				if !money.IsPositive(meta.HighSinceEntry) || mark.GreaterThan(meta.HighSinceEntry) {
					meta.HighSinceEntry = mark
				}
				if !money.IsPositive(meta.LowSinceEntry) || mark.LessThan(meta.LowSinceEntry) {
					meta.LowSinceEntry = mark
				}
				if err := savePositionMeta(o.Store, o.SessionID, pos.Symbol, pos.Strategy, meta); err != nil {
					logger.Errorf("engine: update position meta %s: %v", pos.Symbol, err)
				}
			}
			view.StopLoss, view.TakeProfit = meta.StopLoss, meta.TakeProfit
			view.EntryTime, view.HasEntryTime = time.Unix(meta.OpenedAtUnix, 0), true
			view.EntryQuantity = meta.EntryQuantity
			view.HighSinceEntry, view.LowSinceEntry = meta.HighSinceEntry, meta.LowSinceEntry
		}
		if o.Exits.Config.EnableChandelier {
			if atr, has, err := o.DataEngine.GetIndicator(ctx, pos.Symbol, signal.IndicatorRequest{Name: signal.ATR, Period: 14}); err == nil && has {
				view.ATR, view.HasATR = atr, true
			}
		}
		positions = append(positions, view)
	}

	conditions, err := o.Exits.CheckExits(positions, marks, time.Now())
	if err != nil {
		return err
	}

	for _, cond := range conditions {
		o.executeExit(ctx, cond, strategy, marks)
	}
	return nil
}

func (o *Orchestrator) executeExit(ctx context.Context, cond exits.Condition, strategy string, marks map[string]decimal.Decimal) {
	pos, ok := o.findPosition(cond.Symbol, strategy)
	if !ok {
		return
	}
	side := orders.Sell
	if pos.Quantity.Sign() < 0 {
		side = orders.Buy
	}
	// Exits go out as reduce-only IOC limit orders priced from the current mark,
	// rounded to the symbol's tick.
	rules := o.symbolRules(ctx, cond.Symbol)
	order := orders.Order{
		OrderID: orders.NewOrderID(), Symbol: cond.Symbol, Side: side, Type: orders.Limit,
		Price: money.QuantizePrice(cond.ExitPrice, rules.PriceTick), TimeInForce: orders.IOC, ReduceOnly: true,
		Quantity: cond.Quantity, Strategy: strategy, SessionID: o.SessionID, Status: orders.StatusPending, CreatedAt: time.Now(),
	}
	order, _ = orders.ResolveOrderType(o.Connector, order)
	filled, fillPrice, fee, isMaker := o.Orders.SimulateFill(ctx, order, cond.ExitPrice, orders.DefaultMarketConditions)
	if !filled {
		return
	}
	fill := orders.Fill{OrderID: order.OrderID, Symbol: cond.Symbol, Side: side, Quantity: cond.Quantity, Price: fillPrice, Fee: fee, IsMaker: isMaker, FilledAt: time.Now()}
	result, err := o.Portfolio.Apply(fill, strategy, marks)
	if err != nil {
		if errors.Is(err, portfolio.ErrInvariantViolation) {
			metrics.InvariantViolationsTotal.WithLabelValues(o.SessionID).Inc()
		}
		logger.Errorf("engine: exit apply %s: %v", cond.Symbol, err)
		return
	}
	o.Ledger.Append(ledgerTradeFrom(result, fill, strategy, o.SessionID))
	if cond.IsLadder {
		// The resting take-profit order for this rung is now redundant.
		o.dropRestingLadder(cond.Symbol, cond.LadderLevel)
	}
	if money.IsZero(result.NewPosition.Quantity) {
		o.clearClosedPosition(cond.Symbol, strategy)
	}
	logger.Code("info", exitCode(cond.Reason), "exit executed", map[string]interface{}{
		"session_id": o.SessionID, "symbol": cond.Symbol, "reason": cond.Reason, "quantity": cond.Quantity.String(), "price": fillPrice.String(),
	})
}

func exitCode(reason string) string {
	switch {
	case len(reason) >= 9 && reason[:9] == "stop_loss":
		return "STOP_LOSS_HIT"
	case len(reason) >= 11 && reason[:11] == "take_profit":
		return "TAKE_PROFIT_HIT"
	case len(reason) >= 10 && reason[:10] == "chandelier":
		return "CHANDELIER_STOP_HIT"
	case len(reason) >= 9 && reason[:9] == "time_stop":
		return "TIME_STOP_HIT"
	case len(reason) >= 13 && reason[:13] == "profit_ladder":
		return "PROFIT_LADDER_HIT"
	default:
		return "EXIT_HIT"
	}
}

func (o *Orchestrator) findPosition(symbol, strategy string) (poPosition, bool) {
	for _, pos := range o.Portfolio.Positions {
		if pos.Symbol == symbol && pos.Strategy == strategy {
			return poPosition{Symbol: pos.Symbol, Strategy: pos.Strategy, Quantity: pos.Quantity}, true
		}
	}
	return poPosition{}, false
}

type poPosition struct {
	Symbol   string
	Strategy string
	Quantity decimal.Decimal
}

// checkRestingOrders simulates a fill against this cycle's mark for every
// in-memory TP-ladder order and applies any that fill, per session (not
// persisted across restarts — the ladder rung itself re-derives from the
// position's lot-weighted entry price on the next increase, so losing the
// resting orders on restart only delays, never loses, the next TP-ladder order).
// A resting order is only eligible once the mark has actually crossed its limit
// price; an order whose position is gone (closed by a stop or a reactive exit)
// is cancelled rather than kept, and a fill is capped at the live position so a
// reduce-only order can never flip the position.
func (o *Orchestrator) checkRestingOrders(ctx context.Context, marks map[string]decimal.Decimal) {
	strategy := o.Config.Trading.PrimaryStrategy
	closed := make(map[string]bool)
	var remaining []orders.Order
	for _, ord := range o.restingOrders {
		if closed[ord.Symbol] {
			continue
		}
		mark, ok := marks[ord.Symbol]
		if !ok {
			remaining = append(remaining, ord)
			continue
		}

		pos, havePos := o.findPosition(ord.Symbol, strategy)
		reducible := decimal.Zero
		if havePos {
			if ord.Side == orders.Sell && pos.Quantity.Sign() > 0 {
				reducible = pos.Quantity
			} else if ord.Side == orders.Buy && pos.Quantity.Sign() < 0 {
				reducible = pos.Quantity.Neg()
			}
		}
		if ord.ReduceOnly && !money.IsPositive(reducible) {
			continue // position is gone; cancel the resting order
		}

		crossed := true
		if money.IsPositive(ord.Price) {
			if ord.Side == orders.Sell {
				crossed = mark.GreaterThanOrEqual(ord.Price)
			} else {
				crossed = mark.LessThanOrEqual(ord.Price)
			}
		}
		if !crossed {
			remaining = append(remaining, ord)
			continue
		}

		if ord.ReduceOnly {
			ord.Quantity = money.Min(ord.Quantity, reducible)
		}
		filled, fillPrice, fee, isMaker := o.Orders.SimulateFill(ctx, ord, mark, orders.DefaultMarketConditions)
		if !filled {
			remaining = append(remaining, ord)
			continue
		}
		fill := orders.Fill{OrderID: ord.OrderID, Symbol: ord.Symbol, Side: ord.Side, Quantity: ord.Quantity, Price: fillPrice, Fee: fee, IsMaker: isMaker, FilledAt: time.Now()}
		result, err := o.Portfolio.Apply(fill, strategy, marks)
		if err != nil {
			if errors.Is(err, portfolio.ErrInvariantViolation) {
				metrics.InvariantViolationsTotal.WithLabelValues(o.SessionID).Inc()
			}
			logger.Errorf("engine: TP ladder apply %s: %v", ord.Symbol, err)
			remaining = append(remaining, ord)
			continue
		}
		o.Ledger.Append(ledgerTradeFrom(result, fill, strategy, o.SessionID))
		if ord.TPLadder {
			// Tell the exit manager this rung is satisfied so its own profit-ladder
			// check does not sell the same rung again.
			if err := o.Exits.MarkTaken(ord.Symbol, ord.TPLadderLvl); err != nil {
				logger.Errorf("engine: mark ladder taken %s: %v", ord.Symbol, err)
			}
		}
		if money.IsZero(result.NewPosition.Quantity) {
			closed[ord.Symbol] = true
		}
		logger.Code("info", "TP_LADDER_HIT", "TP ladder order filled", map[string]interface{}{
			"session_id": o.SessionID, "symbol": ord.Symbol, "level": ord.TPLadderLvl, "price": fillPrice.String(),
		})
	}
	o.restingOrders = remaining
	for sym := range closed {
		o.clearClosedPosition(sym, strategy)
	}
}

// dropRestingLadder cancels the in-memory resting TP-ladder order for one
// symbol/level pair.
func (o *Orchestrator) dropRestingLadder(symbol string, level int) {
	var remaining []orders.Order
	for _, ord := range o.restingOrders {
		if ord.TPLadder && ord.Symbol == symbol && ord.TPLadderLvl == level {
			continue
		}
		remaining = append(remaining, ord)
	}
	o.restingOrders = remaining
}

// clearClosedPosition runs the bookkeeping a full close requires: drop the
// position's persisted meta, forget its taken ladder levels, and cancel any
// remaining resting orders for it.
func (o *Orchestrator) clearClosedPosition(symbol, strategy string) {
	if err := clearPositionMeta(o.Store, o.SessionID, symbol, strategy); err != nil {
		logger.Errorf("engine: clear position meta %s: %v", symbol, err)
	}
	if err := o.Exits.ResetSymbol(symbol); err != nil {
		logger.Errorf("engine: reset ladder state %s: %v", symbol, err)
	}
	var remaining []orders.Order
	for _, ord := range o.restingOrders {
		if ord.Symbol == symbol {
			continue
		}
		remaining = append(remaining, ord)
	}
	o.restingOrders = remaining
}
