package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecycle/config"
	"tradecycle/connector"
	"tradecycle/exits"
	"tradecycle/ledger"
	"tradecycle/logger"
	"tradecycle/metrics"
	"tradecycle/orders"
	"tradecycle/portfolio"
	"tradecycle/pricing"
	"tradecycle/regime"
	"tradecycle/risk"
	"tradecycle/signal"
	"tradecycle/state"
)

// Orchestrator drives the repeated cycle: seal a pricing snapshot, evaluate every
// configured symbol, run the entry gate, execute admitted entries through the
// risk/order/portfolio pipeline, check and execute exits, then assert equity.
type Orchestrator struct {
	Config     config.Config
	Store      state.Store
	DataEngine signal.DataEngine
	Signal     signal.Engine
	Connector  connector.Connector
	SessionID  string

	Pricing   *pricing.Manager
	Portfolio *portfolio.Portfolio
	Orders    *orders.Manager
	Exits     *exits.Manager
	Ledger    *ledger.Ledger

	cycleID            int64
	sessionStartEquity decimal.Decimal
	day                dayState
	riskOnWindows      map[string]regime.Window
	restingOrders      []orders.Order

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewOrchestrator wires every package the cycle pipeline depends on into one
// Orchestrator for sessionID. The caller supplies the market-data and signal
// engines and a venue connector; everything else (pricing, portfolio, orders,
// exits, ledger) is constructed from cfg.
func NewOrchestrator(cfg config.Config, store state.Store, dataEngine signal.DataEngine, sigEngine signal.Engine, conn connector.Connector, sessionID string) *Orchestrator {
	pricingMgr := pricing.NewManager(dataEngine)

	exitsCfg := exits.Config{
		TimeStopHours:    cfg.Risk.Exits.TimeStopHours,
		MinQty:           cfg.Risk.Exits.MinQty,
		EnableChandelier: cfg.Risk.Exits.EnableChandelier,
		ChandelierNATR:   cfg.Risk.Exits.ChandelierNAtr,
	}
	for _, l := range cfg.Risk.Exits.TPLadders {
		exitsCfg.Ladders = append(exitsCfg.Ladders, exits.LadderLevel{ProfitPct: l.ProfitPct, Pct: l.Pct})
	}

	return &Orchestrator{
		Config:     cfg,
		Store:      store,
		DataEngine: dataEngine,
		Signal:     sigEngine,
		Connector:  conn,
		SessionID:  sessionID,

		Pricing:   pricingMgr,
		Portfolio: portfolio.NewPortfolio(cfg.Trading.InitialCapital, store, sessionID),
		Orders: orders.NewManager(conn, orders.FeeConfig{
			MakerFeeBps: cfg.Exec.MakerFeeBps, TakerFeeBps: cfg.Exec.TakerFeeBps, SlippageBps: cfg.Exec.SlippageBps,
		}),
		Exits:  exits.NewManager(exitsCfg, sessionID, store),
		Ledger: ledger.New(store, sessionID),

		riskOnWindows: make(map[string]regime.Window),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start rehydrates portfolio/exits state from the store and loads the persisted
// session counters. Call once before the first RunCycle.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.Portfolio.Rehydrate(); err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}
	if err := o.Exits.Hydrate(o.Config.Trading.Symbols); err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}

	equity, err := loadOrInitSessionStartEquity(o.Store, o.SessionID, o.Config.Trading.InitialCapital)
	if err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}
	o.sessionStartEquity = equity

	day, err := loadDayState(o.Store, o.SessionID)
	if err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}
	o.day = day

	windows, err := loadRiskOnWindows(o.Store, o.SessionID)
	if err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}
	o.riskOnWindows = windows

	logger.Code("info", "SESSION_STARTED", "orchestrator session started", map[string]interface{}{
		"session_id": o.SessionID, "session_start_equity": o.sessionStartEquity.String(),
		"open_positions": len(o.Portfolio.Positions),
	})
	return nil
}

// Run calls RunCycle on cfg.Trading.CycleInterval until ctx is cancelled or Stop is
// called, sleeping between cycles and logging (not halting the loop) on error.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.doneCh)
	if err := o.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(o.Config.Trading.CycleInterval))
	defer ticker.Stop()

	for {
		if err := o.RunCycle(ctx); err != nil {
			logger.Errorf("engine: cycle %d failed: %v", o.cycleID, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.stopCh:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop signals Run's loop to exit after the in-flight cycle completes, then blocks
// until it has.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	<-o.doneCh
}

// RunCycle executes one full cycle: pricing snapshot, position mark refresh, daily
// loss check, resting TP-ladder orders, exits, symbol evaluation and entry gate,
// entry execution, and the post-cycle equity assertion.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	start := time.Now()
	o.cycleID++
	cycleID := o.cycleID
	symbols := o.Config.Trading.Symbols

	snapshot, fetchErrs := o.Pricing.CreateSnapshot(ctx, cycleID, symbols)
	for _, ferr := range fetchErrs {
		logger.Warnf("engine: cycle %d: pricing fetch error: %v", cycleID, ferr)
	}

	marks := o.currentMarks(snapshot)
	o.refreshPositionMarks(marks)

	equity, fellBackFor := o.Portfolio.Equity(marks)
	for _, sym := range fellBackFor {
		logger.Warnf("engine: cycle %d: %s has no fresh mark, using stored entry price for equity", cycleID, sym)
	}
	metrics.EquityTotal.WithLabelValues(o.SessionID).Set(floatOf(equity))

	if o.day.Date != today() {
		o.day = dayState{Date: today()}
	}
	if halt, reason := risk.CheckDailyLossLimit(o.sessionStartEquity, equity, o.Config.Risk.DailyLossLimitPct); halt && !o.day.Halt {
		o.day.Halt = true
		logger.Code("warn", "DAILY_LOSS_LIMIT_HALT", "new entries halted for the rest of the day", map[string]interface{}{
			"session_id": o.SessionID, "reason": reason, "session_start_equity": o.sessionStartEquity.String(), "current_equity": equity.String(),
		})
	}
	if err := saveDayState(o.Store, o.SessionID, o.day); err != nil {
		logger.Errorf("engine: cycle %d: save day state: %v", cycleID, err)
	}

	o.tickRiskOnWindows()

	// Resting reduce-only orders fill first — that is how the venue would behave
	// as the price moved — then the reactive exit checks run against whatever
	// remains of each position.
	o.checkRestingOrders(ctx, marks)
	if err := o.runExits(ctx, marks); err != nil {
		logger.Errorf("engine: cycle %d: exits: %v", cycleID, err)
	}

	if o.day.Halt {
		for _, sym := range symbols {
			t := DecisionTrace{Symbol: sym, FinalAction: ActionSkip, Reason: "daily_loss_limit_halt"}
			if p, err := o.Pricing.GetEntryPrice(cycleID, sym); err == nil {
				t.HasEntryPrice, t.EntryPrice = true, p
			}
			t.Emit(o.SessionID)
			metrics.DecisionTraceTotal.WithLabelValues(o.SessionID, string(ActionSkip)).Inc()
		}
	} else {
		candidates, skipTraces := o.evaluateSymbols(ctx, cycleID, symbols)
		for _, t := range skipTraces {
			t.Emit(o.SessionID)
			metrics.DecisionTraceTotal.WithLabelValues(o.SessionID, string(t.FinalAction)).Inc()
		}

		riskOnFloors := make(map[string]decimal.Decimal, len(o.riskOnWindows))
		for sym, w := range o.riskOnWindows {
			if w.Active() {
				riskOnFloors[sym] = w.Override.FloorOverride
			}
		}

		sizingCfg := o.Config.Risk.Sizing
		expl := explorationState{ForcedCountToday: o.day.ForcedCountToday, UsedNotionalToday: o.day.UsedNotionalToday}
		admitted, gateTraces, newExpl := selectEntries(
			candidates, o.Config.Risk.EntryGate, o.Config.Risk.RRRelaxForPilot, sizingCfg.PilotMultiplier,
			riskOnFloors, o.Config.Risk.Exploration, expl, equity,
		)
		o.day.ForcedCountToday = newExpl.ForcedCountToday
		o.day.UsedNotionalToday = newExpl.UsedNotionalToday

		for _, t := range gateTraces {
			t.Emit(o.SessionID)
			metrics.DecisionTraceTotal.WithLabelValues(o.SessionID, string(t.FinalAction)).Inc()
		}

		openCount := o.openPositionCount()
		maxOpen := o.Config.Trading.MaxOpenTrades
		for _, a := range admitted {
			_, isFlat := o.existingPosition(a.Candidate.Symbol)
			if isFlat && maxOpen > 0 && openCount >= maxOpen {
				DecisionTrace{
					Symbol: a.Candidate.Symbol, Regime: string(a.Candidate.Regime.Regime), CompositeScore: a.Candidate.Score,
					Confidence: a.Candidate.Confidence, WinningStrategy: a.Candidate.WinningStrategy, WinningScore: a.Candidate.WinningScore,
					FinalAction: ActionSkip, Reason: "max_open_trades_reached",
					HasEntryPrice: true, EntryPrice: a.Candidate.EntryPrice,
				}.Emit(o.SessionID)
				metrics.DecisionTraceTotal.WithLabelValues(o.SessionID, string(ActionSkip)).Inc()
				continue
			}
			equity, _ = o.Portfolio.Equity(marks)
			o.executeEntry(ctx, a, equity, marks)
			if isFlat {
				openCount = o.openPositionCount()
			}
		}

		if err := saveDayState(o.Store, o.SessionID, o.day); err != nil {
			logger.Errorf("engine: cycle %d: save day state after entries: %v", cycleID, err)
		}
	}

	o.Pricing.ClearSnapshot()

	equity, _ = o.Portfolio.Equity(marks)
	report, err := o.Portfolio.AssertEquity(marks)
	if err != nil {
		logger.Errorf("engine: cycle %d: assert equity: %v", cycleID, err)
	} else if !report.WithinBound {
		metrics.EquityDriftTotal.WithLabelValues(o.SessionID).Inc()
		logger.Code("warn", "EQUITY_DRIFT_DETECTED", "equity drift beyond tolerance after reconciliation attempts", map[string]interface{}{
			"session_id": o.SessionID, "recomputed": report.Recomputed.String(), "persisted": report.Persisted.String(),
			"drift": report.Drift.String(), "tolerance": report.Tolerance.String(),
		})
	}

	metrics.CyclesTotal.WithLabelValues(o.SessionID).Inc()
	metrics.CycleDurationSeconds.WithLabelValues(o.SessionID).Observe(time.Since(start).Seconds())
	logger.Code("info", "CYCLE_COMPLETE", "cycle complete", map[string]interface{}{
		"session_id": o.SessionID, "cycle_id": cycleID, "equity": equity.String(), "duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// currentMarks resolves the mark price for every symbol present in snapshot.
func (o *Orchestrator) currentMarks(snapshot *pricing.Snapshot) map[string]decimal.Decimal {
	marks := make(map[string]decimal.Decimal)
	if snapshot == nil {
		return marks
	}
	for _, sym := range snapshot.Symbols() {
		if mark, err := o.Pricing.GetMarkPrice(snapshot.CycleID, sym); err == nil {
			marks[sym] = mark
			metrics.PricingCacheHits.WithLabelValues(o.SessionID).Inc()
		}
	}
	return marks
}

// refreshPositionMarks persists the latest mark/value/unrealized-P&L for every open
// position whose symbol has a fresh mark this cycle, without touching cash or lots.
func (o *Orchestrator) refreshPositionMarks(marks map[string]decimal.Decimal) {
	for _, pos := range o.Portfolio.Positions {
		mark, ok := marks[pos.Symbol]
		if !ok {
			continue
		}
		unrealized := pos.Quantity.Mul(mark.Sub(pos.EntryPrice))
		if err := o.Store.SavePosition(state.Position{
			Symbol: pos.Symbol, Quantity: pos.Quantity, EntryPrice: pos.EntryPrice,
			CurrentPrice: mark, Value: pos.Quantity.Mul(mark), UnrealizedPnL: unrealized,
			Strategy: pos.Strategy, SessionID: o.SessionID,
		}); err != nil {
			logger.Errorf("engine: refresh mark for %s/%s: %v", pos.Symbol, pos.Strategy, err)
		}
	}
}

func (o *Orchestrator) tickRiskOnWindows() {
	for sym, w := range o.riskOnWindows {
		ticked := w.Tick()
		if !ticked.Active() {
			delete(o.riskOnWindows, sym)
			metrics.RiskOnActive.WithLabelValues(o.SessionID, sym).Set(0)
			continue
		}
		o.riskOnWindows[sym] = ticked
		metrics.RiskOnActive.WithLabelValues(o.SessionID, sym).Set(1)
	}
	if err := saveRiskOnWindows(o.Store, o.SessionID, o.riskOnWindows); err != nil {
		logger.Errorf("engine: save risk-on windows: %v", err)
	}
}

// Status is a read-only snapshot of orchestrator state for the api package's
// /status endpoint; it never mutates the orchestrator.
type Status struct {
	SessionID          string
	CycleID            int64
	HaltNewEntriesToday bool
	OpenPositions      int
	CashBalance        decimal.Decimal
	TotalRealizedPnL   decimal.Decimal
}

// Status returns a point-in-time snapshot safe to read from another goroutine
// between cycles (the orchestrator itself never runs two cycles concurrently).
func (o *Orchestrator) Status() Status {
	return Status{
		SessionID:           o.SessionID,
		CycleID:             o.cycleID,
		HaltNewEntriesToday: o.day.Halt,
		OpenPositions:       len(o.Portfolio.Positions),
		CashBalance:         o.Portfolio.CashBalance,
		TotalRealizedPnL:    o.Portfolio.TotalRealizedPnL,
	}
}

func floatOf(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
