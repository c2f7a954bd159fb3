// Package portfolio implements the all-or-nothing fill-application transaction,
// the authoritative cash-update path, and the portfolio-snapshot equity formula.
// Apply and AssertEquity's reconciliation are the only code paths that call
// state.Store.SaveCashEquity; every other package that produces a fill routes it
// through here.
package portfolio

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradecycle/lotbook"
	"tradecycle/money"
	"tradecycle/orders"
	"tradecycle/risk"
	"tradecycle/state"
)

// ErrInvariantViolation is returned when the post-fill equity assertion fails
// beyond tolerance and the staged transaction is rolled back in full.
var ErrInvariantViolation = errors.New("portfolio: invariant violation")

// localEpsilon is the fixed-dollar tolerance added to fees in the per-fill equity
// assertion (distinct from the larger post-cycle reconciliation epsilon).
var localEpsilon = decimal.NewFromFloat(0.01)

// Position is one open (symbol, strategy) position, signed (positive = long).
type Position struct {
	Symbol     string
	Strategy   string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}

func positionKey(symbol, strategy string) string { return symbol + "|" + strategy }

// Portfolio is the in-memory, single-writer view of cash, positions, and the lot
// book for one session, backed by state.Store for durability.
type Portfolio struct {
	CashBalance      decimal.Decimal
	TotalFees        decimal.Decimal
	TotalRealizedPnL decimal.Decimal
	Positions        map[string]Position
	Lots             *lotbook.Book

	Store     state.Store
	SessionID string
}

// NewPortfolio returns a fresh portfolio seeded with initialCash.
func NewPortfolio(initialCash decimal.Decimal, store state.Store, sessionID string) *Portfolio {
	return &Portfolio{
		CashBalance: initialCash,
		Positions:   make(map[string]Position),
		Lots:        lotbook.New(),
		Store:       store,
		SessionID:   sessionID,
	}
}

// Equity computes total_equity = cash + Σ(qty*mark) + total_realized_pnl. When a
// symbol has no mark in marks, its stored entry price is used as a fallback and
// the symbol is reported in the fallback list so the caller can log a warning.
func (p *Portfolio) Equity(marks map[string]decimal.Decimal) (equity decimal.Decimal, fellBackFor []string) {
	equity = p.CashBalance.Add(p.TotalRealizedPnL)
	for _, pos := range p.Positions {
		mark, ok := marks[pos.Symbol]
		if !ok {
			mark = pos.EntryPrice
			fellBackFor = append(fellBackFor, pos.Symbol)
		}
		equity = equity.Add(pos.Quantity.Mul(mark))
	}
	return equity, fellBackFor
}

// Rehydrate loads open positions and the FIFO lot book for the session from the
// store, so a process restart resumes mid-session rather than from a blank
// portfolio on restart.
func (p *Portfolio) Rehydrate() error {
	positions, err := p.Store.GetPositions(p.SessionID)
	if err != nil {
		return fmt.Errorf("portfolio: rehydrate positions: %w", err)
	}
	for _, row := range positions {
		p.Positions[positionKey(row.Symbol, row.Strategy)] = Position{
			Symbol: row.Symbol, Strategy: row.Strategy, Quantity: row.Quantity, EntryPrice: row.EntryPrice,
		}
	}

	symbols := make(map[string]bool)
	for _, pos := range p.Positions {
		symbols[pos.Symbol] = true
	}
	for sym := range symbols {
		lots, err := p.Store.GetLotbook(p.SessionID, sym)
		if err != nil {
			return fmt.Errorf("portfolio: rehydrate lotbook %s: %w", sym, err)
		}
		for _, l := range lots {
			if !money.IsPositive(l.Quantity) {
				continue // residual dust row; nothing left to consume from it
			}
			if err := p.Lots.AddLot(l.LotID, l.Symbol, l.Quantity, l.CostPrice, l.Fee, l.Timestamp, l.TradeID); err != nil {
				return fmt.Errorf("portfolio: rehydrate lot %s/%s: %w", l.Symbol, l.LotID, err)
			}
		}
	}

	latest, ok, err := p.Store.GetLatestCashEquity(p.SessionID)
	if err != nil {
		return fmt.Errorf("portfolio: rehydrate cash: %w", err)
	}
	if ok {
		p.CashBalance = latest.CashBalance
		p.TotalFees = latest.TotalFees
		p.TotalRealizedPnL = latest.TotalRealizedPnL
	}
	return nil
}

// Result is the outcome of a successfully committed fill application.
type Result struct {
	TradeID          string
	RealizedPnL      decimal.Decimal
	ShortOpened       decimal.Decimal
	NewPosition      Position
	EquityBefore     decimal.Decimal
	EquityAfter      decimal.Decimal
	GeneratedTPOrders bool
}

// applyPositionDelta computes the updated position after a signed fill quantity at
// price, following the weighted-average-entry rule: adding to an
// existing (or flat) position re-weights the entry price; reducing leaves the
// entry untouched; flipping through zero resets the entry for the newly opened
// side to the fill price.
func applyPositionDelta(old Position, signedQty, price decimal.Decimal) Position {
	newQty := old.Quantity.Add(signedQty)

	sameDirection := old.Quantity.IsZero() || old.Quantity.Sign() == signedQty.Sign()
	if sameDirection {
		if newQty.IsZero() {
			return Position{Symbol: old.Symbol, Strategy: old.Strategy}
		}
		weighted := old.Quantity.Mul(old.EntryPrice).Add(signedQty.Mul(price))
		return Position{Symbol: old.Symbol, Strategy: old.Strategy, Quantity: newQty, EntryPrice: weighted.Div(newQty)}
	}

	// Reducing or flipping through zero.
	if newQty.IsZero() {
		return Position{Symbol: old.Symbol, Strategy: old.Strategy}
	}
	if newQty.Sign() == old.Quantity.Sign() {
		// Pure reduce: entry price is untouched.
		return Position{Symbol: old.Symbol, Strategy: old.Strategy, Quantity: newQty, EntryPrice: old.EntryPrice}
	}
	// Flipped through zero: the new side opens fresh at the fill price.
	return Position{Symbol: old.Symbol, Strategy: old.Strategy, Quantity: newQty, EntryPrice: price}
}

// Apply is the single all-or-nothing fill-application transaction. marks
// supplies the current pricing-snapshot mark for every
// symbol with an open or resulting position, used for the equity assertion.
func (p *Portfolio) Apply(fill orders.Fill, strategy string, marks map[string]decimal.Decimal) (Result, error) {
	if !money.IsPositive(fill.Price) {
		return Result{}, fmt.Errorf("portfolio: fill price must be > 0, got %s", fill.Price)
	}

	key := positionKey(fill.Symbol, strategy)
	oldPos, hadPosition := p.Positions[key]
	if !hadPosition {
		oldPos = Position{Symbol: fill.Symbol, Strategy: strategy}
	}

	equityBefore, _ := p.Equity(marks)

	var realizedPnL decimal.Decimal
	var shortOpened decimal.Decimal
	tradeID := uuid.NewString()
	lotID := "lot-" + tradeID

	// Preserve a pre-image of this symbol's lot queue so a failed invariant check
	// below can restore it exactly — Consume mutates the book in place, and a buy's
	// AddLot is deferred past the check entirely so it never needs undoing.
	preLots := p.Lots.Lots(fill.Symbol)
	var consumeQty decimal.Decimal

	if fill.Side == orders.Sell {
		consumeQty = fill.Quantity
		if !hadPosition || oldPos.Quantity.Sign() <= 0 {
			// selling into flat or an existing short: nothing to consume from the
			// lot book for the long side; the whole quantity opens/extends a short.
			consumeQty = decimal.Zero
		} else {
			consumeQty = money.Min(fill.Quantity, oldPos.Quantity)
		}
		if money.IsPositive(consumeQty) {
			cr, err := p.Lots.Consume(fill.Symbol, consumeQty, fill.Price, fill.Fee)
			if err != nil {
				return Result{}, fmt.Errorf("portfolio: consume lots: %w", err)
			}
			realizedPnL = cr.RealizedPnL
			shortOpened = cr.ShortOpened
		}
		if remainder := fill.Quantity.Sub(consumeQty); money.IsPositive(remainder) {
			shortOpened = shortOpened.Add(remainder)
		}
	}

	signedQty := fill.Quantity
	var cashImpact decimal.Decimal
	if fill.Side == orders.Sell {
		signedQty = signedQty.Neg()
		// Cash recovers the closed lots' cost basis, not the full sale proceeds:
		// fillQty*fillPrice minus the realized gain/loss already carried separately
		// in TotalRealizedPnL, so Equity's cash + Σ(qty*mark) + total_realized_pnl
		// never double-counts a closed trade's P&L. A short-opening remainder (sold
		// beyond the open long, realizedPnL=0 for that slice) banks its full sale
		// price as cash in the ordinary way.
		cashImpact = fill.Quantity.Mul(fill.Price).Sub(realizedPnL).Sub(fill.Fee)
	} else {
		cashImpact = fill.Quantity.Mul(fill.Price).Add(fill.Fee).Neg()
	}

	newCash := p.CashBalance.Add(cashImpact)
	if fill.Side == orders.Buy && newCash.Sign() < 0 {
		return Result{}, risk.Rejection{Reason: risk.RejectBudgetExhausted, Detail: fmt.Sprintf("new cash %s would be negative", newCash)}
	}

	newPos := applyPositionDelta(oldPos, signedQty, fill.Price)
	increasedExposure := newPos.Quantity.Abs().GreaterThan(oldPos.Quantity.Abs())

	newTotalFees := p.TotalFees.Add(fill.Fee)
	newTotalRealized := p.TotalRealizedPnL.Add(realizedPnL)

	// Stage the post-fill state to recompute equity without yet committing.
	staged := &Portfolio{CashBalance: newCash, TotalFees: newTotalFees, TotalRealizedPnL: newTotalRealized, Positions: cloneWith(p.Positions, key, newPos)}
	equityAfter, fellBackFor := staged.Equity(marks)
	_ = fellBackFor

	tolerance := fill.Fee.Add(localEpsilon)
	if equityBefore.Sub(equityAfter).Abs().GreaterThan(tolerance) {
		// Roll back. A buy never touched the lot book (AddLot is deferred below); a
		// sell's Consume call is undone by restoring the pre-image queue.
		if fill.Side == orders.Sell && money.IsPositive(consumeQty) {
			p.Lots.ClearSymbol(fill.Symbol)
			for _, lot := range preLots {
				_ = p.Lots.AddLot(lot.LotID, lot.Symbol, lot.Quantity, lot.Price, lot.Fee, lot.Timestamp, lot.TradeID)
			}
		}
		return Result{}, fmt.Errorf("%w: equity_before=%s equity_after=%s tolerance=%s", ErrInvariantViolation, equityBefore, equityAfter, tolerance)
	}

	if fill.Side == orders.Buy {
		if err := p.Lots.AddLot(lotID, fill.Symbol, fill.Quantity, fill.Price, fill.Fee, fill.FilledAt, tradeID); err != nil {
			return Result{}, fmt.Errorf("portfolio: add lot: %w", err)
		}
	}

	// Commit: persist cash before the dependent position update, then verify the
	// read-back matches (CASH_SAVE_VERIFIED).
	if err := p.Store.SaveCashEquity(state.CashEquity{
		CashBalance: newCash, TotalEquity: equityAfter, PreviousEquity: equityBefore,
		TotalFees: newTotalFees, TotalRealizedPnL: newTotalRealized, SessionID: p.SessionID,
	}); err != nil {
		return Result{}, fmt.Errorf("portfolio: save cash equity: %w", err)
	}
	readBack, ok, err := p.Store.GetLatestCashEquity(p.SessionID)
	if err != nil || !ok || !readBack.CashBalance.Sub(newCash).Abs().LessThan(money.Epsilon) {
		return Result{}, fmt.Errorf("portfolio: cash save verification failed")
	}

	if newPos.Quantity.IsZero() {
		delete(p.Positions, key)
		if err := p.Store.DeletePosition(fill.Symbol, strategy, p.SessionID); err != nil {
			return Result{}, fmt.Errorf("portfolio: delete position: %w", err)
		}
	} else {
		p.Positions[key] = newPos
		mark := fill.Price
		if m, ok := marks[fill.Symbol]; ok {
			mark = m
		}
		unrealized := newPos.Quantity.Mul(mark.Sub(newPos.EntryPrice))
		if err := p.Store.SavePosition(state.Position{
			Symbol: newPos.Symbol, Quantity: newPos.Quantity, EntryPrice: newPos.EntryPrice,
			CurrentPrice: mark, Value: newPos.Quantity.Mul(mark), UnrealizedPnL: unrealized,
			Strategy: strategy, SessionID: p.SessionID,
		}); err != nil {
			return Result{}, fmt.Errorf("portfolio: save position: %w", err)
		}
	}

	if fill.Side == orders.Sell && money.IsPositive(consumeQtyFor(fill, oldPos, hadPosition)) {
		// Lot book mutation already happened above; persist the remaining lots and
		// delete the rows of lots the consumption exhausted, so GetLotbook reflects
		// post-consumption state exactly.
		remaining := make(map[string]bool)
		for _, lot := range p.Lots.Lots(fill.Symbol) {
			remaining[lot.LotID] = true
			if err := p.Store.SaveLot(state.LotRow{
				Symbol: lot.Symbol, LotID: lot.LotID, Quantity: lot.Quantity, CostPrice: lot.Price,
				Fee: lot.Fee, Timestamp: lot.Timestamp, SessionID: p.SessionID, TradeID: lot.TradeID,
			}); err != nil {
				return Result{}, fmt.Errorf("portfolio: persist lot %s: %w", lot.LotID, err)
			}
		}
		for _, lot := range preLots {
			if remaining[lot.LotID] {
				continue
			}
			if err := p.Store.DeleteLot(p.SessionID, fill.Symbol, lot.LotID); err != nil {
				return Result{}, fmt.Errorf("portfolio: delete exhausted lot %s: %w", lot.LotID, err)
			}
		}
	} else if fill.Side == orders.Buy {
		if err := p.Store.SaveLot(state.LotRow{
			Symbol: fill.Symbol, LotID: lotID, Quantity: fill.Quantity, CostPrice: fill.Price,
			Fee: fill.Fee, Timestamp: fill.FilledAt, SessionID: p.SessionID, TradeID: tradeID,
		}); err != nil {
			return Result{}, fmt.Errorf("portfolio: persist lot %s: %w", lotID, err)
		}
	}

	p.CashBalance = newCash
	p.TotalFees = newTotalFees
	p.TotalRealizedPnL = newTotalRealized

	side := "buy"
	if fill.Side == orders.Sell {
		side = "sell"
	}
	if err := p.Store.SaveTrade(state.Trade{
		TradeID: tradeID, Symbol: fill.Symbol, Side: side, Quantity: fill.Quantity, FillPrice: fill.Price,
		Fees: fill.Fee, NotionalValue: money.Notional(fill.Quantity, fill.Price), RealizedPnL: realizedPnL,
		Strategy: strategy, SessionID: p.SessionID, ExecutedAt: fill.FilledAt,
	}); err != nil {
		return Result{}, fmt.Errorf("portfolio: save trade: %w", err)
	}

	return Result{
		TradeID: tradeID, RealizedPnL: realizedPnL, ShortOpened: shortOpened, NewPosition: newPos,
		EquityBefore: equityBefore, EquityAfter: equityAfter, GeneratedTPOrders: increasedExposure,
	}, nil
}

func consumeQtyFor(fill orders.Fill, oldPos Position, hadPosition bool) decimal.Decimal {
	if fill.Side != orders.Sell {
		return decimal.Zero
	}
	if !hadPosition || oldPos.Quantity.Sign() <= 0 {
		return decimal.Zero
	}
	return money.Min(fill.Quantity, oldPos.Quantity)
}

func cloneWith(src map[string]Position, key string, value Position) map[string]Position {
	out := make(map[string]Position, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	if value.Quantity.IsZero() {
		delete(out, key)
	} else {
		out[key] = value
	}
	return out
}

// AssertEquity recomputes equity and compares it against the last persisted
// cash_equity row, tolerating drift up to ε = max(1.00, 0.0001*equity). Beyond
// that it reports the drift in the returned DriftReport and itself runs at most
// ReconciliationAttempts replace-with-recomputed iterations.
const ReconciliationAttempts = 3

// DriftReport describes a post-cycle equity reconciliation check.
type DriftReport struct {
	Recomputed  decimal.Decimal
	Persisted   decimal.Decimal
	Drift       decimal.Decimal
	Tolerance   decimal.Decimal
	WithinBound bool
}

// AssertEquity recomputes equity from cash, position values, and realized P&L,
// compares it against the last persisted cash/equity row, and reconciles drift
// beyond tolerance by retrying up to a fixed number of iterations.
func (p *Portfolio) AssertEquity(marks map[string]decimal.Decimal) (DriftReport, error) {
	recomputed, _ := p.Equity(marks)
	persistedRow, ok, err := p.Store.GetLatestCashEquity(p.SessionID)
	if err != nil {
		return DriftReport{}, fmt.Errorf("portfolio: assert equity: %w", err)
	}
	persisted := recomputed
	if ok {
		persisted = persistedRow.TotalEquity
	}

	tolerance := money.Max(decimal.NewFromInt(1), decimal.NewFromFloat(0.0001).Mul(recomputed.Abs()))
	drift := recomputed.Sub(persisted).Abs()
	report := DriftReport{Recomputed: recomputed, Persisted: persisted, Drift: drift, Tolerance: tolerance, WithinBound: drift.LessThanOrEqual(tolerance)}
	if report.WithinBound {
		return report, nil
	}

	for i := 0; i < ReconciliationAttempts; i++ {
		if err := p.Store.SaveCashEquity(state.CashEquity{
			CashBalance: p.CashBalance, TotalEquity: recomputed, PreviousEquity: persisted,
			TotalFees: p.TotalFees, TotalRealizedPnL: p.TotalRealizedPnL, SessionID: p.SessionID,
		}); err != nil {
			return report, fmt.Errorf("portfolio: reconcile equity: %w", err)
		}
		persistedRow, ok, err = p.Store.GetLatestCashEquity(p.SessionID)
		if err != nil {
			return report, fmt.Errorf("portfolio: reconcile equity: %w", err)
		}
		persisted = recomputed
		if ok {
			persisted = persistedRow.TotalEquity
		}
		drift = recomputed.Sub(persisted).Abs()
		report = DriftReport{Recomputed: recomputed, Persisted: persisted, Drift: drift, Tolerance: tolerance, WithinBound: drift.LessThanOrEqual(tolerance)}
		if report.WithinBound {
			break
		}
	}
	return report, nil
}
