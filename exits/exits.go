// Package exits runs the per-cycle reactive exit checks — stop loss, take profit,
// chandelier trailing stop, time stop, and profit ladder — in that fixed
// priority order.
package exits

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecycle/money"
	"tradecycle/pricing"
	"tradecycle/state"
)

// Condition is one triggered exit: should_exit plus the data needed to submit a
// reduce-only IOC limit order priced from the mark.
type Condition struct {
	Symbol         string
	ExitPrice      decimal.Decimal
	Quantity       decimal.Decimal // absolute quantity to exit
	ExitPercentage decimal.Decimal // fraction of the position this condition covers, 1.0 unless a ladder rung
	Reason         string
	// IsLadder/LadderLevel identify which profit-ladder rung fired, so the caller
	// can cancel any resting take-profit order it placed for the same rung.
	IsLadder    bool
	LadderLevel int
}

// Config parameterizes the exit checks (risk.exits.* in config.Config).
type Config struct {
	TimeStopHours decimal.Decimal
	MinQty        decimal.Decimal
	Ladders       []LadderLevel
	// EnableChandelier turns on the ATR trailing stop: a long exits once the mark
	// falls ChandelierNATR ATRs below the high-water mark since entry (mirrored
	// for shorts off the low-water mark).
	EnableChandelier bool
	ChandelierNATR   decimal.Decimal
}

// LadderLevel is one configured profit-ladder rung.
type LadderLevel struct {
	ProfitPct decimal.Decimal
	Pct       decimal.Decimal // fraction of position to exit when this rung fires
}

// DefaultLadders is the default profit ladder: two rungs at 0.8% and 1.5% profit,
// each exiting half the position.
var DefaultLadders = []LadderLevel{
	{ProfitPct: decimal.NewFromFloat(0.8), Pct: decimal.NewFromFloat(0.50)},
	{ProfitPct: decimal.NewFromFloat(1.5), Pct: decimal.NewFromFloat(0.50)},
}

// PositionView is the minimal position data CheckExits needs per symbol.
type PositionView struct {
	Symbol     string
	Quantity   decimal.Decimal // signed; positive = long; the live, possibly already-laddered-down size
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	HasEntryTime bool
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	// EntryQuantity is the position's size as of its last entry (unaffected by
	// subsequent partial exits). Profit-ladder rungs size their exit as a
	// percentage of this, not of the live Quantity, so a sequence of rungs each
	// take their configured share of the ORIGINAL position rather than of
	// whatever remains after the previous rung fired. Zero means "not supplied",
	// in which case the live Quantity is used as the base.
	EntryQuantity decimal.Decimal
	// HighSinceEntry/LowSinceEntry are the running extremes of the mark since the
	// position opened, and ATR the symbol's current ATR — the chandelier trailing
	// stop's inputs. Zero/absent values disable the check for this position.
	HighSinceEntry decimal.Decimal
	LowSinceEntry  decimal.Decimal
	ATR            decimal.Decimal
	HasATR         bool
}

// Manager tracks which profit-ladder rungs have already fired per symbol, backed
// by session_metadata so a restart does not re-fire an already-taken level (see
// Open Question resolution).
type Manager struct {
	Config    Config
	SessionID string
	store     state.Store
	taken     map[string]map[int]bool // symbol -> set of taken level indices
}

// NewManager returns a Manager with no ladder state; call Hydrate before the
// first cycle to load any taken levels persisted by a prior run.
func NewManager(cfg Config, sessionID string, store state.Store) *Manager {
	return &Manager{Config: cfg, SessionID: sessionID, store: store, taken: make(map[string]map[int]bool)}
}

func ladderKey(symbol string) string { return fmt.Sprintf("ladder_taken:%s", symbol) }

// Hydrate loads the taken-ladder-level set for every symbol from session_metadata.
func (m *Manager) Hydrate(symbols []string) error {
	for _, sym := range symbols {
		raw, ok, err := m.store.GetSessionMetadata(m.SessionID, ladderKey(sym))
		if err != nil {
			return fmt.Errorf("exits: hydrate %s: %w", sym, err)
		}
		if !ok {
			continue
		}
		var levels []int
		if err := json.Unmarshal([]byte(raw), &levels); err != nil {
			return fmt.Errorf("exits: hydrate %s: decode: %w", sym, err)
		}
		set := make(map[int]bool, len(levels))
		for _, lvl := range levels {
			set[lvl] = true
		}
		m.taken[sym] = set
	}
	return nil
}

// MarkTaken records that symbol's ladder level has been satisfied — either by
// this manager's own profit-ladder check or by a resting take-profit order the
// caller filled for the same rung — and persists the set.
func (m *Manager) MarkTaken(symbol string, level int) error {
	return m.markTaken(symbol, level)
}

// ResetSymbol forgets every taken ladder level for symbol, called when its
// position fully closes so a future position starts with a fresh ladder.
func (m *Manager) ResetSymbol(symbol string) error {
	delete(m.taken, symbol)
	return m.store.SetSessionMetadata(m.SessionID, ladderKey(symbol), "[]")
}

func (m *Manager) markTaken(symbol string, level int) error {
	set, ok := m.taken[symbol]
	if !ok {
		set = make(map[int]bool)
		m.taken[symbol] = set
	}
	set[level] = true

	levels := make([]int, 0, len(set))
	for lvl := range set {
		levels = append(levels, lvl)
	}
	raw, err := json.Marshal(levels)
	if err != nil {
		return err
	}
	return m.store.SetSessionMetadata(m.SessionID, ladderKey(symbol), string(raw))
}

// CheckExits evaluates every open position against its current mark and returns
// the first triggering condition per symbol, in priority order: stop loss, take
// profit, chandelier trailing stop, time stop, then profit ladder (which does
// not short-circuit the other checks in the Python reference, but in practice
// never co-occurs with them since the full exits already stop the position
// being open).
func (m *Manager) CheckExits(positions []PositionView, marks map[string]decimal.Decimal, now time.Time) ([]Condition, error) {
	var out []Condition
	for _, pos := range positions {
		if money.IsZero(pos.Quantity) {
			continue
		}
		mark, ok := marks[pos.Symbol]
		if !ok {
			continue
		}
		side := pricing.Long
		if pos.Quantity.Sign() < 0 {
			side = pricing.Short
		}
		qty := pos.Quantity.Abs()

		if cond, hit := checkStopLoss(pos, mark, qty, side); hit {
			out = append(out, cond)
			continue
		}
		if cond, hit := checkTakeProfit(pos, mark, qty, side); hit {
			out = append(out, cond)
			continue
		}
		if cond, hit := checkChandelier(pos, mark, qty, side, m.Config); hit {
			out = append(out, cond)
			continue
		}
		if cond, hit := checkTimeStop(pos, mark, qty, now, m.Config.TimeStopHours); hit {
			out = append(out, cond)
			continue
		}
		if cond, hit, level, fired := m.checkProfitLadder(pos, mark, qty, side); fired {
			if hit {
				out = append(out, cond)
			}
			if err := m.markTaken(pos.Symbol, level); err != nil {
				return out, fmt.Errorf("exits: persist ladder state for %s: %w", pos.Symbol, err)
			}
		}
	}
	return out, nil
}

func checkStopLoss(pos PositionView, mark, qty decimal.Decimal, side pricing.Side) (Condition, bool) {
	if !money.IsPositive(pos.StopLoss) {
		return Condition{}, false
	}
	hit := false
	if side == pricing.Long {
		hit = mark.LessThanOrEqual(pos.StopLoss)
	} else {
		hit = mark.GreaterThanOrEqual(pos.StopLoss)
	}
	if !hit {
		return Condition{}, false
	}
	return Condition{Symbol: pos.Symbol, ExitPrice: mark, Quantity: qty, ExitPercentage: decimal.NewFromInt(1), Reason: "stop_loss_hit"}, true
}

func checkTakeProfit(pos PositionView, mark, qty decimal.Decimal, side pricing.Side) (Condition, bool) {
	if !money.IsPositive(pos.TakeProfit) {
		return Condition{}, false
	}
	hit := false
	if side == pricing.Long {
		hit = mark.GreaterThanOrEqual(pos.TakeProfit)
	} else {
		hit = mark.LessThanOrEqual(pos.TakeProfit)
	}
	if !hit {
		return Condition{}, false
	}
	return Condition{Symbol: pos.Symbol, ExitPrice: mark, Quantity: qty, ExitPercentage: decimal.NewFromInt(1), Reason: "take_profit_hit"}, true
}

// checkChandelier is the ATR trailing stop: a long exits once the mark closes
// ChandelierNATR ATRs below the high-water mark since entry; a short exits once
// the mark rises the same distance above the low-water mark.
func checkChandelier(pos PositionView, mark, qty decimal.Decimal, side pricing.Side, cfg Config) (Condition, bool) {
	if !cfg.EnableChandelier || !pos.HasATR || !money.IsPositive(pos.ATR) || !money.IsPositive(cfg.ChandelierNATR) {
		return Condition{}, false
	}
	trailDist := cfg.ChandelierNATR.Mul(pos.ATR)

	if side == pricing.Long {
		if !money.IsPositive(pos.HighSinceEntry) {
			return Condition{}, false
		}
		trail := pos.HighSinceEntry.Sub(trailDist)
		if mark.GreaterThan(trail) {
			return Condition{}, false
		}
		return Condition{Symbol: pos.Symbol, ExitPrice: mark, Quantity: qty, ExitPercentage: decimal.NewFromInt(1), Reason: "chandelier_stop_hit"}, true
	}

	if !money.IsPositive(pos.LowSinceEntry) {
		return Condition{}, false
	}
	trail := pos.LowSinceEntry.Add(trailDist)
	if mark.LessThan(trail) {
		return Condition{}, false
	}
	return Condition{Symbol: pos.Symbol, ExitPrice: mark, Quantity: qty, ExitPercentage: decimal.NewFromInt(1), Reason: "chandelier_stop_hit"}, true
}

func checkTimeStop(pos PositionView, mark, qty decimal.Decimal, now time.Time, timeStopHours decimal.Decimal) (Condition, bool) {
	if !pos.HasEntryTime || !money.IsPositive(timeStopHours) {
		return Condition{}, false
	}
	hoursHeld := now.Sub(pos.EntryTime).Hours()
	threshold, _ := timeStopHours.Float64()
	if hoursHeld < threshold {
		return Condition{}, false
	}
	return Condition{
		Symbol: pos.Symbol, ExitPrice: mark, Quantity: qty, ExitPercentage: decimal.NewFromInt(1),
		Reason: fmt.Sprintf("time_stop_%.1fh", hoursHeld),
	}, true
}

// checkProfitLadder returns (condition, hit, levelIndex, fired) where fired is true
// whenever a new rung's threshold was crossed (so the caller persists it as taken)
// even though every rung can only fire once per symbol for the life of the session.
func (m *Manager) checkProfitLadder(pos PositionView, mark, qty decimal.Decimal, side pricing.Side) (Condition, bool, int, bool) {
	if !money.IsPositive(pos.EntryPrice) {
		return Condition{}, false, 0, false
	}
	var profitPct decimal.Decimal
	if side == pricing.Long {
		profitPct = mark.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(decimal.NewFromInt(100))
	} else {
		profitPct = pos.EntryPrice.Sub(mark).Div(pos.EntryPrice).Mul(decimal.NewFromInt(100))
	}

	ladders := m.Config.Ladders
	if len(ladders) == 0 {
		ladders = DefaultLadders
	}
	taken := m.taken[pos.Symbol]

	baseQty := qty
	if money.IsPositive(pos.EntryQuantity) {
		baseQty = pos.EntryQuantity
	}

	for i, lvl := range ladders {
		if taken[i] {
			continue
		}
		if profitPct.LessThan(lvl.ProfitPct) {
			continue
		}
		exitQty := money.Min(baseQty.Mul(lvl.Pct), qty)
		cond := Condition{
			Symbol: pos.Symbol, ExitPrice: mark, Quantity: exitQty, ExitPercentage: lvl.Pct,
			Reason:   fmt.Sprintf("profit_ladder_L%d_%.1fpct", i+1, mustFloat(profitPct)),
			IsLadder: true, LadderLevel: i,
		}
		return cond, true, i, true
	}
	return Condition{}, false, 0, false
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
