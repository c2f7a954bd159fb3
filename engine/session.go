package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecycle/regime"
	"tradecycle/state"
)

// dayState is the daily loss halt flag plus the exploration-budget counters,
// all of which reset when the calendar day rolls over — the
// "for the rest of the day" / "_today" semantics made explicit and persisted so
// a restart mid-day does not reopen a halted or budget-exhausted day.
type dayState struct {
	Date              string          `json:"date"`
	Halt              bool            `json:"halt"`
	ForcedCountToday  int             `json:"forced_count_today"`
	UsedNotionalToday decimal.Decimal `json:"used_notional_today"`
}

const dayStateKey = "day_state"

func today() string { return time.Now().Format("2006-01-02") }

func loadDayState(store state.Store, sessionID string) (dayState, error) {
	raw, ok, err := store.GetSessionMetadata(sessionID, dayStateKey)
	if err != nil {
		return dayState{}, fmt.Errorf("engine: load day state: %w", err)
	}
	now := today()
	if !ok {
		return dayState{Date: now}, nil
	}
	var ds dayState
	if err := json.Unmarshal([]byte(raw), &ds); err != nil {
		return dayState{}, fmt.Errorf("engine: decode day state: %w", err)
	}
	if ds.Date != now {
		return dayState{Date: now}, nil
	}
	return ds, nil
}

func saveDayState(store state.Store, sessionID string, ds dayState) error {
	raw, err := json.Marshal(ds)
	if err != nil {
		return err
	}
	return store.SetSessionMetadata(sessionID, dayStateKey, string(raw))
}

const sessionStartEquityKey = "session_start_equity"

// loadOrInitSessionStartEquity returns the persisted session-start equity, or
// seeds it from initialCapital on the session's first cycle.
func loadOrInitSessionStartEquity(store state.Store, sessionID string, initialCapital decimal.Decimal) (decimal.Decimal, error) {
	raw, ok, err := store.GetSessionMetadata(sessionID, sessionStartEquityKey)
	if err != nil {
		return decimal.Zero, fmt.Errorf("engine: load session start equity: %w", err)
	}
	if ok {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("engine: decode session start equity: %w", err)
		}
		return v, nil
	}
	if err := store.SetSessionMetadata(sessionID, sessionStartEquityKey, initialCapital.String()); err != nil {
		return decimal.Zero, fmt.Errorf("engine: seed session start equity: %w", err)
	}
	return initialCapital, nil
}

const riskOnWindowsKey = "risk_on_windows"

type riskOnWindowRow struct {
	CyclesRemaining int             `json:"cycles_remaining"`
	FloorOverride   decimal.Decimal `json:"floor_override"`
	RiskPctOverride decimal.Decimal `json:"risk_pct_override"`
}

func loadRiskOnWindows(store state.Store, sessionID string) (map[string]regime.Window, error) {
	raw, ok, err := store.GetSessionMetadata(sessionID, riskOnWindowsKey)
	if err != nil {
		return nil, fmt.Errorf("engine: load risk-on windows: %w", err)
	}
	out := make(map[string]regime.Window)
	if !ok {
		return out, nil
	}
	var rows map[string]riskOnWindowRow
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, fmt.Errorf("engine: decode risk-on windows: %w", err)
	}
	for sym, row := range rows {
		out[sym] = regime.Window{
			Symbol:          sym,
			CyclesRemaining: row.CyclesRemaining,
			Override:        regime.RiskOnOverride{FloorOverride: row.FloorOverride, RiskPctOverride: row.RiskPctOverride},
		}
	}
	return out, nil
}

func saveRiskOnWindows(store state.Store, sessionID string, windows map[string]regime.Window) error {
	rows := make(map[string]riskOnWindowRow, len(windows))
	for sym, w := range windows {
		if !w.Active() {
			continue
		}
		rows[sym] = riskOnWindowRow{CyclesRemaining: w.CyclesRemaining, FloorOverride: w.Override.FloorOverride, RiskPctOverride: w.Override.RiskPctOverride}
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return store.SetSessionMetadata(sessionID, riskOnWindowsKey, string(raw))
}

// positionMeta carries the data a position needs that portfolio.Position does
// not itself store: the SL/TP pair and the entry time, both fixed at entry and
// reset by every later increase, and both needed by exits.Manager.CheckExits.
type positionMeta struct {
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	OpenedAtUnix int64           `json:"opened_at_unix"`
	// EntryQuantity is the position's absolute size as of its last entry
	// execution, used as the base for profit-ladder rung sizing so rungs split
	// the original position rather than whatever remains after earlier rungs.
	EntryQuantity decimal.Decimal `json:"entry_quantity"`
	// HighSinceEntry/LowSinceEntry track the running extremes of the mark since
	// the position opened, feeding the chandelier trailing stop.
	HighSinceEntry decimal.Decimal `json:"high_since_entry"`
	LowSinceEntry  decimal.Decimal `json:"low_since_entry"`
}

func positionMetaKey(symbol, strategy string) string { return "position_meta:" + symbol + "|" + strategy }

func loadPositionMeta(store state.Store, sessionID, symbol, strategy string) (positionMeta, bool, error) {
	raw, ok, err := store.GetSessionMetadata(sessionID, positionMetaKey(symbol, strategy))
	if err != nil {
		return positionMeta{}, false, fmt.Errorf("engine: load position meta %s/%s: %w", symbol, strategy, err)
	}
	if !ok {
		return positionMeta{}, false, nil
	}
	var pm positionMeta
	if err := json.Unmarshal([]byte(raw), &pm); err != nil {
		return positionMeta{}, false, fmt.Errorf("engine: decode position meta %s/%s: %w", symbol, strategy, err)
	}
	return pm, true, nil
}

func savePositionMeta(store state.Store, sessionID, symbol, strategy string, pm positionMeta) error {
	raw, err := json.Marshal(pm)
	if err != nil {
		return err
	}
	return store.SetSessionMetadata(sessionID, positionMetaKey(symbol, strategy), string(raw))
}

func clearPositionMeta(store state.Store, sessionID, symbol, strategy string) error {
	return store.SetSessionMetadata(sessionID, positionMetaKey(symbol, strategy), "")
}
