// Package ledger provides the append-only trade record and the daily summary
// analytics derived from it — trades table plus the
// get_metrics_from_in_memory_fills / _log_cycle_summary supplemented feature.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecycle/money"
	"tradecycle/state"
)

// Trade is the in-memory mirror of a committed trade row, carried alongside
// state.Trade as the fallback source of truth for same-session analytics
// (also appended to the in-memory fill list).
type Trade = state.Trade

// Ledger is a thin, append-only read/write wrapper over state.Store's trades
// table plus an in-memory cache, scoped to one session.
type Ledger struct {
	Store     state.Store
	SessionID string
	fills     []Trade
}

// New returns a Ledger for sessionID backed by store.
func New(store state.Store, sessionID string) *Ledger {
	return &Ledger{Store: store, SessionID: sessionID}
}

// Record appends a trade. The realized P&L on t must already be the actual value
// returned by lotbook.Book.Consume — ledger never estimates or overwrites it (see
// Open Question resolution).
func (l *Ledger) Record(t Trade) error {
	if err := l.Store.SaveTrade(t); err != nil {
		return fmt.Errorf("ledger: record trade %s: %w", t.TradeID, err)
	}
	l.fills = append(l.fills, t)
	return nil
}

// Append adds t to the in-memory fill cache without persisting it again — for
// callers (the orchestrator) where the trade row was already written by
// portfolio.Portfolio.Apply and only the analytics cache needs updating.
func (l *Ledger) Append(t Trade) {
	l.fills = append(l.fills, t)
}

// Trades returns every trade recorded this session, preferring the durable store
// and falling back to the in-memory cache if the store read fails.
func (l *Ledger) Trades() ([]Trade, error) {
	trades, err := l.Store.GetTrades(l.SessionID)
	if err != nil {
		if len(l.fills) > 0 {
			return l.fills, nil
		}
		return nil, fmt.Errorf("ledger: get trades: %w", err)
	}
	return trades, nil
}

// DailySummary is the rolled-up session analytics surface.
type DailySummary struct {
	TradeCount      int
	Wins            int
	Losses          int
	TotalVolume     decimal.Decimal
	TotalFees       decimal.Decimal
	TotalRealizedPnL decimal.Decimal
	AverageTradeSize decimal.Decimal
}

// Summary computes DailySummary over every trade recorded this session.
func (l *Ledger) Summary() (DailySummary, error) {
	trades, err := l.Trades()
	if err != nil {
		return DailySummary{}, err
	}

	var s DailySummary
	s.TradeCount = len(trades)
	for _, t := range trades {
		s.TotalVolume = s.TotalVolume.Add(t.NotionalValue)
		s.TotalFees = s.TotalFees.Add(t.Fees)
		s.TotalRealizedPnL = s.TotalRealizedPnL.Add(t.RealizedPnL)
		switch {
		case money.IsPositive(t.RealizedPnL):
			s.Wins++
		case money.IsNegative(t.RealizedPnL):
			s.Losses++
		}
	}
	if s.TradeCount > 0 {
		s.AverageTradeSize = s.TotalVolume.Div(decimal.NewFromInt(int64(s.TradeCount)))
	}
	return s, nil
}
