// Package state owns the durable, session-scoped persistence layer: positions,
// trades, cash/equity history, the lot book, session metadata, and rolling signal
// windows. Every row is keyed (directly or transitively) by session_id so no read
// or write for one session can leak into another's aggregates.
package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is one open (symbol, strategy) position row.
type Position struct {
	ID            int64
	Symbol        string
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	Value         decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Strategy      string
	SessionID     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Trade is one append-only executed-fill row.
type Trade struct {
	ID             int64
	TradeID        string
	Symbol         string
	Side           string // "buy" | "sell"
	Quantity       decimal.Decimal
	FillPrice      decimal.Decimal
	Fees           decimal.Decimal
	NotionalValue  decimal.Decimal
	RealizedPnL    decimal.Decimal
	Strategy       string
	ExitReason     string
	SessionID      string
	ExecutedAt     time.Time
}

// CashEquity is one append-only cash/equity snapshot row. "Latest" is always the
// row with the largest ID for a session.
type CashEquity struct {
	ID                 int64
	CashBalance        decimal.Decimal
	TotalEquity        decimal.Decimal
	PreviousEquity     decimal.Decimal
	TotalFees          decimal.Decimal
	TotalRealizedPnL   decimal.Decimal
	TotalUnrealizedPnL decimal.Decimal
	SessionID          string
	UpdatedAt          time.Time
}

// LotRow is one persisted lot-book entry, the durable mirror of lotbook.Lot.
type LotRow struct {
	ID        int64
	Symbol    string
	LotID     string
	Quantity  decimal.Decimal
	CostPrice decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
	SessionID string
	TradeID   string
}

// SignalWindowPoint is one rolling signal value, capped at signal.MaxWindow rows
// per (symbol, timeframe, strategy_name) tuple.
type SignalWindowPoint struct {
	Symbol       string
	Timeframe    string
	StrategyName string
	Value        decimal.Decimal
	SessionID    string
	Timestamp    time.Time
}

// Store is the persistence contract every package downstream of state depends on.
// A single implementation (SQLiteStore) is provided; the interface exists so
// engine/portfolio/exits tests can substitute an in-memory fake without touching
// a real database file.
type Store interface {
	SavePosition(p Position) error
	GetPositions(sessionID string) ([]Position, error)
	GetPosition(symbol, strategy, sessionID string) (Position, bool, error)
	DeletePosition(symbol, strategy, sessionID string) error

	SaveTrade(t Trade) error
	GetTrades(sessionID string) ([]Trade, error)

	SaveCashEquity(c CashEquity) error
	GetLatestCashEquity(sessionID string) (CashEquity, bool, error)

	SaveLot(l LotRow) error
	DeleteLot(sessionID, symbol, lotID string) error
	GetLotbook(sessionID, symbol string) ([]LotRow, error)

	SetSessionMetadata(sessionID, key, value string) error
	GetSessionMetadata(sessionID, key string) (string, bool, error)

	SaveSignalWindowPoint(p SignalWindowPoint) error
	GetSignalWindow(sessionID, symbol, timeframe, strategyName string, limit int) ([]SignalWindowPoint, error)

	Close() error
}
