package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the cgo-free SQLite-backed Store, mirroring the reference
// implementation's table/migration/index layout one table at a time.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) the database at path and runs
// migrations. path may be ":memory:" for tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer; sqlite serializes anyway
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			quantity REAL NOT NULL,
			entry_price REAL NOT NULL,
			current_price REAL NOT NULL,
			value REAL NOT NULL DEFAULT 0.0,
			unrealized_pnl REAL NOT NULL,
			strategy TEXT NOT NULL,
			session_id TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(symbol, strategy, session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id TEXT UNIQUE,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			fill_price REAL NOT NULL,
			fees REAL NOT NULL,
			notional_value REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			strategy TEXT NOT NULL,
			exit_reason TEXT,
			session_id TEXT NOT NULL,
			executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cash_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cash_balance REAL NOT NULL,
			total_equity REAL NOT NULL,
			previous_equity REAL NOT NULL DEFAULT 0.0,
			total_fees REAL NOT NULL,
			total_realized_pnl REAL NOT NULL,
			total_unrealized_pnl REAL NOT NULL,
			session_id TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS lotbook (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			lot_id TEXT NOT NULL,
			quantity REAL NOT NULL,
			cost_price REAL NOT NULL,
			fee REAL NOT NULL DEFAULT 0.0,
			timestamp TIMESTAMP NOT NULL,
			session_id TEXT NOT NULL,
			trade_id TEXT UNIQUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(symbol, lot_id, session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS session_metadata (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS signal_windows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			strategy_name TEXT NOT NULL,
			signal_value REAL NOT NULL,
			session_id TEXT NOT NULL,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cash_equity_session ON cash_equity(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_metadata_session ON session_metadata(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_metadata_key ON session_metadata(key)`,
		`CREATE INDEX IF NOT EXISTS idx_lotbook_symbol ON lotbook(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_lotbook_session ON lotbook(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lotbook_timestamp ON lotbook(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_lotbook_trade_id ON lotbook(trade_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_windows_symbol_tf ON signal_windows(symbol, timeframe)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_windows_timestamp ON signal_windows(timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	// Additive migrations for columns introduced after the original table shape;
	// "duplicate column name" is swallowed, matching the reference store's
	// try/except-around-ALTER-TABLE pattern.
	migrations := []string{
		`ALTER TABLE positions ADD COLUMN value REAL NOT NULL DEFAULT 0.0`,
		`ALTER TABLE cash_equity ADD COLUMN previous_equity REAL NOT NULL DEFAULT 0.0`,
	}
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func f(d decimal.Decimal) float64 { return d.InexactFloat64() }
func fromF(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func (s *SQLiteStore) SavePosition(p Position) error {
	_, err := s.db.Exec(`
		INSERT INTO positions (symbol, quantity, entry_price, current_price, value, unrealized_pnl, strategy, session_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol, strategy, session_id) DO UPDATE SET
			quantity=excluded.quantity, entry_price=excluded.entry_price, current_price=excluded.current_price,
			value=excluded.value, unrealized_pnl=excluded.unrealized_pnl, updated_at=CURRENT_TIMESTAMP
	`, p.Symbol, f(p.Quantity), f(p.EntryPrice), f(p.CurrentPrice), f(p.Value), f(p.UnrealizedPnL), p.Strategy, p.SessionID)
	if err != nil {
		return fmt.Errorf("state: save position %s/%s: %w", p.Symbol, p.Strategy, err)
	}
	return nil
}

func (s *SQLiteStore) GetPositions(sessionID string) ([]Position, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, quantity, entry_price, current_price, value, unrealized_pnl, strategy, session_id, created_at, updated_at
		FROM positions WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("state: get positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		var qty, entry, cur, val, upnl float64
		if err := rows.Scan(&p.ID, &p.Symbol, &qty, &entry, &cur, &val, &upnl, &p.Strategy, &p.SessionID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Quantity, p.EntryPrice, p.CurrentPrice, p.Value, p.UnrealizedPnL = fromF(qty), fromF(entry), fromF(cur), fromF(val), fromF(upnl)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetPosition(symbol, strategy, sessionID string) (Position, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, symbol, quantity, entry_price, current_price, value, unrealized_pnl, strategy, session_id, created_at, updated_at
		FROM positions WHERE symbol = ? AND strategy = ? AND session_id = ?`, symbol, strategy, sessionID)
	var p Position
	var qty, entry, cur, val, upnl float64
	err := row.Scan(&p.ID, &p.Symbol, &qty, &entry, &cur, &val, &upnl, &p.Strategy, &p.SessionID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("state: get position %s/%s: %w", symbol, strategy, err)
	}
	p.Quantity, p.EntryPrice, p.CurrentPrice, p.Value, p.UnrealizedPnL = fromF(qty), fromF(entry), fromF(cur), fromF(val), fromF(upnl)
	return p, true, nil
}

func (s *SQLiteStore) DeletePosition(symbol, strategy, sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM positions WHERE symbol = ? AND strategy = ? AND session_id = ?`, symbol, strategy, sessionID)
	if err != nil {
		return fmt.Errorf("state: delete position %s/%s: %w", symbol, strategy, err)
	}
	return nil
}

func (s *SQLiteStore) SaveTrade(t Trade) error {
	_, err := s.db.Exec(`
		INSERT INTO trades (trade_id, symbol, side, quantity, fill_price, fees, notional_value, realized_pnl, strategy, exit_reason, session_id, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO NOTHING
	`, t.TradeID, t.Symbol, t.Side, f(t.Quantity), f(t.FillPrice), f(t.Fees), f(t.NotionalValue), f(t.RealizedPnL), t.Strategy, t.ExitReason, t.SessionID, executedAt(t.ExecutedAt))
	if err != nil {
		return fmt.Errorf("state: save trade %s: %w", t.TradeID, err)
	}
	return nil
}

func executedAt(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *SQLiteStore) GetTrades(sessionID string) ([]Trade, error) {
	rows, err := s.db.Query(`
		SELECT id, trade_id, symbol, side, quantity, fill_price, fees, notional_value, realized_pnl, strategy, COALESCE(exit_reason, ''), session_id, executed_at
		FROM trades WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("state: get trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var qty, price, fees, notional, pnl float64
		if err := rows.Scan(&t.ID, &t.TradeID, &t.Symbol, &t.Side, &qty, &price, &fees, &notional, &pnl, &t.Strategy, &t.ExitReason, &t.SessionID, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Quantity, t.FillPrice, t.Fees, t.NotionalValue, t.RealizedPnL = fromF(qty), fromF(price), fromF(fees), fromF(notional), fromF(pnl)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveCashEquity(c CashEquity) error {
	_, err := s.db.Exec(`
		INSERT INTO cash_equity (cash_balance, total_equity, previous_equity, total_fees, total_realized_pnl, total_unrealized_pnl, session_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, f(c.CashBalance), f(c.TotalEquity), f(c.PreviousEquity), f(c.TotalFees), f(c.TotalRealizedPnL), f(c.TotalUnrealizedPnL), c.SessionID)
	if err != nil {
		return fmt.Errorf("state: save cash equity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLatestCashEquity(sessionID string) (CashEquity, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, cash_balance, total_equity, previous_equity, total_fees, total_realized_pnl, total_unrealized_pnl, session_id, updated_at
		FROM cash_equity WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)
	var c CashEquity
	var cash, equity, prev, fees, rpnl, upnl float64
	err := row.Scan(&c.ID, &cash, &equity, &prev, &fees, &rpnl, &upnl, &c.SessionID, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return CashEquity{}, false, nil
	}
	if err != nil {
		return CashEquity{}, false, fmt.Errorf("state: get latest cash equity: %w", err)
	}
	c.CashBalance, c.TotalEquity, c.PreviousEquity, c.TotalFees, c.TotalRealizedPnL, c.TotalUnrealizedPnL = fromF(cash), fromF(equity), fromF(prev), fromF(fees), fromF(rpnl), fromF(upnl)
	return c, true, nil
}

func (s *SQLiteStore) SaveLot(l LotRow) error {
	_, err := s.db.Exec(`
		INSERT INTO lotbook (symbol, lot_id, quantity, cost_price, fee, timestamp, session_id, trade_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, lot_id, session_id) DO UPDATE SET quantity=excluded.quantity, fee=excluded.fee
	`, l.Symbol, l.LotID, f(l.Quantity), f(l.CostPrice), f(l.Fee), l.Timestamp, l.SessionID, l.TradeID)
	if err != nil {
		return fmt.Errorf("state: save lot %s/%s: %w", l.Symbol, l.LotID, err)
	}
	return nil
}

// DeleteLot removes a fully consumed lot's row so a restart's rehydration never
// resurrects quantity the FIFO queue already ate.
func (s *SQLiteStore) DeleteLot(sessionID, symbol, lotID string) error {
	_, err := s.db.Exec(`DELETE FROM lotbook WHERE session_id = ? AND symbol = ? AND lot_id = ?`, sessionID, symbol, lotID)
	if err != nil {
		return fmt.Errorf("state: delete lot %s/%s: %w", symbol, lotID, err)
	}
	return nil
}

func (s *SQLiteStore) GetLotbook(sessionID, symbol string) ([]LotRow, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, lot_id, quantity, cost_price, fee, timestamp, session_id, COALESCE(trade_id, '')
		FROM lotbook WHERE session_id = ? AND symbol = ? ORDER BY timestamp ASC, id ASC`, sessionID, symbol)
	if err != nil {
		return nil, fmt.Errorf("state: get lotbook %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []LotRow
	for rows.Next() {
		var l LotRow
		var qty, cost, fee float64
		if err := rows.Scan(&l.ID, &l.Symbol, &l.LotID, &qty, &cost, &fee, &l.Timestamp, &l.SessionID, &l.TradeID); err != nil {
			return nil, err
		}
		l.Quantity, l.CostPrice, l.Fee = fromF(qty), fromF(cost), fromF(fee)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetSessionMetadata(sessionID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO session_metadata (session_id, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id, key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP
	`, sessionID, key, value)
	if err != nil {
		return fmt.Errorf("state: set session metadata %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetSessionMetadata(sessionID, key string) (string, bool, error) {
	row := s.db.QueryRow(`SELECT value FROM session_metadata WHERE session_id = ? AND key = ?`, sessionID, key)
	var value string
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("state: get session metadata %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SaveSignalWindowPoint(p SignalWindowPoint) error {
	_, err := s.db.Exec(`
		INSERT INTO signal_windows (symbol, timeframe, strategy_name, signal_value, session_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Symbol, p.Timeframe, p.StrategyName, f(p.Value), p.SessionID, p.Timestamp)
	if err != nil {
		return fmt.Errorf("state: save signal window point %s: %w", p.Symbol, err)
	}

	// Keep only the newest 200 rows per (symbol, timeframe, strategy) tuple.
	_, err = s.db.Exec(`
		DELETE FROM signal_windows
		WHERE session_id = ? AND symbol = ? AND timeframe = ? AND strategy_name = ?
		AND id NOT IN (
			SELECT id FROM signal_windows
			WHERE session_id = ? AND symbol = ? AND timeframe = ? AND strategy_name = ?
			ORDER BY id DESC LIMIT 200
		)`,
		p.SessionID, p.Symbol, p.Timeframe, p.StrategyName,
		p.SessionID, p.Symbol, p.Timeframe, p.StrategyName)
	if err != nil {
		return fmt.Errorf("state: trim signal window %s: %w", p.Symbol, err)
	}
	return nil
}

func (s *SQLiteStore) GetSignalWindow(sessionID, symbol, timeframe, strategyName string, limit int) ([]SignalWindowPoint, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`
		SELECT symbol, timeframe, strategy_name, signal_value, timestamp
		FROM signal_windows WHERE session_id = ? AND symbol = ? AND timeframe = ? AND strategy_name = ?
		ORDER BY id DESC LIMIT ?`, sessionID, symbol, timeframe, strategyName, limit)
	if err != nil {
		return nil, fmt.Errorf("state: get signal window %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []SignalWindowPoint
	for rows.Next() {
		var p SignalWindowPoint
		var v float64
		if err := rows.Scan(&p.Symbol, &p.Timeframe, &p.StrategyName, &v, &p.Timestamp); err != nil {
			return nil, err
		}
		p.Value = fromF(v)
		out = append(out, p)
	}
	// reverse to oldest-first, matching signal.Window's ordering convention
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
