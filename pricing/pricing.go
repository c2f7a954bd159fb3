// Package pricing owns the per-cycle immutable pricing snapshot. Every price lookup
// in a cycle resolves against the snapshot created for that cycle's id —
// never against a process-wide global, so a stale "fresh price" fetch becomes a
// compile-time-visible argument-passing error rather than hidden process state.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecycle/money"
)

// ErrContext is returned whenever a caller's cycle id does not match the currently
// sealed snapshot's cycle id — the Go realization of PricingContextError.
var ErrContext = errors.New("pricing: no active snapshot for this cycle")

// Side distinguishes a long position (exit sells into the bid) from a short position
// (exit buys back at the ask).
type Side int

const (
	Long Side = iota
	Short
)

// PriceData is one symbol's accepted quote for a cycle.
type PriceData struct {
	Symbol    string
	Price     decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Mid       decimal.Decimal
	Last      decimal.Decimal
	HasBidAsk bool
	HasMid    bool
	HasLast   bool
	Source    string
	Stale     bool
	Timestamp time.Time
}

// MarkPrice resolves the price used to value an open position: mid, else last, else price.
func (p PriceData) MarkPrice() decimal.Decimal {
	if p.HasMid {
		return p.Mid
	}
	if p.HasLast {
		return p.Last
	}
	return p.Price
}

// EntryPrice resolves the price used to size a new entry: mid, else price.
func (p PriceData) EntryPrice() decimal.Decimal {
	if p.HasMid {
		return p.Mid
	}
	return p.Price
}

// ExitValue resolves the realistic closing price for side: bid-first for longs,
// ask-first for shorts, falling back through mid then price.
func (p PriceData) ExitValue(side Side) decimal.Decimal {
	if side == Long {
		if p.HasBidAsk && money.IsPositive(p.Bid) {
			return p.Bid
		}
	} else {
		if p.HasBidAsk && money.IsPositive(p.Ask) {
			return p.Ask
		}
	}
	if p.HasMid {
		return p.Mid
	}
	return p.Price
}

// Provenance records the pinned valuation source for a symbol for the lifetime of a
// position, set once via LockProvenance.
type Provenance struct {
	Venue     string
	PriceType string
}

// Snapshot is the immutable map produced once per cycle by Manager.CreateSnapshot.
// Nothing mutates bySymbol after Manager returns it; callers read through the
// accessor methods below, never the map directly. The cycle-id check happens in
// the Manager's Get* methods, not in the Snapshot accessors.
type Snapshot struct {
	CycleID  int64
	Created  time.Time
	bySymbol map[string]PriceData
}

// Symbol returns the PriceData for symbol and whether it was present in the snapshot
// (a symbol is absent if its fetch failed and was dropped from the snapshot).
func (s *Snapshot) Symbol(symbol string) (PriceData, bool) {
	pd, ok := s.bySymbol[symbol]
	return pd, ok
}

// Symbols returns every symbol accepted into the snapshot.
func (s *Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.bySymbol))
	for sym := range s.bySymbol {
		out = append(out, sym)
	}
	return out
}

// Ticker is the external data supplied by signal.DataEngine for one symbol.
type Ticker struct {
	Price     decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Mid       decimal.Decimal
	Last      decimal.Decimal
	HasBidAsk bool
	HasMid    bool
	HasLast   bool
	IsStale   bool
	Source    string
}

// TickerFetcher is the narrow slice of signal.DataEngine the pricing manager needs —
// declared locally so this package has no import-cycle dependency on signal.
type TickerFetcher interface {
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
}

// HitMissCounter accumulates per-cycle lookup diagnostics.
type HitMissCounter struct {
	mu   sync.Mutex
	Hits int
	Miss int
}

func (c *HitMissCounter) hit() {
	c.mu.Lock()
	c.Hits++
	c.mu.Unlock()
}

func (c *HitMissCounter) miss() {
	c.mu.Lock()
	c.Miss++
	c.mu.Unlock()
}

// Manager owns the single live Snapshot for the current cycle. It is not a package
// singleton — the orchestrator constructs and holds exactly one Manager for the
// session's lifetime and threads it (or, more precisely, threads the CycleID it
// stamps) through every call. This intentionally departs from the Python reference
// module-level singleton some engines use (see DESIGN.md).
type Manager struct {
	fetcher TickerFetcher
	// FanOutLimit bounds the number of concurrent per-symbol ticker fetches inside
	// CreateSnapshot. Zero means "one goroutine per symbol, unbounded".
	FanOutLimit int
	// FetchTimeout bounds each individual symbol fetch; on timeout the symbol is
	// dropped from the snapshot rather than aborting the cycle.
	FetchTimeout time.Duration

	mu            sync.Mutex
	current       *Snapshot
	provenance    map[string]Provenance
	fetchDisabled bool
	counter       HitMissCounter
}

// NewManager constructs a Manager with sensible defaults (8-way fan-out, 5s timeout).
func NewManager(fetcher TickerFetcher) *Manager {
	return &Manager{
		fetcher:      fetcher,
		FanOutLimit:  8,
		FetchTimeout: 5 * time.Second,
		provenance:   make(map[string]Provenance),
	}
}

// CreateSnapshot fetches one ticker per symbol (bounded parallel fan-out), tolerating
// partial failure, and seals a new Snapshot for cycleID. Calling CreateSnapshot twice
// for the same Manager without an intervening ClearSnapshot is a programmer error and
// returns an error rather than silently reusing the prior snapshot.
func (m *Manager) CreateSnapshot(ctx context.Context, cycleID int64, symbols []string) (*Snapshot, []error) {
	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return nil, []error{fmt.Errorf("pricing: snapshot already created for cycle %d", m.current.CycleID)}
	}
	m.fetchDisabled = false
	m.mu.Unlock()

	type result struct {
		symbol string
		pd     PriceData
		err    error
	}

	limit := m.FanOutLimit
	if limit <= 0 || limit > len(symbols) {
		limit = len(symbols)
	}
	if limit == 0 {
		limit = 1
	}

	sem := make(chan struct{}, limit)
	results := make(chan result, len(symbols))
	var wg sync.WaitGroup

	for _, sym := range symbols {
		sym := sym
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fetchCtx := ctx
			var cancel context.CancelFunc
			if m.FetchTimeout > 0 {
				fetchCtx, cancel = context.WithTimeout(ctx, m.FetchTimeout)
				defer cancel()
			}

			tick, err := m.fetcher.GetTicker(fetchCtx, sym)
			if err != nil {
				results <- result{symbol: sym, err: err}
				return
			}

			source := tick.Source
			if tick.IsStale && source != "" {
				source = source + "_STALE"
			}
			results <- result{symbol: sym, pd: PriceData{
				Symbol:    sym,
				Price:     tick.Price,
				Bid:       tick.Bid,
				Ask:       tick.Ask,
				Mid:       tick.Mid,
				Last:      tick.Last,
				HasBidAsk: tick.HasBidAsk,
				HasMid:    tick.HasMid,
				HasLast:   tick.HasLast,
				Source:    source,
				Stale:     tick.IsStale,
				Timestamp: time.Now(),
			}}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	bySymbol := make(map[string]PriceData, len(symbols))
	var errs []error
	for r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("pricing: symbol %s dropped from snapshot: %w", r.symbol, r.err))
			continue
		}
		bySymbol[r.symbol] = r.pd
	}

	snap := &Snapshot{CycleID: cycleID, Created: time.Now(), bySymbol: bySymbol}

	m.mu.Lock()
	m.current = snap
	m.fetchDisabled = true
	m.mu.Unlock()

	return snap, errs
}

// ClearSnapshot drops the sealed snapshot, re-enabling CreateSnapshot for the next cycle.
func (m *Manager) ClearSnapshot() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.fetchDisabled = false
}

func (m *Manager) activeSnapshot(cycleID int64) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.CycleID != cycleID {
		m.counter.miss()
		return nil, ErrContext
	}
	m.counter.hit()
	return m.current, nil
}

// GetMarkPrice returns the mark price for symbol in cycleID's snapshot.
func (m *Manager) GetMarkPrice(cycleID int64, symbol string) (decimal.Decimal, error) {
	snap, err := m.activeSnapshot(cycleID)
	if err != nil {
		return decimal.Zero, err
	}
	pd, ok := snap.Symbol(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("pricing: %s not present in snapshot %d", symbol, cycleID)
	}
	return pd.MarkPrice(), nil
}

// GetEntryPrice returns the entry price for symbol in cycleID's snapshot.
func (m *Manager) GetEntryPrice(cycleID int64, symbol string) (decimal.Decimal, error) {
	snap, err := m.activeSnapshot(cycleID)
	if err != nil {
		return decimal.Zero, err
	}
	pd, ok := snap.Symbol(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("pricing: %s not present in snapshot %d", symbol, cycleID)
	}
	return pd.EntryPrice(), nil
}

// GetExitValue returns the exit value for symbol/side in cycleID's snapshot.
func (m *Manager) GetExitValue(cycleID int64, symbol string, side Side) (decimal.Decimal, error) {
	snap, err := m.activeSnapshot(cycleID)
	if err != nil {
		return decimal.Zero, err
	}
	pd, ok := snap.Symbol(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("pricing: %s not present in snapshot %d", symbol, cycleID)
	}
	return pd.ExitValue(side), nil
}

// LockProvenance pins symbol's valuation source for the remainder of its position
// lifecycle (independent of which cycle currently holds the lock).
func (m *Manager) LockProvenance(symbol, venue, priceType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provenance[symbol] = Provenance{Venue: venue, PriceType: priceType}
}

// LockedProvenance returns symbol's pinned provenance, if any.
func (m *Manager) LockedProvenance(symbol string) (Provenance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.provenance[symbol]
	return p, ok
}

// Counters returns a copy of the accumulated hit/miss counters.
func (m *Manager) Counters() HitMissCounter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HitMissCounter{Hits: m.counter.Hits, Miss: m.counter.Miss}
}
