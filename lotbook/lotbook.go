// Package lotbook implements a per-symbol FIFO queue of open lots, consumed oldest
// first on sells to produce realized P&L with fee proration.
package lotbook

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecycle/money"
)

// Lot is a single open purchase: a quantity acquired at a price, with the fee paid
// to acquire it. Lots are immutable except for the in-place quantity/fee reduction
// Consume performs as it eats into a lot.
type Lot struct {
	LotID     string
	Symbol    string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
	TradeID   string
}

func newLot(lotID, symbol string, qty, price, fee decimal.Decimal, ts time.Time, tradeID string) (*Lot, error) {
	if !money.IsPositive(qty) {
		return nil, fmt.Errorf("lotbook: lot quantity must be positive, got %s", qty)
	}
	if !money.IsPositive(price) {
		return nil, fmt.Errorf("lotbook: lot price must be positive, got %s", price)
	}
	if money.IsNegative(fee) {
		return nil, fmt.Errorf("lotbook: lot fee must be non-negative, got %s", fee)
	}
	return &Lot{LotID: lotID, Symbol: symbol, Quantity: qty, Price: price, Fee: fee, Timestamp: ts, TradeID: tradeID}, nil
}

// ConsumptionResult is the outcome of consuming quantity against the FIFO queue.
type ConsumptionResult struct {
	RealizedPnL    decimal.Decimal
	QuantityFilled decimal.Decimal
	// ShortOpened is the portion of the requested quantity that exceeded the
	// available lots. It is booked as a new short position at zero realized P&L
	// rather than raising — see DESIGN.md's Open Question resolution.
	ShortOpened   decimal.Decimal
	LotsConsumed  []string
	LotsRemaining int
}

// Book is the FIFO lot queue for a single trading session. It is not safe for
// concurrent use; the orchestrator guarantees single-writer access.
type Book struct {
	lotsBySymbol map[string][]*Lot
}

// New returns an empty lot book.
func New() *Book {
	return &Book{lotsBySymbol: make(map[string][]*Lot)}
}

// AddLot appends a newly acquired lot to the tail of symbol's FIFO queue.
func (b *Book) AddLot(lotID, symbol string, qty, price, fee decimal.Decimal, ts time.Time, tradeID string) error {
	lot, err := newLot(lotID, symbol, qty, price, fee, ts, tradeID)
	if err != nil {
		return err
	}
	b.lotsBySymbol[symbol] = append(b.lotsBySymbol[symbol], lot)
	return nil
}

// Consume eats into symbol's FIFO queue for qty units sold at fillPrice, prorating
// each consumed lot's own acquisition fee, and returns the realized P&L. sellFee (the
// fee charged on this sell) is not part of the per-lot P&L calculation — it only
// affects the cash impact computed separately by portfolio.Portfolio.Apply — but is kept
// in the signature for symmetry with AddLot and to make call sites self-documenting.
// If qty exceeds the available lots, the remainder is reported as ShortOpened rather
// than erroring.
func (b *Book) Consume(symbol string, qty, fillPrice, sellFee decimal.Decimal) (ConsumptionResult, error) {
	if !money.IsPositive(qty) {
		return ConsumptionResult{}, fmt.Errorf("lotbook: consume quantity must be positive, got %s", qty)
	}
	if !money.IsPositive(fillPrice) {
		return ConsumptionResult{}, fmt.Errorf("lotbook: consume price must be positive, got %s", fillPrice)
	}

	remaining := qty
	realized := money.Zero
	var consumedIDs []string
	lots := b.lotsBySymbol[symbol]

	i := 0
	for i < len(lots) && money.IsPositive(remaining) {
		lot := lots[i]
		consumeFromLot := money.Min(remaining, lot.Quantity)

		lotFeePortion := money.Zero
		if money.IsPositive(lot.Quantity) {
			lotFeePortion = lot.Fee.Mul(consumeFromLot).Div(lot.Quantity)
		}
		tradePnL := fillPrice.Sub(lot.Price).Mul(consumeFromLot).Sub(lotFeePortion)
		realized = realized.Add(tradePnL)

		lot.Quantity = lot.Quantity.Sub(consumeFromLot)
		lot.Fee = lot.Fee.Sub(lotFeePortion)
		remaining = remaining.Sub(consumeFromLot)
		consumedIDs = append(consumedIDs, lot.LotID)

		if money.IsZero(lot.Quantity) {
			i++
		}
	}

	// Drop exhausted lots from the front of the queue.
	b.lotsBySymbol[symbol] = lots[i:]

	shortOpened := money.Zero
	if money.IsPositive(remaining) {
		shortOpened = remaining
	}
	_ = sellFee

	return ConsumptionResult{
		RealizedPnL:    realized,
		QuantityFilled: qty.Sub(shortOpened),
		ShortOpened:    shortOpened,
		LotsConsumed:   consumedIDs,
		LotsRemaining:  len(b.lotsBySymbol[symbol]),
	}, nil
}

// AvailableQuantity returns the sum of open lot quantities for symbol.
func (b *Book) AvailableQuantity(symbol string) decimal.Decimal {
	total := money.Zero
	for _, lot := range b.lotsBySymbol[symbol] {
		total = total.Add(lot.Quantity)
	}
	return total
}

// Lots returns a copy of the open lots for symbol, oldest first.
func (b *Book) Lots(symbol string) []Lot {
	src := b.lotsBySymbol[symbol]
	out := make([]Lot, len(src))
	for i, l := range src {
		out[i] = *l
	}
	return out
}

// TotalCostBasis returns Σ(lot.quantity * lot.price) for symbol.
func (b *Book) TotalCostBasis(symbol string) decimal.Decimal {
	total := money.Zero
	for _, lot := range b.lotsBySymbol[symbol] {
		total = total.Add(lot.Quantity.Mul(lot.Price))
	}
	return total
}

// WeightedAveragePrice returns the cost-basis-weighted average price of symbol's
// open lots, or zero if there are none.
func (b *Book) WeightedAveragePrice(symbol string) decimal.Decimal {
	qty := b.AvailableQuantity(symbol)
	if money.IsZero(qty) {
		return money.Zero
	}
	return b.TotalCostBasis(symbol).Div(qty)
}

// ClearSymbol removes all open lots for symbol (used when a position is fully closed
// and any residual dust should not linger).
func (b *Book) ClearSymbol(symbol string) {
	delete(b.lotsBySymbol, symbol)
}

// Symbols returns every symbol currently holding at least one open lot.
func (b *Book) Symbols() []string {
	out := make([]string, 0, len(b.lotsBySymbol))
	for sym, lots := range b.lotsBySymbol {
		if len(lots) > 0 {
			out = append(out, sym)
		}
	}
	return out
}

// Summary is a read-only snapshot of a symbol's lot book, used for persistence and
// diagnostics.
type Summary struct {
	Symbol           string
	LotCount         int
	TotalQuantity    decimal.Decimal
	WeightedAvgPrice decimal.Decimal
	TotalCostBasis   decimal.Decimal
}

// GetSummary returns a Summary for symbol.
func (b *Book) GetSummary(symbol string) Summary {
	return Summary{
		Symbol:           symbol,
		LotCount:         len(b.lotsBySymbol[symbol]),
		TotalQuantity:    b.AvailableQuantity(symbol),
		WeightedAvgPrice: b.WeightedAveragePrice(symbol),
		TotalCostBasis:   b.TotalCostBasis(symbol),
	}
}
