// Package orders models order lifecycle, fee calculation, paper-fill simulation,
// and take-profit ladder order generation.
package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Type is the order type requested before any connector downgrade is applied.
type Type string

const (
	Market          Type = "market"
	Limit           Type = "limit"
	Stop            Type = "stop"
	StopLimit       Type = "stop_limit"
	TakeProfit      Type = "take_profit"
	TakeProfitLimit Type = "take_profit_limit"
)

// TIF is the order's time-in-force.
type TIF string

const (
	GTC TIF = "GTC" // rests until filled or cancelled
	IOC TIF = "IOC" // fills what it can immediately, cancels the rest
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending         Status = "pending"
	StatusFilled          Status = "filled"
	StatusPartiallyFilled Status = "partially_filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
)

// Order is one order instruction, before or after connector-level type downgrade.
type Order struct {
	OrderID      string
	Symbol       string
	Side         Side
	Type         Type
	Price        decimal.Decimal // limit/stop-limit price; zero for market
	StopPrice    decimal.Decimal // stop/stop-limit trigger; zero otherwise
	Quantity     decimal.Decimal
	TimeInForce  TIF // zero value is treated as GTC
	ReduceOnly   bool
	TPLadder     bool
	TPLadderLvl  int
	Strategy     string
	SessionID    string
	Status       Status
	CreatedAt    time.Time
}

// Fill is the outcome of a filled (or partially filled) order.
type Fill struct {
	OrderID   string
	Symbol    string
	Side      Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	IsMaker   bool
	FilledAt  time.Time
}
