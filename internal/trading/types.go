// Package trading defines the domain types shared by the ledger, position
// and execution layers: sides, positions, closed trades and metrics.
// All monetary values are decimal.Decimal; IEEE-754 floats never carry money.
package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a trade.
type Side string

const (
	// SideBuy is a long position.
	SideBuy Side = "BUY"
	// SideSell is a short position.
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseManual   CloseReason = "MANUAL"
	CloseStopLoss CloseReason = "STOP_LOSS"
	CloseTarget   CloseReason = "TARGET"
)

// Valid reports whether the close reason is one of the known values.
func (r CloseReason) Valid() bool {
	return r == CloseManual || r == CloseStopLoss || r == CloseTarget
}

// PriceLevel is an optional price threshold (stop-loss or target).
// Valid is false when the level is not set, following the sql.Null* idiom.
type PriceLevel struct {
	Price decimal.Decimal
	Valid bool
}

// NewPriceLevel returns a set PriceLevel.
func NewPriceLevel(price decimal.Decimal) PriceLevel {
	return PriceLevel{Price: price, Valid: true}
}

// Tick is a single price observation for a symbol.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	Time   time.Time
}

// Position is an open simulated trade with live market exposure.
type Position struct {
	TradeID      string
	AccountID    string
	Symbol       string
	Side         Side
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	StopLoss     PriceLevel
	TargetPrice  PriceLevel
	Rationale    string
	OpenedAt     time.Time
	CurrentPrice decimal.Decimal
	PriceTime    time.Time
}

// Notional returns the full capital committed to the position.
func (p Position) Notional() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// UnrealizedPnL returns the mark-to-market profit at the cached price.
// Short positions profit on price decline.
func (p Position) UnrealizedPnL() decimal.Decimal {
	pnl := p.CurrentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	if p.Side == SideSell {
		return pnl.Neg()
	}
	return pnl
}

// ClosedTrade is the immutable record of a closed position.
type ClosedTrade struct {
	TradeID        string
	AccountID      string
	Symbol         string
	Side           Side
	Quantity       decimal.Decimal
	EntryPrice     decimal.Decimal
	ExitPrice      decimal.Decimal
	RealizedPnL    decimal.Decimal
	RealizedPnLPct decimal.Decimal
	HoldingPeriod  time.Duration
	Rationale      string
	CloseReason    CloseReason
	OpenedAt       time.Time
	ClosedAt       time.Time
}

// Metrics is the aggregate performance summary over a trade history.
// ProfitFactor is math.Inf(1) when there are wins and no losses, and 0
// when there are no trades at all.
type Metrics struct {
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	AvgWin           decimal.Decimal
	AvgLoss          decimal.Decimal
	LargestWin       decimal.Decimal
	LargestLoss      decimal.Decimal
	GrossProfit      decimal.Decimal
	GrossLoss        decimal.Decimal
	WinRate          float64
	ProfitFactor     float64
	AvgHoldingPeriod time.Duration
	ClosesByReason   map[CloseReason]int
}
