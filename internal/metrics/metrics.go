// Package metrics computes aggregate performance statistics from the trade
// history. Everything here is a pure single pass over closed trades;
// nothing is cached.
package metrics

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/paper-ledger/internal/history"
	"github.com/your-org/paper-ledger/internal/trading"
)

// Aggregator recomputes metrics on demand from a history Store.
type Aggregator struct {
	store history.Store
}

// NewAggregator creates an Aggregator over the given store.
func NewAggregator(store history.Store) *Aggregator {
	return &Aggregator{store: store}
}

// ForAccount computes metrics over the account's full trade history.
func (a *Aggregator) ForAccount(ctx context.Context, accountID string) (trading.Metrics, error) {
	trades, err := a.store.All(ctx, accountID)
	if err != nil {
		return trading.Metrics{}, err
	}
	return Compute(trades), nil
}

// Compute runs the single-pass aggregation over a list of closed trades.
//
// Profit factor is gross wins over the absolute gross losses, math.Inf(1)
// when there are wins but no losses, and 0 with no trades. Win rate is a
// percentage, 0 when the history is empty. Zero-PnL trades count toward
// the total but are neither wins nor losses.
func Compute(trades []trading.ClosedTrade) trading.Metrics {
	m := trading.Metrics{
		ClosesByReason: make(map[trading.CloseReason]int),
	}
	if len(trades) == 0 {
		return m
	}

	var grossProfit, grossLoss decimal.Decimal
	var totalHolding time.Duration

	for _, t := range trades {
		m.TotalTrades++
		m.ClosesByReason[t.CloseReason]++
		totalHolding += t.HoldingPeriod

		switch {
		case t.RealizedPnL.IsPositive():
			m.WinningTrades++
			grossProfit = grossProfit.Add(t.RealizedPnL)
			if t.RealizedPnL.GreaterThan(m.LargestWin) {
				m.LargestWin = t.RealizedPnL
			}
		case t.RealizedPnL.IsNegative():
			m.LosingTrades++
			grossLoss = grossLoss.Add(t.RealizedPnL)
			if t.RealizedPnL.LessThan(m.LargestLoss) {
				m.LargestLoss = t.RealizedPnL
			}
		}
	}

	m.GrossProfit = grossProfit
	m.GrossLoss = grossLoss

	if m.WinningTrades > 0 {
		m.AvgWin = grossProfit.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(m.LosingTrades)))
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100

	switch {
	case grossLoss.IsZero() && m.WinningTrades > 0:
		m.ProfitFactor = math.Inf(1)
	case grossLoss.IsZero():
		m.ProfitFactor = 0
	default:
		m.ProfitFactor = grossProfit.Div(grossLoss.Abs()).InexactFloat64()
	}

	m.AvgHoldingPeriod = totalHolding / time.Duration(m.TotalTrades)
	return m
}
