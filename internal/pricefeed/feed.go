// Package pricefeed supplies current prices per symbol. Ticks must be
// monotonically timestamped per symbol; out-of-order ticks are dropped
// before they can reach the position layer.
package pricefeed

import (
	"sync"

	"github.com/your-org/paper-ledger/internal/trading"
)

// Handler consumes accepted price ticks.
type Handler func(trading.Tick)

// Feed answers point lookups of the latest known price.
type Feed interface {
	CurrentPrice(symbol string) (trading.Tick, error)
}

// StaticFeed keeps the latest tick per symbol in memory. It backs tests
// and standalone runs, and acts as the monotonicity gate for the
// websocket client.
type StaticFeed struct {
	mu    sync.RWMutex
	ticks map[string]trading.Tick
}

// NewStaticFeed creates an empty StaticFeed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{ticks: make(map[string]trading.Tick)}
}

// Update records a tick. It returns false and leaves the feed unchanged
// when the tick is stale or out of order for its symbol, or carries a
// non-positive price.
func (f *StaticFeed) Update(tick trading.Tick) bool {
	if !tick.Price.IsPositive() {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if last, ok := f.ticks[tick.Symbol]; ok && !tick.Time.After(last.Time) {
		return false
	}
	f.ticks[tick.Symbol] = tick
	return true
}

// CurrentPrice returns the latest accepted tick for the symbol.
func (f *StaticFeed) CurrentPrice(symbol string) (trading.Tick, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tick, ok := f.ticks[symbol]
	if !ok {
		return trading.Tick{}, &trading.NotFoundError{Kind: "symbol", ID: symbol}
	}
	return tick, nil
}
