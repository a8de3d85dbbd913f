// Package position tracks open positions, marks them to market and decides
// stop-loss/target auto-exits.
package position

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/paper-ledger/internal/ledger"
	"github.com/your-org/paper-ledger/internal/trading"
)

// OpenRequest describes a position to open.
type OpenRequest struct {
	AccountID   string
	Symbol      string
	Side        trading.Side
	Quantity    decimal.Decimal
	EntryPrice  decimal.Decimal
	StopLoss    trading.PriceLevel
	TargetPrice trading.PriceLevel
	Rationale   string
}

// CloseSignal instructs the execution layer to close a position after a
// price tick crossed its stop-loss or target.
type CloseSignal struct {
	TradeID string
	Price   decimal.Decimal
	Reason  trading.CloseReason
}

// Manager owns the open position set. Mutations happen only through Open
// and Remove; MarkToMarket updates cached prices and emits close signals
// without touching the ledger.
type Manager struct {
	mu       sync.RWMutex
	open     map[string]*trading.Position
	lastTick map[string]time.Time // per-symbol monotonic guard
	logger   *zap.Logger
}

// NewManager creates an empty position Manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		open:     make(map[string]*trading.Position),
		lastTick: make(map[string]time.Time),
		logger:   logger,
	}
}

// Open validates the request, reserves the full notional on the account
// and registers a new position with a fresh trade id. On a failed
// reservation no position is created.
func (m *Manager) Open(acct *ledger.Account, req OpenRequest) (trading.Position, error) {
	if err := validateOpen(req); err != nil {
		return trading.Position{}, err
	}

	notional := req.EntryPrice.Mul(req.Quantity)
	if err := acct.Reserve(notional); err != nil {
		return trading.Position{}, err
	}

	p := trading.Position{
		TradeID:      uuid.NewString(),
		AccountID:    req.AccountID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Quantity:     req.Quantity,
		EntryPrice:   req.EntryPrice,
		StopLoss:     req.StopLoss,
		TargetPrice:  req.TargetPrice,
		Rationale:    req.Rationale,
		OpenedAt:     time.Now().UTC(),
		CurrentPrice: req.EntryPrice,
	}

	m.mu.Lock()
	m.open[p.TradeID] = &p
	m.mu.Unlock()

	m.logger.Info("position opened",
		zap.String("tradeID", p.TradeID),
		zap.String("accountID", p.AccountID),
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.String("notional", notional.String()),
	)
	return p, nil
}

// Get returns a copy of the open position, or NotFoundError when the trade
// is unknown or already closed.
func (m *Manager) Get(tradeID string) (trading.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.open[tradeID]
	if !ok {
		return trading.Position{}, &trading.NotFoundError{Kind: "trade", ID: tradeID}
	}
	return *p, nil
}

// List returns copies of all open positions for the account.
func (m *Manager) List(accountID string) []trading.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var positions []trading.Position
	for _, p := range m.open {
		if p.AccountID == accountID {
			positions = append(positions, *p)
		}
	}
	return positions
}

// Count returns the number of open positions for the account.
func (m *Manager) Count(accountID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, p := range m.open {
		if p.AccountID == accountID {
			n++
		}
	}
	return n
}

// MarkToMarket applies a price tick to every open position on the tick's
// symbol and returns close signals for positions whose stop-loss or target
// was crossed. Stale or out-of-order ticks are dropped. When both
// thresholds are crossed in one gap tick, STOP_LOSS wins.
func (m *Manager) MarkToMarket(tick trading.Tick) []CloseSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.lastTick[tick.Symbol]; ok && !tick.Time.After(last) {
		m.logger.Debug("dropping stale tick",
			zap.String("symbol", tick.Symbol),
			zap.Time("tickTime", tick.Time),
			zap.Time("lastTime", last),
		)
		return nil
	}
	m.lastTick[tick.Symbol] = tick.Time

	var signals []CloseSignal
	for _, p := range m.open {
		if p.Symbol != tick.Symbol {
			continue
		}
		p.CurrentPrice = tick.Price
		p.PriceTime = tick.Time

		if reason, hit := exitReason(p, tick.Price); hit {
			signals = append(signals, CloseSignal{
				TradeID: p.TradeID,
				Price:   tick.Price,
				Reason:  reason,
			})
		}
	}
	return signals
}

// PrepareClose validates the close and computes the resulting ClosedTrade
// without mutating any state. The caller commits the record durably, then
// settles the ledger and calls Remove.
func (m *Manager) PrepareClose(tradeID string, exitPrice decimal.Decimal, reason trading.CloseReason, now time.Time) (trading.ClosedTrade, error) {
	if !exitPrice.IsPositive() {
		return trading.ClosedTrade{}, &trading.ValidationError{Field: "exit_price", Reason: "must be positive"}
	}
	if !reason.Valid() {
		return trading.ClosedTrade{}, &trading.ValidationError{Field: "reason", Reason: "unknown close reason"}
	}

	p, err := m.Get(tradeID)
	if err != nil {
		return trading.ClosedTrade{}, err
	}

	pnl := exitPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	if p.Side == trading.SideSell {
		pnl = pnl.Neg()
	}
	notional := p.Notional()
	pnlPct := decimal.Zero
	if !notional.IsZero() {
		pnlPct = pnl.Div(notional).Mul(decimal.NewFromInt(100))
	}

	return trading.ClosedTrade{
		TradeID:        p.TradeID,
		AccountID:      p.AccountID,
		Symbol:         p.Symbol,
		Side:           p.Side,
		Quantity:       p.Quantity,
		EntryPrice:     p.EntryPrice,
		ExitPrice:      exitPrice,
		RealizedPnL:    pnl,
		RealizedPnLPct: pnlPct,
		HoldingPeriod:  now.Sub(p.OpenedAt),
		Rationale:      p.Rationale,
		CloseReason:    reason,
		OpenedAt:       p.OpenedAt,
		ClosedAt:       now,
	}, nil
}

// Remove deletes the position after its close was committed.
func (m *Manager) Remove(tradeID string) {
	m.mu.Lock()
	delete(m.open, tradeID)
	m.mu.Unlock()
}

// exitReason reports which threshold the price crossed, if any.
// The stop-loss check runs first so a gap through both levels closes at
// the conservative reason.
func exitReason(p *trading.Position, price decimal.Decimal) (trading.CloseReason, bool) {
	switch p.Side {
	case trading.SideBuy:
		if p.StopLoss.Valid && price.LessThanOrEqual(p.StopLoss.Price) {
			return trading.CloseStopLoss, true
		}
		if p.TargetPrice.Valid && price.GreaterThanOrEqual(p.TargetPrice.Price) {
			return trading.CloseTarget, true
		}
	case trading.SideSell:
		if p.StopLoss.Valid && price.GreaterThanOrEqual(p.StopLoss.Price) {
			return trading.CloseStopLoss, true
		}
		if p.TargetPrice.Valid && price.LessThanOrEqual(p.TargetPrice.Price) {
			return trading.CloseTarget, true
		}
	}
	return "", false
}

func validateOpen(req OpenRequest) error {
	if req.AccountID == "" {
		return &trading.ValidationError{Field: "account_id", Reason: "must not be empty"}
	}
	if req.Symbol == "" {
		return &trading.ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if !req.Side.Valid() {
		return &trading.ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	if !req.Quantity.IsPositive() {
		return &trading.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if !req.EntryPrice.IsPositive() {
		return &trading.ValidationError{Field: "entry_price", Reason: "must be positive"}
	}

	// Stop must sit on the loss side of the entry and target on the
	// profit side, relative to the direction of the trade.
	switch req.Side {
	case trading.SideBuy:
		if req.StopLoss.Valid && req.StopLoss.Price.GreaterThanOrEqual(req.EntryPrice) {
			return &trading.ValidationError{Field: "stop_loss", Reason: "must be below entry price for BUY"}
		}
		if req.TargetPrice.Valid && req.TargetPrice.Price.LessThanOrEqual(req.EntryPrice) {
			return &trading.ValidationError{Field: "target_price", Reason: "must be above entry price for BUY"}
		}
	case trading.SideSell:
		if req.StopLoss.Valid && req.StopLoss.Price.LessThanOrEqual(req.EntryPrice) {
			return &trading.ValidationError{Field: "stop_loss", Reason: "must be above entry price for SELL"}
		}
		if req.TargetPrice.Valid && req.TargetPrice.Price.GreaterThanOrEqual(req.EntryPrice) {
			return &trading.ValidationError{Field: "target_price", Reason: "must be below entry price for SELL"}
		}
	}
	return nil
}
