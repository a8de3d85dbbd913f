// Package executor validates trade requests and orchestrates the account
// ledger, position manager and trade history as one logical operation.
// All mutating operations for one account are serialized on that account's
// lock; different accounts proceed fully in parallel.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/paper-ledger/internal/history"
	"github.com/your-org/paper-ledger/internal/ledger"
	"github.com/your-org/paper-ledger/internal/position"
	"github.com/your-org/paper-ledger/internal/snapshot"
	"github.com/your-org/paper-ledger/internal/trading"
)

// Config tunes execution behavior.
type Config struct {
	// AppendRetries bounds internal retries of the durable append on
	// concurrency conflicts.
	AppendRetries int
	// EventBufferSize sizes the TradeExecuted notification channel.
	EventBufferSize int
	// IdempotencyCacheSize bounds the number of remembered idempotency
	// keys. The oldest keys are evicted first.
	IdempotencyCacheSize int
}

// TradeRequest describes an open request from the outer API.
type TradeRequest struct {
	AccountID      string
	Symbol         string
	Quantity       decimal.Decimal
	EntryPrice     decimal.Decimal
	StopLoss       trading.PriceLevel
	TargetPrice    trading.PriceLevel
	Rationale      string
	IdempotencyKey string
}

// TradeResult is the response to a successful open.
type TradeResult struct {
	TradeID string `json:"trade_id"`
	Status  string `json:"status"`
}

// CloseRequest describes a close request.
type CloseRequest struct {
	TradeID   string
	ExitPrice decimal.Decimal
	Reason    trading.CloseReason
}

// CloseResult is the response to a successful close.
type CloseResult struct {
	TradeID     string          `json:"trade_id"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// Overview is the account summary exposed by GetAccountOverview.
type Overview struct {
	AccountID          string          `json:"account_id"`
	Balance            decimal.Decimal `json:"balance"`
	BuyingPower        decimal.Decimal `json:"buying_power"`
	DeployedCapital    decimal.Decimal `json:"deployed_capital"`
	OpenPositionsCount int             `json:"open_positions_count"`
}

// EventType tags TradeExecuted notifications.
type EventType string

const (
	EventTradeExecuted  EventType = "TRADE_EXECUTED"
	EventPositionClosed EventType = "POSITION_CLOSED"
)

// Event is the side-effect notification consumed by the audit collaborator.
type Event struct {
	Type        EventType
	AccountID   string
	TradeID     string
	Symbol      string
	Side        trading.Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	RealizedPnL decimal.Decimal
	Reason      trading.CloseReason
	Time        time.Time
}

type accountState struct {
	mu   sync.Mutex // serialization point for every mutating op on the account
	acct *ledger.Account
}

// idemEntry is the single-flight slot for one idempotency key. The first
// request holding a key executes; concurrent duplicates wait on done and
// read the same outcome.
type idemEntry struct {
	key    string
	done   chan struct{}
	result TradeResult
	err    error
}

// Executor is the trade execution engine.
type Executor struct {
	logger    *zap.Logger
	positions *position.Manager
	history   history.Store
	snapshots snapshot.Sink
	cfg       Config

	mu       sync.RWMutex
	accounts map[string]*accountState

	idemMu    sync.Mutex
	idem      map[string]*idemEntry
	idemOrder []*idemEntry

	events chan Event
}

// New creates an Executor over the given collaborators.
func New(positions *position.Manager, store history.Store, sink snapshot.Sink, cfg Config, logger *zap.Logger) *Executor {
	if cfg.AppendRetries < 0 {
		cfg.AppendRetries = 0
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 64
	}
	if cfg.IdempotencyCacheSize <= 0 {
		cfg.IdempotencyCacheSize = 1024
	}
	return &Executor{
		logger:    logger,
		positions: positions,
		history:   store,
		snapshots: sink,
		cfg:       cfg,
		accounts:  make(map[string]*accountState),
		idem:      make(map[string]*idemEntry),
		events:    make(chan Event, cfg.EventBufferSize),
	}
}

// Events exposes the TradeExecuted notification stream. Events are dropped
// when no consumer keeps up; execution never blocks on the audit side.
func (e *Executor) Events() <-chan Event {
	return e.events
}

// CreateAccount registers a new account seeded with the given balance.
func (e *Executor) CreateAccount(id string, seed decimal.Decimal) error {
	acct, err := ledger.NewAccount(id, seed)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.accounts[id]; exists {
		return &trading.ValidationError{Field: "account_id", Reason: "account already exists"}
	}
	e.accounts[id] = &accountState{acct: acct}
	e.snapshots.SaveAccountSnapshot(acct.Snapshot())
	return nil
}

// RestoreAccount registers an account rebuilt from a persisted snapshot,
// replacing any in-memory state for the same id. Open positions do not
// survive a restart, so capital that was still deployed when the snapshot
// was taken is returned to buying power; otherwise it could never be
// released again.
func (e *Executor) RestoreAccount(s ledger.Snapshot) {
	if s.DeployedCapital.IsPositive() {
		e.logger.Warn("returning deployed capital of positions lost in restart",
			zap.String("accountID", s.AccountID),
			zap.String("deployedCapital", s.DeployedCapital.String()),
		)
		s.BuyingPower = s.BuyingPower.Add(s.DeployedCapital)
		s.DeployedCapital = decimal.Zero
	}
	acct := ledger.Restore(s)

	e.mu.Lock()
	e.accounts[s.AccountID] = &accountState{acct: acct}
	e.mu.Unlock()

	e.snapshots.SaveAccountSnapshot(acct.Snapshot())
}

// ExecuteBuy opens a long position.
func (e *Executor) ExecuteBuy(ctx context.Context, req TradeRequest) (TradeResult, error) {
	return e.execute(ctx, trading.SideBuy, req)
}

// ExecuteSell opens a short position. Deployed capital for shorts is the
// full notional, the conservative reservation model.
func (e *Executor) ExecuteSell(ctx context.Context, req TradeRequest) (TradeResult, error) {
	return e.execute(ctx, trading.SideSell, req)
}

func (e *Executor) execute(ctx context.Context, side trading.Side, req TradeRequest) (TradeResult, error) {
	if req.IdempotencyKey == "" {
		return e.open(ctx, side, req)
	}

	entry, owner := e.claimIdempotencyKey(req.IdempotencyKey)
	if !owner {
		<-entry.done
		return entry.result, entry.err
	}

	entry.result, entry.err = e.open(ctx, side, req)
	close(entry.done)
	if entry.err != nil {
		// Failed attempts do not consume the key; a retry may succeed.
		e.releaseIdempotencyKey(entry)
	}
	return entry.result, entry.err
}

// claimIdempotencyKey returns the entry for the key and whether the caller
// owns it. Only the owner executes; everyone else waits on entry.done.
func (e *Executor) claimIdempotencyKey(key string) (*idemEntry, bool) {
	e.idemMu.Lock()
	defer e.idemMu.Unlock()

	if existing, ok := e.idem[key]; ok {
		return existing, false
	}

	entry := &idemEntry{key: key, done: make(chan struct{})}
	e.idem[key] = entry
	e.idemOrder = append(e.idemOrder, entry)

	for len(e.idem) > e.cfg.IdempotencyCacheSize && len(e.idemOrder) > 0 {
		oldest := e.idemOrder[0]
		e.idemOrder = e.idemOrder[1:]
		// Released entries leave stale order slots; evict only live ones.
		if e.idem[oldest.key] == oldest {
			delete(e.idem, oldest.key)
		}
	}
	return entry, true
}

func (e *Executor) releaseIdempotencyKey(entry *idemEntry) {
	e.idemMu.Lock()
	defer e.idemMu.Unlock()
	if e.idem[entry.key] == entry {
		delete(e.idem, entry.key)
	}
}

func (e *Executor) open(ctx context.Context, side trading.Side, req TradeRequest) (TradeResult, error) {
	st, err := e.account(req.AccountID)
	if err != nil {
		return TradeResult{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	pos, err := e.positions.Open(st.acct, position.OpenRequest{
		AccountID:   req.AccountID,
		Symbol:      req.Symbol,
		Side:        side,
		Quantity:    req.Quantity,
		EntryPrice:  req.EntryPrice,
		StopLoss:    req.StopLoss,
		TargetPrice: req.TargetPrice,
		Rationale:   req.Rationale,
	})
	if err != nil {
		return TradeResult{}, err
	}

	e.snapshots.SaveAccountSnapshot(st.acct.Snapshot())

	result := TradeResult{TradeID: pos.TradeID, Status: "EXECUTED"}

	e.emit(Event{
		Type:      EventTradeExecuted,
		AccountID: pos.AccountID,
		TradeID:   pos.TradeID,
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Quantity:  pos.Quantity,
		Price:     pos.EntryPrice,
		Time:      pos.OpenedAt,
	})
	return result, nil
}

// ClosePosition closes an open position. The closed-trade record is
// durably appended before any ledger effect; if the append fails the
// position stays open and nothing else changes.
func (e *Executor) ClosePosition(ctx context.Context, req CloseRequest) (CloseResult, error) {
	reason := req.Reason
	if reason == "" {
		reason = trading.CloseManual
	}

	pos, err := e.positions.Get(req.TradeID)
	if err != nil {
		return CloseResult{}, err
	}

	st, err := e.account(pos.AccountID)
	if err != nil {
		return CloseResult{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// Re-resolved under the serialization point: a racing close may have
	// won while we waited for the lock.
	closed, err := e.positions.PrepareClose(req.TradeID, req.ExitPrice, reason, time.Now().UTC())
	if err != nil {
		return CloseResult{}, err
	}

	if err := e.appendWithRetry(ctx, closed); err != nil {
		e.logger.Error("close aborted, position stays open",
			zap.String("tradeID", closed.TradeID),
			zap.Error(err),
		)
		return CloseResult{}, err
	}

	// The close is final from here: settle the ledger and drop the
	// position. Release cannot fail for a notional we reserved ourselves.
	if err := st.acct.Release(closed.EntryPrice.Mul(closed.Quantity)); err != nil {
		e.logger.Error("ledger release failed after committed close",
			zap.String("tradeID", closed.TradeID),
			zap.Error(err),
		)
	}
	st.acct.ApplyRealizedPnL(closed.RealizedPnL)
	e.positions.Remove(closed.TradeID)

	e.snapshots.SaveAccountSnapshot(st.acct.Snapshot())
	e.emit(Event{
		Type:        EventPositionClosed,
		AccountID:   closed.AccountID,
		TradeID:     closed.TradeID,
		Symbol:      closed.Symbol,
		Side:        closed.Side,
		Quantity:    closed.Quantity,
		Price:       closed.ExitPrice,
		RealizedPnL: closed.RealizedPnL,
		Reason:      closed.CloseReason,
		Time:        closed.ClosedAt,
	})

	e.logger.Info("position closed",
		zap.String("tradeID", closed.TradeID),
		zap.String("accountID", closed.AccountID),
		zap.String("reason", string(closed.CloseReason)),
		zap.String("realizedPnl", closed.RealizedPnL.String()),
	)
	return CloseResult{TradeID: closed.TradeID, RealizedPnL: closed.RealizedPnL}, nil
}

// appendWithRetry retries the durable append on concurrency conflicts up
// to the configured bound. Durability failures are surfaced immediately;
// nothing has been mutated at that point so no rollback is needed.
func (e *Executor) appendWithRetry(ctx context.Context, t trading.ClosedTrade) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = e.history.Append(ctx, t)
		if err == nil {
			return nil
		}

		var conflict *trading.ConcurrencyConflictError
		if !errors.As(err, &conflict) || attempt >= e.cfg.AppendRetries {
			return err
		}
		e.logger.Warn("history append conflict, retrying",
			zap.String("tradeID", t.TradeID),
			zap.Int("attempt", attempt+1),
		)
	}
}

// OnTick marks every open position on the tick's symbol to market, closes
// positions whose stop or target was crossed and records a PnL summary per
// affected account.
func (e *Executor) OnTick(ctx context.Context, tick trading.Tick) {
	signals := e.positions.MarkToMarket(tick)
	for _, sig := range signals {
		if _, err := e.ClosePosition(ctx, CloseRequest{
			TradeID:   sig.TradeID,
			ExitPrice: sig.Price,
			Reason:    sig.Reason,
		}); err != nil {
			// A NotFound here means a manual close raced the auto-exit.
			var nf *trading.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			e.logger.Error("auto-close failed",
				zap.String("tradeID", sig.TradeID),
				zap.String("reason", string(sig.Reason)),
				zap.Error(err),
			)
		}
	}

	for _, accountID := range e.accountIDs() {
		positions := e.positions.List(accountID)
		touched := false
		unrealized := decimal.Zero
		for _, p := range positions {
			unrealized = unrealized.Add(p.UnrealizedPnL())
			if p.Symbol == tick.Symbol {
				touched = true
			}
		}
		if touched {
			e.snapshots.SavePnLSummary(snapshot.PnLSummary{
				Time:          tick.Time,
				AccountID:     accountID,
				UnrealizedPnL: unrealized,
				OpenPositions: len(positions),
			})
		}
	}
}

// AccountOverview returns the account summary.
func (e *Executor) AccountOverview(accountID string) (Overview, error) {
	st, err := e.account(accountID)
	if err != nil {
		return Overview{}, err
	}
	s := st.acct.Snapshot()
	return Overview{
		AccountID:          s.AccountID,
		Balance:            s.Balance,
		BuyingPower:        s.BuyingPower,
		DeployedCapital:    s.DeployedCapital,
		OpenPositionsCount: e.positions.Count(accountID),
	}, nil
}

// OpenPositions returns the account's open positions with live unrealized
// PnL at the last accepted tick.
func (e *Executor) OpenPositions(accountID string) ([]trading.Position, error) {
	if _, err := e.account(accountID); err != nil {
		return nil, err
	}
	return e.positions.List(accountID), nil
}

func (e *Executor) account(accountID string) (*accountState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.accounts[accountID]
	if !ok {
		return nil, &trading.NotFoundError{Kind: "account", ID: accountID}
	}
	return st, nil
}

func (e *Executor) accountIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.accounts))
	for id := range e.accounts {
		ids = append(ids, id)
	}
	return ids
}

func (e *Executor) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event buffer full, dropping notification",
			zap.String("tradeID", ev.TradeID),
			zap.String("type", string(ev.Type)),
		)
	}
}
