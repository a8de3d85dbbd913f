package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/paper-ledger/internal/history"
	"github.com/your-org/paper-ledger/internal/position"
	"github.com/your-org/paper-ledger/internal/snapshot"
	"github.com/your-org/paper-ledger/internal/trading"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// failingStore rejects every append, simulating a dead durable medium.
type failingStore struct {
	history.Store
}

func (failingStore) Append(ctx context.Context, t trading.ClosedTrade) error {
	return &trading.DurabilityError{Err: assert.AnError}
}

// flakyStore fails appends with conflicts a fixed number of times before
// delegating to the real store.
type flakyStore struct {
	*history.MemoryStore
	mu        sync.Mutex
	conflicts int
}

func (s *flakyStore) Append(ctx context.Context, t trading.ClosedTrade) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return &trading.ConcurrencyConflictError{Err: assert.AnError}
	}
	s.mu.Unlock()
	return s.MemoryStore.Append(ctx, t)
}

type fixture struct {
	exec  *Executor
	store history.Store
	sink  *snapshot.InMemWriter
}

func newFixture(t *testing.T, store history.Store, seed string) *fixture {
	t.Helper()
	sink := snapshot.NewInMemWriter()
	exec := New(position.NewManager(zap.NewNop()), store, sink, Config{AppendRetries: 2}, zap.NewNop())
	require.NoError(t, exec.CreateAccount("acct-1", dec(seed)))
	return &fixture{exec: exec, store: store, sink: sink}
}

func buyRequest() TradeRequest {
	return TradeRequest{
		AccountID:  "acct-1",
		Symbol:     "RELIANCE",
		Quantity:   dec("10"),
		EntryPrice: dec("2750"),
	}
}

func TestExecutor_ScenarioA_BuyMarkClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	result, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)
	assert.Equal(t, "EXECUTED", result.Status)

	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.True(t, overview.DeployedCapital.Equal(dec("27500")))
	assert.True(t, overview.BuyingPower.Equal(dec("72500")))
	assert.True(t, overview.Balance.Equal(dec("100000")))
	assert.Equal(t, 1, overview.OpenPositionsCount)

	f.exec.OnTick(ctx, trading.Tick{Symbol: "RELIANCE", Price: dec("2800"), Time: time.Now().UTC()})
	positions, err := f.exec.OpenPositions("acct-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].UnrealizedPnL().Equal(dec("500")))

	closed, err := f.exec.ClosePosition(ctx, CloseRequest{
		TradeID:   result.TradeID,
		ExitPrice: dec("2800"),
	})
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.Equal(dec("500")))

	overview, err = f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.True(t, overview.Balance.Equal(dec("100500")))
	assert.True(t, overview.BuyingPower.Equal(dec("100500")))
	assert.True(t, overview.DeployedCapital.IsZero())
	assert.Equal(t, 0, overview.OpenPositionsCount)

	trades, err := f.store.GetRecent(ctx, "acct-1", 0, "")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trading.CloseManual, trades[0].CloseReason)
}

func TestExecutor_ScenarioB_ShortSignConvention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	req := buyRequest()
	req.Quantity = dec("5")
	req.EntryPrice = dec("1000")
	result, err := f.exec.ExecuteSell(ctx, req)
	require.NoError(t, err)

	closed, err := f.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("950")})
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.Equal(dec("250")))

	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.True(t, overview.Balance.Equal(dec("100250")))
}

func TestExecutor_RoundTripAtEntryPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	result, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)

	closed, err := f.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("2750")})
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.IsZero())

	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.True(t, overview.Balance.Equal(dec("100000")))
	assert.True(t, overview.DeployedCapital.IsZero())
}

func TestExecutor_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	before, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)

	t.Run("zero quantity", func(t *testing.T) {
		req := buyRequest()
		req.Quantity = decimal.Zero
		_, err := f.exec.ExecuteBuy(ctx, req)
		var verr *trading.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("negative price", func(t *testing.T) {
		req := buyRequest()
		req.EntryPrice = dec("-1")
		_, err := f.exec.ExecuteSell(ctx, req)
		var verr *trading.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("unknown account", func(t *testing.T) {
		req := buyRequest()
		req.AccountID = "ghost"
		_, err := f.exec.ExecuteBuy(ctx, req)
		var nf *trading.NotFoundError
		require.ErrorAs(t, err, &nf)
	})

	// Account state is untouched by rejected requests.
	after, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExecutor_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "1000")

	_, err := f.exec.ExecuteBuy(ctx, buyRequest())
	var fundsErr *trading.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)

	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.True(t, overview.BuyingPower.Equal(dec("1000")))
	assert.Equal(t, 0, overview.OpenPositionsCount)
}

func TestExecutor_CloseUnknownTradeLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	before, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)

	_, err = f.exec.ClosePosition(ctx, CloseRequest{TradeID: "missing", ExitPrice: dec("100")})
	var nf *trading.NotFoundError
	require.ErrorAs(t, err, &nf)

	after, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExecutor_DoubleCloseReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	result, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)

	_, err = f.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("2800")})
	require.NoError(t, err)

	_, err = f.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("2800")})
	var nf *trading.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestExecutor_ConcurrentCloses_ExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	result, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	var successes, notFounds int64
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("2800")})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			var nf *trading.NotFoundError
			if assert.ErrorAs(t, err, &nf) {
				notFounds++
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes)
	assert.EqualValues(t, n-1, notFounds)

	// Final state equals the single-success outcome.
	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.True(t, overview.Balance.Equal(dec("100500")))
	assert.True(t, overview.DeployedCapital.IsZero())

	trades, err := f.store.GetRecent(ctx, "acct-1", 0, "")
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestExecutor_DurabilityFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failingStore{}, "100000")

	result, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)

	_, err = f.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("2800")})
	var durability *trading.DurabilityError
	require.ErrorAs(t, err, &durability)
	assert.True(t, trading.IsRetryable(err))

	// The position stays open and no ledger effect is visible.
	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.True(t, overview.Balance.Equal(dec("100000")))
	assert.True(t, overview.DeployedCapital.Equal(dec("27500")))
	assert.Equal(t, 1, overview.OpenPositionsCount)
}

func TestExecutor_AppendConflictIsRetried(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: history.NewMemoryStore(), conflicts: 2}
	f := newFixture(t, store, "100000")

	result, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)

	// Two conflicts, then success: within the retry bound of 2.
	closed, err := f.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("2800")})
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.Equal(dec("500")))
}

func TestExecutor_AppendConflictSurfacesPastRetryBound(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: history.NewMemoryStore(), conflicts: 10}
	f := newFixture(t, store, "100000")

	result, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)

	_, err = f.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("2800")})
	var conflict *trading.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)

	// Position is still open afterwards.
	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, overview.OpenPositionsCount)
}

func TestExecutor_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	req := buyRequest()
	req.IdempotencyKey = "req-123"

	first, err := f.exec.ExecuteBuy(ctx, req)
	require.NoError(t, err)
	second, err := f.exec.ExecuteBuy(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, overview.OpenPositionsCount)

	// Without a key, a duplicate request opens a second position.
	_, err = f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)
	_, err = f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)
	overview, _ = f.exec.AccountOverview("acct-1")
	assert.Equal(t, 3, overview.OpenPositionsCount)
}

func TestExecutor_IdempotencyKey_ConcurrentRequestsOpenOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	req := buyRequest()
	req.IdempotencyKey = "req-concurrent"

	const n = 8
	var wg sync.WaitGroup
	results := make([]TradeResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.exec.ExecuteBuy(ctx, req)
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}

	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, overview.OpenPositionsCount)
	assert.True(t, overview.DeployedCapital.Equal(dec("27500")))
}

func TestExecutor_IdempotencyKey_FailedAttemptNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "1000")

	req := buyRequest()
	req.IdempotencyKey = "req-retry"
	_, err := f.exec.ExecuteBuy(ctx, req)
	var fundsErr *trading.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)

	// The key is free again, so an affordable retry goes through instead
	// of replaying the failure.
	req.Quantity = dec("1")
	req.EntryPrice = dec("100")
	result, err := f.exec.ExecuteBuy(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "EXECUTED", result.Status)
}

func TestExecutor_IdempotencyKey_OldestEvicted(t *testing.T) {
	ctx := context.Background()
	sink := snapshot.NewInMemWriter()
	exec := New(position.NewManager(zap.NewNop()), history.NewMemoryStore(), sink,
		Config{IdempotencyCacheSize: 1}, zap.NewNop())
	require.NoError(t, exec.CreateAccount("acct-1", dec("100000")))

	first := buyRequest()
	first.IdempotencyKey = "req-1"
	_, err := exec.ExecuteBuy(ctx, first)
	require.NoError(t, err)

	second := buyRequest()
	second.IdempotencyKey = "req-2"
	_, err = exec.ExecuteBuy(ctx, second)
	require.NoError(t, err)

	// req-1 was evicted to stay within the cache bound, so replaying it
	// opens a fresh position.
	_, err = exec.ExecuteBuy(ctx, first)
	require.NoError(t, err)

	overview, err := exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.Equal(t, 3, overview.OpenPositionsCount)
}

func TestExecutor_RestoreAccountReturnsDeployedCapital(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	_, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)

	snap, ok := f.sink.LatestSnapshot("acct-1")
	require.True(t, ok)
	require.True(t, snap.DeployedCapital.Equal(dec("27500")))

	// A restart loses the in-memory position set, so restoring the
	// snapshot into a fresh engine must not leave that capital deployed.
	restored := newFixture(t, history.NewMemoryStore(), "1")
	restored.exec.RestoreAccount(snap)

	overview, err := restored.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.True(t, overview.Balance.Equal(dec("100000")))
	assert.True(t, overview.BuyingPower.Equal(dec("100000")))
	assert.True(t, overview.DeployedCapital.IsZero())

	positions, err := restored.exec.OpenPositions("acct-1")
	require.NoError(t, err)
	assert.Empty(t, positions)

	// The reconciled state is persisted again.
	persisted, ok := restored.sink.LatestSnapshot("acct-1")
	require.True(t, ok)
	assert.True(t, persisted.DeployedCapital.IsZero())

	// The returned capital is usable for a full trade cycle.
	result, err := restored.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)
	closed, err := restored.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("2800")})
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.Equal(dec("500")))
}

func TestExecutor_OnTick_AutoCloseStopLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	req := buyRequest()
	req.StopLoss = trading.NewPriceLevel(dec("2700"))
	result, err := f.exec.ExecuteBuy(ctx, req)
	require.NoError(t, err)

	f.exec.OnTick(ctx, trading.Tick{Symbol: "RELIANCE", Price: dec("2690"), Time: time.Now().UTC()})

	_, err = f.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("2690")})
	var nf *trading.NotFoundError
	require.ErrorAs(t, err, &nf, "auto-close should have closed the position already")

	trades, err := f.store.GetRecent(ctx, "acct-1", 0, "")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trading.CloseStopLoss, trades[0].CloseReason)
	assert.True(t, trades[0].RealizedPnL.Equal(dec("-600")))

	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.True(t, overview.Balance.Equal(dec("99400")))
	assert.True(t, overview.DeployedCapital.IsZero())
}

func TestExecutor_OnTick_RecordsPnLSummaries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	_, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)

	f.exec.OnTick(ctx, trading.Tick{Symbol: "RELIANCE", Price: dec("2800"), Time: time.Now().UTC()})

	require.Len(t, f.sink.PnlSummaries, 1)
	summary := f.sink.PnlSummaries[0]
	assert.Equal(t, "acct-1", summary.AccountID)
	assert.True(t, summary.UnrealizedPnL.Equal(dec("500")))
	assert.Equal(t, 1, summary.OpenPositions)
}

func TestExecutor_BalanceConservation(t *testing.T) {
	// balance == seed + sum(realized pnl of closed trades), across a mix
	// of wins, losses and still-open positions.
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	r1, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)

	req2 := buyRequest()
	req2.Quantity = dec("5")
	req2.EntryPrice = dec("1000")
	r2, err := f.exec.ExecuteSell(ctx, req2)
	require.NoError(t, err)

	// A third position stays open; it must not affect the balance.
	req3 := buyRequest()
	req3.Symbol = "TCS"
	req3.Quantity = dec("2")
	req3.EntryPrice = dec("4000")
	_, err = f.exec.ExecuteBuy(ctx, req3)
	require.NoError(t, err)

	_, err = f.exec.ClosePosition(ctx, CloseRequest{TradeID: r1.TradeID, ExitPrice: dec("2800")})
	require.NoError(t, err)
	_, err = f.exec.ClosePosition(ctx, CloseRequest{TradeID: r2.TradeID, ExitPrice: dec("1040")})
	require.NoError(t, err)

	trades, err := f.store.All(ctx, "acct-1")
	require.NoError(t, err)

	realized := decimal.Zero
	for _, tr := range trades {
		realized = realized.Add(tr.RealizedPnL)
	}

	overview, err := f.exec.AccountOverview("acct-1")
	require.NoError(t, err)
	assert.True(t, overview.Balance.Equal(dec("100000").Add(realized)))
	assert.True(t, overview.BuyingPower.Add(overview.DeployedCapital).Equal(overview.Balance))
}

func TestExecutor_EmitsEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")

	result, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)
	_, err = f.exec.ClosePosition(ctx, CloseRequest{TradeID: result.TradeID, ExitPrice: dec("2800")})
	require.NoError(t, err)

	open := <-f.exec.Events()
	assert.Equal(t, EventTradeExecuted, open.Type)
	assert.Equal(t, result.TradeID, open.TradeID)

	closed := <-f.exec.Events()
	assert.Equal(t, EventPositionClosed, closed.Type)
	assert.True(t, closed.RealizedPnL.Equal(dec("500")))
	assert.Equal(t, trading.CloseManual, closed.Reason)
}

func TestExecutor_AccountsAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, history.NewMemoryStore(), "100000")
	require.NoError(t, f.exec.CreateAccount("acct-2", dec("50000")))

	_, err := f.exec.ExecuteBuy(ctx, buyRequest())
	require.NoError(t, err)

	other, err := f.exec.AccountOverview("acct-2")
	require.NoError(t, err)
	assert.True(t, other.BuyingPower.Equal(dec("50000")))
	assert.Equal(t, 0, other.OpenPositionsCount)
}

func TestExecutor_CreateAccount(t *testing.T) {
	f := newFixture(t, history.NewMemoryStore(), "100000")

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := f.exec.CreateAccount("acct-1", dec("1"))
		var verr *trading.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("snapshot saved on creation", func(t *testing.T) {
		s, ok := f.sink.LatestSnapshot("acct-1")
		require.True(t, ok)
		assert.True(t, s.Balance.Equal(dec("100000")))
	})
}
