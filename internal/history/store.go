// Package history is the durable, append-only record of closed trades.
// A close is committed only once its record is persisted here; ledger
// effects are applied strictly after a successful append.
package history

import (
	"context"

	"github.com/your-org/paper-ledger/internal/trading"
)

// Store is the append-only trade log, keyed by trade_id and indexed by
// account_id. Records are immutable once written.
type Store interface {
	// Append durably persists one closed trade. A duplicate trade_id
	// fails with ConcurrencyConflictError; any other persistence failure
	// is a DurabilityError.
	Append(ctx context.Context, t trading.ClosedTrade) error

	// GetRecent returns up to limit closed trades for the account,
	// most-recent-first. A non-empty symbol filters by symbol.
	GetRecent(ctx context.Context, accountID string, limit int, symbol string) ([]trading.ClosedTrade, error)

	// All returns every closed trade for the account in close order.
	All(ctx context.Context, accountID string) ([]trading.ClosedTrade, error)
}
