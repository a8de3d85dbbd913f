// Package snapshot persists account state and mark-to-market summaries in
// the background. Snapshots are a read-model convenience; the trade
// history remains the authoritative record for closes.
package snapshot

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/paper-ledger/internal/ledger"
)

// PnLSummary is one mark-to-market observation for an account.
type PnLSummary struct {
	Time          time.Time       `db:"time"`
	AccountID     string          `db:"account_id"`
	UnrealizedPnL decimal.Decimal `db:"unrealized_pnl"`
	OpenPositions int             `db:"open_positions"`
}

// Sink receives account snapshots and PnL summaries. Implementations must
// not block the caller; writes are buffered and flushed asynchronously.
// This allows for mocking in tests.
type Sink interface {
	SaveAccountSnapshot(s ledger.Snapshot)
	SavePnLSummary(p PnLSummary)
	Close()
}
