// Package csvwriter streams closed trades as CSV for offline analysis.
package csvwriter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/your-org/paper-ledger/internal/trading"
)

// Header is the column layout of an exported trade history file.
var Header = []string{
	"trade_id", "account_id", "symbol", "side",
	"quantity", "entry_price", "exit_price",
	"realized_pnl", "realized_pnl_pct", "holding_period_ms",
	"close_reason", "opened_at", "closed_at", "rationale",
}

const timeLayout = "2006-01-02 15:04:05.999999-07"

// TradeWriter writes closed trades to an underlying writer in CSV form.
// The header row is emitted before the first record.
type TradeWriter struct {
	mu          sync.Mutex
	writer      *csv.Writer
	wroteHeader bool
}

// NewTradeWriter creates a TradeWriter over w.
func NewTradeWriter(w io.Writer) *TradeWriter {
	return &TradeWriter{writer: csv.NewWriter(w)}
}

// Write appends one closed trade record.
func (w *TradeWriter) Write(t trading.ClosedTrade) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.wroteHeader {
		if err := w.writer.Write(Header); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
		w.wroteHeader = true
	}

	record := []string{
		t.TradeID,
		t.AccountID,
		t.Symbol,
		string(t.Side),
		t.Quantity.String(),
		t.EntryPrice.String(),
		t.ExitPrice.String(),
		t.RealizedPnL.String(),
		t.RealizedPnLPct.String(),
		strconv.FormatInt(t.HoldingPeriod.Milliseconds(), 10),
		string(t.CloseReason),
		t.OpenedAt.Format(timeLayout),
		t.ClosedAt.Format(timeLayout),
		t.Rationale,
	}
	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write trade %s: %w", t.TradeID, err)
	}
	return nil
}

// Flush flushes buffered records and reports any deferred write error.
func (w *TradeWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
	return w.writer.Error()
}
