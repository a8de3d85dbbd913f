package snapshot

import (
	"sync"

	"github.com/your-org/paper-ledger/internal/ledger"
)

// InMemWriter is an in-memory implementation of the Sink interface for testing.
type InMemWriter struct {
	mu           sync.RWMutex
	Snapshots    []ledger.Snapshot
	PnlSummaries []PnLSummary
	IsClosed     bool
}

// NewInMemWriter creates a new InMemWriter.
func NewInMemWriter() *InMemWriter {
	return &InMemWriter{
		Snapshots:    make([]ledger.Snapshot, 0),
		PnlSummaries: make([]PnLSummary, 0),
	}
}

// SaveAccountSnapshot appends a snapshot to the in-memory slice.
func (w *InMemWriter) SaveAccountSnapshot(s ledger.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Snapshots = append(w.Snapshots, s)
}

// SavePnLSummary appends a PnL summary to the in-memory slice.
func (w *InMemWriter) SavePnLSummary(p PnLSummary) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.PnlSummaries = append(w.PnlSummaries, p)
}

// Close marks the writer as closed.
func (w *InMemWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.IsClosed = true
}

// LatestSnapshot returns the last snapshot saved for the account, if any.
func (w *InMemWriter) LatestSnapshot(accountID string) (ledger.Snapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for i := len(w.Snapshots) - 1; i >= 0; i-- {
		if w.Snapshots[i].AccountID == accountID {
			return w.Snapshots[i], true
		}
	}
	return ledger.Snapshot{}, false
}
