package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/your-org/paper-ledger/internal/config"
	"github.com/your-org/paper-ledger/internal/ledger"
)

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Writer batches account snapshots and PnL summaries and flushes them to
// Postgres on a ticker or when a buffer fills. Account state goes through
// the ledger repository; PnL summaries are bulk-copied. With a nil pool it
// degrades to a no-op sink, so callers never branch on database
// availability.
type Writer struct {
	pool          Pool
	accounts      ledger.Repository
	logger        *zap.Logger
	cfg           config.SnapshotConfig
	accountBuffer []ledger.Snapshot
	pnlBuffer     []PnLSummary
	bufferMutex   sync.Mutex
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	closeOnce     sync.Once
}

// NewWriter creates a Writer. A nil pool yields a dummy sink.
func NewWriter(pool Pool, accounts ledger.Repository, cfg config.SnapshotConfig, logger *zap.Logger) *Writer {
	w := &Writer{
		pool:         pool,
		accounts:     accounts,
		logger:       logger,
		cfg:          cfg,
		shutdownChan: make(chan struct{}),
	}
	if pool == nil {
		logger.Info("no database pool, creating dummy snapshot writer")
		return w
	}

	if w.cfg.WriteIntervalSeconds <= 0 {
		logger.Warn("write_interval_seconds is zero or negative, defaulting to 1s",
			zap.Int("originalValue", w.cfg.WriteIntervalSeconds))
		w.cfg.WriteIntervalSeconds = 1
	}
	if w.cfg.BatchSize <= 0 {
		logger.Warn("batch_size is zero or negative, defaulting to 100",
			zap.Int("originalValue", w.cfg.BatchSize))
		w.cfg.BatchSize = 100
	}

	w.accountBuffer = make([]ledger.Snapshot, 0, w.cfg.BatchSize)
	w.pnlBuffer = make([]PnLSummary, 0, w.cfg.BatchSize)
	w.flushTicker = time.NewTicker(time.Duration(w.cfg.WriteIntervalSeconds) * time.Second)
	go w.run()
	logger.Info("snapshot batch writer started")
	return w
}

// Close stops the background flusher and flushes remaining buffers.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		if w.pool == nil {
			return
		}
		w.logger.Info("closing snapshot writer")
		close(w.shutdownChan)
		w.flushTicker.Stop()
		w.flushBuffers()
	})
}

func (w *Writer) run() {
	for {
		select {
		case <-w.flushTicker.C:
			w.flushBuffers()
		case <-w.shutdownChan:
			return
		}
	}
}

// SaveAccountSnapshot adds a snapshot to the buffer.
func (w *Writer) SaveAccountSnapshot(s ledger.Snapshot) {
	if w.pool == nil {
		return
	}

	w.bufferMutex.Lock()
	w.accountBuffer = append(w.accountBuffer, s)
	shouldFlush := len(w.accountBuffer) >= w.cfg.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.flushBuffers()
	}
}

// SavePnLSummary adds a PnL summary to the buffer.
func (w *Writer) SavePnLSummary(p PnLSummary) {
	if w.pool == nil {
		return
	}

	w.bufferMutex.Lock()
	w.pnlBuffer = append(w.pnlBuffer, p)
	shouldFlush := len(w.pnlBuffer) >= w.cfg.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		w.flushBuffers()
	}
}

func (w *Writer) flushBuffers() {
	if w.pool == nil {
		return
	}
	w.bufferMutex.Lock()
	defer w.bufferMutex.Unlock()

	if len(w.accountBuffer) > 0 {
		w.upsertAccountSnapshots(context.Background(), w.accountBuffer)
		w.accountBuffer = w.accountBuffer[:0]
	}
	if len(w.pnlBuffer) > 0 {
		w.batchInsertPnLSummaries(context.Background(), w.pnlBuffer)
		w.pnlBuffer = w.pnlBuffer[:0]
	}
}

// upsertAccountSnapshots keeps only the latest state per account in the
// accounts table. Later buffer entries win.
func (w *Writer) upsertAccountSnapshots(ctx context.Context, snapshots []ledger.Snapshot) {
	w.logger.Debug("flushing account snapshots", zap.Int("count", len(snapshots)))

	for _, s := range snapshots {
		if err := w.accounts.Put(ctx, s); err != nil {
			w.logger.Error("failed to upsert account snapshot",
				zap.String("accountID", s.AccountID), zap.Error(err))
		}
	}
}

func (w *Writer) batchInsertPnLSummaries(ctx context.Context, summaries []PnLSummary) {
	w.logger.Debug("flushing pnl summaries", zap.Int("count", len(summaries)))

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"pnl_summaries"},
		[]string{"time", "account_id", "unrealized_pnl", "open_positions"},
		pgx.CopyFromRows(toPnLInterfaces(summaries)),
	)
	if err != nil {
		w.logger.Error("failed to batch insert pnl summaries", zap.Error(err))
	}
}

func toPnLInterfaces(summaries []PnLSummary) [][]interface{} {
	rows := make([][]interface{}, len(summaries))
	for i, p := range summaries {
		rows[i] = []interface{}{p.Time, p.AccountID, p.UnrealizedPnL, p.OpenPositions}
	}
	return rows
}
