package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/paper-ledger/internal/trading"
)

// Postgres error codes mapped to the domain error taxonomy.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
)

// DB abstracts the pgxpool.Pool for testability.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresStore is the authoritative durable trade log backed by the
// trade_history table.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a Store backed by Postgres.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts one closed trade. The primary key on trade_id gives the
// atomic-append guarantee: a second close of the same trade surfaces as a
// ConcurrencyConflictError, never a silent overwrite.
func (s *PostgresStore) Append(ctx context.Context, t trading.ClosedTrade) error {
	query := `
        INSERT INTO trade_history (
            trade_id, account_id, symbol, side, quantity, entry_price, exit_price,
            realized_pnl, realized_pnl_pct, holding_period_ms, rationale,
            close_reason, opened_at, closed_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
    `
	_, err := s.db.Exec(ctx, query,
		t.TradeID, t.AccountID, t.Symbol, string(t.Side), t.Quantity, t.EntryPrice, t.ExitPrice,
		t.RealizedPnL, t.RealizedPnLPct, t.HoldingPeriod.Milliseconds(), t.Rationale,
		string(t.CloseReason), t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation, pgSerializationFailure:
				return &trading.ConcurrencyConflictError{Err: err}
			}
		}
		return &trading.DurabilityError{Err: fmt.Errorf("failed to append trade %s: %w", t.TradeID, err)}
	}
	return nil
}

// GetRecent returns up to limit trades for the account, most-recent-first.
func (s *PostgresStore) GetRecent(ctx context.Context, accountID string, limit int, symbol string) ([]trading.ClosedTrade, error) {
	query := `
        SELECT trade_id, account_id, symbol, side, quantity, entry_price, exit_price,
               realized_pnl, realized_pnl_pct, holding_period_ms, rationale,
               close_reason, opened_at, closed_at
        FROM trade_history
        WHERE account_id = $1 AND ($2 = '' OR symbol = $2)
        ORDER BY closed_at DESC
        LIMIT $3;
    `
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, query, accountID, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// All returns every trade for the account in close order.
func (s *PostgresStore) All(ctx context.Context, accountID string) ([]trading.ClosedTrade, error) {
	query := `
        SELECT trade_id, account_id, symbol, side, quantity, entry_price, exit_price,
               realized_pnl, realized_pnl_pct, holding_period_ms, rationale,
               close_reason, opened_at, closed_at
        FROM trade_history
        WHERE account_id = $1
        ORDER BY closed_at ASC;
    `
	rows, err := s.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]trading.ClosedTrade, error) {
	var trades []trading.ClosedTrade
	for rows.Next() {
		var (
			t         trading.ClosedTrade
			side      string
			reason    string
			holdingMs int64
		)
		if err := rows.Scan(
			&t.TradeID, &t.AccountID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice, &t.ExitPrice,
			&t.RealizedPnL, &t.RealizedPnLPct, &holdingMs, &t.Rationale,
			&reason, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Side = trading.Side(side)
		t.CloseReason = trading.CloseReason(reason)
		t.HoldingPeriod = time.Duration(holdingMs) * time.Millisecond
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
