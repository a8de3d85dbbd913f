package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/paper-ledger/internal/trading"
)

// Repository stores account snapshots. The durable medium is authoritative
// across restarts; live account state is rebuilt from the latest snapshot.
type Repository interface {
	Get(ctx context.Context, accountID string) (Snapshot, error)
	Put(ctx context.Context, snapshot Snapshot) error
	List(ctx context.Context) ([]Snapshot, error)
}

// DB abstracts the pgxpool.Pool for testability.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresRepository persists account snapshots in the accounts table.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a Repository backed by Postgres.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get fetches the latest snapshot for one account.
func (r *PostgresRepository) Get(ctx context.Context, accountID string) (Snapshot, error) {
	query := `
        SELECT account_id, balance, buying_power, deployed_capital, created_at, updated_at
        FROM accounts
        WHERE account_id = $1;
    `
	var s Snapshot
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&s.AccountID, &s.Balance, &s.BuyingPower, &s.DeployedCapital, &s.CreatedAt, &s.Time,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, &trading.NotFoundError{Kind: "account", ID: accountID}
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to fetch account %s: %w", accountID, err)
	}
	return s, nil
}

// Put upserts the snapshot for its account.
func (r *PostgresRepository) Put(ctx context.Context, snapshot Snapshot) error {
	query := `
        INSERT INTO accounts (account_id, balance, buying_power, deployed_capital, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (account_id) DO UPDATE SET
            balance = EXCLUDED.balance,
            buying_power = EXCLUDED.buying_power,
            deployed_capital = EXCLUDED.deployed_capital,
            updated_at = EXCLUDED.updated_at;
    `
	_, err := r.db.Exec(ctx, query,
		snapshot.AccountID, snapshot.Balance, snapshot.BuyingPower,
		snapshot.DeployedCapital, snapshot.CreatedAt, snapshot.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", snapshot.AccountID, err)
	}
	return nil
}

// List returns snapshots for all known accounts.
func (r *PostgresRepository) List(ctx context.Context) ([]Snapshot, error) {
	query := `
        SELECT account_id, balance, buying_power, deployed_capital, created_at, updated_at
        FROM accounts
        ORDER BY account_id ASC;
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.AccountID, &s.Balance, &s.BuyingPower, &s.DeployedCapital, &s.CreatedAt, &s.Time); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
