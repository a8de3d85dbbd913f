package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/your-org/paper-ledger/internal/trading"
)

// InMemRepository is an in-memory implementation of Repository for tests
// and standalone runs without a database.
type InMemRepository struct {
	mu       sync.RWMutex
	accounts map[string]Snapshot
}

// NewInMemRepository creates a new InMemRepository.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{accounts: make(map[string]Snapshot)}
}

// Get fetches the latest snapshot for one account.
func (r *InMemRepository) Get(ctx context.Context, accountID string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.accounts[accountID]
	if !ok {
		return Snapshot{}, &trading.NotFoundError{Kind: "account", ID: accountID}
	}
	return s, nil
}

// Put stores the snapshot for its account.
func (r *InMemRepository) Put(ctx context.Context, snapshot Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[snapshot.AccountID] = snapshot
	return nil
}

// List returns snapshots for all known accounts, ordered by account id.
func (r *InMemRepository) List(ctx context.Context) ([]Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(r.accounts))
	for _, s := range r.accounts {
		snapshots = append(snapshots, s)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].AccountID < snapshots[j].AccountID
	})
	return snapshots, nil
}
