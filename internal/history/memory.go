package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/your-org/paper-ledger/internal/trading"
)

// MemoryStore is an in-memory Store for tests and standalone runs.
// It enforces the same append-only, unique trade_id semantics as the
// Postgres store.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]struct{}
	trades []trading.ClosedTrade // append order == close order
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]struct{})}
}

// Append records one closed trade. Duplicate trade ids are rejected.
func (s *MemoryStore) Append(ctx context.Context, t trading.ClosedTrade) error {
	if err := ctx.Err(); err != nil {
		return &trading.DurabilityError{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[t.TradeID]; exists {
		return &trading.ConcurrencyConflictError{
			Err: fmt.Errorf("trade %s already recorded", t.TradeID),
		}
	}
	s.byID[t.TradeID] = struct{}{}
	s.trades = append(s.trades, t)
	return nil
}

// GetRecent returns up to limit trades for the account, most-recent-first.
func (s *MemoryStore) GetRecent(ctx context.Context, accountID string, limit int, symbol string) ([]trading.ClosedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []trading.ClosedTrade
	for i := len(s.trades) - 1; i >= 0; i-- {
		t := s.trades[i]
		if t.AccountID != accountID {
			continue
		}
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		result = append(result, t)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// All returns every trade for the account in close order.
func (s *MemoryStore) All(ctx context.Context, accountID string) ([]trading.ClosedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []trading.ClosedTrade
	for _, t := range s.trades {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	return result, nil
}
