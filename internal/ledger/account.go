// Package ledger owns the monetary state of one account: realized cash
// balance, buying power and deployed capital. It is the single source of
// truth for the invariant buying_power + deployed_capital == balance.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/paper-ledger/internal/trading"
)

// Account holds the monetary state for a single account. All mutating
// operations are atomic under the account's own lock; the execution layer
// additionally serializes mutation sequences per account.
type Account struct {
	mu sync.Mutex

	id              string
	balance         decimal.Decimal
	buyingPower     decimal.Decimal
	deployedCapital decimal.Decimal
	createdAt       time.Time
}

// Snapshot is an immutable view of an account at a point in time.
type Snapshot struct {
	AccountID       string          `json:"account_id"`
	Balance         decimal.Decimal `json:"balance"`
	BuyingPower     decimal.Decimal `json:"buying_power"`
	DeployedCapital decimal.Decimal `json:"deployed_capital"`
	CreatedAt       time.Time       `json:"created_at"`
	Time            time.Time       `json:"time"`
}

// NewAccount creates an account seeded with the given balance. The seed
// starts fully available as buying power.
func NewAccount(id string, seed decimal.Decimal) (*Account, error) {
	if id == "" {
		return nil, &trading.ValidationError{Field: "account_id", Reason: "must not be empty"}
	}
	if seed.IsNegative() {
		return nil, &trading.ValidationError{Field: "seed_balance", Reason: "must not be negative"}
	}
	return &Account{
		id:          id,
		balance:     seed,
		buyingPower: seed,
		createdAt:   time.Now().UTC(),
	}, nil
}

// Restore rebuilds an account from a persisted snapshot.
func Restore(s Snapshot) *Account {
	return &Account{
		id:              s.AccountID,
		balance:         s.Balance,
		buyingPower:     s.BuyingPower,
		deployedCapital: s.DeployedCapital,
		createdAt:       s.CreatedAt,
	}
}

// ID returns the account identifier.
func (a *Account) ID() string { return a.id }

// Reserve moves amount from buying power to deployed capital. It fails
// with InsufficientFundsError when buying power is below amount, leaving
// the account unchanged.
func (a *Account) Reserve(amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.buyingPower.LessThan(amount) {
		return &trading.InsufficientFundsError{
			AccountID: a.id,
			Required:  amount,
			Available: a.buyingPower,
		}
	}
	a.buyingPower = a.buyingPower.Sub(amount)
	a.deployedCapital = a.deployedCapital.Add(amount)
	return nil
}

// Release moves amount back from deployed capital to buying power.
// Releasing more than is deployed indicates a bookkeeping bug upstream and
// is rejected.
func (a *Account) Release(amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.deployedCapital.LessThan(amount) {
		return &trading.ValidationError{
			Field:  "amount",
			Reason: "release exceeds deployed capital",
		}
	}
	a.deployedCapital = a.deployedCapital.Sub(amount)
	a.buyingPower = a.buyingPower.Add(amount)
	return nil
}

// ApplyRealizedPnL credits delta to both balance and buying power.
// Delta may be negative.
func (a *Account) ApplyRealizedPnL(delta decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = a.balance.Add(delta)
	a.buyingPower = a.buyingPower.Add(delta)
}

// Snapshot returns an immutable consistent view of the account.
func (a *Account) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		AccountID:       a.id,
		Balance:         a.balance,
		BuyingPower:     a.buyingPower,
		DeployedCapital: a.deployedCapital,
		CreatedAt:       a.createdAt,
		Time:            time.Now().UTC(),
	}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &trading.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return nil
}
