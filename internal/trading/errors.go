package trading

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports malformed input rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InsufficientFundsError reports a reservation exceeding buying power.
type InsufficientFundsError struct {
	AccountID string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %s: required %s, available %s",
		e.AccountID, e.Required, e.Available)
}

// NotFoundError reports an unknown or already-closed trade, or an unknown
// account.
type NotFoundError struct {
	Kind string // "trade" or "account"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// DurabilityError reports a failed durable append. Any in-memory
// reservation or position change has been rolled back; the caller may retry.
type DurabilityError struct {
	Err error
}

func (e *DurabilityError) Error() string {
	return fmt.Sprintf("durable write failed: %v", e.Err)
}

func (e *DurabilityError) Unwrap() error { return e.Err }

// ConcurrencyConflictError reports an optimistic-check failure such as a
// duplicate trade_id append or a serialization failure in the store.
type ConcurrencyConflictError struct {
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: %v", e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error is worth retrying from the
// caller's side. Durability failures roll back cleanly and conflicts are
// transient.
func IsRetryable(err error) bool {
	var de *DurabilityError
	var ce *ConcurrencyConflictError
	return errors.As(err, &de) || errors.As(err, &ce)
}
