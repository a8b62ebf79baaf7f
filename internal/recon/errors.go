package recon

import (
	"errors"
	"fmt"

	"github.com/finledger/reconcile/internal/interfaces"
)

// ErrConflict is surfaced after the engine has exhausted its retry budget
// on a transaction that kept losing the optimistic-concurrency race.
var ErrConflict = interfaces.ErrConflict

// ErrInconsistentLedger means the stored aggregates disagree with the sum
// of the ledger entries. It is never retried; the ledger needs repair.
var ErrInconsistentLedger = errors.New("obligation aggregates inconsistent with ledger entries")

// ValidationError rejects a malformed reconciliation request before it
// reaches the store. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a stale reference: the obligation or payment no
// longer exists at transaction time.
type NotFoundError struct {
	Kind string // "obligation" or "payment"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return interfaces.ErrNotFound }

// IsRetryable reports whether err is worth retrying in a fresh transaction.
func IsRetryable(err error) bool {
	return errors.Is(err, interfaces.ErrConflict)
}
