package interfaces

import (
	"context"
	"errors"

	"github.com/finledger/reconcile/internal/models"
)

// Sentinel errors every Store implementation maps its backend's failures to.
var (
	// ErrNotFound: the referenced obligation or payment does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict: the transaction lost an optimistic-concurrency race and
	// was aborted; the caller may retry.
	ErrConflict = errors.New("concurrent modification conflict")
	// ErrDuplicateKey: an entry with the same idempotency key already
	// exists for the obligation.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

// Store is the transactional document-store boundary the reconciliation
// engine runs on. Non-transactional reads serve the query surface;
// everything that mutates an obligation's aggregates goes through a Tx.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	CreateObligation(ctx context.Context, o models.Obligation) error
	GetObligation(ctx context.Context, id string) (models.Obligation, error)
	ListObligations(ctx context.Context) ([]models.Obligation, error)
	ListPayments(ctx context.Context, obligationID string) ([]models.Payment, error)
}

// Tx is a single atomic unit of work. All reads observe a consistent view;
// writes become visible only on Commit. A commit that loses a concurrency
// race fails with ErrConflict and leaves no partial state behind.
type Tx interface {
	GetObligation(ctx context.Context, id string) (models.Obligation, error)
	// UpdateObligation writes the aggregates guarded by the version the
	// obligation was read at, and bumps the version on success.
	UpdateObligation(ctx context.Context, o models.Obligation) error

	GetPayment(ctx context.Context, id string) (models.Payment, error)
	InsertPayment(ctx context.Context, p models.Payment) error
	DeletePayment(ctx context.Context, id string) error
	// FindPaymentByKey returns the payment recorded under the given
	// idempotency key for the obligation, or ErrNotFound.
	FindPaymentByKey(ctx context.Context, obligationID, key string) (models.Payment, error)

	Commit() error
	Rollback() error
}
