package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/finledger/reconcile/internal/interfaces"
	"github.com/finledger/reconcile/internal/models"
)

// pq error codes mapped to the store's conflict sentinel.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// Store is the Postgres implementation of interfaces.Store. Transactions
// run at serializable isolation and obligation updates are additionally
// guarded by the version column, so either a serialization failure or a
// stale version surfaces as ErrConflict for the engine to retry.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle. Migrations live under
// migrations/ and are applied separately.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewStore(db), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqSerializationFailure, pqDeadlockDetected:
			return interfaces.ErrConflict
		case pqUniqueViolation:
			return interfaces.ErrDuplicateKey
		}
	}
	return err
}

const obligationColumns = `id, kind, counterparty, total_obligation, amount_settled, balance_remaining, status, version, created_at, updated_at`

func scanObligation(row *sql.Row) (models.Obligation, error) {
	var o models.Obligation
	err := row.Scan(
		&o.ID,
		&o.Kind,
		&o.Counterparty,
		&o.TotalObligation,
		&o.AmountSettled,
		&o.BalanceRemaining,
		&o.Status,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return models.Obligation{}, mapError(err)
	}
	return o, nil
}

func (s *Store) CreateObligation(ctx context.Context, o models.Obligation) error {
	const query = `INSERT INTO obligations (` + obligationColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.Kind, o.Counterparty, o.TotalObligation, o.AmountSettled,
		o.BalanceRemaining, o.Status, o.Version, o.CreatedAt, o.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetObligation(ctx context.Context, id string) (models.Obligation, error) {
	const query = `SELECT ` + obligationColumns + ` FROM obligations WHERE id = $1`
	return scanObligation(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) ListObligations(ctx context.Context) ([]models.Obligation, error) {
	const query = `SELECT ` + obligationColumns + ` FROM obligations ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []models.Obligation
	for rows.Next() {
		var o models.Obligation
		if err := rows.Scan(
			&o.ID, &o.Kind, &o.Counterparty, &o.TotalObligation, &o.AmountSettled,
			&o.BalanceRemaining, &o.Status, &o.Version, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const paymentColumns = `id, obligation_id, amount, method, reference, note, idempotency_key, created_at, created_by`

// paymentSelect normalizes the nullable idempotency_key column back to
// the empty string the model uses for "no key".
const paymentSelect = `id, obligation_id, amount, method, reference, note, COALESCE(idempotency_key, ''), created_at, created_by`

func (s *Store) ListPayments(ctx context.Context, obligationID string) ([]models.Payment, error) {
	const query = `SELECT ` + paymentSelect + ` FROM payments
	WHERE obligation_id = $1 ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, obligationID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(
			&p.ID, &p.ObligationID, &p.Amount, &p.Method, &p.Reference,
			&p.Note, &p.IdempotencyKey, &p.CreatedAt, &p.CreatedBy,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Begin(ctx context.Context) (interfaces.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, mapError(err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetObligation(ctx context.Context, id string) (models.Obligation, error) {
	const query = `SELECT ` + obligationColumns + ` FROM obligations WHERE id = $1`

	var o models.Obligation
	err := t.tx.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.Kind, &o.Counterparty, &o.TotalObligation, &o.AmountSettled,
		&o.BalanceRemaining, &o.Status, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return models.Obligation{}, mapError(err)
	}
	return o, nil
}

func (t *pgTx) UpdateObligation(ctx context.Context, o models.Obligation) error {
	const query = `UPDATE obligations
	SET amount_settled = $1, balance_remaining = $2, status = $3,
	    version = version + 1, updated_at = $4
	WHERE id = $5 AND version = $6`

	res, err := t.tx.ExecContext(ctx, query,
		o.AmountSettled, o.BalanceRemaining, o.Status, o.UpdatedAt, o.ID, o.Version)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Row vanished or the version moved under us.
		return interfaces.ErrConflict
	}
	return nil
}

func (t *pgTx) GetPayment(ctx context.Context, id string) (models.Payment, error) {
	const query = `SELECT ` + paymentSelect + ` FROM payments WHERE id = $1`

	var p models.Payment
	err := t.tx.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.ObligationID, &p.Amount, &p.Method, &p.Reference,
		&p.Note, &p.IdempotencyKey, &p.CreatedAt, &p.CreatedBy,
	)
	if err != nil {
		return models.Payment{}, mapError(err)
	}
	return p, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p models.Payment) error {
	const query = `INSERT INTO payments (` + paymentColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9)`

	_, err := t.tx.ExecContext(ctx, query,
		p.ID, p.ObligationID, p.Amount, p.Method, p.Reference,
		p.Note, p.IdempotencyKey, p.CreatedAt, p.CreatedBy)
	return mapError(err)
}

func (t *pgTx) DeletePayment(ctx context.Context, id string) error {
	const query = `DELETE FROM payments WHERE id = $1`

	res, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (t *pgTx) FindPaymentByKey(ctx context.Context, obligationID, key string) (models.Payment, error) {
	const query = `SELECT ` + paymentSelect + ` FROM payments
	WHERE obligation_id = $1 AND idempotency_key = $2`

	var p models.Payment
	err := t.tx.QueryRowContext(ctx, query, obligationID, key).Scan(
		&p.ID, &p.ObligationID, &p.Amount, &p.Method, &p.Reference,
		&p.Note, &p.IdempotencyKey, &p.CreatedAt, &p.CreatedBy,
	)
	if err != nil {
		return models.Payment{}, mapError(err)
	}
	return p, nil
}

func (t *pgTx) Commit() error {
	return mapError(t.tx.Commit())
}

func (t *pgTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

var _ interfaces.Store = (*Store)(nil)
