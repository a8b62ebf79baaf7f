package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/reconcile/internal/interfaces"
	"github.com/finledger/reconcile/internal/models"
)

func seedObligation(t *testing.T, s *Store) models.Obligation {
	t.Helper()
	o := models.Obligation{
		ID:               "ob-1",
		Kind:             models.KindPurchaseInvoice,
		TotalObligation:  decimal.NewFromInt(1000),
		AmountSettled:    decimal.Zero,
		BalanceRemaining: decimal.NewFromInt(1000),
		Status:           models.StatusUnpaid,
		Version:          1,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.CreateObligation(context.Background(), o))
	return o
}

func TestCreateObligation_Duplicate(t *testing.T) {
	s := NewStore()
	o := seedObligation(t, s)
	err := s.CreateObligation(context.Background(), o)
	assert.ErrorIs(t, err, interfaces.ErrDuplicateKey)
}

func TestGetObligation_NotFound(t *testing.T) {
	s := NewStore()
	_, err := s.GetObligation(context.Background(), "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestCommit_StaleVersionConflicts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedObligation(t, s)

	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	tx2, err := s.Begin(ctx)
	require.NoError(t, err)

	o1, err := tx1.GetObligation(ctx, "ob-1")
	require.NoError(t, err)
	o2, err := tx2.GetObligation(ctx, "ob-1")
	require.NoError(t, err)

	o1.AmountSettled = decimal.NewFromInt(300)
	require.NoError(t, tx1.UpdateObligation(ctx, o1))
	require.NoError(t, tx1.Commit())

	o2.AmountSettled = decimal.NewFromInt(500)
	require.NoError(t, tx2.UpdateObligation(ctx, o2))
	assert.ErrorIs(t, tx2.Commit(), interfaces.ErrConflict)

	// The loser's write must not be visible.
	got, err := s.GetObligation(ctx, "ob-1")
	require.NoError(t, err)
	assert.True(t, got.AmountSettled.Equal(decimal.NewFromInt(300)))
	assert.EqualValues(t, 2, got.Version)
}

func TestCommit_FailureLeavesNoPartialState(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedObligation(t, s)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	o, err := tx.GetObligation(ctx, "ob-1")
	require.NoError(t, err)
	o.Version = 99 // stale on purpose
	require.NoError(t, tx.UpdateObligation(ctx, o))
	require.NoError(t, tx.InsertPayment(ctx, models.Payment{
		ID:           "pay-1",
		ObligationID: "ob-1",
		Amount:       decimal.NewFromInt(100),
		CreatedAt:    time.Now().UTC(),
	}))

	assert.ErrorIs(t, tx.Commit(), interfaces.ErrConflict)

	entries, err := s.ListPayments(ctx, "ob-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRollback_DiscardsWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedObligation(t, s)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertPayment(ctx, models.Payment{
		ID:           "pay-1",
		ObligationID: "ob-1",
		Amount:       decimal.NewFromInt(100),
		CreatedAt:    time.Now().UTC(),
	}))
	require.NoError(t, tx.Rollback())
	// Rollback after commit-or-rollback stays a no-op.
	require.NoError(t, tx.Commit())

	entries, err := s.ListPayments(ctx, "ob-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIdempotencyKeyIndex(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedObligation(t, s)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	p := models.Payment{
		ID:             "pay-1",
		ObligationID:   "ob-1",
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "req-7",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, tx.InsertPayment(ctx, p))
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	found, err := tx2.FindPaymentByKey(ctx, "ob-1", "req-7")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", found.ID)

	// Same key, second insert: rejected at commit.
	dup := p
	dup.ID = "pay-2"
	require.NoError(t, tx2.InsertPayment(ctx, dup))
	assert.ErrorIs(t, tx2.Commit(), interfaces.ErrDuplicateKey)

	// Deleting the payment frees the key.
	tx3, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx3.DeletePayment(ctx, "pay-1"))
	require.NoError(t, tx3.Commit())

	tx4, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx4.FindPaymentByKey(ctx, "ob-1", "req-7")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	require.NoError(t, tx4.Rollback())
}

func TestListPayments_SortedByCreation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedObligation(t, s)

	base := time.Now().UTC()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for i, id := range []string{"pay-c", "pay-a", "pay-b"} {
		require.NoError(t, tx.InsertPayment(ctx, models.Payment{
			ID:           id,
			ObligationID: "ob-1",
			Amount:       decimal.NewFromInt(int64(i + 1)),
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, tx.Commit())

	entries, err := s.ListPayments(ctx, "ob-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "pay-c", entries[0].ID)
	assert.Equal(t, "pay-a", entries[1].ID)
	assert.Equal(t, "pay-b", entries[2].ID)
}
