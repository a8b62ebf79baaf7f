package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/finledger/reconcile/internal/interfaces"
	"github.com/finledger/reconcile/internal/models"
)

// Store is an in-memory implementation of interfaces.Store with the same
// observable semantics as the real backend: transactions buffer their
// writes and validate obligation versions at commit, so a transaction that
// raced a concurrent writer fails with ErrConflict instead of silently
// losing the update. Readers only ever see committed state.
type Store struct {
	mu          sync.Mutex
	obligations map[string]models.Obligation
	payments    map[string]models.Payment
	// byKey maps obligationID + "\x00" + idempotencyKey to payment id.
	byKey map[string]string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		obligations: make(map[string]models.Obligation),
		payments:    make(map[string]models.Payment),
		byKey:       make(map[string]string),
	}
}

func keyIndex(obligationID, key string) string {
	return obligationID + "\x00" + key
}

func (s *Store) CreateObligation(ctx context.Context, o models.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.obligations[o.ID]; exists {
		return interfaces.ErrDuplicateKey
	}
	s.obligations[o.ID] = o
	return nil
}

func (s *Store) GetObligation(ctx context.Context, id string) (models.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.obligations[id]
	if !ok {
		return models.Obligation{}, interfaces.ErrNotFound
	}
	return o, nil
}

func (s *Store) ListObligations(ctx context.Context) ([]models.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Obligation, 0, len(s.obligations))
	for _, o := range s.obligations {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListPayments(ctx context.Context, obligationID string) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.ObligationID == obligationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Begin(ctx context.Context) (interfaces.Tx, error) {
	return &memTx{store: s}, nil
}

// memTx buffers writes until Commit. Obligation updates carry the version
// they were read at; a stale version at commit time means a concurrent
// transaction won and the whole commit fails.
type memTx struct {
	store *Store
	done  bool

	updatedObligations []models.Obligation
	insertedPayments   []models.Payment
	deletedPayments    []string
}

func (t *memTx) GetObligation(ctx context.Context, id string) (models.Obligation, error) {
	return t.store.GetObligation(ctx, id)
}

func (t *memTx) UpdateObligation(ctx context.Context, o models.Obligation) error {
	t.updatedObligations = append(t.updatedObligations, o)
	return nil
}

func (t *memTx) GetPayment(ctx context.Context, id string) (models.Payment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	p, ok := t.store.payments[id]
	if !ok {
		return models.Payment{}, interfaces.ErrNotFound
	}
	return p, nil
}

func (t *memTx) InsertPayment(ctx context.Context, p models.Payment) error {
	t.insertedPayments = append(t.insertedPayments, p)
	return nil
}

func (t *memTx) DeletePayment(ctx context.Context, id string) error {
	t.deletedPayments = append(t.deletedPayments, id)
	return nil
}

func (t *memTx) FindPaymentByKey(ctx context.Context, obligationID, key string) (models.Payment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	id, ok := t.store.byKey[keyIndex(obligationID, key)]
	if !ok {
		return models.Payment{}, interfaces.ErrNotFound
	}
	return t.store.payments[id], nil
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole write set before touching anything so a failed
	// commit leaves no partial state behind.
	for _, o := range t.updatedObligations {
		current, ok := s.obligations[o.ID]
		if !ok {
			return interfaces.ErrNotFound
		}
		if current.Version != o.Version {
			return interfaces.ErrConflict
		}
	}
	for _, p := range t.insertedPayments {
		if p.IdempotencyKey != "" {
			if _, exists := s.byKey[keyIndex(p.ObligationID, p.IdempotencyKey)]; exists {
				return interfaces.ErrDuplicateKey
			}
		}
	}
	for _, id := range t.deletedPayments {
		if _, ok := s.payments[id]; !ok {
			return interfaces.ErrNotFound
		}
	}

	for _, o := range t.updatedObligations {
		o.Version++
		s.obligations[o.ID] = o
	}
	for _, p := range t.insertedPayments {
		s.payments[p.ID] = p
		if p.IdempotencyKey != "" {
			s.byKey[keyIndex(p.ObligationID, p.IdempotencyKey)] = p.ID
		}
	}
	for _, id := range t.deletedPayments {
		p := s.payments[id]
		delete(s.payments, id)
		if p.IdempotencyKey != "" {
			delete(s.byKey, keyIndex(p.ObligationID, p.IdempotencyKey))
		}
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.done = true
	t.updatedObligations = nil
	t.insertedPayments = nil
	t.deletedPayments = nil
	return nil
}

var _ interfaces.Store = (*Store)(nil)
