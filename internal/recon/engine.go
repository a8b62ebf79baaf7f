package recon

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finledger/reconcile/internal/interfaces"
	"github.com/finledger/reconcile/internal/models"
	"github.com/finledger/reconcile/internal/models/events"
)

// OverpaymentPolicy decides what happens when a payment exceeds the
// remaining balance.
type OverpaymentPolicy string

const (
	// OverpaymentAllowNegative lets BalanceRemaining go negative and maps
	// the status straight to paid. Matches the historical behavior; the
	// negative balance tracks the overage.
	OverpaymentAllowNegative OverpaymentPolicy = "allow_negative"
	// OverpaymentReject fails the apply with a ValidationError so the
	// balance can never go below zero.
	OverpaymentReject OverpaymentPolicy = "reject"
)

// IsValid reports whether p is a known policy.
func (p OverpaymentPolicy) IsValid() bool {
	return p == OverpaymentAllowNegative || p == OverpaymentReject
}

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 25 * time.Millisecond
)

// Engine owns all mutation of an obligation's settlement aggregates.
// Each operation runs as a single store transaction: the ledger entry and
// the parent update commit together or not at all, so AmountSettled always
// equals the sum of the obligation's entries at any quiescent point.
//
// Conflicted transactions are retried with jittered backoff up to the
// attempt budget, then surfaced as ErrConflict.
type Engine struct {
	store       interfaces.Store
	publisher   interfaces.EventPublisher
	log         zerolog.Logger
	policy      OverpaymentPolicy
	maxAttempts int
	retryBase   time.Duration
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithOverpaymentPolicy overrides the default allow-negative policy.
func WithOverpaymentPolicy(p OverpaymentPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithRetry sets the conflict-retry budget. attempts counts total tries,
// so 1 disables retrying.
func WithRetry(attempts int, base time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.maxAttempts = attempts
		}
		if base > 0 {
			e.retryBase = base
		}
	}
}

// WithClock replaces the time source. Tests use this for stable timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an Engine over the given store and publisher.
func NewEngine(store interfaces.Store, publisher interfaces.EventPublisher, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		publisher:   publisher,
		log:         log,
		policy:      OverpaymentAllowNegative,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.publisher == nil {
		e.publisher = interfaces.NopPublisher{}
	}
	return e
}

// CreateObligation registers a new parent record with zeroed aggregates.
func (e *Engine) CreateObligation(ctx context.Context, kind models.ObligationKind, counterparty string, total decimal.Decimal) (models.Obligation, error) {
	if !kind.IsValid() {
		return models.Obligation{}, &ValidationError{Field: "kind", Reason: "unknown obligation kind"}
	}
	if total.Cmp(decimal.Zero) <= 0 {
		return models.Obligation{}, &ValidationError{Field: "total_obligation", Reason: "must be positive"}
	}

	now := e.now().UTC()
	o := models.Obligation{
		ID:               uuid.New().String(),
		Kind:             kind,
		Counterparty:     counterparty,
		TotalObligation:  total,
		AmountSettled:    decimal.Zero,
		BalanceRemaining: total,
		Status:           models.StatusUnpaid,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.CreateObligation(ctx, o); err != nil {
		return models.Obligation{}, err
	}
	e.log.Info().Str("obligation_id", o.ID).Str("kind", string(kind)).
		Str("total", total.String()).Msg("obligation created")
	return o, nil
}

// ApplyPayment records one payment against an obligation and updates the
// parent aggregates in the same transaction. When meta.IdempotencyKey is
// set and a matching entry already exists, that entry is returned and
// nothing is re-applied.
func (e *Engine) ApplyPayment(ctx context.Context, obligationID string, amount decimal.Decimal, meta models.PaymentMeta) (models.Payment, error) {
	if obligationID == "" {
		return models.Payment{}, &ValidationError{Field: "obligation_id", Reason: "must not be empty"}
	}
	if amount.Cmp(decimal.Zero) <= 0 {
		return models.Payment{}, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	var payment models.Payment
	err := e.withRetry(ctx, "apply_payment", func() error {
		var err error
		payment, err = e.applyOnce(ctx, obligationID, amount, meta)
		return err
	})
	return payment, err
}

func (e *Engine) applyOnce(ctx context.Context, obligationID string, amount decimal.Decimal, meta models.PaymentMeta) (models.Payment, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return models.Payment{}, err
	}
	defer tx.Rollback()

	if meta.IdempotencyKey != "" {
		existing, err := tx.FindPaymentByKey(ctx, obligationID, meta.IdempotencyKey)
		if err == nil {
			e.log.Debug().Str("obligation_id", obligationID).
				Str("idempotency_key", meta.IdempotencyKey).Msg("payment replayed")
			return existing, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return models.Payment{}, err
		}
	}

	o, err := tx.GetObligation(ctx, obligationID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return models.Payment{}, &NotFoundError{Kind: "obligation", ID: obligationID}
		}
		return models.Payment{}, err
	}

	newSettled := o.AmountSettled.Add(amount)
	newBalance := o.TotalObligation.Sub(newSettled)
	if e.policy == OverpaymentReject && newBalance.IsNegative() {
		return models.Payment{}, &ValidationError{Field: "amount", Reason: "exceeds remaining balance"}
	}

	now := e.now().UTC()
	prevStatus := o.Status
	o.AmountSettled = newSettled
	o.BalanceRemaining = newBalance
	o.Status = models.DeriveStatus(newBalance, newSettled)
	o.UpdatedAt = now

	payment := models.Payment{
		ID:             uuid.New().String(),
		ObligationID:   obligationID,
		Amount:         amount,
		Method:         meta.Method,
		Reference:      meta.Reference,
		Note:           meta.Note,
		IdempotencyKey: meta.IdempotencyKey,
		CreatedAt:      now,
		CreatedBy:      meta.CreatedBy,
	}

	if err := tx.UpdateObligation(ctx, o); err != nil {
		return models.Payment{}, err
	}
	if err := tx.InsertPayment(ctx, payment); err != nil {
		return models.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Payment{}, err
	}

	e.log.Info().Str("obligation_id", obligationID).Str("payment_id", payment.ID).
		Str("amount", amount.String()).Str("balance", newBalance.String()).
		Str("status", o.Status.String()).Msg("payment applied")

	e.publish(events.TopicPaymentApplied, obligationID, events.PaymentApplied{
		ObligationID:   obligationID,
		PaymentID:      payment.ID,
		Amount:         amount,
		NewBalance:     newBalance,
		PreviousStatus: prevStatus.String(),
		NewStatus:      o.Status.String(),
		OccurredAt:     now,
	})
	return payment, nil
}

// ReversePayment deletes one ledger entry and restores the parent
// aggregates to the state as if the entry never existed, atomically.
func (e *Engine) ReversePayment(ctx context.Context, paymentID string) error {
	if paymentID == "" {
		return &ValidationError{Field: "payment_id", Reason: "must not be empty"}
	}
	return e.withRetry(ctx, "reverse_payment", func() error {
		return e.reverseOnce(ctx, paymentID)
	})
}

func (e *Engine) reverseOnce(ctx context.Context, paymentID string) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := tx.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return &NotFoundError{Kind: "payment", ID: paymentID}
		}
		return err
	}

	// Orphaned entries should not exist if the invariant held, but a
	// missing parent must still come back as a clean not-found.
	o, err := tx.GetObligation(ctx, p.ObligationID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return &NotFoundError{Kind: "obligation", ID: p.ObligationID}
		}
		return err
	}

	newSettled := o.AmountSettled.Sub(p.Amount)
	if newSettled.IsNegative() {
		return ErrInconsistentLedger
	}
	newBalance := o.TotalObligation.Sub(newSettled)

	now := e.now().UTC()
	prevStatus := o.Status
	o.AmountSettled = newSettled
	o.BalanceRemaining = newBalance
	o.Status = models.DeriveStatus(newBalance, newSettled)
	o.UpdatedAt = now

	if err := tx.UpdateObligation(ctx, o); err != nil {
		return err
	}
	if err := tx.DeletePayment(ctx, paymentID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	e.log.Info().Str("obligation_id", o.ID).Str("payment_id", paymentID).
		Str("amount", p.Amount.String()).Str("balance", newBalance.String()).
		Str("status", o.Status.String()).Msg("payment reversed")

	e.publish(events.TopicPaymentReversed, o.ID, events.PaymentReversed{
		ObligationID:   o.ID,
		PaymentID:      paymentID,
		Amount:         p.Amount,
		NewBalance:     newBalance,
		PreviousStatus: prevStatus.String(),
		NewStatus:      o.Status.String(),
		OccurredAt:     now,
	})
	return nil
}

// GetObligation returns the current aggregates for one obligation.
func (e *Engine) GetObligation(ctx context.Context, id string) (models.Obligation, error) {
	o, err := e.store.GetObligation(ctx, id)
	if errors.Is(err, interfaces.ErrNotFound) {
		return models.Obligation{}, &NotFoundError{Kind: "obligation", ID: id}
	}
	return o, err
}

// ListObligations returns all obligations.
func (e *Engine) ListObligations(ctx context.Context) ([]models.Obligation, error) {
	return e.store.ListObligations(ctx)
}

// ListPayments returns the ledger entries for one obligation.
func (e *Engine) ListPayments(ctx context.Context, obligationID string) ([]models.Payment, error) {
	if _, err := e.GetObligation(ctx, obligationID); err != nil {
		return nil, err
	}
	return e.store.ListPayments(ctx, obligationID)
}

// Drift reports how far an obligation's stored aggregates are from the sum
// of its ledger entries.
type Drift struct {
	ObligationID    string
	StoredSettled   decimal.Decimal
	ComputedSettled decimal.Decimal
	InSync          bool
}

// VerifyObligation recomputes the settled total from the entries and
// compares it to the stored aggregate.
func (e *Engine) VerifyObligation(ctx context.Context, id string) (Drift, error) {
	o, err := e.GetObligation(ctx, id)
	if err != nil {
		return Drift{}, err
	}
	entries, err := e.store.ListPayments(ctx, id)
	if err != nil {
		return Drift{}, err
	}
	sum := decimal.Zero
	for _, p := range entries {
		sum = sum.Add(p.Amount)
	}
	return Drift{
		ObligationID:    id,
		StoredSettled:   o.AmountSettled,
		ComputedSettled: sum,
		InSync:          o.AmountSettled.Equal(sum),
	}, nil
}

// withRetry runs op, retrying conflicted transactions with jittered linear
// backoff until the attempt budget runs out.
func (e *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == e.maxAttempts {
			break
		}
		delay := time.Duration(attempt)*e.retryBase + time.Duration(rand.Int63n(int64(e.retryBase)))
		e.log.Warn().Str("op", op).Int("attempt", attempt).Dur("backoff", delay).
			Msg("transaction conflicted, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.log.Error().Str("op", op).Int("attempts", e.maxAttempts).Msg("transaction conflicted, retries exhausted")
	return err
}

func (e *Engine) publish(topic, key string, event any) {
	if err := e.publisher.Publish(topic, key, event); err != nil {
		e.log.Error().Err(err).Str("topic", topic).Msg("event publish failed")
	}
}
