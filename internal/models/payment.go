package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is a single immutable ledger entry applied against an obligation.
// Entries are created by the apply operation and removed by the reverse
// operation; there is no in-place edit — a correction is reverse + re-apply.
type Payment struct {
	ID           string          `json:"id"`
	ObligationID string          `json:"obligation_id"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	Note         string          `json:"note,omitempty"`

	// IdempotencyKey dedupes retried apply requests; empty means no
	// dedupe. Unique per obligation when set.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// PaymentMeta carries the caller-supplied fields of a new payment.
type PaymentMeta struct {
	Method         string
	Reference      string
	Note           string
	IdempotencyKey string
	CreatedBy      string
}
