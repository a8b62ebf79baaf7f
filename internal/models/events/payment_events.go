package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topic names for reconciliation events.
const (
	TopicPaymentApplied  = "ledger.payment_applied"
	TopicPaymentReversed = "ledger.payment_reversed"
)

// PaymentApplied is published after a payment commit. It carries the status
// transition so downstream consumers have an audit trail of why an
// obligation's status changed.
type PaymentApplied struct {
	ObligationID   string          `json:"obligation_id"`
	PaymentID      string          `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	PreviousStatus string          `json:"previous_status"`
	NewStatus      string          `json:"new_status"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// PaymentReversed is published after a reversal commit.
type PaymentReversed struct {
	ObligationID   string          `json:"obligation_id"`
	PaymentID      string          `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	PreviousStatus string          `json:"previous_status"`
	NewStatus      string          `json:"new_status"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
