package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ObligationKind distinguishes the parent record types that share the same
// settlement ledger pattern.
type ObligationKind string

const (
	KindPurchaseInvoice  ObligationKind = "purchase_invoice"
	KindConsignmentOrder ObligationKind = "consignment_order"
)

// IsValid reports whether k is a known obligation kind.
func (k ObligationKind) IsValid() bool {
	switch k {
	case KindPurchaseInvoice, KindConsignmentOrder:
		return true
	}
	return false
}

// SettlementStatus describes how much of an obligation remains unpaid.
type SettlementStatus string

const (
	StatusUnpaid        SettlementStatus = "unpaid"
	StatusPartiallyPaid SettlementStatus = "partially_paid"
	StatusPaid          SettlementStatus = "paid"
)

func (s SettlementStatus) String() string { return string(s) }

// IsValid reports whether s is a known settlement status.
func (s SettlementStatus) IsValid() bool {
	switch s {
	case StatusUnpaid, StatusPartiallyPaid, StatusPaid:
		return true
	}
	return false
}

// DeriveStatus is the single source of truth for settlement status.
// Status is never set from caller input; it is always recomputed from the
// aggregates after a reconciliation.
func DeriveStatus(balanceRemaining, amountSettled decimal.Decimal) SettlementStatus {
	if balanceRemaining.Cmp(decimal.Zero) <= 0 {
		return StatusPaid
	}
	if amountSettled.Cmp(decimal.Zero) > 0 {
		return StatusPartiallyPaid
	}
	return StatusUnpaid
}

// Obligation is a parent record payments settle against: a purchase invoice
// or a consignment order. TotalObligation is fixed at creation;
// AmountSettled, BalanceRemaining and Status are maintained only by the
// reconciliation engine, never written directly by any other code path.
type Obligation struct {
	ID               string           `json:"id"`
	Kind             ObligationKind   `json:"kind"`
	Counterparty     string           `json:"counterparty"`
	TotalObligation  decimal.Decimal  `json:"total_obligation"`
	AmountSettled    decimal.Decimal  `json:"amount_settled"`
	BalanceRemaining decimal.Decimal  `json:"balance_remaining"`
	Status           SettlementStatus `json:"status"`

	// Version is the optimistic-concurrency token; every committed
	// reconciliation increments it.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
