// Package model defines the core entities shared by the matching,
// allocation and consolidation packages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// HomeCurrency is the currency all bank transaction amounts are recorded in.
const HomeCurrency = "ILS"

// TransactionKind is a closed set of transaction variants.
type TransactionKind string

const (
	// KindBankRegular is an ordinary bank account transaction.
	KindBankRegular TransactionKind = "bank_regular"
	// KindBankCCCharge is a bank transaction that aggregates many
	// credit-card purchases into one statement charge.
	KindBankCCCharge TransactionKind = "bank_cc_charge"
	// KindCCPurchase is an individual credit-card purchase.
	KindCCPurchase TransactionKind = "cc_purchase"
)

// Valid reports whether k is one of the known kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindBankRegular, KindBankCCCharge, KindCCPurchase:
		return true
	}
	return false
}

// Transaction is a bank or credit-card transaction. Amounts are integer
// agorot in the home currency; expenses are negative.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	OwnerID     uuid.UUID       `json:"owner_id"`
	Kind        TransactionKind `json:"kind"`
	Date        time.Time       `json:"date"`
	ValueDate   *time.Time      `json:"value_date,omitempty"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
	Amount      int64           `json:"amount"`
	IsIncome    bool            `json:"is_income"`

	// Original foreign-currency amount, when the bank annotated one.
	ForeignAmount   int64  `json:"foreign_amount,omitempty"`
	ForeignCurrency string `json:"foreign_currency,omitempty"`

	// For cc_purchase rows: the bank charge that consolidated this
	// purchase, once consolidation has run.
	ParentChargeID *uuid.UUID `json:"parent_charge_id,omitempty"`

	// For cc_purchase rows: last four digits of the owning card.
	CardLast4 string `json:"card_last4,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// BestDate returns whichever of the primary and value/charge dates is
// closer to t, falling back to the primary date when no value date exists.
func (tx *Transaction) BestDate(t time.Time) time.Time {
	if tx.ValueDate == nil {
		return tx.Date
	}
	if absDays(t, *tx.ValueDate) < absDays(t, tx.Date) {
		return *tx.ValueDate
	}
	return tx.Date
}

// DayNumber converts a time to a whole civil day count. The calendar
// date is taken in the time's own location, so timestamps on the same
// local day agree regardless of zone offset or DST.
func DayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// DaysBetween returns the absolute distance between two dates in whole
// calendar days.
func DaysBetween(a, b time.Time) int {
	return absDays(a, b)
}

func absDays(a, b time.Time) int {
	d := DayNumber(a) - DayNumber(b)
	if d < 0 {
		d = -d
	}
	return d
}
