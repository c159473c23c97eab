package model

import (
	"time"

	"github.com/google/uuid"
)

// LinkState tracks how much of a line item has been tied to transactions.
type LinkState string

const (
	LinkStateUnlinked LinkState = "unlinked"
	LinkStateMatched  LinkState = "matched"
	LinkStatePartial  LinkState = "partially_matched"
)

// Match methods recorded on a linked line item.
const (
	MatchMethodManual       = "manual"
	MatchMethodAutoApproved = "auto_approved"
)

// Invoice is an uploaded invoice or receipt.
type Invoice struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	VendorName  string     `json:"vendor_name"`
	InvoiceDate time.Time  `json:"invoice_date"`
	IsIncome    bool       `json:"is_income"`
	Currency    string     `json:"currency"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ExtractedInvoiceData is structured data the extraction pipeline pulled
// out of the uploaded document. All fields are optional.
type ExtractedInvoiceData struct {
	InvoiceID          uuid.UUID  `json:"invoice_id"`
	BillingPeriodStart *time.Time `json:"billing_period_start,omitempty"`
	BillingPeriodEnd   *time.Time `json:"billing_period_end,omitempty"`
	// References extracted per line, keyed by line item ID.
	LineReferences map[uuid.UUID]string `json:"line_references,omitempty"`
}

// LineItem is one row of an invoice. Amount is integer agorot in the
// line item's own currency. Invariant: AllocatedAmount <= abs(Amount).
type LineItem struct {
	ID              uuid.UUID  `json:"id"`
	InvoiceID       uuid.UUID  `json:"invoice_id"`
	Description     string     `json:"description"`
	Reference       string     `json:"reference,omitempty"`
	Currency        string     `json:"currency"`
	Amount          int64      `json:"amount"`
	TransactionDate *time.Time `json:"transaction_date,omitempty"`

	LinkState            LinkState  `json:"link_state"`
	MatchedTransactionID *uuid.UUID `json:"matched_transaction_id,omitempty"`
	AllocatedAmount      int64      `json:"allocated_amount"`
	MatchMethod          string     `json:"match_method,omitempty"`
	MatchConfidence      *int       `json:"match_confidence,omitempty"`
	MatchedAt            *time.Time `json:"matched_at,omitempty"`
}

// EffectiveDate is the line item's own transaction date when present,
// else the invoice date. ok is false when neither side has a date.
func (li *LineItem) EffectiveDate(inv *Invoice) (time.Time, bool) {
	if li.TransactionDate != nil {
		return *li.TransactionDate, true
	}
	if inv != nil && !inv.InvoiceDate.IsZero() {
		return inv.InvoiceDate, true
	}
	return time.Time{}, false
}

// AbsAmount returns the line item amount with the sign stripped.
func (li *LineItem) AbsAmount() int64 {
	if li.Amount < 0 {
		return -li.Amount
	}
	return li.Amount
}

// Linked reports whether the line item is tied to a transaction.
func (li *LineItem) Linked() bool {
	return li.LinkState != LinkStateUnlinked && li.LinkState != ""
}
