package model

import (
	"time"

	"github.com/google/uuid"
)

// ConsolidationStatus is the approval lifecycle of a consolidation match.
type ConsolidationStatus string

const (
	ConsolidationPending  ConsolidationStatus = "pending"
	ConsolidationApproved ConsolidationStatus = "approved"
	ConsolidationRejected ConsolidationStatus = "rejected"
)

// CCGroup is a set of credit-card purchases sharing a card and charge
// date, to be reconciled against one consolidated bank charge.
type CCGroup struct {
	CardLast4    string         `json:"card_last4"`
	ChargeDate   time.Time      `json:"charge_date"`
	Transactions []*Transaction `json:"transactions"`
	TotalAmount  int64          `json:"total_amount"` // sum of absolute amounts, agorot
}

// ConsolidationResult is the persisted outcome of matching a CC group to
// a bank charge. Discrepancy fields compare the group total against the
// bank amount.
type ConsolidationResult struct {
	ID                 uuid.UUID           `json:"id"`
	OwnerID            uuid.UUID           `json:"owner_id"`
	CardLast4          string              `json:"card_last4"`
	ChargeDate         time.Time           `json:"charge_date"`
	BankTransactionID  uuid.UUID           `json:"bank_transaction_id"`
	TransactionCount   int                 `json:"transaction_count"`
	TotalAmount        int64               `json:"total_amount"`
	BankAmount         int64               `json:"bank_amount"`
	DiscrepancyAgorot  int64               `json:"discrepancy_agorot"`
	DiscrepancyPercent float64             `json:"discrepancy_percent"`
	Confidence         int                 `json:"confidence"`
	Status             ConsolidationStatus `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
}
