// Package dto defines the request and response shapes of the HTTP API.
package dto

// LinkRequest links a line item to a transaction, optionally claiming
// only part of the transaction's amount.
type LinkRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Allocation    *int64 `json:"allocation,omitempty"`
}

// ApplyMatchRequest persists a previously surfaced auto-match candidate.
type ApplyMatchRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Confidence    int    `json:"confidence"`
}

// ConsolidationRunRequest starts a consolidation run for one owner.
type ConsolidationRunRequest struct {
	OwnerID string `json:"owner_id" binding:"required"`
}

// LearnAliasRequest proposes a learned vendor alias from a confirmed
// manual match.
type LearnAliasRequest struct {
	OwnerID                string `json:"owner_id" binding:"required"`
	VendorName             string `json:"vendor_name" binding:"required"`
	TransactionDescription string `json:"transaction_description" binding:"required"`
}
