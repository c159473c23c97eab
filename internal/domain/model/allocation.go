package model

import "github.com/google/uuid"

// AllocationRow is one line item's claim on a transaction's amount, as
// stored. AllocatedAmount is the explicit partial-split amount when one
// was recorded; LineAmount is the line item's own total, used when no
// explicit split exists.
type AllocationRow struct {
	LineItemID      uuid.UUID
	TransactionID   uuid.UUID
	AllocatedAmount int64
	LineAmount      int64
}

// Claim returns the agorot this row consumes from its transaction.
func (r AllocationRow) Claim() int64 {
	if r.AllocatedAmount > 0 {
		return r.AllocatedAmount
	}
	if r.LineAmount < 0 {
		return -r.LineAmount
	}
	return r.LineAmount
}
