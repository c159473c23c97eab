// Package allocation derives how much of each transaction is already
// claimed by line items, supporting many-to-one partial splits.
package allocation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

// Repository is the storage surface the tracker needs. Both queries are
// batched: the tracker issues exactly two regardless of candidate count.
type Repository interface {
	GetTransactionAmounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error)
	GetAllocationsForTransactions(ctx context.Context, ids []uuid.UUID) ([]model.AllocationRow, error)
}

// Info is the allocation state of one transaction.
type Info struct {
	Total            int64 // absolute transaction amount, agorot
	Allocated        int64 // claimed by other line items
	Remaining        int64
	IsFullyAllocated bool
}

// Tracker computes allocation state. It holds no allocation cache:
// concurrent matching runs may change allocations, so sums are
// re-derived from the repository on every call.
type Tracker struct {
	repo Repository
}

// NewTracker creates an allocation tracker.
func NewTracker(repo Repository) *Tracker {
	return &Tracker{repo: repo}
}

// BatchGetAllocationInfo resolves allocation state for many
// transactions in two batched queries. excludeLineItem discounts that
// line item's own existing claim, so re-matching an already linked item
// does not see its own allocation.
func (t *Tracker) BatchGetAllocationInfo(ctx context.Context, ids []uuid.UUID, excludeLineItem uuid.UUID) (map[uuid.UUID]Info, error) {
	out := make(map[uuid.UUID]Info, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	amounts, err := t.repo.GetTransactionAmounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get transaction amounts: %w", err)
	}

	rows, err := t.repo.GetAllocationsForTransactions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get allocations: %w", err)
	}

	claimed := make(map[uuid.UUID]int64, len(ids))
	for _, row := range rows {
		if row.LineItemID == excludeLineItem {
			continue
		}
		claimed[row.TransactionID] += row.Claim()
	}

	for _, id := range ids {
		total := amounts[id]
		if total < 0 {
			total = -total
		}
		allocated := claimed[id]
		remaining := total - allocated
		out[id] = Info{
			Total:            total,
			Allocated:        allocated,
			Remaining:        remaining,
			IsFullyAllocated: remaining <= 0,
		}
	}
	return out, nil
}
