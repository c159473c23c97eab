package automatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/eshaffer321/recon-backend/internal/domain/allocation"
	"github.com/eshaffer321/recon-backend/internal/domain/model"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/storage"
)

// ItemOutcome reports how one line item fared during an invoice run.
type ItemOutcome struct {
	LineItemID    uuid.UUID  `json:"line_item_id"`
	Outcome       Outcome    `json:"outcome"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Confidence    *int       `json:"confidence,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// InvoiceSummary aggregates an invoice-wide matching run.
type InvoiceSummary struct {
	InvoiceID   uuid.UUID     `json:"invoice_id"`
	Total       int           `json:"total"`
	AutoMatched int           `json:"auto_matched"`
	Candidates  int           `json:"candidates"`
	NoMatch     int           `json:"no_match"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Items       []ItemOutcome `json:"items"`
}

// AutoMatchLineItem classifies one line item. Already linked items are
// skipped unless ForceRematch is set. Nothing is persisted; use
// ApplyAutoMatch to write the link.
func (m *Matcher) AutoMatchLineItem(ctx context.Context, lineItemID uuid.UUID) (*MatchResult, error) {
	li, err := m.repo.GetLineItem(ctx, lineItemID)
	if err != nil {
		return nil, fmt.Errorf("get line item: %w", err)
	}
	if li.Linked() && !m.opts.ForceRematch {
		return &MatchResult{LineItemID: lineItemID, Outcome: OutcomeSkipped}, nil
	}
	ic, err := m.loadInvoiceContext(ctx, li.InvoiceID)
	if err != nil {
		return nil, err
	}
	return m.classify(ctx, li, ic)
}

// AutoMatchInvoice classifies every line item of an invoice, fetching
// invoice-level context once for the whole run. One item's failure does
// not stop the rest.
func (m *Matcher) AutoMatchInvoice(ctx context.Context, invoiceID uuid.UUID) (*InvoiceSummary, error) {
	ic, err := m.loadInvoiceContext(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	items, err := m.repo.GetLineItemsForInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("get line items: %w", err)
	}

	summary := &InvoiceSummary{InvoiceID: invoiceID, Total: len(items)}
	for _, li := range items {
		outcome := ItemOutcome{LineItemID: li.ID}

		if li.Linked() && !m.opts.ForceRematch {
			outcome.Outcome = OutcomeSkipped
			summary.Skipped++
			summary.Items = append(summary.Items, outcome)
			continue
		}

		result, err := m.classify(ctx, li, ic)
		if err != nil {
			summary.Failed++
			outcome.Error = err.Error()
			summary.Items = append(summary.Items, outcome)
			m.logger.Warn("line item classification failed", "line_item_id", li.ID, "error", err)
			continue
		}

		outcome.Outcome = result.Outcome
		if result.Best != nil {
			txID := result.Best.Transaction.ID
			conf := result.Best.Score.Total
			outcome.TransactionID = &txID
			outcome.Confidence = &conf
		}
		switch result.Outcome {
		case OutcomeAutoMatched:
			summary.AutoMatched++
		case OutcomeCandidate:
			summary.Candidates++
		default:
			summary.NoMatch++
		}
		summary.Items = append(summary.Items, outcome)
	}

	m.logger.Info("invoice classification finished",
		"invoice_id", invoiceID,
		"total", summary.Total,
		"auto_matched", summary.AutoMatched,
		"candidates", summary.Candidates,
		"no_match", summary.NoMatch,
		"skipped", summary.Skipped,
		"failed", summary.Failed)
	return summary, nil
}

// ApplyAutoMatch links a line item to a transaction chosen by a prior
// classification run, re-validating allocation state at write time.
func (m *Matcher) ApplyAutoMatch(ctx context.Context, lineItemID, transactionID uuid.UUID, confidence int) error {
	li, err := m.repo.GetLineItem(ctx, lineItemID)
	if err != nil {
		return fmt.Errorf("get line item: %w", err)
	}
	if _, err := m.repo.GetTransaction(ctx, transactionID); err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	info, err := m.allocationInfo(ctx, li.ID, transactionID)
	if err != nil {
		return err
	}
	if info.IsFullyAllocated {
		return fmt.Errorf("transaction %s is fully allocated", transactionID)
	}

	link := storage.Link{
		LineItemID:    lineItemID,
		TransactionID: transactionID,
		Method:        model.MatchMethodAutoApproved,
		Confidence:    &confidence,
	}
	// A line item larger than the transaction's remaining headroom
	// claims only that headroom.
	if info.Remaining < li.AbsAmount() {
		alloc := info.Remaining
		link.Allocation = &alloc
	}
	if err := m.repo.SaveLink(ctx, link); err != nil {
		return fmt.Errorf("save link: %w", err)
	}
	m.logger.Info("line item auto matched",
		"line_item_id", lineItemID,
		"transaction_id", transactionID,
		"confidence", confidence)
	return nil
}

// ApplyAutoMatchesForInvoice classifies an invoice and persists only
// the auto_matched outcomes, reporting per-item success or failure
// without aborting the batch on one failure.
func (m *Matcher) ApplyAutoMatchesForInvoice(ctx context.Context, invoiceID uuid.UUID) (*InvoiceSummary, error) {
	summary, err := m.AutoMatchInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	for i := range summary.Items {
		item := &summary.Items[i]
		if item.Outcome != OutcomeAutoMatched || item.TransactionID == nil {
			continue
		}
		conf := 0
		if item.Confidence != nil {
			conf = *item.Confidence
		}
		if err := m.ApplyAutoMatch(ctx, item.LineItemID, *item.TransactionID, conf); err != nil {
			item.Error = err.Error()
			summary.AutoMatched--
			summary.Failed++
			m.logger.Warn("apply auto match failed", "line_item_id", item.LineItemID, "error", err)
		}
	}
	return summary, nil
}

// LinkLineItemToTransaction records a manual link. A nil allocation
// claims the full line amount; a partial allocation must fit both the
// line amount and the transaction's remaining headroom.
func (m *Matcher) LinkLineItemToTransaction(ctx context.Context, lineItemID, transactionID uuid.UUID, allocationAmount *int64) error {
	li, err := m.repo.GetLineItem(ctx, lineItemID)
	if err != nil {
		return fmt.Errorf("get line item: %w", err)
	}
	if _, err := m.repo.GetTransaction(ctx, transactionID); err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	info, err := m.allocationInfo(ctx, li.ID, transactionID)
	if err != nil {
		return err
	}

	claim := li.AbsAmount()
	if allocationAmount != nil {
		if *allocationAmount <= 0 {
			return fmt.Errorf("allocation must be positive, got %d", *allocationAmount)
		}
		if *allocationAmount > li.AbsAmount() {
			return fmt.Errorf("allocation %d exceeds line amount %d", *allocationAmount, li.AbsAmount())
		}
		claim = *allocationAmount
	}
	if claim > info.Remaining {
		return fmt.Errorf("allocation %d exceeds remaining transaction amount %d", claim, info.Remaining)
	}

	link := storage.Link{
		LineItemID:    lineItemID,
		TransactionID: transactionID,
		Allocation:    allocationAmount,
		Method:        model.MatchMethodManual,
	}
	if err := m.repo.SaveLink(ctx, link); err != nil {
		return fmt.Errorf("save link: %w", err)
	}
	m.logger.Info("line item linked",
		"line_item_id", lineItemID, "transaction_id", transactionID, "method", model.MatchMethodManual)
	return nil
}

// UnlinkLineItemFromTransaction clears a line item's link state.
func (m *Matcher) UnlinkLineItemFromTransaction(ctx context.Context, lineItemID uuid.UUID) error {
	li, err := m.repo.GetLineItem(ctx, lineItemID)
	if err != nil {
		return fmt.Errorf("get line item: %w", err)
	}
	if !li.Linked() {
		return fmt.Errorf("line item %s is not linked", lineItemID)
	}
	if err := m.repo.ClearLink(ctx, lineItemID); err != nil {
		return fmt.Errorf("clear link: %w", err)
	}
	m.logger.Info("line item unlinked", "line_item_id", lineItemID)
	return nil
}

func (m *Matcher) allocationInfo(ctx context.Context, lineItemID, transactionID uuid.UUID) (allocation.Info, error) {
	infos, err := m.tracker.BatchGetAllocationInfo(ctx, []uuid.UUID{transactionID}, lineItemID)
	if err != nil {
		return allocation.Info{}, fmt.Errorf("allocation info: %w", err)
	}
	return infos[transactionID], nil
}
