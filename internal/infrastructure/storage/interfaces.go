// Package storage provides the repository interfaces and the SQLite
// implementation backing the matching engine.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

// Repository is the complete storage surface. The interface split keeps
// domain packages depending only on the slice they use and makes
// testing with the in-memory mock straightforward.
type Repository interface {
	TransactionRepository
	LineItemRepository
	InvoiceRepository
	AliasRepository
	RateRepository
	ConsolidationRepository
	SettingsRepository
	Close() error
}

// TransactionWindow bounds a candidate query by owner, kind, date range
// and absolute amount range.
type TransactionWindow struct {
	OwnerID      uuid.UUID
	Kinds        []model.TransactionKind
	DateFrom     time.Time
	DateTo       time.Time
	MinAmount    int64 // absolute agorot, inclusive
	MaxAmount    int64 // absolute agorot, inclusive
	ExpensesOnly bool
}

// TransactionRepository handles transaction reads and the consolidation
// back-reference write.
type TransactionRepository interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)

	// FindTransactionsByWindow returns transactions inside the window,
	// ordered by date.
	FindTransactionsByWindow(ctx context.Context, w TransactionWindow) ([]*model.Transaction, error)

	// GetTransactionAmounts fetches amounts for many transactions in
	// one query.
	GetTransactionAmounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error)

	// FindUnmatchedCCPurchases returns cc_purchase rows with no parent
	// charge reference yet.
	FindUnmatchedCCPurchases(ctx context.Context, ownerID uuid.UUID) ([]*model.Transaction, error)

	// FindCCChargeTransactions returns bank_cc_charge rows in a date range.
	FindCCChargeTransactions(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]*model.Transaction, error)

	// UpdateConsolidatedTransactions points each purchase at the bank
	// charge that consolidated it.
	UpdateConsolidatedTransactions(ctx context.Context, ids []uuid.UUID, bankChargeID uuid.UUID) error
}

// Link is one line-item-to-transaction link write.
type Link struct {
	LineItemID    uuid.UUID
	TransactionID uuid.UUID
	// Allocation is the partial amount claimed, nil for a full link.
	Allocation *int64
	Method     string
	Confidence *int
}

// LineItemRepository handles line item reads and link state writes.
type LineItemRepository interface {
	GetLineItem(ctx context.Context, id uuid.UUID) (*model.LineItem, error)
	GetLineItemsForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*model.LineItem, error)

	// GetAllocationsForTransactions returns every line item claim on
	// the given transactions, in one query.
	GetAllocationsForTransactions(ctx context.Context, ids []uuid.UUID) ([]model.AllocationRow, error)

	// SaveLink writes link state onto the line item.
	SaveLink(ctx context.Context, link Link) error

	// ClearLink restores the line item's link fields to their
	// unlinked defaults.
	ClearLink(ctx context.Context, lineItemID uuid.UUID) error
}

// InvoiceRepository handles invoice reads.
type InvoiceRepository interface {
	GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error)

	// GetExtractedInvoiceData returns (nil, nil) when no extraction
	// exists for the invoice.
	GetExtractedInvoiceData(ctx context.Context, invoiceID uuid.UUID) (*model.ExtractedInvoiceData, error)
}

// AliasRepository handles vendor alias rules.
type AliasRepository interface {
	GetVendorAliases(ctx context.Context, ownerID uuid.UUID) ([]*model.VendorAlias, error)
	SaveVendorAlias(ctx context.Context, alias *model.VendorAlias) error
}

// RateRepository is the durable exchange-rate store. It matches the
// rates.Store interface so the sqlite repository can be plugged into
// the rate cache directly.
type RateRepository interface {
	GetRate(currency string, date time.Time) (*model.ExchangeRate, error)
	PutRates(rates []model.ExchangeRate) error
}

// ConsolidationRepository persists CC/bank consolidation outcomes.
type ConsolidationRepository interface {
	SaveConsolidationResult(ctx context.Context, result *model.ConsolidationResult) error
	ListConsolidationResults(ctx context.Context, ownerID uuid.UUID) ([]*model.ConsolidationResult, error)
	UpdateConsolidationStatus(ctx context.Context, id uuid.UUID, status model.ConsolidationStatus) error
}

// Thresholds are per-owner classification thresholds.
type Thresholds struct {
	AutoApprove int
	Candidate   int
}

// SettingsRepository reads stored per-owner preferences.
type SettingsRepository interface {
	// GetUserThresholds returns (nil, nil) when the owner has no
	// stored preference; callers fall back to defaults.
	GetUserThresholds(ctx context.Context, ownerID uuid.UUID) (*Thresholds, error)
}
