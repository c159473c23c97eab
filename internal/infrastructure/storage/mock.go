package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

// MockRepository is an in-memory implementation of Repository for
// testing. It stores all data in maps, making tests fast and isolated.
type MockRepository struct {
	mu sync.Mutex

	Transactions  map[uuid.UUID]*model.Transaction
	LineItems     map[uuid.UUID]*model.LineItem
	Invoices      map[uuid.UUID]*model.Invoice
	Extracted     map[uuid.UUID]*model.ExtractedInvoiceData
	Aliases       map[uuid.UUID][]*model.VendorAlias // keyed by owner
	Rates         map[string]model.ExchangeRate      // keyed by currency|date
	Results       map[uuid.UUID]*model.ConsolidationResult
	UserSettings  map[uuid.UUID]*Thresholds

	// Hooks for test assertions
	SaveLinkCalled        bool
	LastSavedLink         *Link
	ClearLinkCalled       bool
	SaveResultCalled      bool
	LastSavedResult       *model.ConsolidationResult
	ConsolidatedBatches   [][]uuid.UUID
	AmountQueryCount      int
	AllocationQueryCount  int
	SavedAliases          []*model.VendorAlias

	// Error injection for testing error paths
	SaveLinkErr     error
	ClearLinkErr    error
	SaveResultErr   error
	UpdateTxErr     error
	GetAliasesErr   error
	GetRateErr      error
	PutRatesErr     error
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		Transactions: make(map[uuid.UUID]*model.Transaction),
		LineItems:    make(map[uuid.UUID]*model.LineItem),
		Invoices:     make(map[uuid.UUID]*model.Invoice),
		Extracted:    make(map[uuid.UUID]*model.ExtractedInvoiceData),
		Aliases:      make(map[uuid.UUID][]*model.VendorAlias),
		Rates:        make(map[string]model.ExchangeRate),
		Results:      make(map[uuid.UUID]*model.ConsolidationResult),
		UserSettings: make(map[uuid.UUID]*Thresholds),
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error { return nil }

// ---- transactions ----

func (m *MockRepository) GetTransaction(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.Transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	copied := *tx
	return &copied, nil
}

func (m *MockRepository) FindTransactionsByWindow(_ context.Context, w TransactionWindow) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := make(map[model.TransactionKind]bool, len(w.Kinds))
	for _, k := range w.Kinds {
		kinds[k] = true
	}

	var out []*model.Transaction
	for _, tx := range m.Transactions {
		if tx.OwnerID != w.OwnerID {
			continue
		}
		if len(kinds) > 0 && !kinds[tx.Kind] {
			continue
		}
		if !w.DateFrom.IsZero() && tx.Date.Before(w.DateFrom) {
			continue
		}
		if !w.DateTo.IsZero() && tx.Date.After(w.DateTo) {
			continue
		}
		abs := tx.Amount
		if abs < 0 {
			abs = -abs
		}
		if w.MinAmount > 0 && abs < w.MinAmount {
			continue
		}
		if w.MaxAmount > 0 && abs > w.MaxAmount {
			continue
		}
		if w.ExpensesOnly && tx.IsIncome {
			continue
		}
		copied := *tx
		out = append(out, &copied)
	}
	return out, nil
}

func (m *MockRepository) GetTransactionAmounts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AmountQueryCount++
	out := make(map[uuid.UUID]int64, len(ids))
	for _, id := range ids {
		if tx, ok := m.Transactions[id]; ok {
			out[id] = tx.Amount
		}
	}
	return out, nil
}

func (m *MockRepository) FindUnmatchedCCPurchases(_ context.Context, ownerID uuid.UUID) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transaction
	for _, tx := range m.Transactions {
		if tx.OwnerID == ownerID && tx.Kind == model.KindCCPurchase && tx.ParentChargeID == nil {
			copied := *tx
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MockRepository) FindCCChargeTransactions(_ context.Context, ownerID uuid.UUID, from, to time.Time) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transaction
	for _, tx := range m.Transactions {
		if tx.OwnerID != ownerID || tx.Kind != model.KindBankCCCharge {
			continue
		}
		if tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}
		copied := *tx
		out = append(out, &copied)
	}
	return out, nil
}

func (m *MockRepository) UpdateConsolidatedTransactions(_ context.Context, ids []uuid.UUID, bankChargeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateTxErr != nil {
		return m.UpdateTxErr
	}
	batch := make([]uuid.UUID, len(ids))
	copy(batch, ids)
	m.ConsolidatedBatches = append(m.ConsolidatedBatches, batch)
	for _, id := range ids {
		if tx, ok := m.Transactions[id]; ok {
			charge := bankChargeID
			tx.ParentChargeID = &charge
		}
	}
	return nil
}

// ---- line items ----

func (m *MockRepository) GetLineItem(_ context.Context, id uuid.UUID) (*model.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	li, ok := m.LineItems[id]
	if !ok {
		return nil, fmt.Errorf("line item %s not found", id)
	}
	copied := *li
	return &copied, nil
}

func (m *MockRepository) GetLineItemsForInvoice(_ context.Context, invoiceID uuid.UUID) ([]*model.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LineItem
	for _, li := range m.LineItems {
		if li.InvoiceID == invoiceID {
			copied := *li
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MockRepository) GetAllocationsForTransactions(_ context.Context, ids []uuid.UUID) ([]model.AllocationRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AllocationQueryCount++
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []model.AllocationRow
	for _, li := range m.LineItems {
		if li.MatchedTransactionID == nil || !wanted[*li.MatchedTransactionID] {
			continue
		}
		out = append(out, model.AllocationRow{
			LineItemID:      li.ID,
			TransactionID:   *li.MatchedTransactionID,
			AllocatedAmount: li.AllocatedAmount,
			LineAmount:      li.Amount,
		})
	}
	return out, nil
}

func (m *MockRepository) SaveLink(_ context.Context, link Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveLinkCalled = true
	copied := link
	m.LastSavedLink = &copied
	if m.SaveLinkErr != nil {
		return m.SaveLinkErr
	}
	li, ok := m.LineItems[link.LineItemID]
	if !ok {
		return fmt.Errorf("line item %s not found", link.LineItemID)
	}
	txID := link.TransactionID
	li.MatchedTransactionID = &txID
	li.MatchMethod = link.Method
	li.MatchConfidence = link.Confidence
	now := time.Now()
	li.MatchedAt = &now
	if link.Allocation != nil {
		li.AllocatedAmount = *link.Allocation
		li.LinkState = model.LinkStatePartial
	} else {
		li.AllocatedAmount = 0
		li.LinkState = model.LinkStateMatched
	}
	return nil
}

func (m *MockRepository) ClearLink(_ context.Context, lineItemID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearLinkCalled = true
	if m.ClearLinkErr != nil {
		return m.ClearLinkErr
	}
	li, ok := m.LineItems[lineItemID]
	if !ok {
		return fmt.Errorf("line item %s not found", lineItemID)
	}
	li.LinkState = model.LinkStateUnlinked
	li.MatchedTransactionID = nil
	li.AllocatedAmount = 0
	li.MatchMethod = ""
	li.MatchConfidence = nil
	li.MatchedAt = nil
	return nil
}

// ---- invoices ----

func (m *MockRepository) GetInvoice(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.Invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s not found", id)
	}
	copied := *inv
	return &copied, nil
}

func (m *MockRepository) GetExtractedInvoiceData(_ context.Context, invoiceID uuid.UUID) (*model.ExtractedInvoiceData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Extracted[invoiceID]
	if !ok {
		return nil, nil
	}
	copied := *data
	return &copied, nil
}

// ---- vendor aliases ----

func (m *MockRepository) GetVendorAliases(_ context.Context, ownerID uuid.UUID) ([]*model.VendorAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetAliasesErr != nil {
		return nil, m.GetAliasesErr
	}
	return append([]*model.VendorAlias(nil), m.Aliases[ownerID]...), nil
}

func (m *MockRepository) SaveVendorAlias(_ context.Context, alias *model.VendorAlias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SavedAliases = append(m.SavedAliases, alias)
	m.Aliases[alias.OwnerID] = append(m.Aliases[alias.OwnerID], alias)
	return nil
}

// ---- exchange rates ----

func rateKey(currency string, date time.Time) string {
	return currency + "|" + date.In(time.UTC).Format("2006-01-02")
}

func (m *MockRepository) GetRate(currency string, date time.Time) (*model.ExchangeRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetRateErr != nil {
		return nil, m.GetRateErr
	}
	rate, ok := m.Rates[rateKey(currency, date)]
	if !ok {
		return nil, nil
	}
	return &rate, nil
}

func (m *MockRepository) PutRates(rates []model.ExchangeRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutRatesErr != nil {
		return m.PutRatesErr
	}
	for _, r := range rates {
		m.Rates[rateKey(r.Currency, r.Date)] = r
	}
	return nil
}

// ---- consolidation results ----

func (m *MockRepository) SaveConsolidationResult(_ context.Context, result *model.ConsolidationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveResultCalled = true
	copied := *result
	m.LastSavedResult = &copied
	if m.SaveResultErr != nil {
		return m.SaveResultErr
	}
	m.Results[result.ID] = &copied
	return nil
}

func (m *MockRepository) ListConsolidationResults(_ context.Context, ownerID uuid.UUID) ([]*model.ConsolidationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ConsolidationResult
	for _, res := range m.Results {
		if res.OwnerID == ownerID {
			copied := *res
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MockRepository) UpdateConsolidationStatus(_ context.Context, id uuid.UUID, status model.ConsolidationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.Results[id]
	if !ok {
		return fmt.Errorf("consolidation result %s not found", id)
	}
	res.Status = status
	return nil
}

// ---- settings ----

func (m *MockRepository) GetUserThresholds(_ context.Context, ownerID uuid.UUID) (*Thresholds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.UserSettings[ownerID]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}
