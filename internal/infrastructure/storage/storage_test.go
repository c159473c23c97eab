package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "recon_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertTransaction(t *testing.T, s *Storage, tx *model.Transaction) {
	t.Helper()
	var valueDate interface{}
	if tx.ValueDate != nil {
		valueDate = *tx.ValueDate
	}
	var parent interface{}
	if tx.ParentChargeID != nil {
		parent = tx.ParentChargeID.String()
	}
	_, err := s.db.Exec(
		`INSERT INTO transactions
		 (id, owner_id, kind, date, value_date, description, reference, amount,
		  is_income, foreign_amount, foreign_currency, parent_charge_id, card_last4)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID.String(), tx.OwnerID.String(), string(tx.Kind), tx.Date, valueDate,
		tx.Description, tx.Reference, tx.Amount, tx.IsIncome,
		tx.ForeignAmount, tx.ForeignCurrency, parent, tx.CardLast4)
	require.NoError(t, err)
}

func insertInvoice(t *testing.T, s *Storage, inv *model.Invoice) {
	t.Helper()
	_, err := s.db.Exec(
		`INSERT INTO invoices (id, owner_id, vendor_name, invoice_date, is_income, currency)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID.String(), inv.OwnerID.String(), inv.VendorName, inv.InvoiceDate,
		inv.IsIncome, inv.Currency)
	require.NoError(t, err)
}

func insertLineItem(t *testing.T, s *Storage, li *model.LineItem) {
	t.Helper()
	var txDate interface{}
	if li.TransactionDate != nil {
		txDate = *li.TransactionDate
	}
	_, err := s.db.Exec(
		`INSERT INTO line_items (id, invoice_id, description, reference, currency, amount, transaction_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		li.ID.String(), li.InvoiceID.String(), li.Description, li.Reference,
		li.Currency, li.Amount, txDate)
	require.NoError(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "recon_test.db")

	store, err := NewStorage(dbPath)
	require.NoError(t, err)

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, len(allMigrations), count)
	require.NoError(t, store.Close())

	// Reopening the same database must not re-run migrations.
	store, err = NewStorage(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, len(allMigrations), count)
}

func TestTransactionRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	valueDate := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	tx := &model.Transaction{
		ID:              uuid.New(),
		OwnerID:         uuid.New(),
		Kind:            model.KindCCPurchase,
		Date:            time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		ValueDate:       &valueDate,
		Description:     "שופרסל דיל תל אביב",
		Reference:       "INV-2231",
		Amount:          -4550,
		ForeignAmount:   0,
		ForeignCurrency: "",
		CardLast4:       "1234",
	}
	insertTransaction(t, store, tx)

	got, err := store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, model.KindCCPurchase, got.Kind)
	assert.Equal(t, tx.Description, got.Description)
	assert.Equal(t, int64(-4550), got.Amount)
	require.NotNil(t, got.ValueDate)
	assert.True(t, got.ValueDate.Equal(valueDate))
	assert.Nil(t, got.ParentChargeID)
	assert.Equal(t, "1234", got.CardLast4)

	_, err = store.GetTransaction(ctx, uuid.New())
	assert.Error(t, err)
}

func TestFindTransactionsByWindow(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	ownerID := uuid.New()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	add := func(kind model.TransactionKind, amount int64, date time.Time, income bool) uuid.UUID {
		tx := &model.Transaction{
			ID: uuid.New(), OwnerID: ownerID, Kind: kind,
			Date: date, Amount: amount, IsIncome: income,
		}
		insertTransaction(t, store, tx)
		return tx.ID
	}

	want := add(model.KindBankRegular, -10000, day, false)
	add(model.KindBankCCCharge, -10000, day, false)            // wrong kind
	add(model.KindBankRegular, -10000, day.AddDate(0, 2, 0), false) // outside window
	add(model.KindBankRegular, -400, day, false)               // below amount floor
	add(model.KindBankRegular, -10000, day, true)              // income

	got, err := store.FindTransactionsByWindow(ctx, TransactionWindow{
		OwnerID:      ownerID,
		Kinds:        []model.TransactionKind{model.KindBankRegular, model.KindCCPurchase},
		DateFrom:     day.AddDate(0, 0, -30),
		DateTo:       day.AddDate(0, 0, 30),
		MinAmount:    5000,
		MaxAmount:    15000,
		ExpensesOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0].ID)
}

func TestSaveAndClearLink(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	inv := &model.Invoice{ID: uuid.New(), OwnerID: uuid.New(), VendorName: "Acme", InvoiceDate: time.Now().UTC(), Currency: model.HomeCurrency}
	insertInvoice(t, store, inv)
	li := &model.LineItem{ID: uuid.New(), InvoiceID: inv.ID, Description: "Drill", Currency: model.HomeCurrency, Amount: -9000}
	insertLineItem(t, store, li)
	txID := uuid.New()

	confidence := 91
	allocation := int64(4000)
	require.NoError(t, store.SaveLink(ctx, Link{
		LineItemID:    li.ID,
		TransactionID: txID,
		Allocation:    &allocation,
		Method:        model.MatchMethodManual,
		Confidence:    &confidence,
	}))

	got, err := store.GetLineItem(ctx, li.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkStatePartial, got.LinkState)
	require.NotNil(t, got.MatchedTransactionID)
	assert.Equal(t, txID, *got.MatchedTransactionID)
	assert.Equal(t, int64(4000), got.AllocatedAmount)
	assert.Equal(t, model.MatchMethodManual, got.MatchMethod)
	require.NotNil(t, got.MatchConfidence)
	assert.Equal(t, 91, *got.MatchConfidence)
	assert.NotNil(t, got.MatchedAt)

	require.NoError(t, store.ClearLink(ctx, li.ID))

	got, err = store.GetLineItem(ctx, li.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkStateUnlinked, got.LinkState)
	assert.Nil(t, got.MatchedTransactionID)
	assert.Zero(t, got.AllocatedAmount)
	assert.Empty(t, got.MatchMethod)
	assert.Nil(t, got.MatchConfidence)
	assert.Nil(t, got.MatchedAt)
}

func TestSaveLinkUnknownLineItem(t *testing.T) {
	store := newTestStorage(t)
	err := store.SaveLink(context.Background(), Link{LineItemID: uuid.New(), TransactionID: uuid.New()})
	assert.Error(t, err)
}

func TestGetAllocationsForTransactions(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	inv := &model.Invoice{ID: uuid.New(), OwnerID: uuid.New(), VendorName: "Acme", InvoiceDate: time.Now().UTC(), Currency: model.HomeCurrency}
	insertInvoice(t, store, inv)
	txID := uuid.New()

	first := &model.LineItem{ID: uuid.New(), InvoiceID: inv.ID, Currency: model.HomeCurrency, Amount: -6000}
	second := &model.LineItem{ID: uuid.New(), InvoiceID: inv.ID, Currency: model.HomeCurrency, Amount: -3000}
	unrelated := &model.LineItem{ID: uuid.New(), InvoiceID: inv.ID, Currency: model.HomeCurrency, Amount: -1000}
	insertLineItem(t, store, first)
	insertLineItem(t, store, second)
	insertLineItem(t, store, unrelated)

	partial := int64(2500)
	require.NoError(t, store.SaveLink(ctx, Link{LineItemID: first.ID, TransactionID: txID}))
	require.NoError(t, store.SaveLink(ctx, Link{LineItemID: second.ID, TransactionID: txID, Allocation: &partial}))
	require.NoError(t, store.SaveLink(ctx, Link{LineItemID: unrelated.ID, TransactionID: uuid.New()}))

	rows, err := store.GetAllocationsForTransactions(ctx, []uuid.UUID{txID})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	claims := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		claims[row.LineItemID] = row.Claim()
	}
	assert.Equal(t, int64(6000), claims[first.ID])
	assert.Equal(t, int64(2500), claims[second.ID])
}

func TestVendorAliasesOrderedByPriority(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	ownerID := uuid.New()

	low := &model.VendorAlias{
		ID: uuid.New(), OwnerID: ownerID, Pattern: "amzn",
		MatchType: model.AliasMatchContains, CanonicalName: "Amazon",
		Priority: 10, Source: model.AliasSourceUser, CreatedAt: time.Now().UTC(),
	}
	high := &model.VendorAlias{
		ID: uuid.New(), OwnerID: ownerID, Pattern: "amazon prime",
		MatchType: model.AliasMatchContains, CanonicalName: "Amazon",
		Priority: 90, Source: model.AliasSourceLearned, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveVendorAlias(ctx, low))
	require.NoError(t, store.SaveVendorAlias(ctx, high))

	// Aliases belong to their owner only.
	other := &model.VendorAlias{
		ID: uuid.New(), OwnerID: uuid.New(), Pattern: "netflix",
		MatchType: model.AliasMatchContains, CanonicalName: "Netflix",
		Priority: 50, Source: model.AliasSourceUser, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveVendorAlias(ctx, other))

	got, err := store.GetVendorAliases(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, high.ID, got[0].ID)
	assert.Equal(t, low.ID, got[1].ID)
	assert.Equal(t, model.AliasSourceLearned, got[0].Source)
}

func TestRatesRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	missing, err := store.GetRate("USD", day)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.PutRates([]model.ExchangeRate{
		{Currency: "USD", Date: day, Rate: 3.62, Unit: 1, FetchedAt: time.Now().UTC()},
		{Currency: "EUR", Date: day, Rate: 3.95, Unit: 1, FetchedAt: time.Now().UTC()},
	}))

	got, err := store.GetRate("USD", day)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "USD", got.Currency)
	assert.InDelta(t, 3.62, got.Rate, 1e-9)
	assert.True(t, got.Date.Equal(day))
}

func TestConsolidationResultLifecycle(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	ownerID := uuid.New()
	day := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)

	older := &model.ConsolidationResult{
		ID: uuid.New(), OwnerID: ownerID, CardLast4: "1234", ChargeDate: day,
		BankTransactionID: uuid.New(), TransactionCount: 3,
		TotalAmount: 12000, BankAmount: 12100,
		DiscrepancyAgorot: 100, DiscrepancyPercent: 0.83, Confidence: 97,
		Status: model.ConsolidationPending, CreatedAt: day,
	}
	newer := &model.ConsolidationResult{
		ID: uuid.New(), OwnerID: ownerID, CardLast4: "5678", ChargeDate: day,
		BankTransactionID: uuid.New(), TransactionCount: 1,
		TotalAmount: 5000, BankAmount: 5000,
		Confidence: 100, Status: model.ConsolidationPending,
		CreatedAt: day.AddDate(0, 0, 1),
	}
	require.NoError(t, store.SaveConsolidationResult(ctx, older))
	require.NoError(t, store.SaveConsolidationResult(ctx, newer))

	got, err := store.ListConsolidationResults(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, int64(100), got[1].DiscrepancyAgorot)

	require.NoError(t, store.UpdateConsolidationStatus(ctx, older.ID, model.ConsolidationApproved))
	got, err = store.ListConsolidationResults(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, model.ConsolidationApproved, got[1].Status)

	assert.Error(t, store.UpdateConsolidationStatus(ctx, uuid.New(), model.ConsolidationRejected))
}

func TestGetUserThresholds(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	ownerID := uuid.New()

	got, err := store.GetUserThresholds(ctx, ownerID)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = store.db.Exec(
		`INSERT INTO user_settings (owner_id, auto_approve_threshold, candidate_threshold) VALUES (?, ?, ?)`,
		ownerID.String(), 90, 60)
	require.NoError(t, err)

	got, err = store.GetUserThresholds(ctx, ownerID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 90, got.AutoApprove)
	assert.Equal(t, 60, got.Candidate)
}

func TestGetExtractedInvoiceData(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	inv := &model.Invoice{ID: uuid.New(), OwnerID: uuid.New(), VendorName: "Acme", InvoiceDate: time.Now().UTC(), Currency: model.HomeCurrency}
	insertInvoice(t, store, inv)

	got, err := store.GetExtractedInvoiceData(ctx, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	lineID := uuid.New()
	_, err = store.db.Exec(
		`INSERT INTO extracted_invoice_data (invoice_id, line_references_json) VALUES (?, ?)`,
		inv.ID.String(), `{"`+lineID.String()+`":"REF-88"}`)
	require.NoError(t, err)

	got, err = store.GetExtractedInvoiceData(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "REF-88", got.LineReferences[lineID])
}
