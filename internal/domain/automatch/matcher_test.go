package automatch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
	"github.com/eshaffer321/recon-backend/internal/domain/scoring"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/storage"
)

var testDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

// fixture is a mock repository seeded with one owner, one invoice and
// one line item, ready for candidate transactions.
type fixture struct {
	repo    *storage.MockRepository
	ownerID uuid.UUID
	invoice *model.Invoice
	item    *model.LineItem
}

func newFixture() *fixture {
	repo := storage.NewMockRepository()
	ownerID := uuid.New()
	inv := &model.Invoice{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		VendorName:  "Acme Tools",
		InvoiceDate: testDay,
	}
	d := testDay
	li := &model.LineItem{
		ID:              uuid.New(),
		InvoiceID:       inv.ID,
		Description:     "Drill press",
		Currency:        model.HomeCurrency,
		Amount:          -10000,
		TransactionDate: &d,
		LinkState:       model.LinkStateUnlinked,
	}
	repo.Invoices[inv.ID] = inv
	repo.LineItems[li.ID] = li
	return &fixture{repo: repo, ownerID: ownerID, invoice: inv, item: li}
}

// addTransaction seeds an expense bank transaction with an unrelated
// description, so only amount/date/currency signals contribute.
func (f *fixture) addTransaction(amount int64, date time.Time) *model.Transaction {
	tx := &model.Transaction{
		ID:          uuid.New(),
		OwnerID:     f.ownerID,
		Kind:        model.KindBankRegular,
		Date:        date,
		Description: "misc purchase 4471",
		Amount:      amount,
	}
	f.repo.Transactions[tx.ID] = tx
	return tx
}

func (f *fixture) setThresholds(autoApprove, candidate int) {
	f.repo.UserSettings[f.ownerID] = &storage.Thresholds{AutoApprove: autoApprove, Candidate: candidate}
}

func newTestMatcher(repo storage.Repository, opts Options) *Matcher {
	return NewMatcher(repo, scoring.NewEngine(), nil, slog.Default(), opts)
}

// An exact-amount, same-day, home-currency transaction with no vendor
// or reference signal scores raw 65 of 90, normalizing to 72.
const unrelatedVendorScore = 72

func TestClassificationBoundaries(t *testing.T) {
	t.Run("score at auto-approve threshold is auto_matched", func(t *testing.T) {
		f := newFixture()
		f.addTransaction(-10000, testDay)
		f.setThresholds(unrelatedVendorScore, 50)
		m := newTestMatcher(f.repo, Options{})

		result, err := m.GetCandidates(context.Background(), f.item.ID)

		require.NoError(t, err)
		require.NotNil(t, result.Best)
		assert.Equal(t, unrelatedVendorScore, result.Best.Score.Total)
		assert.Equal(t, OutcomeAutoMatched, result.Outcome)
	})

	t.Run("one point below auto-approve is candidate", func(t *testing.T) {
		f := newFixture()
		f.addTransaction(-10000, testDay)
		f.setThresholds(unrelatedVendorScore+1, unrelatedVendorScore)
		m := newTestMatcher(f.repo, Options{})

		result, err := m.GetCandidates(context.Background(), f.item.ID)

		require.NoError(t, err)
		assert.Equal(t, OutcomeCandidate, result.Outcome)
	})

	t.Run("one point below candidate threshold is no_match", func(t *testing.T) {
		f := newFixture()
		f.addTransaction(-10000, testDay)
		f.setThresholds(unrelatedVendorScore+2, unrelatedVendorScore+1)
		m := newTestMatcher(f.repo, Options{})

		result, err := m.GetCandidates(context.Background(), f.item.ID)

		require.NoError(t, err)
		assert.Equal(t, OutcomeNoMatch, result.Outcome)
		assert.Empty(t, result.Candidates)
	})
}

func TestCandidatesSortedAndCapped(t *testing.T) {
	f := newFixture()
	// Twelve near matches and one exact match.
	for i := 0; i < 12; i++ {
		f.addTransaction(-10400, testDay.AddDate(0, 0, 3))
	}
	exact := f.addTransaction(-10000, testDay)
	f.setThresholds(95, 10)
	m := newTestMatcher(f.repo, Options{})

	result, err := m.GetCandidates(context.Background(), f.item.ID)

	require.NoError(t, err)
	assert.Len(t, result.Candidates, 10)
	assert.Equal(t, exact.ID, result.Candidates[0].Transaction.ID)
	for i := 1; i < len(result.Candidates); i++ {
		assert.LessOrEqual(t,
			result.Candidates[i].Score.Total,
			result.Candidates[i-1].Score.Total)
	}
}

func TestFullyAllocatedTransactionsExcluded(t *testing.T) {
	f := newFixture()
	tx := f.addTransaction(-10000, testDay)

	// Another line item already claims the whole transaction.
	other := &model.LineItem{
		ID:                   uuid.New(),
		InvoiceID:            f.invoice.ID,
		Currency:             model.HomeCurrency,
		Amount:               -10000,
		LinkState:            model.LinkStateMatched,
		MatchedTransactionID: &tx.ID,
	}
	f.repo.LineItems[other.ID] = other
	f.setThresholds(95, 10)
	m := newTestMatcher(f.repo, Options{})

	result, err := m.GetCandidates(context.Background(), f.item.ID)

	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
	assert.Equal(t, OutcomeNoMatch, result.Outcome)
}

func TestIncomeAndAggregateKindsNeverSurface(t *testing.T) {
	f := newFixture()
	income := f.addTransaction(-10000, testDay)
	income.IsIncome = true
	charge := f.addTransaction(-10000, testDay)
	charge.Kind = model.KindBankCCCharge
	f.setThresholds(95, 10)
	m := newTestMatcher(f.repo, Options{})

	result, err := m.GetCandidates(context.Background(), f.item.ID)

	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestAutoMatchLineItemSkipsLinked(t *testing.T) {
	f := newFixture()
	txID := uuid.New()
	f.item.LinkState = model.LinkStateMatched
	f.item.MatchedTransactionID = &txID
	m := newTestMatcher(f.repo, Options{})

	result, err := m.AutoMatchLineItem(context.Background(), f.item.ID)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
}

func TestForceRematchScoresLinkedItems(t *testing.T) {
	f := newFixture()
	tx := f.addTransaction(-10000, testDay)
	f.item.LinkState = model.LinkStateMatched
	f.item.MatchedTransactionID = &tx.ID
	f.setThresholds(95, 10)
	m := newTestMatcher(f.repo, Options{ForceRematch: true})

	result, err := m.AutoMatchLineItem(context.Background(), f.item.ID)

	require.NoError(t, err)
	assert.NotEqual(t, OutcomeSkipped, result.Outcome)
	// The item's own existing claim must not block its own rematch.
	require.NotEmpty(t, result.Candidates)
	assert.Equal(t, tx.ID, result.Candidates[0].Transaction.ID)
}

func TestApplyAutoMatchesForInvoice(t *testing.T) {
	f := newFixture()
	f.addTransaction(-10000, testDay)

	d := testDay
	second := &model.LineItem{
		ID:              uuid.New(),
		InvoiceID:       f.invoice.ID,
		Description:     "Saw blades",
		Currency:        model.HomeCurrency,
		Amount:          -99999,
		TransactionDate: &d,
		LinkState:       model.LinkStateUnlinked,
	}
	f.repo.LineItems[second.ID] = second

	f.setThresholds(unrelatedVendorScore, 10)
	m := newTestMatcher(f.repo, Options{})

	summary, err := m.ApplyAutoMatchesForInvoice(context.Background(), f.invoice.ID)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.AutoMatched)

	// The matched item's link was persisted with the recorded
	// confidence and the auto-approved method.
	li := f.repo.LineItems[f.item.ID]
	assert.Equal(t, model.LinkStateMatched, li.LinkState)
	assert.Equal(t, model.MatchMethodAutoApproved, li.MatchMethod)
	require.NotNil(t, li.MatchConfidence)
	assert.Equal(t, unrelatedVendorScore, *li.MatchConfidence)

	// The unmatched item stayed untouched.
	assert.Equal(t, model.LinkStateUnlinked, f.repo.LineItems[second.ID].LinkState)
}

func TestManualLinkValidatesAllocation(t *testing.T) {
	f := newFixture()
	tx := f.addTransaction(-10000, testDay)
	m := newTestMatcher(f.repo, Options{})

	t.Run("allocation above line amount rejected", func(t *testing.T) {
		alloc := int64(20000)
		err := m.LinkLineItemToTransaction(context.Background(), f.item.ID, tx.ID, &alloc)
		assert.Error(t, err)
	})

	t.Run("non-positive allocation rejected", func(t *testing.T) {
		alloc := int64(0)
		err := m.LinkLineItemToTransaction(context.Background(), f.item.ID, tx.ID, &alloc)
		assert.Error(t, err)
	})

	t.Run("partial allocation records partial state", func(t *testing.T) {
		alloc := int64(4000)
		err := m.LinkLineItemToTransaction(context.Background(), f.item.ID, tx.ID, &alloc)
		require.NoError(t, err)

		li := f.repo.LineItems[f.item.ID]
		assert.Equal(t, model.LinkStatePartial, li.LinkState)
		assert.Equal(t, int64(4000), li.AllocatedAmount)
		assert.Equal(t, model.MatchMethodManual, li.MatchMethod)
	})
}

func TestLinkUnlinkRoundTrip(t *testing.T) {
	f := newFixture()
	tx := f.addTransaction(-10000, testDay)
	m := newTestMatcher(f.repo, Options{})

	require.NoError(t, m.LinkLineItemToTransaction(context.Background(), f.item.ID, tx.ID, nil))

	linked := f.repo.LineItems[f.item.ID]
	assert.Equal(t, model.LinkStateMatched, linked.LinkState)
	require.NotNil(t, linked.MatchedTransactionID)
	assert.NotNil(t, linked.MatchedAt)

	require.NoError(t, m.UnlinkLineItemFromTransaction(context.Background(), f.item.ID))

	unlinked := f.repo.LineItems[f.item.ID]
	assert.Equal(t, model.LinkStateUnlinked, unlinked.LinkState)
	assert.Nil(t, unlinked.MatchedTransactionID)
	assert.Zero(t, unlinked.AllocatedAmount)
	assert.Empty(t, unlinked.MatchMethod)
	assert.Nil(t, unlinked.MatchConfidence)
	assert.Nil(t, unlinked.MatchedAt)
}

func TestUnlinkRequiresExistingLink(t *testing.T) {
	f := newFixture()
	m := newTestMatcher(f.repo, Options{})

	err := m.UnlinkLineItemFromTransaction(context.Background(), f.item.ID)
	assert.Error(t, err)
}
