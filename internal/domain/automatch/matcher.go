// Package automatch orchestrates candidate retrieval, scoring and link
// writes for line-item-to-transaction matching.
package automatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/recon-backend/internal/domain/allocation"
	"github.com/eshaffer321/recon-backend/internal/domain/model"
	"github.com/eshaffer321/recon-backend/internal/domain/scoring"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/rates"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/storage"
)

// Options tune candidate retrieval and classification.
type Options struct {
	// DateRangeDays bounds the candidate window on each side of the
	// line item's effective date.
	DateRangeDays int
	// AmountTolerance widens the candidate amount window on each side,
	// as a fraction of the line amount.
	AmountTolerance float64
	// AutoApproveThreshold is the minimum score for an automatic link.
	AutoApproveThreshold int
	// CandidateThreshold is the minimum score to surface for review.
	CandidateThreshold int
	// MaxCandidates caps how many candidates a single query returns.
	MaxCandidates int
	// ForceRematch scores already linked line items instead of
	// skipping them.
	ForceRematch bool
}

// DefaultOptions returns the standard matching options.
func DefaultOptions() Options {
	return Options{
		DateRangeDays:        30,
		AmountTolerance:      0.5,
		AutoApproveThreshold: 85,
		CandidateThreshold:   50,
		MaxCandidates:        10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DateRangeDays <= 0 {
		o.DateRangeDays = d.DateRangeDays
	}
	if o.AmountTolerance <= 0 {
		o.AmountTolerance = d.AmountTolerance
	}
	if o.AutoApproveThreshold <= 0 {
		o.AutoApproveThreshold = d.AutoApproveThreshold
	}
	if o.CandidateThreshold <= 0 {
		o.CandidateThreshold = d.CandidateThreshold
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = d.MaxCandidates
	}
	return o
}

// Outcome classifies one matching pass over a line item.
type Outcome string

const (
	OutcomeAutoMatched Outcome = "auto_matched"
	OutcomeCandidate   Outcome = "candidate"
	OutcomeNoMatch     Outcome = "no_match"
	OutcomeSkipped     Outcome = "skipped"
)

// Candidate is one scored transaction with its allocation state at
// scoring time.
type Candidate struct {
	Transaction *model.Transaction `json:"transaction"`
	Score       *model.MatchScore  `json:"score"`
	Allocation  allocation.Info    `json:"allocation"`
}

// MatchResult is the outcome of classifying one line item. Nothing is
// persisted; apply operations write the chosen link.
type MatchResult struct {
	LineItemID uuid.UUID   `json:"line_item_id"`
	Outcome    Outcome     `json:"outcome"`
	Candidates []Candidate `json:"candidates"`
	// Best is the top candidate, present unless Outcome is no_match
	// or skipped.
	Best *Candidate `json:"best,omitempty"`
}

// Matcher wires the scoring engine, the allocation tracker and the rate
// cache behind candidate retrieval and link operations.
type Matcher struct {
	repo    storage.Repository
	engine  *scoring.Engine
	tracker *allocation.Tracker
	rates   *rates.Cache
	logger  *slog.Logger
	opts    Options
}

// NewMatcher creates a matcher. A nil rate cache disables
// cross-currency conversion; foreign line items then score via the
// missing-rate fallback.
func NewMatcher(repo storage.Repository, engine *scoring.Engine, cache *rates.Cache, logger *slog.Logger, opts Options) *Matcher {
	return &Matcher{
		repo:    repo,
		engine:  engine,
		tracker: allocation.NewTracker(repo),
		rates:   cache,
		logger:  logger.With("component", "automatch"),
		opts:    opts.withDefaults(),
	}
}

// matchableKinds are the transaction kinds a line item may link to.
// Bank CC charges are containers and are excluded.
var matchableKinds = []model.TransactionKind{model.KindBankRegular, model.KindCCPurchase}

// invoiceContext is everything fetched once per invoice and shared by
// every line item scored under it.
type invoiceContext struct {
	invoice    *model.Invoice
	extracted  *model.ExtractedInvoiceData
	aliases    []*model.VendorAlias
	thresholds storage.Thresholds
}

func (m *Matcher) loadInvoiceContext(ctx context.Context, invoiceID uuid.UUID) (*invoiceContext, error) {
	inv, err := m.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	extracted, err := m.repo.GetExtractedInvoiceData(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("get extracted data: %w", err)
	}
	aliases, err := m.repo.GetVendorAliases(ctx, inv.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("get vendor aliases: %w", err)
	}
	return &invoiceContext{
		invoice:    inv,
		extracted:  extracted,
		aliases:    aliases,
		thresholds: m.thresholds(ctx, inv.OwnerID),
	}, nil
}

// GetCandidates scores every eligible transaction in the candidate
// window against the line item and returns the survivors ordered by
// score. Nothing is persisted.
func (m *Matcher) GetCandidates(ctx context.Context, lineItemID uuid.UUID) (*MatchResult, error) {
	li, err := m.repo.GetLineItem(ctx, lineItemID)
	if err != nil {
		return nil, fmt.Errorf("get line item: %w", err)
	}
	ic, err := m.loadInvoiceContext(ctx, li.InvoiceID)
	if err != nil {
		return nil, err
	}
	return m.classify(ctx, li, ic)
}

// classify runs one scoring pass. All reads happen up front; the
// scoring loop itself is a pure pass over in-memory candidates.
func (m *Matcher) classify(ctx context.Context, li *model.LineItem, ic *invoiceContext) (*MatchResult, error) {
	result := &MatchResult{LineItemID: li.ID, Outcome: OutcomeNoMatch}

	txs, err := m.repo.FindTransactionsByWindow(ctx, m.window(li, ic.invoice))
	if err != nil {
		return nil, fmt.Errorf("find candidate transactions: %w", err)
	}
	if len(txs) == 0 {
		return result, nil
	}

	lookup := m.prefetchRates(ctx, li, ic.invoice)

	ids := make([]uuid.UUID, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	allocs, err := m.tracker.BatchGetAllocationInfo(ctx, ids, li.ID)
	if err != nil {
		return nil, fmt.Errorf("allocation info: %w", err)
	}

	scoreCtx := &scoring.Context{
		LineItem:  li,
		Invoice:   ic.invoice,
		Extracted: ic.extracted,
		Aliases:   ic.aliases,
		Rates:     lookup,
	}

	var candidates []Candidate
	for _, tx := range txs {
		info := allocs[tx.ID]
		if info.IsFullyAllocated {
			continue
		}
		score := m.engine.Score(tx, scoreCtx)
		if score.IsDisqualified || score.Total < ic.thresholds.Candidate {
			continue
		}
		candidates = append(candidates, Candidate{Transaction: tx, Score: score, Allocation: info})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score.Total > candidates[j].Score.Total
	})
	if len(candidates) > m.opts.MaxCandidates {
		candidates = candidates[:m.opts.MaxCandidates]
	}
	result.Candidates = candidates

	if len(candidates) == 0 {
		return result, nil
	}
	result.Best = &candidates[0]
	if result.Best.Score.Total >= ic.thresholds.AutoApprove {
		result.Outcome = OutcomeAutoMatched
	} else {
		result.Outcome = OutcomeCandidate
	}
	return result, nil
}

// window builds the candidate query bounds from the line item's
// effective date and amount.
func (m *Matcher) window(li *model.LineItem, inv *model.Invoice) storage.TransactionWindow {
	w := storage.TransactionWindow{
		OwnerID:      inv.OwnerID,
		Kinds:        matchableKinds,
		ExpensesOnly: true,
	}
	if effective, ok := li.EffectiveDate(inv); ok {
		span := time.Duration(m.opts.DateRangeDays) * 24 * time.Hour
		w.DateFrom = effective.Add(-span)
		w.DateTo = effective.Add(span)
	}

	// Amount bounds only constrain same-currency candidates; a foreign
	// line amount is not comparable to agorot without a rate.
	liCurrency := li.Currency
	if liCurrency == "" {
		liCurrency = model.HomeCurrency
	}
	if liCurrency == model.HomeCurrency {
		abs := li.AbsAmount()
		margin := int64(float64(abs) * m.opts.AmountTolerance)
		w.MinAmount = abs - margin
		if w.MinAmount < 0 {
			w.MinAmount = 0
		}
		w.MaxAmount = abs + margin
	}
	return w
}

// prefetchRates resolves the rate lookup for the line item's effective
// date so the scoring loop performs no I/O. Failures degrade to an
// empty lookup and the amount signal's missing-rate fallback.
func (m *Matcher) prefetchRates(ctx context.Context, li *model.LineItem, inv *model.Invoice) rates.Lookup {
	liCurrency := li.Currency
	if liCurrency == "" || liCurrency == model.HomeCurrency {
		return nil
	}
	if m.rates == nil {
		return nil
	}
	date, ok := li.EffectiveDate(inv)
	if !ok {
		date = time.Now()
	}
	lookup, err := m.rates.GetRatesForDate(ctx, date, []string{liCurrency})
	if err != nil {
		m.logger.Warn("rate prefetch failed, scoring without conversion",
			"currency", liCurrency, "error", err)
		return nil
	}
	return lookup
}

// thresholds resolves per-owner overrides, falling back to the
// configured defaults. Lookup failures fall back silently.
func (m *Matcher) thresholds(ctx context.Context, ownerID uuid.UUID) storage.Thresholds {
	t := storage.Thresholds{
		AutoApprove: m.opts.AutoApproveThreshold,
		Candidate:   m.opts.CandidateThreshold,
	}
	stored, err := m.repo.GetUserThresholds(ctx, ownerID)
	if err != nil {
		m.logger.Warn("user threshold lookup failed, using defaults", "error", err)
		return t
	}
	if stored == nil {
		return t
	}
	if stored.AutoApprove > 0 {
		t.AutoApprove = stored.AutoApprove
	}
	if stored.Candidate > 0 {
		t.Candidate = stored.Candidate
	}
	return t
}
