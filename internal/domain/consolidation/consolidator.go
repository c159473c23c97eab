package consolidation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/storage"
)

// Options tune candidate acceptance and write batching.
type Options struct {
	// DateToleranceDays bounds how far a bank charge may sit from the
	// group's charge date.
	DateToleranceDays int
	// AmountTolerancePct is the discrepancy percentage at which the
	// amount sub-score reaches zero.
	AmountTolerancePct float64
	// UpdateBatchSize bounds concurrent purchase updates per batch.
	UpdateBatchSize int
	// UpdateBatchDelay is the pause between update batches.
	UpdateBatchDelay time.Duration
}

// DefaultOptions returns the standard consolidation options.
func DefaultOptions() Options {
	return Options{
		DateToleranceDays:  3,
		AmountTolerancePct: 10,
		UpdateBatchSize:    3,
		UpdateBatchDelay:   200 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DateToleranceDays <= 0 {
		o.DateToleranceDays = d.DateToleranceDays
	}
	if o.AmountTolerancePct <= 0 {
		o.AmountTolerancePct = d.AmountTolerancePct
	}
	if o.UpdateBatchSize <= 0 {
		o.UpdateBatchSize = d.UpdateBatchSize
	}
	if o.UpdateBatchDelay <= 0 {
		o.UpdateBatchDelay = d.UpdateBatchDelay
	}
	return o
}

// GroupOutcome reports how one CC group fared during a run.
type GroupOutcome struct {
	CardLast4  string     `json:"card_last4"`
	ChargeDate time.Time  `json:"charge_date"`
	Matched    bool       `json:"matched"`
	ResultID   *uuid.UUID `json:"result_id,omitempty"`
	Confidence int        `json:"confidence,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunSummary aggregates one consolidation run.
type RunSummary struct {
	OwnerID   uuid.UUID      `json:"owner_id"`
	Groups    int            `json:"groups"`
	Matched   int            `json:"matched"`
	Unmatched int            `json:"unmatched"`
	Failed    int            `json:"failed"`
	Outcomes  []GroupOutcome `json:"outcomes"`
}

// Consolidator groups unmatched CC purchases and reconciles each group
// against the bank charge that consolidated it.
type Consolidator struct {
	repo   storage.Repository
	logger *slog.Logger
	opts   Options
	// sleep is replaced in tests to avoid real batch delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewConsolidator creates a consolidator.
func NewConsolidator(repo storage.Repository, logger *slog.Logger, opts Options) *Consolidator {
	return &Consolidator{
		repo:   repo,
		logger: logger.With("component", "consolidation"),
		opts:   opts.withDefaults(),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run consolidates every unmatched CC purchase group for the owner.
// One group's failure does not stop other groups.
func (c *Consolidator) Run(ctx context.Context, ownerID uuid.UUID) (*RunSummary, error) {
	purchases, err := c.repo.FindUnmatchedCCPurchases(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("find unmatched cc purchases: %w", err)
	}

	groups := GroupPurchases(purchases)
	summary := &RunSummary{OwnerID: ownerID, Groups: len(groups)}
	if len(groups) == 0 {
		return summary, nil
	}

	from, to := chargeSpan(groups, c.opts.DateToleranceDays)
	charges, err := c.repo.FindCCChargeTransactions(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("find cc charge transactions: %w", err)
	}

	for _, group := range groups {
		outcome := GroupOutcome{CardLast4: group.CardLast4, ChargeDate: group.ChargeDate}

		best, confidence := c.bestCharge(group, charges)
		if best == nil {
			summary.Unmatched++
			summary.Outcomes = append(summary.Outcomes, outcome)
			continue
		}

		result, err := c.persist(ctx, ownerID, group, best, confidence)
		if err != nil {
			summary.Failed++
			outcome.Error = err.Error()
			summary.Outcomes = append(summary.Outcomes, outcome)
			c.logger.Warn("group consolidation failed",
				"card_last4", group.CardLast4,
				"charge_date", group.ChargeDate.Format("2006-01-02"),
				"error", err)
			continue
		}

		summary.Matched++
		outcome.Matched = true
		outcome.ResultID = &result.ID
		outcome.Confidence = result.Confidence
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	c.logger.Info("consolidation run finished",
		"owner_id", ownerID,
		"groups", summary.Groups,
		"matched", summary.Matched,
		"unmatched", summary.Unmatched,
		"failed", summary.Failed)
	return summary, nil
}

// GroupPurchases buckets purchases by card and charge date, summing
// absolute amounts. The charge date is the value date when the bank
// annotated one, else the purchase date. Purchases with no card
// identifier cannot be consolidated and are dropped.
func GroupPurchases(purchases []*model.Transaction) []*model.CCGroup {
	byKey := make(map[string]*model.CCGroup)
	for _, tx := range purchases {
		if tx.CardLast4 == "" {
			continue
		}
		chargeDate := tx.Date
		if tx.ValueDate != nil {
			chargeDate = *tx.ValueDate
		}
		key := tx.CardLast4 + "|" + chargeDate.Format("2006-01-02")
		group, ok := byKey[key]
		if !ok {
			group = &model.CCGroup{CardLast4: tx.CardLast4, ChargeDate: chargeDate}
			byKey[key] = group
		}
		group.Transactions = append(group.Transactions, tx)
		amount := tx.Amount
		if amount < 0 {
			amount = -amount
		}
		group.TotalAmount += amount
	}

	groups := make([]*model.CCGroup, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].ChargeDate.Equal(groups[j].ChargeDate) {
			return groups[i].ChargeDate.Before(groups[j].ChargeDate)
		}
		return groups[i].CardLast4 < groups[j].CardLast4
	})
	return groups
}

// bestCharge returns the date/card-eligible bank charge with the
// highest blended confidence, or nil when no candidate qualifies.
func (c *Consolidator) bestCharge(group *model.CCGroup, charges []*model.Transaction) (*model.Transaction, int) {
	var best *model.Transaction
	bestConfidence := -1

	for _, charge := range charges {
		last4 := charge.CardLast4
		if last4 == "" {
			last4 = DetectCardLast4(charge.Description)
		}
		if last4 != group.CardLast4 {
			continue
		}
		days := model.DaysBetween(group.ChargeDate, charge.Date)
		if days > c.opts.DateToleranceDays {
			continue
		}

		confidence := c.confidence(group, charge, days)
		if confidence > bestConfidence {
			best = charge
			bestConfidence = confidence
		}
	}
	return best, bestConfidence
}

// confidence blends a date sub-score and an amount sub-score, each
// decaying linearly from 100 at exact to 0 at its tolerance boundary.
func (c *Consolidator) confidence(group *model.CCGroup, charge *model.Transaction, days int) int {
	dateScore := 100 * (1 - float64(days)/float64(c.opts.DateToleranceDays))
	if dateScore < 0 {
		dateScore = 0
	}

	amountScore := 0.0
	if group.TotalAmount > 0 {
		pct := discrepancyPercent(group.TotalAmount, absAmount(charge.Amount))
		amountScore = 100 * (1 - pct/c.opts.AmountTolerancePct)
		if amountScore < 0 {
			amountScore = 0
		}
	}

	return int(math.Round(0.6*dateScore + 0.4*amountScore))
}

// persist writes the pending result and points each purchase at the
// bank charge, in bounded batches with a delay between them.
func (c *Consolidator) persist(ctx context.Context, ownerID uuid.UUID, group *model.CCGroup, charge *model.Transaction, confidence int) (*model.ConsolidationResult, error) {
	bankAmount := absAmount(charge.Amount)
	discrepancy := group.TotalAmount - bankAmount
	if discrepancy < 0 {
		discrepancy = -discrepancy
	}

	result := &model.ConsolidationResult{
		ID:                 uuid.New(),
		OwnerID:            ownerID,
		CardLast4:          group.CardLast4,
		ChargeDate:         group.ChargeDate,
		BankTransactionID:  charge.ID,
		TransactionCount:   len(group.Transactions),
		TotalAmount:        group.TotalAmount,
		BankAmount:         bankAmount,
		DiscrepancyAgorot:  discrepancy,
		DiscrepancyPercent: discrepancyPercent(group.TotalAmount, bankAmount),
		Confidence:         confidence,
		Status:             model.ConsolidationPending,
		CreatedAt:          time.Now(),
	}
	if err := c.repo.SaveConsolidationResult(ctx, result); err != nil {
		return nil, fmt.Errorf("save consolidation result: %w", err)
	}

	ids := make([]uuid.UUID, len(group.Transactions))
	for i, tx := range group.Transactions {
		ids[i] = tx.ID
	}
	for start := 0; start < len(ids); start += c.opts.UpdateBatchSize {
		end := start + c.opts.UpdateBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := c.repo.UpdateConsolidatedTransactions(ctx, ids[start:end], charge.ID); err != nil {
			return nil, fmt.Errorf("update consolidated transactions: %w", err)
		}
		if end < len(ids) {
			if err := c.sleep(ctx, c.opts.UpdateBatchDelay); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// Approve marks a pending consolidation result approved.
func (c *Consolidator) Approve(ctx context.Context, id uuid.UUID) error {
	return c.setStatus(ctx, id, model.ConsolidationApproved)
}

// Reject marks a pending consolidation result rejected.
func (c *Consolidator) Reject(ctx context.Context, id uuid.UUID) error {
	return c.setStatus(ctx, id, model.ConsolidationRejected)
}

func (c *Consolidator) setStatus(ctx context.Context, id uuid.UUID, status model.ConsolidationStatus) error {
	if err := c.repo.UpdateConsolidationStatus(ctx, id, status); err != nil {
		return fmt.Errorf("update consolidation status: %w", err)
	}
	c.logger.Info("consolidation status updated", "result_id", id, "status", status)
	return nil
}

// Results lists an owner's consolidation results, newest first.
func (c *Consolidator) Results(ctx context.Context, ownerID uuid.UUID) ([]*model.ConsolidationResult, error) {
	results, err := c.repo.ListConsolidationResults(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list consolidation results: %w", err)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

func chargeSpan(groups []*model.CCGroup, toleranceDays int) (time.Time, time.Time) {
	from, to := groups[0].ChargeDate, groups[0].ChargeDate
	for _, g := range groups[1:] {
		if g.ChargeDate.Before(from) {
			from = g.ChargeDate
		}
		if g.ChargeDate.After(to) {
			to = g.ChargeDate
		}
	}
	span := time.Duration(toleranceDays) * 24 * time.Hour
	return from.Add(-span), to.Add(span)
}

func absAmount(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func discrepancyPercent(groupTotal, bankAmount int64) float64 {
	if groupTotal == 0 {
		return 0
	}
	diff := groupTotal - bankAmount
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(groupTotal) * 100
}
