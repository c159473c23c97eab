package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
	"github.com/eshaffer321/recon-backend/internal/domain/vendor"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/rates"
)

// Weights are the per-signal maximums on a 100-point raw scale.
type Weights struct {
	Reference float64
	Amount    float64
	Date      float64
	Vendor    float64
	Currency  float64
}

// DefaultWeights returns the canonical signal weights.
func DefaultWeights() Weights {
	return Weights{Reference: 10, Amount: 30, Date: 30, Vendor: 25, Currency: 5}
}

func (w Weights) total() float64 {
	return w.Reference + w.Amount + w.Date + w.Vendor + w.Currency
}

// Context carries everything a scoring pass needs, prefetched by the
// caller. Scoring itself performs no I/O.
type Context struct {
	LineItem  *model.LineItem
	Invoice   *model.Invoice
	Extracted *model.ExtractedInvoiceData
	Aliases   []*model.VendorAlias
	Rates     rates.Lookup
}

// Engine scores line items against transactions.
type Engine struct {
	weights Weights
}

// NewEngine creates a scoring engine with default weights.
func NewEngine() *Engine {
	return &Engine{weights: DefaultWeights()}
}

// NewEngineWithWeights creates an engine with custom weights.
func NewEngineWithWeights(w Weights) *Engine {
	return &Engine{weights: w}
}

// Score computes the match score between the context's line item and
// one transaction. Disqualifiers short-circuit to a zero score.
func (e *Engine) Score(tx *model.Transaction, ctx *Context) *model.MatchScore {
	score := &model.MatchScore{}

	if reason, disqualified := e.disqualify(tx, ctx); disqualified {
		score.IsDisqualified = true
		score.DisqualifyReason = reason
		return score
	}

	refApplicable := e.scoreReference(tx, ctx, score)
	e.scoreAmount(tx, ctx, score)
	e.scoreDate(tx, ctx, score)
	e.scoreVendor(tx, ctx, score)
	e.scoreCurrency(tx, ctx, score)

	raw := score.Breakdown.Reference + score.Breakdown.Amount +
		score.Breakdown.Date + score.Breakdown.Vendor + score.Breakdown.Currency
	if raw < 0 {
		raw = 0
	}
	score.Raw = raw

	// Reference weight leaves the denominator entirely when neither
	// side carries reference data, so matches where reference matching
	// was never applicable are not penalized.
	effectiveMax := e.weights.total()
	if !refApplicable {
		effectiveMax -= e.weights.Reference
	}

	total := int(math.Round(raw / effectiveMax * 100))
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	score.Total = total
	return score
}

// disqualify applies the hard rules. Any hit forces a zero score.
func (e *Engine) disqualify(tx *model.Transaction, ctx *Context) (string, bool) {
	if tx.IsIncome {
		return "transaction is income; only expenses are matched", true
	}
	if tx.Kind != model.KindBankRegular && tx.Kind != model.KindCCPurchase {
		return fmt.Sprintf("transaction kind %q is not matchable against line items", tx.Kind), true
	}
	if ctx.Invoice != nil && ctx.Invoice.IsIncome {
		return "income invoices are not matched against expense transactions", true
	}
	return "", false
}

// scoreReference awards reference points and reports whether reference
// data existed on either side at all.
func (e *Engine) scoreReference(tx *model.Transaction, ctx *Context, score *model.MatchScore) bool {
	ref := lineReference(ctx)
	applicable := ref != "" || tx.Reference != ""
	if ref == "" {
		return applicable
	}

	refLower := strings.ToLower(ref)
	txRefLower := strings.ToLower(tx.Reference)
	descLower := strings.ToLower(tx.Description)

	switch {
	case txRefLower != "" && refLower == txRefLower:
		score.Breakdown.Reference = e.weights.Reference
		score.Reasons = append(score.Reasons, "Exact reference match")
	case strings.Contains(descLower, refLower):
		score.Breakdown.Reference = e.weights.Reference * 0.8
		score.Reasons = append(score.Reasons, "Reference found in transaction description")
	case referenceSuffixMatch(refLower, txRefLower, descLower):
		score.Breakdown.Reference = e.weights.Reference * 0.5
		score.Reasons = append(score.Reasons, "Reference suffix match")
	}
	return applicable
}

// referenceSuffixMatch compares the last 6 characters of the line
// reference against the transaction's reference and description.
func referenceSuffixMatch(ref, txRef, desc string) bool {
	runes := []rune(ref)
	if len(runes) <= 6 {
		return false
	}
	suffix := string(runes[len(runes)-6:])
	return (txRef != "" && strings.HasSuffix(txRef, suffix)) || strings.Contains(desc, suffix)
}

// lineReference resolves the line item's reference id, falling back to
// extracted per-line references.
func lineReference(ctx *Context) string {
	if ctx.LineItem == nil {
		return ""
	}
	if ctx.LineItem.Reference != "" {
		return ctx.LineItem.Reference
	}
	if ctx.Extracted != nil {
		if ref, ok := ctx.Extracted.LineReferences[ctx.LineItem.ID]; ok {
			return ref
		}
	}
	return ""
}

func (e *Engine) scoreDate(tx *model.Transaction, ctx *Context, score *model.MatchScore) {
	effective, ok := ctx.LineItem.EffectiveDate(ctx.Invoice)
	if !ok {
		// Genuine uncertainty, not a penalty.
		score.Breakdown.Date = e.weights.Date / 2
		score.Warnings = append(score.Warnings, "Line item has no date; awarding half date weight")
		return
	}

	days := model.DaysBetween(effective, tx.BestDate(effective))
	pts := dateSignal(days, e.weights.Date)
	score.Breakdown.Date = pts
	switch {
	case days == 0:
		score.Reasons = append(score.Reasons, "Same date")
	case pts > 0:
		score.Reasons = append(score.Reasons, fmt.Sprintf("%d days apart", days))
	}
}

func (e *Engine) scoreVendor(tx *model.Transaction, ctx *Context, score *model.MatchScore) {
	vendorName := ""
	if ctx.Invoice != nil {
		vendorName = ctx.Invoice.VendorName
	}
	match := vendor.Compare(vendorName, ctx.LineItem.Description, tx.Description, ctx.Aliases)

	switch match.Tier {
	case vendor.TierAlias:
		score.Breakdown.Vendor = e.weights.Vendor
		score.Reasons = append(score.Reasons,
			fmt.Sprintf("Vendor alias match: %s", match.Alias.CanonicalName))
	case vendor.TierMultiToken:
		score.Breakdown.Vendor = e.weights.Vendor
		score.Reasons = append(score.Reasons,
			fmt.Sprintf("Vendor name match (%d tokens)", len(match.ExactTokens)))
	case vendor.TierSingleToken:
		score.Breakdown.Vendor = e.weights.Vendor * 0.8
		score.Reasons = append(score.Reasons, "Partial vendor name match")
	case vendor.TierFuzzy:
		score.Breakdown.Vendor = e.weights.Vendor * 0.72
		score.Reasons = append(score.Reasons, "Fuzzy vendor name match")
	}
}

func (e *Engine) scoreCurrency(tx *model.Transaction, ctx *Context, score *model.MatchScore) {
	liCurrency := ctx.LineItem.Currency
	if liCurrency == "" {
		liCurrency = model.HomeCurrency
	}
	switch {
	case tx.ForeignCurrency != "" && liCurrency == tx.ForeignCurrency:
		score.Breakdown.Currency = e.weights.Currency
		score.Reasons = append(score.Reasons, "Currency match")
	case tx.ForeignCurrency == "" && liCurrency == model.HomeCurrency:
		score.Breakdown.Currency = e.weights.Currency
	}
}
