package scoring

import (
	"fmt"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

// scoreAmount compares the two amounts after normalizing to one
// currency. Same-currency pairs get the strict tier table plus VAT
// adjustment; pairs that needed a conversion get the forgiving cross
// currency table and never exceed its ceiling.
func (e *Engine) scoreAmount(tx *model.Transaction, ctx *Context, score *model.MatchScore) {
	li := ctx.LineItem
	liCurrency := li.Currency
	if liCurrency == "" {
		liCurrency = model.HomeCurrency
	}
	liAbs := float64(li.AbsAmount())
	txAbs := float64(absI64(tx.Amount))

	// Same currency without conversion: either the line item is in the
	// home currency, or the bank annotated the original foreign amount
	// in the line item's currency.
	if liCurrency == model.HomeCurrency {
		e.scoreSameCurrency(liAbs, txAbs, score)
		return
	}
	if tx.ForeignCurrency == liCurrency && tx.ForeignAmount != 0 {
		e.scoreSameCurrency(liAbs, float64(absI64(tx.ForeignAmount)), score)
		return
	}

	conv, ok := ctx.Rates.ConvertToHome(li.AbsAmount(), liCurrency)
	if !ok {
		// Data unavailable degrades to a fixed low-confidence score,
		// never a disqualification.
		score.Breakdown.Amount = noRatePoints
		score.Warnings = append(score.Warnings,
			fmt.Sprintf("No exchange rate available for %s; amount compared at low confidence", liCurrency))
		return
	}
	score.Conversion = conv

	converted := float64(conv.ConvertedAmount)
	pct := pctDiff(converted, txAbs)
	if tier, found := findAmountTier(pct, crossCurrencyTiers); found {
		score.Breakdown.Amount = tier.Points
		score.Reasons = append(score.Reasons, tier.Reason)
	}
}

func (e *Engine) scoreSameCurrency(liAbs, txAbs float64, score *model.MatchScore) {
	pct := pctDiff(liAbs, txAbs)

	if tier, found := findAmountTier(pct, sameCurrencyTiersPre); found {
		score.Breakdown.Amount = tier.Points
		score.Reasons = append(score.Reasons, tier.Reason)
		return
	}
	if pts, reason, found := matchVAT(liAbs, txAbs); found {
		score.Breakdown.Amount = pts
		score.Reasons = append(score.Reasons, reason)
		return
	}
	if tier, found := findAmountTier(pct, sameCurrencyTiersPost); found {
		score.Breakdown.Amount = tier.Points
		score.Reasons = append(score.Reasons, tier.Reason)
	}
}

// pctDiff is the percent difference relative to the line item amount.
func pctDiff(lineAmount, txAmount float64) float64 {
	if lineAmount == 0 {
		if txAmount == 0 {
			return 0
		}
		return 100
	}
	return absF(lineAmount-txAmount) / lineAmount * 100
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
