// Package scoring computes a normalized 0-100 confidence score between
// one invoice line item and one transaction from five weighted signals,
// after hard disqualifiers.
package scoring

import "fmt"

// amountTier maps a maximum percent difference to awarded points.
// Tables are evaluated top to bottom; the first matching row wins.
type amountTier struct {
	MaxPctDiff float64
	Points     float64
	Reason     string
}

// sameCurrencyTiersPre are the strict tiers tried before VAT
// adjustment when both amounts are in the same currency.
var sameCurrencyTiersPre = []amountTier{
	{0, 30, "Exact amount match"},
	{1, 27, "Amount within 1%"},
	{2, 24, "Amount within 2%"},
	{3, 20, "Amount within 3%"},
}

// sameCurrencyTiersPost are tried after VAT adjustment failed.
var sameCurrencyTiersPost = []amountTier{
	{5, 16, "Amount within 5%"},
	{10, 8, "Amount within 10%"},
}

// crossCurrencyTiers are more forgiving, reflecting bank markup
// variance on converted amounts. VAT adjustment is skipped cross
// currency; it is not meaningful after conversion.
var crossCurrencyTiers = []amountTier{
	{3, 30, "Converted amount within 3%"},
	{6, 25, "Converted amount within 6%"},
	{9, 20, "Converted amount within 9%"},
	{15, 10, "Converted amount within 15%"},
	{20, 5, "Converted amount within 20%"},
}

// vatCandidate is one historical VAT rate tried when strict tiers miss:
// the line amount may be recorded ex-VAT or inc-VAT relative to the
// bank charge.
type vatCandidate struct {
	RatePercent float64
	Points      float64
}

var vatCandidates = []vatCandidate{
	{17, 20},
	{18, 16},
	{16, 16},
	{15, 16},
}

// vatTolerancePct is how close a VAT-adjusted amount must be.
const vatTolerancePct = 2

// noRatePoints is the fixed low-confidence amount score awarded when no
// exchange rate is available for the relevant date.
const noRatePoints = 8

func findAmountTier(pctDiff float64, tiers []amountTier) (amountTier, bool) {
	for _, tier := range tiers {
		if pctDiff <= tier.MaxPctDiff {
			return tier, true
		}
	}
	return amountTier{}, false
}

// matchVAT tries each historical VAT rate against the pair of amounts,
// in both directions. Returns awarded points and a reason on success.
func matchVAT(lineAmount, txAmount float64) (float64, string, bool) {
	if lineAmount <= 0 {
		return 0, "", false
	}
	for _, cand := range vatCandidates {
		rate := cand.RatePercent / 100
		for _, adjusted := range []float64{lineAmount * (1 + rate), lineAmount * (1 - rate)} {
			if adjusted <= 0 {
				continue
			}
			pct := absF(adjusted-txAmount) / adjusted * 100
			if pct <= vatTolerancePct {
				reason := fmt.Sprintf("VAT-adjusted amount match (%.0f%%)", cand.RatePercent)
				return cand.Points, reason, true
			}
		}
	}
	return 0, "", false
}

// dateSignal awards points for calendar-day distance: full weight at
// 0-1 days, 25 at 2 days, then 3 points off per day to a floor of 0 at
// 11 or more days.
func dateSignal(days int, weight float64) float64 {
	switch {
	case days <= 1:
		return weight
	case days == 2:
		return 25
	default:
		pts := 25 - 3*float64(days-2)
		if pts < 0 {
			return 0
		}
		return pts
	}
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
