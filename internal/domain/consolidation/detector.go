// Package consolidation matches groups of credit-card purchases to the
// bank transaction representing their combined statement charge.
package consolidation

import "regexp"

// digitRuns matches maximal digit runs; a card suffix is a run of
// exactly four digits, the form banks use to echo a card's last four
// digits inside charge descriptions.
var digitRuns = regexp.MustCompile(`\d+`)

// DetectCardLast4 extracts the card identifier from a bank charge
// description. Descriptions may carry several digit groups; the last
// one is the card suffix in every bank format observed, so the last
// 4-digit run wins. Returns "" when no 4-digit run exists.
func DetectCardLast4(description string) string {
	last := ""
	for _, run := range digitRuns.FindAllString(description, -1) {
		if len(run) == 4 {
			last = run
		}
	}
	return last
}
