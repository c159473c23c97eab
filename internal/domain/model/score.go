package model

import "time"

// SignalBreakdown holds the per-signal contribution to a match score,
// in raw weighted points.
type SignalBreakdown struct {
	Reference float64 `json:"reference"`
	Amount    float64 `json:"amount"`
	Date      float64 `json:"date"`
	Vendor    float64 `json:"vendor"`
	Currency  float64 `json:"currency"`
}

// RateConversion records the currency conversion applied while comparing
// amounts, for display alongside the score.
type RateConversion struct {
	FromCurrency    string    `json:"from_currency"`
	ToCurrency      string    `json:"to_currency"`
	Rate            float64   `json:"rate"`
	RateDate        time.Time `json:"rate_date"`
	OriginalAmount  int64     `json:"original_amount"`
	ConvertedAmount int64     `json:"converted_amount"`
}

// MatchScore is the outcome of scoring one line item against one
// transaction. Total is normalized to 0-100.
type MatchScore struct {
	Total            int             `json:"total"`
	Raw              float64         `json:"raw"`
	Breakdown        SignalBreakdown `json:"breakdown"`
	IsDisqualified   bool            `json:"is_disqualified"`
	DisqualifyReason string          `json:"disqualify_reason,omitempty"`
	Reasons          []string        `json:"reasons,omitempty"`
	Warnings         []string        `json:"warnings,omitempty"`
	Conversion       *RateConversion `json:"conversion,omitempty"`
}

// ExchangeRate is one cached currency rate: home-currency agorot value of
// Unit units of Currency on Date.
type ExchangeRate struct {
	Currency  string    `json:"currency"`
	Date      time.Time `json:"date"`
	Rate      float64   `json:"rate"`
	Unit      int       `json:"unit"`
	FetchedAt time.Time `json:"fetched_at"`
}

// UnitOrOne returns the unit divisor, defaulting to 1.
func (r ExchangeRate) UnitOrOne() int {
	if r.Unit <= 0 {
		return 1
	}
	return r.Unit
}
