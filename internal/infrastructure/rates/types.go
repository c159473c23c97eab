// Package rates fetches and caches currency exchange rates against the
// home currency, with previous-business-day fallback and a durable
// store so rates survive process restarts.
package rates

import (
	"context"
	"time"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

// Source is the external rate provider. An empty map with a nil error
// means the source has no rates for that date (weekend or holiday).
type Source interface {
	FetchRatesForDate(ctx context.Context, date time.Time) (map[string]model.ExchangeRate, error)
	FetchLatest(ctx context.Context) (map[string]model.ExchangeRate, error)
}

// Store persists fetched rates across restarts. GetRate returns
// (nil, nil) when no rate is stored for the key.
type Store interface {
	GetRate(currency string, date time.Time) (*model.ExchangeRate, error)
	PutRates(rates []model.ExchangeRate) error
}

// Result is a resolved rate for a conversion. RateDate may be earlier
// than the requested date when a business-day fallback occurred.
type Result struct {
	Rate     float64
	Unit     int
	RateDate time.Time
}

// Value returns home-currency value of one unit of the currency.
func (r Result) Value() float64 {
	unit := r.Unit
	if unit <= 0 {
		unit = 1
	}
	return r.Rate / float64(unit)
}

// DayKey normalizes a time to its civil date for cache keying.
func DayKey(t time.Time) string {
	return t.In(time.UTC).Format("2006-01-02")
}
