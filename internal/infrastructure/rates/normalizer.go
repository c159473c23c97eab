package rates

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

// Lookup is a prefetched set of rates keyed by currency code, resolved
// for one date before a scoring pass so the scoring loop stays free of
// I/O.
type Lookup map[string]Result

// ConvertToHome converts an amount in minor units of currency into
// home-currency agorot, returning conversion provenance. ok is false
// when no rate is available for the currency.
func (l Lookup) ConvertToHome(amount int64, currency string) (*model.RateConversion, bool) {
	if currency == model.HomeCurrency {
		return &model.RateConversion{
			FromCurrency:    currency,
			ToCurrency:      model.HomeCurrency,
			Rate:            1,
			OriginalAmount:  amount,
			ConvertedAmount: amount,
		}, true
	}

	res, ok := l[currency]
	if !ok {
		return nil, false
	}

	unit := res.Unit
	if unit <= 0 {
		unit = 1
	}
	converted := decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(res.Rate)).
		Div(decimal.NewFromInt(int64(unit))).
		Round(0).
		IntPart()

	return &model.RateConversion{
		FromCurrency:    currency,
		ToCurrency:      model.HomeCurrency,
		Rate:            res.Value(),
		RateDate:        res.RateDate,
		OriginalAmount:  amount,
		ConvertedAmount: converted,
	}, true
}

// Normalizer converts foreign-currency amounts into the home currency
// for one-off callers that have not prefetched a Lookup.
type Normalizer struct {
	cache *Cache
}

// NewNormalizer creates a normalizer backed by the given cache.
func NewNormalizer(cache *Cache) *Normalizer {
	return &Normalizer{cache: cache}
}

// ToHome converts amount in currency on date into agorot. ok is false
// when no rate could be resolved; callers degrade rather than fail.
func (n *Normalizer) ToHome(ctx context.Context, amount int64, currency string, date time.Time) (*model.RateConversion, bool, error) {
	if currency == model.HomeCurrency {
		conv, _ := Lookup{}.ConvertToHome(amount, currency)
		return conv, true, nil
	}
	res, err := n.cache.GetRate(ctx, currency, date)
	if err != nil {
		return nil, false, err
	}
	if res == nil {
		return nil, false, nil
	}
	conv, ok := Lookup{currency: *res}.ConvertToHome(amount, currency)
	return conv, ok, nil
}
