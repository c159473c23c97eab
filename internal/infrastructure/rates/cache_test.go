package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

// fakeSource serves canned day batches and records fetch calls.
type fakeSource struct {
	days    map[string]map[string]model.ExchangeRate
	err     error
	fetches []string
}

func (f *fakeSource) FetchRatesForDate(_ context.Context, date time.Time) (map[string]model.ExchangeRate, error) {
	f.fetches = append(f.fetches, DayKey(date))
	if f.err != nil {
		return nil, f.err
	}
	return f.days[DayKey(date)], nil
}

func (f *fakeSource) FetchLatest(ctx context.Context) (map[string]model.ExchangeRate, error) {
	return f.FetchRatesForDate(ctx, time.Now())
}

// fakeStore is an in-memory durable store.
type fakeStore struct {
	rates map[string]model.ExchangeRate
	puts  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rates: make(map[string]model.ExchangeRate)}
}

func (f *fakeStore) GetRate(currency string, date time.Time) (*model.ExchangeRate, error) {
	r, ok := f.rates[currency+"|"+DayKey(date)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeStore) PutRates(rates []model.ExchangeRate) error {
	f.puts++
	for _, r := range rates {
		f.rates[r.Currency+"|"+DayKey(r.Date)] = r
	}
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func rateFor(currency string, date time.Time, rate float64, fetchedAt time.Time) model.ExchangeRate {
	return model.ExchangeRate{Currency: currency, Date: date, Rate: rate, Unit: 1, FetchedAt: fetchedAt}
}

func newTestCache(source Source, store Store, now time.Time) *Cache {
	c := NewCache(source, store, nil, Options{})
	c.now = func() time.Time { return now }
	return c
}

func TestHomeCurrencyNeedsNoLookup(t *testing.T) {
	source := &fakeSource{}
	cache := newTestCache(source, nil, day(2025, 3, 10))

	res, err := cache.GetRate(context.Background(), model.HomeCurrency, day(2025, 3, 5))

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, float64(1), res.Rate)
	assert.Empty(t, source.fetches)
}

func TestFetchCachesWholeDayBatch(t *testing.T) {
	now := day(2025, 3, 10)
	target := day(2025, 3, 5)
	source := &fakeSource{days: map[string]map[string]model.ExchangeRate{
		DayKey(target): {
			"USD": rateFor("USD", target, 3.61, now),
			"EUR": rateFor("EUR", target, 3.92, now),
		},
	}}
	store := newFakeStore()
	cache := newTestCache(source, store, now)

	res, err := cache.GetRate(context.Background(), "USD", target)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3.61, res.Rate)

	// EUR was part of the same day batch; no second fetch.
	res, err = cache.GetRate(context.Background(), "EUR", target)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3.92, res.Rate)
	assert.Len(t, source.fetches, 1)

	// And the batch was persisted durably.
	assert.Equal(t, 1, store.puts)
	stored, err := store.GetRate("EUR", target)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestSaturdayFallsBackToFriday(t *testing.T) {
	now := day(2025, 3, 10)
	saturday := day(2025, 3, 8)
	friday := day(2025, 3, 7)
	source := &fakeSource{days: map[string]map[string]model.ExchangeRate{
		DayKey(friday): {"USD": rateFor("USD", friday, 3.55, now)},
	}}
	cache := newTestCache(source, nil, now)

	satRes, err := cache.GetRate(context.Background(), "USD", saturday)
	require.NoError(t, err)
	require.NotNil(t, satRes)

	friRes, err := cache.GetRate(context.Background(), "USD", friday)
	require.NoError(t, err)
	require.NotNil(t, friRes)

	assert.Equal(t, friRes.Rate, satRes.Rate)
	assert.Equal(t, DayKey(friday), DayKey(satRes.RateDate))
}

func TestSundayIsAttemptedNormally(t *testing.T) {
	now := day(2025, 3, 10)
	sunday := day(2025, 3, 9)
	source := &fakeSource{days: map[string]map[string]model.ExchangeRate{
		DayKey(sunday): {"USD": rateFor("USD", sunday, 3.58, now)},
	}}
	cache := newTestCache(source, nil, now)

	res, err := cache.GetRate(context.Background(), "USD", sunday)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3.58, res.Rate)
	assert.Equal(t, []string{DayKey(sunday)}, source.fetches)
}

func TestStaleEntryTriggersRefetch(t *testing.T) {
	now := day(2025, 3, 10).Add(12 * time.Hour)
	target := now // today: 1h TTL
	stale := rateFor("USD", target, 3.50, now.Add(-2*time.Hour))
	fresh := rateFor("USD", target, 3.60, now)

	source := &fakeSource{days: map[string]map[string]model.ExchangeRate{
		DayKey(target): {"USD": fresh},
	}}
	store := newFakeStore()
	require.NoError(t, store.PutRates([]model.ExchangeRate{stale}))
	cache := newTestCache(source, store, now)

	res, err := cache.GetRate(context.Background(), "USD", target)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3.60, res.Rate)
	assert.Len(t, source.fetches, 1)
}

func TestFetchFailureDegradesToStaleCache(t *testing.T) {
	now := day(2025, 3, 10)
	target := day(2025, 3, 5)
	stale := rateFor("USD", target, 3.40, now.Add(-72*time.Hour))

	source := &fakeSource{err: errors.New("rate source down")}
	store := newFakeStore()
	require.NoError(t, store.PutRates([]model.ExchangeRate{stale}))
	cache := newTestCache(source, store, now)

	res, err := cache.GetRate(context.Background(), "USD", target)

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3.40, res.Rate)
}

func TestFetchFailureWithoutCacheReturnsNil(t *testing.T) {
	source := &fakeSource{err: errors.New("rate source down")}
	cache := newTestCache(source, newFakeStore(), day(2025, 3, 10))

	res, err := cache.GetRate(context.Background(), "USD", day(2025, 3, 5))

	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestRequestsBeyondHorizonReturnNil(t *testing.T) {
	now := day(2025, 3, 10)
	source := &fakeSource{}
	cache := newTestCache(source, nil, now)

	res, err := cache.GetRate(context.Background(), "USD", day(2019, 1, 15))

	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, source.fetches)
}

func TestBoundedFallbackGivesUp(t *testing.T) {
	// The source has no rates for any day: the walk must terminate.
	now := day(2025, 3, 10)
	source := &fakeSource{days: map[string]map[string]model.ExchangeRate{}}
	cache := newTestCache(source, nil, now)

	res, err := cache.GetRate(context.Background(), "USD", day(2025, 3, 5))

	require.NoError(t, err)
	assert.Nil(t, res)
	assert.LessOrEqual(t, len(source.fetches), maxFallbackSteps+1)
}

func TestGetRatesForDateResolvesBatch(t *testing.T) {
	now := day(2025, 3, 10)
	target := day(2025, 3, 5)
	source := &fakeSource{days: map[string]map[string]model.ExchangeRate{
		DayKey(target): {
			"USD": rateFor("USD", target, 3.61, now),
			"EUR": rateFor("EUR", target, 3.92, now),
		},
	}}
	cache := newTestCache(source, nil, now)

	lookup, err := cache.GetRatesForDate(context.Background(), target, []string{"USD", "EUR", "GBP"})

	require.NoError(t, err)
	assert.Len(t, source.fetches, 2) // one batch fetch, one retry walk for GBP
	assert.Contains(t, lookup, "USD")
	assert.Contains(t, lookup, "EUR")
	assert.NotContains(t, lookup, "GBP")
}
