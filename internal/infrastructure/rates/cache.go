package rates

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

// maxFallbackSteps bounds the previous-business-day walk for one
// request. Rate sources rarely gap more than a long holiday weekend.
const maxFallbackSteps = 7

// Options tunes cache behavior. Zero values take defaults.
type Options struct {
	TodayTTL        time.Duration // freshness for today's rate (default 1h)
	HistoricalTTL   time.Duration // freshness for past dates (default 24h)
	MaxHistoryYears int           // reject requests older than this (default 5)
}

func (o Options) withDefaults() Options {
	if o.TodayTTL == 0 {
		o.TodayTTL = time.Hour
	}
	if o.HistoricalTTL == 0 {
		o.HistoricalTTL = 24 * time.Hour
	}
	if o.MaxHistoryYears == 0 {
		o.MaxHistoryYears = 5
	}
	return o
}

// Cache resolves (currency, date) to a rate. Lookup order: in-memory
// cache, durable store, external source with previous-business-day
// fallback. On a source failure the last cached value wins even when
// stale; a nil result without error means no rate is obtainable.
//
// Entries are keyed by immutable (currency, date) pairs and overwritten
// idempotently, so concurrent use needs only the map lock.
type Cache struct {
	source Source
	store  Store
	logger *slog.Logger
	opts   Options

	// test seam
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]model.ExchangeRate
}

// NewCache creates a rate cache. store may be nil (memory only).
func NewCache(source Source, store Store, logger *slog.Logger, opts Options) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		source:  source,
		store:   store,
		logger:  logger.With(slog.String("component", "rate_cache")),
		opts:    opts.withDefaults(),
		now:     time.Now,
		entries: make(map[string]model.ExchangeRate),
	}
}

// GetRate resolves one currency for one date. Home currency answers
// rate 1 without any lookup. A (nil, nil) return means the rate is
// unavailable; callers degrade rather than fail.
func (c *Cache) GetRate(ctx context.Context, currency string, date time.Time) (*Result, error) {
	if currency == model.HomeCurrency {
		return &Result{Rate: 1, Unit: 1, RateDate: date}, nil
	}
	if c.tooOld(date) {
		return nil, nil
	}

	lookup := date
	for step := 0; step <= maxFallbackSteps; step++ {
		if c.tooOld(lookup) {
			return nil, nil
		}

		if rate, ok := c.freshEntry(currency, lookup); ok {
			return resultOf(rate), nil
		}

		fetched, err := c.source.FetchRatesForDate(ctx, lookup)
		if err != nil {
			// Transient source failure: degrade to the last cached
			// value even if stale rather than failing the match.
			if rate, ok := c.anyEntry(currency, lookup); ok {
				c.logger.Warn("Rate fetch failed, using stale cache",
					"currency", currency, "date", DayKey(lookup), "error", err)
				return resultOf(rate), nil
			}
			c.logger.Warn("Rate fetch failed with no cached fallback",
				"currency", currency, "date", DayKey(lookup), "error", err)
			return nil, nil
		}

		if len(fetched) > 0 {
			// Cache the whole day's batch, amortizing future lookups
			// for every currency the source returned.
			c.putAll(lookup, fetched)
			if rate, ok := fetched[currency]; ok {
				return resultOf(rate), nil
			}
			// The day has rates but not this currency.
			return nil, nil
		}

		// No rates published for this date: weekend or holiday.
		lookup = prevBusinessDay(lookup)
	}

	return nil, nil
}

// GetRatesForDate resolves many currencies for one date in one source
// call: the first miss fetches the whole day's batch, the rest hit the
// cache. Unavailable currencies are absent from the result map.
func (c *Cache) GetRatesForDate(ctx context.Context, date time.Time, currencies []string) (map[string]Result, error) {
	out := make(map[string]Result, len(currencies))
	for _, currency := range currencies {
		res, err := c.GetRate(ctx, currency, date)
		if err != nil {
			return out, err
		}
		if res != nil {
			out[currency] = *res
		}
	}
	return out, nil
}

func resultOf(rate model.ExchangeRate) *Result {
	return &Result{Rate: rate.Rate, Unit: rate.UnitOrOne(), RateDate: rate.Date}
}

// freshEntry returns a cached rate still inside its TTL, consulting
// memory first and the durable store second.
func (c *Cache) freshEntry(currency string, date time.Time) (model.ExchangeRate, bool) {
	key := cacheKey(currency, date)

	c.mu.RLock()
	rate, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.fresh(rate, date) {
		return rate, true
	}

	if c.store != nil {
		stored, err := c.store.GetRate(currency, date)
		if err == nil && stored != nil {
			c.mu.Lock()
			c.entries[key] = *stored
			c.mu.Unlock()
			if c.fresh(*stored, date) {
				return *stored, true
			}
		}
	}
	return model.ExchangeRate{}, false
}

// anyEntry returns a cached rate regardless of freshness.
func (c *Cache) anyEntry(currency string, date time.Time) (model.ExchangeRate, bool) {
	c.mu.RLock()
	rate, ok := c.entries[cacheKey(currency, date)]
	c.mu.RUnlock()
	if ok {
		return rate, true
	}
	if c.store != nil {
		stored, err := c.store.GetRate(currency, date)
		if err == nil && stored != nil {
			return *stored, true
		}
	}
	return model.ExchangeRate{}, false
}

func (c *Cache) putAll(date time.Time, fetched map[string]model.ExchangeRate) {
	batch := make([]model.ExchangeRate, 0, len(fetched))
	c.mu.Lock()
	for currency, rate := range fetched {
		c.entries[cacheKey(currency, date)] = rate
		batch = append(batch, rate)
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.PutRates(batch); err != nil {
			c.logger.Warn("Failed to persist rates", "date", DayKey(date), "error", err)
		}
	}
}

func (c *Cache) fresh(rate model.ExchangeRate, date time.Time) bool {
	ttl := c.opts.HistoricalTTL
	if DayKey(date) == DayKey(c.now()) {
		ttl = c.opts.TodayTTL
	}
	return c.now().Sub(rate.FetchedAt) < ttl
}

func (c *Cache) tooOld(date time.Time) bool {
	horizon := c.now().AddDate(-c.opts.MaxHistoryYears, 0, 0)
	return date.Before(horizon)
}

// prevBusinessDay steps one day back, skipping Saturday straight to
// Friday. Sunday is a working day for the home market and is attempted
// normally.
func prevBusinessDay(date time.Time) time.Time {
	prev := date.AddDate(0, 0, -1)
	if prev.Weekday() == time.Saturday {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

func cacheKey(currency string, date time.Time) string {
	return currency + "|" + DayKey(date)
}
