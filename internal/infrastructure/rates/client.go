package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

// Client fetches daily rates from an HTTP source publishing
// {"rates": {"USD": {"rate": 3.61, "unit": 1, "date": "2026-08-28"}}}.
// Transient failures are retried with exponential backoff; retry policy
// lives here, the stale-cache degrade policy lives in Cache.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// Compile-time check that Client implements Source
var _ Source = (*Client)(nil)

// NewClient creates a rate source client. retryMax bounds retry
// attempts per request. An empty apiKey sends unauthenticated requests.
func NewClient(baseURL, apiKey string, retryMax int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.Logger = nil

	return &Client{
		http:    rc,
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  logger.With(slog.String("component", "rates_client")),
	}
}

type rateEntry struct {
	Rate float64 `json:"rate"`
	Unit int     `json:"unit"`
	Date string  `json:"date"`
}

type ratesResponse struct {
	Rates map[string]rateEntry `json:"rates"`
}

// FetchRatesForDate fetches all published rates for one date.
func (c *Client) FetchRatesForDate(ctx context.Context, date time.Time) (map[string]model.ExchangeRate, error) {
	url := fmt.Sprintf("%s/rates?date=%s", c.baseURL, DayKey(date))
	return c.fetch(ctx, url, date)
}

// FetchLatest fetches the most recent published rates.
func (c *Client) FetchLatest(ctx context.Context) (map[string]model.ExchangeRate, error) {
	return c.fetch(ctx, c.baseURL+"/rates/latest", time.Now())
}

func (c *Client) fetch(ctx context.Context, url string, fallbackDate time.Time) (map[string]model.ExchangeRate, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build rates request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Sources answer 404 for dates with no published rates.
	if resp.StatusCode == http.StatusNotFound {
		return map[string]model.ExchangeRate{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rates: unexpected status %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rates response: %w", err)
	}

	out := make(map[string]model.ExchangeRate, len(body.Rates))
	now := time.Now()
	for currency, entry := range body.Rates {
		rateDate := fallbackDate
		if entry.Date != "" {
			if parsed, perr := time.Parse("2006-01-02", entry.Date); perr == nil {
				rateDate = parsed
			}
		}
		out[currency] = model.ExchangeRate{
			Currency:  currency,
			Date:      rateDate,
			Rate:      entry.Rate,
			Unit:      entry.Unit,
			FetchedAt: now,
		}
	}

	c.logger.Debug("Fetched rates", "url", url, "count", len(out))
	return out, nil
}
