package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
	httpClient "github.com/ZyrticX/DELTA-MIX/internal/platform/http"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxOutputSize is the largest page the time_series endpoint serves
const maxOutputSize = 5000

// Client is the TwelveData API client
type Client struct {
	apiKey      string
	baseURL     string
	refreshBars int
	httpClient  *httpClient.Client
	logger      zerolog.Logger
}

// ClientOptions holds options for creating a new TwelveData client
type ClientOptions struct {
	APIKey          string
	BaseURL         string
	RequestTimeout  time.Duration
	RequestsPerSec  int
	MaxRetries      int
	MaxRetryTimeout time.Duration
	// RefreshBars is how many recent daily bars Refresh pulls per symbol
	RefreshBars int
}

// NewClient creates a new TwelveData API client
func NewClient(options ClientOptions) *Client {
	httpOpts := httpClient.ClientOptions{
		Timeout:         options.RequestTimeout,
		RequestsPerSec:  options.RequestsPerSec,
		MaxRetries:      options.MaxRetries,
		MaxRetryTimeout: options.MaxRetryTimeout,
	}

	baseURL := strings.TrimRight(options.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twelvedata.com"
	}
	refreshBars := options.RefreshBars
	if refreshBars <= 0 {
		refreshBars = 120
	}

	return &Client{
		apiKey:      options.APIKey,
		baseURL:     baseURL,
		refreshBars: refreshBars,
		httpClient:  httpClient.NewClient(httpOpts),
		logger:      log.With().Str("component", "twelvedata_client").Logger(),
	}
}

// LoadSeries fetches daily bars from start for every symbol. A symbol that
// fails is logged and left out of the result.
func (c *Client) LoadSeries(ctx context.Context, symbols []string, start time.Time) (map[string][]model.Bar, error) {
	return c.fetchAll(ctx, symbols, func(symbol string) ([]model.Bar, error) {
		return c.GetDailyBars(ctx, symbol, start, maxOutputSize)
	})
}

// Refresh pulls the most recent bars for every symbol
func (c *Client) Refresh(ctx context.Context, symbols []string) (map[string][]model.Bar, error) {
	return c.fetchAll(ctx, symbols, func(symbol string) ([]model.Bar, error) {
		return c.GetDailyBars(ctx, symbol, time.Time{}, c.refreshBars)
	})
}

func (c *Client) fetchAll(ctx context.Context, symbols []string, fetch func(string) ([]model.Bar, error)) (map[string][]model.Bar, error) {
	out := make(map[string][]model.Bar, len(symbols))
	failed := 0
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		bars, err := fetch(symbol)
		if err != nil {
			failed++
			c.logger.Warn().Err(err).Str("stock", symbol).Msg("Skipping symbol, price fetch failed")
			continue
		}
		out[symbol] = bars
	}

	c.logger.Info().
		Int("requested", len(symbols)).
		Int("loaded", len(out)).
		Int("failed", failed).
		Msg("Price series fetched")
	return out, nil
}

// GetDailyBars fetches up to outputSize daily bars, oldest first
func (c *Client) GetDailyBars(ctx context.Context, symbol string, start time.Time, outputSize int) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", "1day")
	q.Set("outputsize", strconv.Itoa(outputSize))
	q.Set("order", "ASC")
	if !start.IsZero() {
		q.Set("start_date", start.Format("2006-01-02"))
	}
	q.Set("apikey", c.apiKey)

	endpoint := c.baseURL + "/time_series?" + q.Encode()
	c.logger.Debug().Str("stock", symbol).Int("outputsize", outputSize).Msg("Fetching daily bars")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.DoRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var data model.TwelveResponse
	if err := json.Unmarshal(body, &data); err != nil {
		c.logger.Error().Err(err).Str("stock", symbol).Msg("Error parsing JSON")
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	if data.Status == "error" {
		return nil, fmt.Errorf("Twelve Data API error for %s: %s", symbol, data.Message)
	}

	if len(data.Values) == 0 {
		return nil, fmt.Errorf("empty data returned for %s", symbol)
	}

	bars := make([]model.Bar, 0, len(data.Values))
	for _, v := range data.Values {
		date, err := parseDatetime(v.Datetime)
		if err != nil {
			return nil, fmt.Errorf("parsing datetime %q: %w", v.Datetime, err)
		}
		bars = append(bars, model.Bar{
			Date:     date,
			Open:     v.Open,
			High:     v.High,
			Low:      v.Low,
			Close:    v.Close,
			AdjClose: v.Close,
			Volume:   v.Volume,
		})
	}

	// Sort bars by date (oldest first)
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})

	c.logger.Debug().Str("stock", symbol).Int("count", len(bars)).Msg("Fetched daily bars")
	return bars, nil
}

func parseDatetime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
